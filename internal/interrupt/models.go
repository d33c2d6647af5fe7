package interrupt

import "interruptd/internal/pipeline"

// Level classifies an incoming event. Unmatched warn and alert events
// fall through to a default action; info events are ignored.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelAlert = "alert"
)

// TriggerRequest is the body of POST /trigger as collectors send it.
type TriggerRequest struct {
	Source string                 `json:"source"`
	Data   map[string]interface{} `json:"data"`
	Level  string                 `json:"level"`
}

// TriggerResult reports what an event turned into.
type TriggerResult struct {
	Status        string `json:"status"`
	Matched       int    `json:"matched"`
	DefaultAction bool   `json:"defaultAction,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

const (
	StatusQueued  = "queued"
	StatusIgnored = "ignored"
)

// StatsResult is the GET /stats response shape.
type StatsResult struct {
	Rules    int            `json:"rules"`
	Message  pipeline.Stats `json:"message"`
	Subagent pipeline.Stats `json:"subagent"`
	Uptime   float64        `json:"uptime"`
}

// ReloadResult is the POST /reload response shape.
type ReloadResult struct {
	Status           string            `json:"status"`
	Rules            int               `json:"rules"`
	ValidationErrors map[string]string `json:"validationErrors"`
	Collectors       map[string]string `json:"collectors"`
}
