package rules

// Action selects which delivery pipeline a rule's triggers flow through.
type Action string

const (
	ActionMessage  Action = "message"
	ActionSubagent Action = "subagent"
)

func (a Action) Valid() bool {
	return a == ActionMessage || a == ActionSubagent
}

// Rule is a persisted rule document. A nil condition value means the
// field only has to be present in the event data; a value containing a
// wildcard matches glob-style.
//
// Pending is never persisted: it mirrors the store's in-memory side
// table when rules are listed, so operators can see a one-off awaiting
// dispatch confirmation.
type Rule struct {
	ID          string             `json:"id"`
	Source      string             `json:"source"`
	Condition   map[string]*string `json:"condition,omitempty"`
	Action      Action             `json:"action"`
	Label       string             `json:"label,omitempty"`
	Message     string             `json:"message,omitempty"`
	Instruction string             `json:"instruction,omitempty"`
	Channel     string             `json:"channel"`
	SessionID   string             `json:"session_id"`
	OneOff      bool               `json:"one_off,omitempty"`
	Enabled     *bool              `json:"enabled,omitempty"`

	Pending        bool `json:"_pending,omitempty"`
	SkipValidation bool `json:"skip_validation,omitempty"`
}

// IsEnabled treats an absent enabled field as true.
func (r Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Normalize fills defaults and strips request-only fields before the
// rule is persisted.
func (r Rule) Normalize() Rule {
	if r.Action == "" {
		r.Action = ActionSubagent
	}
	if r.Channel == "" {
		r.Channel = "default"
	}
	if r.SessionID == "" {
		r.SessionID = "main"
	}
	if r.Label == "" {
		r.Label = r.ID
	}
	r.Pending = false
	r.SkipValidation = false
	return r
}
