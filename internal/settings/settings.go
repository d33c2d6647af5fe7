package settings

import "time"

// PipelineSettings tunes one delivery pipeline. All durations are carried
// in milliseconds on the wire to stay compatible with existing settings
// documents.
type PipelineSettings struct {
	BatchWindowMS     int `json:"batch_window_ms"`
	RateLimitMax      int `json:"rate_limit_max"`
	RateLimitWindowMS int `json:"rate_limit_window_ms"`
}

func (p PipelineSettings) BatchWindow() time.Duration {
	return time.Duration(p.BatchWindowMS) * time.Millisecond
}

func (p PipelineSettings) RateLimitWindow() time.Duration {
	return time.Duration(p.RateLimitWindowMS) * time.Millisecond
}

// Settings is the persisted daemon configuration, mutable at runtime via
// the control surface and hot-reloaded when edited on disk.
type Settings struct {
	Port           int               `json:"port"`
	Message        PipelineSettings  `json:"message"`
	Subagent       PipelineSettings  `json:"subagent"`
	LogLimit       int               `json:"log_limit"`
	FilePollMS     int               `json:"file_poll_ms"`
	DefaultChannel string            `json:"default_channel"`
	Validators     map[string]string `json:"validators"`
	Collectors     map[string]string `json:"collectors"`
}

func Default() Settings {
	return Settings{
		Port:           7600,
		Message:        PipelineSettings{BatchWindowMS: 2000, RateLimitMax: 10, RateLimitWindowMS: 60000},
		Subagent:       PipelineSettings{BatchWindowMS: 5000, RateLimitMax: 4, RateLimitWindowMS: 60000},
		LogLimit:       1000,
		FilePollMS:     2000,
		DefaultChannel: "telegram",
		Validators:     map[string]string{},
		Collectors:     map[string]string{},
	}
}

func (s Settings) FilePollInterval() time.Duration {
	return time.Duration(s.FilePollMS) * time.Millisecond
}

// Pipeline returns tuning for the named pipeline; anything that is not
// the message pipeline gets the subagent tuning.
func (s Settings) Pipeline(name string) PipelineSettings {
	if name == "message" {
		return s.Message
	}
	return s.Subagent
}

// PipelinePatch is a merge patch against one pipeline's tuning. Absent
// fields keep their current value.
type PipelinePatch struct {
	BatchWindowMS     *int `json:"batch_window_ms"`
	RateLimitMax      *int `json:"rate_limit_max"`
	RateLimitWindowMS *int `json:"rate_limit_window_ms"`
}

// Patch is a merge patch against the settings document. Top-level scalars
// replace, pipeline sub-objects merge field-by-field, registries replace
// wholesale when present.
type Patch struct {
	Port           *int              `json:"port"`
	Message        *PipelinePatch    `json:"message"`
	Subagent       *PipelinePatch    `json:"subagent"`
	LogLimit       *int              `json:"log_limit"`
	FilePollMS     *int              `json:"file_poll_ms"`
	DefaultChannel *string           `json:"default_channel"`
	Validators     map[string]string `json:"validators"`
	Collectors     map[string]string `json:"collectors"`
}

func (s Settings) Apply(p Patch) Settings {
	out := s

	if p.Port != nil {
		out.Port = *p.Port
	}
	if p.LogLimit != nil {
		out.LogLimit = *p.LogLimit
	}
	if p.FilePollMS != nil {
		out.FilePollMS = *p.FilePollMS
	}
	if p.DefaultChannel != nil {
		out.DefaultChannel = *p.DefaultChannel
	}
	if p.Validators != nil {
		out.Validators = p.Validators
	}
	if p.Collectors != nil {
		out.Collectors = p.Collectors
	}

	out.Message = applyPipelinePatch(out.Message, p.Message)
	out.Subagent = applyPipelinePatch(out.Subagent, p.Subagent)

	return out
}

func applyPipelinePatch(cur PipelineSettings, p *PipelinePatch) PipelineSettings {
	if p == nil {
		return cur
	}
	if p.BatchWindowMS != nil {
		cur.BatchWindowMS = *p.BatchWindowMS
	}
	if p.RateLimitMax != nil {
		cur.RateLimitMax = *p.RateLimitMax
	}
	if p.RateLimitWindowMS != nil {
		cur.RateLimitWindowMS = *p.RateLimitWindowMS
	}
	return cur
}
