package interrupt

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"interruptd/internal/collector"
	"interruptd/internal/logger"
	"interruptd/internal/pipeline"
	"interruptd/internal/rules"
	"interruptd/internal/settings"
	"interruptd/internal/validation"
	"interruptd/pkg/errors"
	"interruptd/pkg/metrics"
)

// Service is the trigger processor and one-off lifecycle manager. It
// matches events against the rule store, expands matches into pipeline
// triggers, and commits or rolls back one-off rule removals based on
// batch dispatch outcomes (it is the Hooks implementation its pipelines
// report to).
type Service struct {
	rules     *rules.Store
	settings  *settings.Store
	gate      *validation.Gate
	registrar *collector.Registrar
	engines   map[rules.Action]*pipeline.Engine
	log       logger.Logger
	started   time.Time
}

func NewService(rs *rules.Store, st *settings.Store, gate *validation.Gate, reg *collector.Registrar, log logger.Logger) *Service {
	return &Service{
		rules:     rs,
		settings:  st,
		gate:      gate,
		registrar: reg,
		engines:   make(map[rules.Action]*pipeline.Engine),
		log:       log,
		started:   time.Now(),
	}
}

// SetEngines attaches the delivery pipelines. Engines are constructed
// after the service because they report batch outcomes back to it.
func (s *Service) SetEngines(message, subagent *pipeline.Engine) {
	s.engines[rules.ActionMessage] = message
	s.engines[rules.ActionSubagent] = subagent
}

func (s *Service) Engine(action rules.Action) *pipeline.Engine {
	if e, ok := s.engines[action]; ok {
		return e
	}
	return s.engines[rules.ActionSubagent]
}

// ProcessTrigger matches one event against active rules and enqueues
// the resulting triggers. Matched one-off rules are marked pending
// before anything is enqueued so an identical event arriving inside the
// same batch window cannot consume them twice.
func (s *Service) ProcessTrigger(source string, data map[string]interface{}, level string) TriggerResult {
	if data == nil {
		data = map[string]interface{}{}
	}
	if level == "" {
		level = LevelInfo
	}

	var matched []rules.Rule
	for _, r := range s.rules.Active() {
		if rules.Matches(r, source, data) {
			matched = append(matched, r)
		}
	}

	if len(matched) == 0 {
		if level == LevelWarn || level == LevelAlert {
			s.enqueueDefault(source, data, level)
			metrics.TriggersTotal.WithLabelValues("default").Inc()
			return TriggerResult{Status: StatusQueued, Matched: 0, DefaultAction: true}
		}
		metrics.TriggersTotal.WithLabelValues("ignored").Inc()
		return TriggerResult{Status: StatusIgnored, Matched: 0, Reason: "no matching rules"}
	}

	var oneOffIDs []string
	for _, r := range matched {
		if r.OneOff {
			oneOffIDs = append(oneOffIDs, r.ID)
		}
	}
	s.rules.MarkPending(oneOffIDs)

	for _, r := range matched {
		s.Engine(r.Action).Enqueue(s.buildTrigger(r, source, data, level))
	}

	metrics.TriggersTotal.WithLabelValues("matched").Inc()
	return TriggerResult{Status: StatusQueued, Matched: len(matched)}
}

func (s *Service) buildTrigger(r rules.Rule, source string, data map[string]interface{}, level string) pipeline.Trigger {
	msg := r.Message
	if msg == "" {
		msg = stringField(data, "message")
	}
	if msg == "" {
		msg = fmt.Sprintf("%s: event from %s", r.ID, source)
	}

	return pipeline.Trigger{
		ID:          r.ID,
		Label:       r.Label,
		Source:      source,
		Data:        data,
		Action:      string(r.Action),
		Message:     Interpolate(msg, data),
		Instruction: r.Instruction,
		Channel:     r.Channel,
		SessionID:   r.SessionID,
		OneOff:      r.OneOff,
		Level:       level,
	}
}

func (s *Service) enqueueDefault(source string, data map[string]interface{}, level string) {
	action := rules.ActionMessage
	if level == LevelAlert {
		action = rules.ActionSubagent
	}

	msg := stringField(data, "message")
	if msg == "" {
		msg = stringField(data, "text")
	}
	if msg == "" {
		encoded, _ := json.Marshal(data)
		msg = fmt.Sprintf("[%s] %s: %s", source, level, encoded)
	}

	s.Engine(action).Enqueue(pipeline.Trigger{
		ID:        "auto-" + uuid.NewString(),
		Label:     source + "/" + level,
		Source:    source,
		Data:      data,
		Action:    string(action),
		Message:   msg,
		Channel:   "default",
		SessionID: "main",
		Level:     level,
	})
}

// BatchDropped restores one-off rules from a rate-limited batch: a
// dropped batch never counts as a dispatch attempt.
func (s *Service) BatchDropped(batch []pipeline.Trigger) {
	ids := oneOffIDs(batch)
	if len(ids) == 0 {
		return
	}
	s.rules.ClearPending(ids)
	s.log.Infow("Restored one-off rules after dropped batch", "rules", len(ids))
}

// BatchDispatched commits or rolls back the batch's one-off removals.
// Any failure in the batch restores every one-off in it: a partial
// subagent group failure conservatively re-arms all of them.
func (s *Service) BatchDispatched(batch []pipeline.Trigger, failed bool) {
	ids := oneOffIDs(batch)
	if len(ids) == 0 {
		return
	}

	if failed {
		s.rules.ClearPending(ids)
		s.log.Warnw("Restored one-off rules after failed dispatch", "rules", len(ids))
		return
	}

	if err := s.rules.Consume(ids); err != nil {
		s.log.Errorw("Failed to remove consumed one-off rules", "error", err)
		return
	}
	s.log.Infow("Consumed one-off rules", "rules", len(ids))
}

func oneOffIDs(batch []pipeline.Trigger) []string {
	var ids []string
	for _, t := range batch {
		if t.OneOff {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// AddRule validates, persists, and announces a rule. A failed collector
// push rolls the whole mutation back so the store never advertises a
// rule no collector will feed.
func (s *Service) AddRule(ctx context.Context, rule rules.Rule, skipValidation bool) (rules.Rule, bool, error) {
	if rule.Source == "" {
		return rules.Rule{}, false, errors.ErrValidation.WithMessage("Missing required field: source")
	}
	if rule.Action != "" && !rule.Action.Valid() {
		return rules.Rule{}, false, errors.ErrValidation.WithMessage("Invalid action: %s", rule.Action)
	}
	if rule.ID == "" {
		rule.ID = "rule-" + uuid.NewString()[:8]
	}

	validated := false
	if !skipValidation && !rule.SkipValidation {
		var err error
		validated, err = s.gate.Validate(ctx, rule)
		if err != nil {
			return rules.Rule{}, false, err
		}
	}

	prev, err := s.rules.Upsert(rule)
	if err != nil {
		return rules.Rule{}, false, errors.ErrInternal.WithCause(err)
	}

	if err := s.registrar.Push(ctx, rule.Source); err != nil {
		if restoreErr := s.rules.Restore(rule.ID, prev); restoreErr != nil {
			s.log.Errorw("Rollback after collector failure also failed",
				"rule_id", rule.ID,
				"error", restoreErr,
			)
		}
		return rules.Rule{}, false, err
	}

	stored, _ := s.rules.Get(rule.ID)
	return stored, validated, nil
}

// DeleteRule removes a rule. A failed collector push after deletion is
// a warning, not a rollback: the rule is gone, only the collector's
// view may be stale until the next push.
func (s *Service) DeleteRule(ctx context.Context, id string) (string, error) {
	removed, found, err := s.rules.Delete(id)
	if err != nil {
		return "", errors.ErrInternal.WithCause(err)
	}
	if !found {
		return "", errors.ErrNotFound.WithMessage("Rule not found: %s", id)
	}

	if err := s.registrar.Push(ctx, removed.Source); err != nil {
		s.log.Warnw("Watchlist push failed after delete", "rule_id", id, "error", err)
		return err.Error(), nil
	}
	return "", nil
}

// Reload re-reads rules from disk, re-validates each against the
// current validator registry, and re-pushes every collector watchlist.
// Validation failures are collected rather than fatal: an operator
// fixing a stale rule set still wants the reload to land.
func (s *Service) Reload(ctx context.Context) (ReloadResult, error) {
	if err := s.rules.Load(); err != nil {
		return ReloadResult{}, errors.ErrInternal.WithCause(err)
	}

	validationErrors := make(map[string]string)
	for _, r := range s.rules.List() {
		if _, err := s.gate.Validate(ctx, r); err != nil {
			validationErrors[r.ID] = err.Error()
		}
	}

	collectors := s.registrar.PushAll(ctx)

	return ReloadResult{
		Status:           "reloaded",
		Rules:            s.rules.Count(),
		ValidationErrors: validationErrors,
		Collectors:       collectors,
	}, nil
}

func (s *Service) Stats() StatsResult {
	return StatsResult{
		Rules:    s.rules.Count(),
		Message:  s.Engine(rules.ActionMessage).Stats(),
		Subagent: s.Engine(rules.ActionSubagent).Stats(),
		Uptime:   time.Since(s.started).Seconds(),
	}
}

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Interpolate substitutes {{field}} placeholders from event data.
// Unknown fields stay as literal placeholders so a template typo is
// visible in the delivered message.
func Interpolate(template string, data map[string]interface{}) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := data[key]; ok {
			return fmt.Sprintf("%v", v)
		}
		return match
	})
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
