package validation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"interruptd/internal/logger"
	"interruptd/internal/rules"
	"interruptd/internal/runner"
	"interruptd/internal/settings"
	"interruptd/pkg/errors"
)

// WatchField is the condition field validators check and collectors
// watch. Event sources that carry no such field simply skip both.
const WatchField = "entity_id"

// VirtualPrefix marks entities that exist only inside this system and
// therefore cannot be validated against an external inventory.
const VirtualPrefix = "virtual."

const validatorTimeout = 10 * time.Second

// Gate accepts or rejects a rule at registration time by shelling out
// to a per-source validator executable from the settings registry.
type Gate struct {
	settings *settings.Store
	runner   runner.Runner
	log      logger.Logger
}

func NewGate(st *settings.Store, r runner.Runner, log logger.Logger) *Gate {
	return &Gate{settings: st, runner: r, log: log}
}

// Validate runs the rule through its source's validator, when one
// applies. It returns true only when a validator actually ran and
// accepted the rule; a skipped validation is (false, nil).
func (g *Gate) Validate(ctx context.Context, rule rules.Rule) (bool, error) {
	validator := g.settings.Current().Validators[rule.Source]
	if validator == "" {
		return false, nil
	}

	value, ok := rule.Condition[WatchField]
	if !ok || value == nil {
		return false, nil
	}
	if strings.Contains(*value, "*") || strings.HasPrefix(*value, VirtualPrefix) {
		return false, nil
	}

	out, err := g.runner.Run(ctx, validator, []string{*value}, validatorTimeout)
	if err != nil {
		message := validatorError(out)
		if message == "" {
			message = err.Error()
		}
		g.log.Warnw("Validator rejected rule",
			"rule_id", rule.ID,
			"source", rule.Source,
			"value", *value,
			"error", message,
		)
		return false, errors.ErrUnprocessable.
			WithMessage("validation failed for %s: %s", *value, message).
			WithCause(err)
	}

	return true, nil
}

// validatorError extracts a structured {"error": ...} message from the
// validator's output, checking stderr first since that is where the
// reference validators report.
func validatorError(out runner.Output) string {
	for _, stream := range []string{out.Stderr, out.Stdout} {
		for _, line := range strings.Split(strings.TrimSpace(stream), "\n") {
			var parsed struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal([]byte(line), &parsed); err == nil && parsed.Error != "" {
				return parsed.Error
			}
		}
	}
	return ""
}
