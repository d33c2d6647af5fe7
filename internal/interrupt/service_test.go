package interrupt

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interruptd/internal/collector"
	"interruptd/internal/logger"
	"interruptd/internal/pipeline"
	"interruptd/internal/rules"
	"interruptd/internal/runner"
	"interruptd/internal/settings"
	"interruptd/internal/validation"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	batches [][]pipeline.Trigger
	fail    bool
}

func (f *fakeDispatcher) Dispatch(_ context.Context, batch []pipeline.Trigger) pipeline.BatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
	return pipeline.BatchResult{Failed: f.fail}
}

func (f *fakeDispatcher) triggers() []pipeline.Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pipeline.Trigger
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

type noRunRunner struct{}

func (noRunRunner) Run(context.Context, string, []string, time.Duration) (runner.Output, error) {
	return runner.Output{}, nil
}

type testEnv struct {
	service   *Service
	rules     *rules.Store
	settings  *settings.Store
	registrar *collector.Registrar
	message   *fakeDispatcher
	subagent  *fakeDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	log := logger.NopLogger()

	st := settings.NewStore(filepath.Join(dir, "settings.json"), log)
	require.NoError(t, st.Load())

	rs := rules.NewStore(filepath.Join(dir, "interrupt-rules.json"), log)
	require.NoError(t, rs.Load())

	gate := validation.NewGate(st, noRunRunner{}, log)
	reg := collector.NewRegistrar(st, rs, log)
	svc := NewService(rs, st, gate, reg, log)

	// Long batch windows; tests flush manually.
	msgDisp := &fakeDispatcher{}
	subDisp := &fakeDispatcher{}
	pipelineSettings := func(name string) pipeline.SettingsFunc {
		return func() settings.PipelineSettings {
			return settings.PipelineSettings{BatchWindowMS: 60000, RateLimitMax: 100, RateLimitWindowMS: 60000}
		}
	}
	msgEngine := pipeline.NewEngine("message", pipelineSettings("message"), msgDisp, svc, log)
	subEngine := pipeline.NewEngine("subagent", pipelineSettings("subagent"), subDisp, svc, log)
	svc.SetEngines(msgEngine, subEngine)

	return &testEnv{service: svc, rules: rs, settings: st, registrar: reg, message: msgDisp, subagent: subDisp}
}

func (e *testEnv) flushAll() {
	e.service.Engine(rules.ActionMessage).Flush()
	e.service.Engine(rules.ActionSubagent).Flush()
	e.service.Engine(rules.ActionMessage).WaitIdle()
	e.service.Engine(rules.ActionSubagent).WaitIdle()
}

func TestProcessTriggerRoutesByAction(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.rules.Upsert(rules.Rule{ID: "m1", Source: "email", Action: rules.ActionMessage, Message: "mail"})
	require.NoError(t, err)
	_, err = env.rules.Upsert(rules.Rule{ID: "s1", Source: "email", Action: rules.ActionSubagent})
	require.NoError(t, err)

	result := env.service.ProcessTrigger("email", map[string]interface{}{"from": "a@b"}, LevelInfo)

	assert.Equal(t, StatusQueued, result.Status)
	assert.Equal(t, 2, result.Matched)

	env.flushAll()
	assert.Len(t, env.message.triggers(), 1)
	assert.Len(t, env.subagent.triggers(), 1)
}

func TestProcessTriggerUnmatchedInfoIsIgnored(t *testing.T) {
	env := newTestEnv(t)

	result := env.service.ProcessTrigger("email", nil, LevelInfo)

	assert.Equal(t, StatusIgnored, result.Status)
	assert.Equal(t, "no matching rules", result.Reason)

	env.flushAll()
	assert.Empty(t, env.message.triggers())
	assert.Empty(t, env.subagent.triggers())
}

func TestProcessTriggerDefaultActions(t *testing.T) {
	env := newTestEnv(t)

	warn := env.service.ProcessTrigger("system", map[string]interface{}{"message": "disk"}, LevelWarn)
	alert := env.service.ProcessTrigger("system", map[string]interface{}{"message": "fire"}, LevelAlert)

	assert.True(t, warn.DefaultAction)
	assert.True(t, alert.DefaultAction)
	assert.Equal(t, StatusQueued, warn.Status)

	env.flushAll()
	// warn goes through the message pipeline, alert through subagent.
	require.Len(t, env.message.triggers(), 1)
	require.Len(t, env.subagent.triggers(), 1)
	assert.Equal(t, "disk", env.message.triggers()[0].Message)
	assert.True(t, strings.HasPrefix(env.message.triggers()[0].ID, "auto-"))
}

func TestProcessTriggerDefaultMessageFallsBackToJSON(t *testing.T) {
	env := newTestEnv(t)

	env.service.ProcessTrigger("system", map[string]interface{}{"load": 9.5}, LevelWarn)
	env.flushAll()

	require.Len(t, env.message.triggers(), 1)
	msg := env.message.triggers()[0].Message
	assert.Contains(t, msg, "[system] warn:")
	assert.Contains(t, msg, "9.5")
}

func TestProcessTriggerInterpolatesTemplate(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.rules.Upsert(rules.Rule{
		ID: "r1", Source: "email", Action: rules.ActionMessage,
		Message: "New mail: {{subject}} ({{missing}})",
	})
	require.NoError(t, err)

	env.service.ProcessTrigger("email", map[string]interface{}{"subject": "hello"}, LevelInfo)
	env.flushAll()

	require.Len(t, env.message.triggers(), 1)
	assert.Equal(t, "New mail: hello ({{missing}})", env.message.triggers()[0].Message)
}

func TestOneOffConsumedAfterSuccessfulDispatch(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.rules.Upsert(rules.Rule{ID: "once", Source: "email", Action: rules.ActionMessage, OneOff: true})
	require.NoError(t, err)

	result := env.service.ProcessTrigger("email", nil, LevelInfo)
	assert.Equal(t, 1, result.Matched)

	// While pending, an identical event cannot re-match.
	again := env.service.ProcessTrigger("email", nil, LevelInfo)
	assert.Equal(t, StatusIgnored, again.Status)

	env.flushAll()

	_, found := env.rules.Get("once")
	assert.False(t, found, "one-off should be removed after confirmed dispatch")
}

func TestOneOffRestoredAfterFailedDispatch(t *testing.T) {
	env := newTestEnv(t)
	env.message.fail = true
	_, err := env.rules.Upsert(rules.Rule{ID: "once", Source: "email", Action: rules.ActionMessage, OneOff: true})
	require.NoError(t, err)

	env.service.ProcessTrigger("email", nil, LevelInfo)
	env.flushAll()

	r, found := env.rules.Get("once")
	require.True(t, found, "one-off survives a failed dispatch")
	assert.False(t, r.Pending)

	// And it can match again.
	result := env.service.ProcessTrigger("email", nil, LevelInfo)
	assert.Equal(t, 1, result.Matched)
}

func TestOneOffRestoredAfterDroppedBatch(t *testing.T) {
	env := newTestEnv(t)
	log := logger.NopLogger()

	// Replace the message engine with one whose rate limit is already
	// saturated by a zero-dispatch budget.
	saturated := pipeline.NewEngine("message", func() settings.PipelineSettings {
		return settings.PipelineSettings{BatchWindowMS: 60000, RateLimitMax: 0, RateLimitWindowMS: 60000}
	}, env.message, env.service, log)
	env.service.SetEngines(saturated, env.service.Engine(rules.ActionSubagent))

	_, err := env.rules.Upsert(rules.Rule{ID: "once", Source: "email", Action: rules.ActionMessage, OneOff: true})
	require.NoError(t, err)

	env.service.ProcessTrigger("email", nil, LevelInfo)
	saturated.Flush()
	saturated.WaitIdle()

	assert.Empty(t, env.message.triggers())
	r, found := env.rules.Get("once")
	require.True(t, found)
	assert.False(t, r.Pending)
}

func TestAddRuleGeneratesIDAndPersists(t *testing.T) {
	env := newTestEnv(t)

	stored, validated, err := env.service.AddRule(context.Background(), rules.Rule{Source: "email"}, false)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(stored.ID, "rule-"))
	assert.Equal(t, rules.ActionSubagent, stored.Action)
	assert.False(t, validated, "no validator configured for email")

	_, found := env.rules.Get(stored.ID)
	assert.True(t, found)
}

func TestAddRuleRequiresSource(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.service.AddRule(context.Background(), rules.Rule{}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing required field: source")
}

func TestAddRuleRejectsUnknownAction(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.service.AddRule(context.Background(), rules.Rule{Source: "email", Action: "carrier-pigeon"}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid action")
}

func TestDeleteRuleNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.DeleteRule(context.Background(), "nope")
	require.Error(t, err)
}

func TestDeleteRule(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.service.AddRule(context.Background(), rules.Rule{ID: "r1", Source: "email"}, false)
	require.NoError(t, err)

	warning, err := env.service.DeleteRule(context.Background(), "r1")
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, 0, env.rules.Count())
}

func TestStatsShape(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.service.AddRule(context.Background(), rules.Rule{ID: "r1", Source: "email"}, false)
	require.NoError(t, err)

	stats := env.service.Stats()
	assert.Equal(t, 1, stats.Rules)
	assert.Equal(t, 0, stats.Message.BatchPending)
	assert.False(t, stats.Subagent.CircuitOpen)
	assert.GreaterOrEqual(t, stats.Uptime, 0.0)
}

func TestReload(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.service.AddRule(context.Background(), rules.Rule{ID: "r1", Source: "email"}, false)
	require.NoError(t, err)

	result, err := env.service.Reload(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "reloaded", result.Status)
	assert.Equal(t, 1, result.Rules)
	assert.Empty(t, result.ValidationErrors)
	assert.Empty(t, result.Collectors)
}

func TestInterpolate(t *testing.T) {
	data := map[string]interface{}{"subject": "hi", "count": float64(2)}

	assert.Equal(t, "hi there", Interpolate("{{subject}} there", data))
	assert.Equal(t, "2 new", Interpolate("{{count}} new", data))
	assert.Equal(t, "{{nope}}", Interpolate("{{nope}}", data))
	assert.Equal(t, "plain", Interpolate("plain", data))
}
