package validation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interruptd/internal/logger"
	"interruptd/internal/rules"
	"interruptd/internal/runner"
	"interruptd/internal/settings"
	apperrors "interruptd/pkg/errors"
)

type stubRunner struct {
	mu    sync.Mutex
	calls [][]string
	out   runner.Output
	err   error
}

func (s *stubRunner) Run(_ context.Context, name string, args []string, _ time.Duration) (runner.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]string{name}, args...))
	return s.out, s.err
}

func strPtr(s string) *string { return &s }

func newGateStore(t *testing.T, validators map[string]string) *settings.Store {
	t.Helper()
	st := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"), logger.NopLogger())
	require.NoError(t, st.Load())
	if validators != nil {
		_, err := st.ApplyPatch(settings.Patch{Validators: validators})
		require.NoError(t, err)
	}
	return st
}

func TestGateSkipsWithoutValidator(t *testing.T) {
	run := &stubRunner{}
	g := NewGate(newGateStore(t, nil), run, logger.NopLogger())

	ok, err := g.Validate(context.Background(), rules.Rule{
		Source:    "email",
		Condition: map[string]*string{WatchField: strPtr("light.office")},
	})

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, run.calls)
}

func TestGateSkipCases(t *testing.T) {
	validators := map[string]string{"ha.state_change": "/usr/bin/validate-entity"}

	tests := []struct {
		name string
		cond map[string]*string
	}{
		{name: "no watched field", cond: map[string]*string{"state": strPtr("on")}},
		{name: "nil value", cond: map[string]*string{WatchField: nil}},
		{name: "wildcard value", cond: map[string]*string{WatchField: strPtr("light.*")}},
		{name: "virtual entity", cond: map[string]*string{WatchField: strPtr("virtual.presence")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &stubRunner{}
			g := NewGate(newGateStore(t, validators), run, logger.NopLogger())

			ok, err := g.Validate(context.Background(), rules.Rule{
				Source:    "ha.state_change",
				Condition: tt.cond,
			})

			require.NoError(t, err)
			assert.False(t, ok)
			assert.Empty(t, run.calls)
		})
	}
}

func TestGateAccepts(t *testing.T) {
	run := &stubRunner{}
	g := NewGate(newGateStore(t, map[string]string{"ha.state_change": "/usr/bin/validate-entity"}),
		run, logger.NopLogger())

	ok, err := g.Validate(context.Background(), rules.Rule{
		Source:    "ha.state_change",
		Condition: map[string]*string{WatchField: strPtr("light.office")},
	})

	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, run.calls, 1)
	assert.Equal(t, []string{"/usr/bin/validate-entity", "light.office"}, run.calls[0])
}

func TestGateRejectsWithValidatorMessage(t *testing.T) {
	run := &stubRunner{
		out: runner.Output{Stderr: `{"error":"unknown entity light.offce"}`},
		err: errors.New("exit status 1"),
	}
	g := NewGate(newGateStore(t, map[string]string{"ha.state_change": "/usr/bin/validate-entity"}),
		run, logger.NopLogger())

	ok, err := g.Validate(context.Background(), rules.Rule{
		ID:        "r1",
		Source:    "ha.state_change",
		Condition: map[string]*string{WatchField: strPtr("light.offce")},
	})

	assert.False(t, ok)
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "RULE_REJECTED", appErr.Code)
	assert.Contains(t, appErr.Message, "unknown entity light.offce")
}

func TestGateRejectsWithStdoutMessage(t *testing.T) {
	run := &stubRunner{
		out: runner.Output{Stdout: "noise\n" + `{"error":"not in inventory"}`},
		err: errors.New("exit status 2"),
	}
	g := NewGate(newGateStore(t, map[string]string{"ha.state_change": "/usr/bin/validate-entity"}),
		run, logger.NopLogger())

	_, err := g.Validate(context.Background(), rules.Rule{
		Source:    "ha.state_change",
		Condition: map[string]*string{WatchField: strPtr("light.office")},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in inventory")
}

func TestGateFallsBackToExitError(t *testing.T) {
	run := &stubRunner{err: errors.New("signal: killed")}
	g := NewGate(newGateStore(t, map[string]string{"ha.state_change": "/usr/bin/validate-entity"}),
		run, logger.NopLogger())

	_, err := g.Validate(context.Background(), rules.Rule{
		Source:    "ha.state_change",
		Condition: map[string]*string{WatchField: strPtr("light.office")},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal: killed")
}
