package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interruptd/internal/logger"
)

func intPtr(v int) *int       { return &v }
func strPtr(s string) *string { return &s }

func TestApplyScalarPatch(t *testing.T) {
	s := Default()
	out := s.Apply(Patch{Port: intPtr(7601), DefaultChannel: strPtr("discord")})

	assert.Equal(t, 7601, out.Port)
	assert.Equal(t, "discord", out.DefaultChannel)
	// Untouched fields keep their values.
	assert.Equal(t, 1000, out.LogLimit)
	assert.Equal(t, s.Message, out.Message)
}

func TestApplyPipelinePatchMergesFieldByField(t *testing.T) {
	s := Default()
	out := s.Apply(Patch{Message: &PipelinePatch{BatchWindowMS: intPtr(3000)}})

	assert.Equal(t, 3000, out.Message.BatchWindowMS)
	assert.Equal(t, 10, out.Message.RateLimitMax)
	assert.Equal(t, 60000, out.Message.RateLimitWindowMS)
	assert.Equal(t, s.Subagent, out.Subagent)
}

func TestApplyRegistryReplacesWholesale(t *testing.T) {
	s := Default()
	s.Validators = map[string]string{"ha.state_change": "/old/validator"}

	out := s.Apply(Patch{Validators: map[string]string{"email": "/new/validator"}})

	assert.Equal(t, map[string]string{"email": "/new/validator"}, out.Validators)
	// An absent registry stays.
	assert.Equal(t, s.Collectors, out.Collectors)
}

func TestApplyEmptyPatchIsIdentity(t *testing.T) {
	s := Default()
	assert.Equal(t, s, s.Apply(Patch{}))
}

func TestPipelineSelection(t *testing.T) {
	s := Default()
	assert.Equal(t, s.Message, s.Pipeline("message"))
	assert.Equal(t, s.Subagent, s.Pipeline("subagent"))
	assert.Equal(t, s.Subagent, s.Pipeline("anything-else"))
}

func TestStoreLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port":7700,"message":{"batch_window_ms":500}}`), 0o644))

	st := NewStore(path, logger.NopLogger())
	require.NoError(t, st.Load())

	cur := st.Current()
	assert.Equal(t, 7700, cur.Port)
	assert.Equal(t, 500, cur.Message.BatchWindowMS)
	// Everything the file omits falls back to defaults.
	assert.Equal(t, 10, cur.Message.RateLimitMax)
	assert.Equal(t, "telegram", cur.DefaultChannel)
}

func TestStoreLoadMissingFileUsesDefaults(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "settings.json"), logger.NopLogger())
	require.NoError(t, st.Load())
	assert.Equal(t, Default(), st.Current())
}

func TestStoreApplyPatchPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	st := NewStore(path, logger.NopLogger())
	require.NoError(t, st.Load())

	updated, err := st.ApplyPatch(Patch{Subagent: &PipelinePatch{RateLimitMax: intPtr(8)}})
	require.NoError(t, err)
	assert.Equal(t, 8, updated.Subagent.RateLimitMax)
	assert.Equal(t, 8, st.Current().Subagent.RateLimitMax)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk Settings
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, 8, onDisk.Subagent.RateLimitMax)
}

func TestStoreReloadKeepsLastGoodOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port":7700}`), 0o644))

	st := NewStore(path, logger.NopLogger())
	require.NoError(t, st.Load())

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	st.Reload()

	assert.Equal(t, 7700, st.Current().Port)
}
