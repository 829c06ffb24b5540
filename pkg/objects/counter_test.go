package objects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationrt/station/pkg/runtime"
	"github.com/stationrt/station/pkg/store"
)

func newTestRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	dir := t.TempDir()
	state := store.NewStateStore(dir, nil)
	logger := store.NewSelfLogger(dir, nil)
	files := store.NewFileStore(dir, nil)
	versions := store.NewVersionStore(dir)
	return runtime.New("station1", state, logger, files, versions)
}

func TestCounterStartsAtZero(t *testing.T) {
	rt := newTestRuntime(t)
	result, err := rt.Execute("counter", "GET", &runtime.Request{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.(map[string]any)["value"])
}

func TestCounterIncrementsByDefaultAndCustomAmount(t *testing.T) {
	rt := newTestRuntime(t)
	result, err := rt.Execute("counter", "POST", &runtime.Request{Body: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.(map[string]any)["value"])

	result, err = rt.Execute("counter", "POST", &runtime.Request{Body: map[string]any{"by": float64(5)}})
	require.NoError(t, err)
	assert.Equal(t, 6, result.(map[string]any)["value"])
}

func TestCounterDeleteResetsToZero(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.Execute("counter", "POST", &runtime.Request{Body: map[string]any{"by": float64(3)}})
	require.NoError(t, err)

	result, err := rt.Execute("counter", "DELETE", &runtime.Request{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.(map[string]any)["value"])

	result, err = rt.Execute("counter", "GET", &runtime.Request{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.(map[string]any)["value"])
}

func TestCounterSelfTestPasses(t *testing.T) {
	rt := newTestRuntime(t)
	result, err := rt.RunSelfTests("counter")
	require.NoError(t, err)
	assert.Equal(t, 1, result["test_count"])
	assert.Equal(t, 1, result["passed"])
	assert.Equal(t, 0, result["failed"])
}
