package objects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationrt/station/pkg/runtime"
)

func TestCalculatorGetDefaultsToAdd(t *testing.T) {
	rt := newTestRuntime(t)
	result, err := rt.Execute("calculator", "GET", &runtime.Request{Query: map[string]string{"a": "2", "b": "3"}})
	require.NoError(t, err)
	assert.Equal(t, float64(5), result.(map[string]any)["result"])
}

func TestCalculatorPostMultiply(t *testing.T) {
	rt := newTestRuntime(t)
	result, err := rt.Execute("calculator", "POST", &runtime.Request{Body: map[string]any{"a": float64(4), "b": float64(5), "op": "multiply"}})
	require.NoError(t, err)
	assert.Equal(t, float64(20), result.(map[string]any)["result"])
}

func TestCalculatorDivideByZeroErrors(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.Execute("calculator", "POST", &runtime.Request{Body: map[string]any{"a": float64(1), "b": float64(0), "op": "divide"}})
	assert.Error(t, err)
}

func TestCalculatorUnknownOperationErrors(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.Execute("calculator", "POST", &runtime.Request{Body: map[string]any{"op": "modulo"}})
	assert.Error(t, err)
}
