package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStateReplicator struct {
	calls []struct {
		objectID, key, value string
		timestamp            float64
	}
}

func (f *fakeStateReplicator) ReplicateState(objectID, key, value string, timestamp float64) {
	f.calls = append(f.calls, struct {
		objectID, key, value string
		timestamp            float64
	}{objectID, key, value, timestamp})
}

func TestStateStoreSetThenGet(t *testing.T) {
	s := NewStateStore(t.TempDir(), nil)

	require.NoError(t, s.Set("counter", "count", "3"))

	v, err := s.Get("counter", "count", "0")
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}

func TestStateStoreGetDefault(t *testing.T) {
	s := NewStateStore(t.TempDir(), nil)

	v, err := s.Get("counter", "missing", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)
}

func TestStateStoreSetEnqueuesReplication(t *testing.T) {
	rep := &fakeStateReplicator{}
	s := NewStateStore(t.TempDir(), rep)

	require.NoError(t, s.Set("counter", "count", "1"))
	require.Len(t, rep.calls, 1)
	assert.Equal(t, "counter", rep.calls[0].objectID)
	assert.Equal(t, "count", rep.calls[0].key)
	assert.Equal(t, "1", rep.calls[0].value)
}

func TestStateStoreApplyReplicatedLWW(t *testing.T) {
	s := NewStateStore(t.TempDir(), nil)

	applied, err := s.ApplyReplicated("obj", "k", "old", 100)
	require.NoError(t, err)
	assert.True(t, applied)

	// Older or equal timestamp is rejected.
	applied, err = s.ApplyReplicated("obj", "k", "older", 99)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = s.ApplyReplicated("obj", "k", "tie", 100)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = s.ApplyReplicated("obj", "k", "newer", 101)
	require.NoError(t, err)
	assert.True(t, applied)

	v, err := s.Get("obj", "k", "")
	require.NoError(t, err)
	assert.Equal(t, "newer", v)
}

func TestStateStoreDeleteWritesTombstone(t *testing.T) {
	s := NewStateStore(t.TempDir(), nil)
	require.NoError(t, s.Set("obj", "k", "v"))
	require.NoError(t, s.Delete("obj", "k"))

	v, err := s.Get("obj", "k", "default-if-absent")
	require.NoError(t, err)
	assert.Equal(t, "", v, "tombstone is a real empty value, not absence")
}

func TestStateStoreLegacyTwoFieldRows(t *testing.T) {
	dir := t.TempDir()
	s := NewStateStore(dir, nil)

	require.NoError(t, atomicWriteFile(s.path("legacy"), []byte("key\tvalue\n"), 0o644))

	v, err := s.Get("legacy", "key", "")
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	all, err := s.GetAll("legacy")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"key": "value"}, all)
}

func TestStateStoreGetAll(t *testing.T) {
	s := NewStateStore(t.TempDir(), nil)
	require.NoError(t, s.Set("obj", "a", "1"))
	require.NoError(t, s.Set("obj", "b", "2"))

	all, err := s.GetAll("obj")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, all)
}
