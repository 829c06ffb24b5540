package store

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationrt/station/pkg/types"
)

type fakeLogReplicator struct {
	entries []types.LogEntry
}

func (f *fakeLogReplicator) ReplicateLog(objectID string, entry types.LogEntry) {
	f.entries = append(f.entries, entry)
}

func TestSelfLoggerLogAndGetLogs(t *testing.T) {
	l := NewSelfLogger(t.TempDir(), nil)

	_, err := l.Info("obj", "started", nil)
	require.NoError(t, err)
	_, err = l.Error("obj", "boom", map[string]string{"kind": "timeout"})
	require.NoError(t, err)

	entries, err := l.GetLogs("obj", "", 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "started", entries[0].Message)
	assert.Equal(t, "boom", entries[1].Message)
	assert.Equal(t, "timeout", entries[1].Fields["kind"])
}

func TestSelfLoggerLevelFilter(t *testing.T) {
	l := NewSelfLogger(t.TempDir(), nil)
	_, _ = l.Info("obj", "a", nil)
	_, _ = l.Error("obj", "b", nil)

	entries, err := l.GetLogs("obj", "error", 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].Message)
}

func TestSelfLoggerDedupReplication(t *testing.T) {
	l := NewSelfLogger(t.TempDir(), nil)

	entry, err := l.Info("obj", "hello", nil)
	require.NoError(t, err)

	applied, err := l.ApplyReplicated("obj", entry)
	require.NoError(t, err)
	assert.False(t, applied, "entry already present locally")

	entries, err := l.GetLogs("obj", "", 0, 0, nil)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSelfLoggerApplyReplicatedNewEntry(t *testing.T) {
	l := NewSelfLogger(t.TempDir(), nil)

	entry := types.LogEntry{EntryID: "deadbeefcafef00d", Timestamp: 1.0, Level: "info", Message: "from peer"}
	applied, err := l.ApplyReplicated("obj", entry)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = l.ApplyReplicated("obj", entry)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestSelfLoggerEntryIDDeterministic(t *testing.T) {
	a := entryID(1700000000.5, "obj", "info", "hello")
	b := entryID(1700000000.5, "obj", "info", "hello")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestSelfLoggerRotatesAtMaxSize(t *testing.T) {
	l := NewSelfLogger(t.TempDir(), nil)
	l.maxLogSize = 1 // force rotation on the very next write after the first

	_, err := l.Info("obj", "first", nil)
	require.NoError(t, err)
	_, err = l.Info("obj", "second", nil)
	require.NoError(t, err)

	names, err := filepathGlob(l.dir("obj"))
	require.NoError(t, err)
	var archived bool
	for _, n := range names {
		if strings.Contains(n, "log-") {
			archived = true
		}
	}
	assert.True(t, archived, "expected a rotated archive file")
}

func filepathGlob(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
