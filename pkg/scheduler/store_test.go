package scheduler

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationrt/station/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAssignsTaskIDAndDefaults(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.Create(types.TaskRecord{ObjectID: "counter", Method: "POST", Type: types.TaskTypeCron, ScheduleExpr: "* * * * *"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.TaskID)
	assert.Equal(t, 3, rec.MaxAttempts)
	assert.Equal(t, types.TaskStatusActive, rec.Status)
}

func TestCreateThenGet(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.Create(types.TaskRecord{ObjectID: "counter", Method: "POST", Type: types.TaskTypeOnetime, ScheduleExpr: "2026-01-01T00:00:00Z"})
	require.NoError(t, err)

	got, err := s.Get(rec.TaskID)
	require.NoError(t, err)
	assert.Equal(t, rec.ObjectID, got.ObjectID)
}

func TestListReturnsAllRecords(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Create(types.TaskRecord{ObjectID: "a", Type: types.TaskTypeCron, ScheduleExpr: "* * * * *"})
	require.NoError(t, err)
	_, err = s.Create(types.TaskRecord{ObjectID: "b", Type: types.TaskTypeCron, ScheduleExpr: "* * * * *"})
	require.NoError(t, err)

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCancelSetsStatus(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.Create(types.TaskRecord{ObjectID: "a", Type: types.TaskTypeCron, ScheduleExpr: "* * * * *"})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(rec.TaskID))
	got, err := s.Get(rec.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCancelled, got.Status)
}

func TestDeleteRemovesRecord(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.Create(types.TaskRecord{ObjectID: "a", Type: types.TaskTypeCron, ScheduleExpr: "* * * * *"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(rec.TaskID))
	_, err = s.Get(rec.TaskID)
	assert.Error(t, err)
}
