package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationrt/station/pkg/events"
	"github.com/stationrt/station/pkg/metrics"
	"github.com/stationrt/station/pkg/registry"
	"github.com/stationrt/station/pkg/router"
	"github.com/stationrt/station/pkg/runtime"
	"github.com/stationrt/station/pkg/scheduler"
	"github.com/stationrt/station/pkg/store"

	_ "github.com/stationrt/station/pkg/objects"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	taskStore, err := scheduler.Open(filepath.Join(dir, "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { taskStore.Close() })

	stores := Stores{
		State:    store.NewStateStore(dir, nil),
		Logger:   store.NewSelfLogger(dir, nil),
		Versions: store.NewVersionStore(dir),
		Files:    store.NewFileStore(dir, nil),
		Tasks:    taskStore,
	}
	rt := runtime.New("station1", stores.State, stores.Logger, stores.Files, stores.Versions)
	reg := registry.New(dir, "station1", true)
	rtr := router.New(rt, reg, "station1")
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	// Mirror cmd/station/main.go's critical-component registration so
	// /ready reflects a fully up station, the same as in production.
	metrics.RegisterComponent("registry", true, "loaded")
	metrics.RegisterComponent("replication", true, "pool running")
	metrics.RegisterComponent("api", true, "ready")

	return NewServer(rt, rtr, reg, broker, stores, dir, "station1", "test")
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestListObjects(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/objects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	objects, ok := body["objects"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, objects)
}

func TestGetObjectInvokesHandler(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/objects/counter", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(0), body["value"])
}

func TestPostObjectIncrementsCounter(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/objects/counter", map[string]any{"by": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(3), body["value"])
}

func TestGetObjectSourceIntrospection(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/objects/counter?source=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["source"], "Counter")
}

func TestGetUnknownObjectReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/objects/does_not_exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostRollbackCreatesNewVersion(t *testing.T) {
	s := newTestServer(t)
	// Force a second version to roll back from.
	rec := doRequest(t, s, http.MethodPut, "/objects/counter?source=true", map[string]any{"code": "v2 source", "author": "tester"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/objects/counter", map[string]any{"action": "rollback", "version_id": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(3), body["version_id"])
}

func TestPostUnknownActionIs400(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/objects/counter", map[string]any{"action": "nonsense"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExplicitStationToSelfResolvesLocally(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/objects/counter@station1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestExplicitStationToUnknownPeerIs503(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/objects/counter@station9", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClusterInfoReportsIdentity(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/cluster/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "station1", body["station_id"])
	assert.Equal(t, true, body["is_master"])
}

func TestClusterStationsRegister(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/cluster/stations", map[string]any{"station_id": "station2", "host": "127.0.0.1", "port": 8002})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/cluster/stations", nil)
	body := decodeBody(t, rec)
	stations, ok := body["stations"].([]any)
	require.True(t, ok)
	assert.Len(t, stations, 1)
}

func TestClusterReplicateAppliesLWW(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/cluster/replicate", map[string]any{
		"object_id": "counter", "key": "value", "value": "42", "timestamp": 9999999999.0, "source_station": "station2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Nil(t, body["rejected"])

	// Older timestamp loses.
	rec = doRequest(t, s, http.MethodPost, "/cluster/replicate", map[string]any{
		"object_id": "counter", "key": "value", "value": "1", "timestamp": 1.0, "source_station": "station2",
	})
	body = decodeBody(t, rec)
	assert.Equal(t, true, body["rejected"])
}

func TestClusterAppendLogDedups(t *testing.T) {
	s := newTestServer(t)
	entry := map[string]any{"entry_id": "abc123", "timestamp": 1.0, "level": "info", "message": "hello"}
	rec := doRequest(t, s, http.MethodPost, "/cluster/append_log", map[string]any{
		"object_id": "counter", "entry_id": "abc123", "log_entry": entry, "source_station": "station2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = doRequest(t, s, http.MethodPost, "/cluster/append_log", map[string]any{
		"object_id": "counter", "entry_id": "abc123", "log_entry": entry, "source_station": "station2",
	})
	assert.Equal(t, "duplicate", decodeBody(t, rec)["status"])
}

func TestClusterEventsDrainsBuffer(t *testing.T) {
	s := newTestServer(t)
	doRequest(t, s, http.MethodPost, "/cluster/stations", map[string]any{"station_id": "station2", "host": "x", "port": 1})
	rec := doRequest(t, s, http.MethodGet, "/cluster/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code) // master is always ready
}

func TestPostTaskCreatesRecord(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/tasks", map[string]any{
		"object_id":     "counter",
		"method":        "POST",
		"type":          "cron",
		"schedule_expr": "*/5 * * * *",
		"payload":       map[string]any{"by": 1},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	task := body["task"].(map[string]any)
	assert.NotEmpty(t, task["task_id"])
	assert.Equal(t, "active", task["status"])

	listRec := doRequest(t, s, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	listBody := decodeBody(t, listRec)
	assert.Equal(t, float64(1), listBody["count"])
}

func TestPostTaskRejectsInvalidScheduleExpr(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/tasks", map[string]any{
		"object_id":     "counter",
		"type":          "cron",
		"schedule_expr": "not a cron expression",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAndCancelTask(t *testing.T) {
	s := newTestServer(t)
	createRec := doRequest(t, s, http.MethodPost, "/tasks", map[string]any{
		"object_id":     "counter",
		"type":          "onetime",
		"schedule_expr": "2099-01-01T00:00:00Z",
	})
	require.Equal(t, http.StatusOK, createRec.Code)
	taskID := decodeBody(t, createRec)["task"].(map[string]any)["task_id"].(string)

	getRec := doRequest(t, s, http.MethodGet, "/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, getRec.Code)

	delRec := doRequest(t, s, http.MethodDelete, "/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, delRec.Code)

	getRec = doRequest(t, s, http.MethodGet, "/tasks/"+taskID, nil)
	body := decodeBody(t, getRec)["task"].(map[string]any)
	assert.Equal(t, "cancelled", body["status"])
}

func TestGetUnknownTaskReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/tasks/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
