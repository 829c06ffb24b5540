// Package api implements the HTTP surface (§6.1, §6.2): object addressing
// and CRUD, and the cluster ingest/management endpoints. Routing decisions
// (local vs. forwarded vs. load-balanced) are delegated to pkg/router;
// this package owns request/response shaping and the direct store access
// that a few operations (file upload, version replace, migration) need
// outside of handler dispatch.
package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/stationrt/station/pkg/events"
	"github.com/stationrt/station/pkg/log"
	"github.com/stationrt/station/pkg/metrics"
	"github.com/stationrt/station/pkg/registry"
	"github.com/stationrt/station/pkg/router"
	"github.com/stationrt/station/pkg/runtime"
	"github.com/stationrt/station/pkg/scheduler"
	"github.com/stationrt/station/pkg/store"
)

// Server wires the runtime, router and cluster registry into a plain
// net/http handler: manual ServeMux, explicit JSON encode/decode.
type Server struct {
	rt        *runtime.Runtime
	router    *router.Router
	registry  *registry.Registry
	broker    *events.Broker
	state     *store.StateStore
	logger    *store.SelfLogger
	versions  *store.VersionStore
	files     *store.FileStore
	tasks     *scheduler.Store
	dataDir   string
	stationID string
	version   string

	mux *http.ServeMux
	log zerolog.Logger
}

// Stores bundles the per-object primitives the API needs direct access to,
// alongside the runtime that already wraps them for handler dispatch
// (replication ingress and file upload bypass handler dispatch entirely).
// Tasks is the durable scheduler table (§4.6b); it is the only store here
// that isn't per-object.
type Stores struct {
	State    *store.StateStore
	Logger   *store.SelfLogger
	Versions *store.VersionStore
	Files    *store.FileStore
	Tasks    *scheduler.Store
}

func NewServer(rt *runtime.Runtime, rtr *router.Router, reg *registry.Registry, broker *events.Broker, stores Stores, dataDir, stationID, version string) *Server {
	s := &Server{
		rt:        rt,
		router:    rtr,
		registry:  reg,
		broker:    broker,
		state:     stores.State,
		logger:    stores.Logger,
		versions:  stores.Versions,
		files:     stores.Files,
		tasks:     stores.Tasks,
		dataDir:   dataDir,
		stationID: stationID,
		version:   version,
		log:       log.WithComponent("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/objects", s.handleObjectsList)
	mux.HandleFunc("/objects/", s.handleObjectAddr)
	mux.HandleFunc("/cluster/stations", s.handleClusterStations)
	mux.HandleFunc("/cluster/heartbeat", s.handleClusterHeartbeat)
	mux.HandleFunc("/cluster/info", s.handleClusterInfo)
	mux.HandleFunc("/cluster/replicate", s.handleReplicateState)
	mux.HandleFunc("/cluster/append_log", s.handleAppendLog)
	mux.HandleFunc("/cluster/replicate_file", s.handleReplicateFile)
	mux.HandleFunc("/cluster/import", s.handleImport)
	mux.HandleFunc("/cluster/migrate", s.handleMigrate)
	mux.HandleFunc("/cluster/events", s.handleClusterEvents)
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.handleTaskAddr)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", metrics.Handler())
	s.mux = mux
	return s
}

// Handler returns the instrumented net/http handler.
func (s *Server) Handler() http.Handler {
	return s.withMetrics(s.mux)
}

// Start runs the HTTP server on addr until it returns an error.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second, // must exceed router.DefaultForwardTimeout headroom for load-balanced forwards
		IdleTimeout:  60 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("station HTTP surface listening")
	return srv.ListenAndServe()
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, http.StatusText(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"status": "error", "message": message})
}

func parseQuery(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
