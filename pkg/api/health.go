package api

import (
	"net/http"
	"time"

	"github.com/stationrt/station/pkg/metrics"
	"github.com/stationrt/station/pkg/registry"
)

// HealthResponse is the /health liveness payload. Components mirrors the
// named-component registry main.go feeds via metrics.RegisterComponent
// (registry, replication, api) - a process can be alive with a component
// still degraded.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime"`
	Components map[string]string `json:"components,omitempty"`
}

// ReadyResponse is the /ready readiness payload.
type ReadyResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Message string            `json:"message,omitempty"`
}

// handleHealth is a liveness check: 200 unless a registered component has
// reported itself unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	health := metrics.GetHealth()
	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, HealthResponse{
		Status:     health.Status,
		Timestamp:  time.Now(),
		Version:    s.version,
		Uptime:     health.Uptime,
		Components: health.Components,
	})
}

// handleReady checks that this station can serve cluster traffic: the
// critical-component registry (registry, replication, api) must all be
// healthy, and a worker additionally needs a live view of the master.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	readiness := metrics.GetReadiness()
	checks := readiness.Components
	if checks == nil {
		checks = map[string]string{}
	}
	ready := readiness.Status == "ready"
	message := readiness.Message

	if registry.IsMaster(s.stationID) {
		checks["cluster"] = "master"
	} else if master, ok := s.registry.Get("station1"); ok && s.registry.IsLive(master) {
		checks["cluster"] = "master reachable"
	} else {
		checks["cluster"] = "master unknown"
		ready = false
		if message == "" {
			message = "no live view of the master station yet"
		}
	}

	status := http.StatusOK
	resp := ReadyResponse{Status: "ready", Checks: checks}
	if !ready {
		status = http.StatusServiceUnavailable
		resp.Status = "not_ready"
		resp.Message = message
	}
	writeJSON(w, status, resp)
}
