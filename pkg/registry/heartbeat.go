package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stationrt/station/pkg/log"
	"github.com/stationrt/station/pkg/types"
)

const defaultHeartbeatInterval = 5 * time.Second

// HeartbeatClient periodically reports this station's identity and load
// metrics to the master and refreshes the local registry cache from the
// master's table, keeping a worker's view of the cluster current between
// heartbeats.
type HeartbeatClient struct {
	registry    *Registry
	masterURL   string
	self        types.Station
	version     string
	metricsFunc func() map[string]float64
	httpClient  *http.Client
	logger      zerolog.Logger

	stopCh chan struct{}
}

func NewHeartbeatClient(reg *Registry, masterHost string, masterPort int, self types.Station, version string, metricsFunc func() map[string]float64) *HeartbeatClient {
	return &HeartbeatClient{
		registry:    reg,
		masterURL:   fmt.Sprintf("http://%s:%d", masterHost, masterPort),
		self:        self,
		version:     version,
		metricsFunc: metricsFunc,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		logger:      log.WithComponent("heartbeat"),
		stopCh:      make(chan struct{}),
	}
}

func (h *HeartbeatClient) Start() {
	go h.run()
}

func (h *HeartbeatClient) Stop() {
	close(h.stopCh)
}

func (h *HeartbeatClient) run() {
	ticker := time.NewTicker(defaultHeartbeatInterval)
	defer ticker.Stop()

	h.beat()
	for {
		select {
		case <-ticker.C:
			h.beat()
		case <-h.stopCh:
			return
		}
	}
}

func (h *HeartbeatClient) beat() {
	metrics := map[string]float64{}
	if h.metricsFunc != nil {
		metrics = h.metricsFunc()
	}

	body, _ := json.Marshal(map[string]any{
		"station_id": h.self.StationID,
		"host":       h.self.Host,
		"port":       h.self.Port,
		"metrics":    metrics,
		"version":    h.version,
	})

	resp, err := h.httpClient.Post(h.masterURL+"/cluster/heartbeat", "application/json", bytes.NewReader(body))
	if err != nil {
		h.logger.Warn().Err(err).Msg("heartbeat to master failed")
		return
	}
	resp.Body.Close()

	h.refresh()
}

func (h *HeartbeatClient) refresh() {
	resp, err := h.httpClient.Get(h.masterURL + "/cluster/stations")
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to refresh registry from master")
		return
	}
	defer resp.Body.Close()

	var payload struct {
		Stations []types.Station `json:"stations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		h.logger.Warn().Err(err).Msg("failed to decode registry response")
		return
	}
	h.registry.ReplaceAll(payload.Stations)
}
