// Package registry implements the cluster registry described in §4.7: the
// master's source of truth on which stations exist, which are live, and
// what load they report. Workers run the same struct as a read cache kept
// current by the heartbeat client in heartbeat.go.
package registry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stationrt/station/pkg/log"
	"github.com/stationrt/station/pkg/types"
)

// DefaultLivenessWindow is the default staleness threshold (§3, §4.7).
const DefaultLivenessWindow = 30 * time.Second

// Registry holds the station table. On the master it is the persisted
// source of truth (one TSV rewrite per heartbeat/registration); on a
// worker it is a read cache refreshed by the heartbeat client.
type Registry struct {
	dataDir        string
	localStationID string
	livenessWindow time.Duration
	persist        bool // true on the master only

	mu       sync.RWMutex
	stations map[string]types.Station
}

// New creates a registry. persist controls whether mutations are written to
// cluster/stations.tsv — only the master does this (§5 "the cluster
// registry is written only by the master").
func New(dataDir, localStationID string, persist bool) *Registry {
	r := &Registry{
		dataDir:        dataDir,
		localStationID: localStationID,
		livenessWindow: DefaultLivenessWindow,
		persist:        persist,
		stations:       make(map[string]types.Station),
	}
	if persist {
		if err := r.load(); err != nil {
			log.Errorf("failed to load cluster registry", err)
		}
	}
	return r
}

// IsMaster reports whether stationID is the statically designated master
// (§9: preserve the hard-coded "station1" bias).
func IsMaster(stationID string) bool {
	return stationID == "station1"
}

func (r *Registry) path() string {
	return filepath.Join(r.dataDir, "cluster", "stations.tsv")
}

// load reads cluster/stations.tsv. Per §9, the on-disk format has no header
// row; a legacy header row (whose port field fails to parse as an integer)
// is tolerated and stripped.
func (r *Registry) load() error {
	f, err := os.Open(r.path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	r.mu.Lock()
	defer r.mu.Unlock()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			continue
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			continue // legacy header row
		}
		lastHeartbeat, _ := strconv.ParseFloat(fields[3], 64)
		st := types.Station{
			StationID:     fields[0],
			Host:          fields[1],
			Port:          port,
			LastHeartbeat: lastHeartbeat,
		}
		if len(fields) > 4 && fields[4] != "" {
			st.Metrics = parseMetricsJSON(fields[4])
		}
		if len(fields) > 5 {
			st.Version = fields[5]
		}
		r.stations[st.StationID] = st
	}
	return scanner.Err()
}

func (r *Registry) saveLocked() error {
	if !r.persist {
		return nil
	}
	ids := make([]string, 0, len(r.stations))
	for id := range r.stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		st := r.stations[id]
		fmt.Fprintf(&b, "%s\t%s\t%d\t%s\t%s\t%s\n",
			st.StationID, st.Host, st.Port,
			strconv.FormatFloat(st.LastHeartbeat, 'f', -1, 64),
			metricsToJSON(st.Metrics), st.Version)
	}
	dir := filepath.Dir(r.path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return atomicWriteFile(r.path(), []byte(b.String()))
}

func atomicWriteFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Upsert creates or refreshes a station row (register, heartbeat, or a
// worker's locally cached copy of the master's table).
func (r *Registry) Upsert(st types.Station) error {
	r.mu.Lock()
	r.stations[st.StationID] = st
	err := r.saveLocked()
	r.mu.Unlock()
	return err
}

// ReplaceAll swaps the entire cached table at once — used by a worker's
// heartbeat client after fetching GET /cluster/stations from the master.
func (r *Registry) ReplaceAll(stations []types.Station) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stations = make(map[string]types.Station, len(stations))
	for _, st := range stations {
		r.stations[st.StationID] = st
	}
}

// Get returns the raw station row, if known.
func (r *Registry) Get(stationID string) (types.Station, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stations[stationID]
	return st, ok
}

// IsLive reports whether a station's last heartbeat is within the liveness
// window of now.
func (r *Registry) IsLive(st types.Station) bool {
	return nowSeconds()-st.LastHeartbeat < r.livenessWindow.Seconds()
}

// Views returns every known station enriched with is_active and url. The
// local station's row always reads as active, even when stale (§4.7
// "self-reporting override"); a station with no row, the local one
// included, is not listed.
func (r *Registry) Views() []types.StationView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.stations))
	for id := range r.stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]types.StationView, 0, len(ids))
	for _, id := range ids {
		st := r.stations[id]
		view := types.StationView{
			Station:  st,
			IsActive: r.IsLive(st),
			URL:      fmt.Sprintf("http://%s:%d", st.Host, st.Port),
		}
		if id == r.localStationID {
			view.IsActive = true
		}
		out = append(out, view)
	}
	return out
}

// LivePeers returns every currently-live station other than the local
// one — the candidate set for replication fan-out and load-based routing.
func (r *Registry) LivePeers() []types.StationView {
	var out []types.StationView
	for _, v := range r.Views() {
		if v.StationID == r.localStationID {
			continue
		}
		if v.IsActive {
			out = append(out, v)
		}
	}
	return out
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// LoadScore computes the §4.8 routing score: 0.6·cpu_percent +
// 0.4·memory_percent, defaulting to 50 when no metrics are available.
func LoadScore(st types.Station) float64 {
	if st.Metrics == nil {
		return 50
	}
	cpu, okC := st.Metrics["cpu_percent"]
	mem, okM := st.Metrics["memory_percent"]
	if !okC && !okM {
		return 50
	}
	return 0.6*cpu + 0.4*mem
}
