package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/stationrt/station/pkg/events"
	"github.com/stationrt/station/pkg/registry"
	"github.com/stationrt/station/pkg/runtime"
	"github.com/stationrt/station/pkg/types"
)

// handleClusterStations implements GET/POST /cluster/stations (§6.2).
func (s *Server) handleClusterStations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"stations": s.registry.Views()})

	case http.MethodPost:
		var body struct {
			StationID string `json:"station_id"`
			Host      string `json:"host"`
			Port      int    `json:"port"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "malformed JSON body")
			return
		}
		if body.StationID == "" {
			writeError(w, http.StatusBadRequest, "missing required field: station_id")
			return
		}
		st := types.Station{StationID: body.StationID, Host: body.Host, Port: body.Port, LastHeartbeat: nowSeconds()}
		if existing, ok := s.registry.Get(body.StationID); !ok || !s.registry.IsLive(existing) {
			s.publishEvent(events.TypeStationJoined, body.StationID, "station registered")
		}
		if err := s.registry.Upsert(st); err != nil {
			writeRouteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleClusterHeartbeat implements GET/POST /cluster/heartbeat (§6.2).
func (s *Server) handleClusterHeartbeat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"station_id": s.stationID,
			"now":        nowSeconds(),
		})

	case http.MethodPost:
		var body struct {
			StationID string             `json:"station_id"`
			Host      string             `json:"host"`
			Port      int                `json:"port"`
			Metrics   map[string]float64 `json:"metrics"`
			Version   string             `json:"version"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "malformed JSON body")
			return
		}
		if body.StationID == "" {
			writeError(w, http.StatusBadRequest, "missing required field: station_id")
			return
		}
		st := types.Station{
			StationID:     body.StationID,
			Host:          body.Host,
			Port:          body.Port,
			LastHeartbeat: nowSeconds(),
			Metrics:       body.Metrics,
			Version:       body.Version,
		}
		if err := s.registry.Upsert(st); err != nil {
			writeRouteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleClusterInfo implements GET /cluster/info (§6.2): local identity.
func (s *Server) handleClusterInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"station_id": s.stationID,
		"is_master":  registry.IsMaster(s.stationID),
		"version":    s.version,
		"objects":    runtime.RegisteredObjectIDs(),
	})
}

// handleReplicateState implements POST /cluster/replicate (§6.2): LWW
// apply against the local state store.
func (s *Server) handleReplicateState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		ObjectID      string  `json:"object_id"`
		Key           string  `json:"key"`
		Value         string  `json:"value"`
		Timestamp     float64 `json:"timestamp"`
		SourceStation string  `json:"source_station"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	applied, err := s.state.ApplyReplicated(body.ObjectID, body.Key, body.Value, body.Timestamp)
	if err != nil {
		writeRouteError(w, err)
		return
	}
	resp := map[string]any{"status": "ok"}
	if !applied {
		resp["rejected"] = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAppendLog implements POST /cluster/append_log (§6.2): dedup-append
// by entry_id.
func (s *Server) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		ObjectID      string        `json:"object_id"`
		EntryID       string        `json:"entry_id"`
		LogEntry      types.LogEntry `json:"log_entry"`
		SourceStation string        `json:"source_station"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	applied, err := s.logger.ApplyReplicated(body.ObjectID, body.LogEntry)
	if err != nil {
		writeRouteError(w, err)
		return
	}
	if !applied {
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReplicateFile implements POST /cluster/replicate_file (§6.2):
// multipart upload, overwrite-apply.
func (s *Server) handleReplicateFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}
	objectID := r.FormValue("object_id")
	filename := r.FormValue("filename")
	if objectID == "" || filename == "" {
		writeError(w, http.StatusBadRequest, "missing object_id or filename")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeRouteError(w, err)
		return
	}
	if err := s.files.ApplyReplicated(objectID, filename, data); err != nil {
		writeRouteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type importRequest struct {
	ObjectID     string            `json:"object_id"`
	CodeFile     string            `json:"code_file"`
	CodeContent  string            `json:"code_content"`
	StateFiles   map[string]string `json:"state_files"`
	VersionFiles map[string]string `json:"version_files"`
}

// handleImport implements POST /cluster/import (§6.2): writes every
// artifact a migration carries for one object. Each artifact is applied
// through the same store primitives a live write would use — code content
// becomes a new version, state_files entries become state writes, and
// version_files entries ("v<N>.txt") are replayed as version saves in
// ascending N order (a best-effort history replay: without a raw
// version-store bulk loader, timestamps and original version numbers are
// not preserved, only content and order).
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.ObjectID == "" {
		writeError(w, http.StatusBadRequest, "missing required field: object_id")
		return
	}

	if len(req.VersionFiles) > 0 {
		names := make([]string, 0, len(req.VersionFiles))
		for name := range req.VersionFiles {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			var a, b int
			fmt.Sscanf(names[i], "v%d.txt", &a)
			fmt.Sscanf(names[j], "v%d.txt", &b)
			if a != b {
				return a < b
			}
			return names[i] < names[j]
		})
		for _, name := range names {
			content, err := base64.StdEncoding.DecodeString(req.VersionFiles[name])
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid base64 in version_files["+name+"]")
				return
			}
			if _, err := s.versions.SaveVersion(req.ObjectID, string(content), "migration", "imported "+name); err != nil {
				writeRouteError(w, err)
				return
			}
		}
	}

	if req.CodeContent != "" {
		content, err := base64.StdEncoding.DecodeString(req.CodeContent)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid base64 in code_content")
			return
		}
		if _, err := s.versions.SaveVersion(req.ObjectID, string(content), "migration", "imported "+req.CodeFile); err != nil {
			writeRouteError(w, err)
			return
		}
	}

	if len(req.StateFiles) > 0 {
		keys := make([]string, 0, len(req.StateFiles))
		for k := range req.StateFiles {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value, err := base64.StdEncoding.DecodeString(req.StateFiles[key])
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid base64 in state_files["+key+"]")
				return
			}
			if err := s.state.Set(req.ObjectID, key, string(value)); err != nil {
				writeRouteError(w, err)
				return
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "object_id": req.ObjectID})
}

type migrateRequest struct {
	ObjectID    string `json:"object_id"`
	FromStation string `json:"from_station"`
	ToStation   string `json:"to_station"`
	CopyOnly    bool   `json:"copy_only"`
}

// handleMigrate implements POST /cluster/migrate (§6.2): gathers the
// current source, state and version history of an object owned by this
// station and ships them to to_station's import endpoint, exercising the
// same replication-adjacent primitives as ordinary fire-and-forget
// replication under a synchronous, one-shot protocol (§1 "exercises the
// same replication primitives under a different protocol"). Only
// migrations initiated from the local station are supported; forwarding a
// migrate request on behalf of a third station is out of scope.
func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req migrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.ObjectID == "" || req.ToStation == "" {
		writeError(w, http.StatusBadRequest, "missing required field")
		return
	}
	if req.FromStation != "" && req.FromStation != s.stationID {
		writeError(w, http.StatusBadRequest, "migrate must be initiated from the source station")
		return
	}

	target, ok := s.registry.Get(req.ToStation)
	if !ok || !s.registry.IsLive(target) {
		writeError(w, http.StatusServiceUnavailable, "target station not found or not live")
		return
	}

	payload := importRequest{ObjectID: req.ObjectID}

	if source, err := s.rt.GetSource(req.ObjectID); err == nil {
		payload.CodeFile = req.ObjectID
		payload.CodeContent = base64.StdEncoding.EncodeToString([]byte(source))
	}

	history, err := s.rt.GetVersionHistory(req.ObjectID, 0)
	if err != nil {
		writeRouteError(w, err)
		return
	}
	payload.VersionFiles = make(map[string]string, len(history))
	for _, meta := range history {
		v, err := s.rt.GetVersion(req.ObjectID, meta.VersionID)
		if err != nil {
			continue
		}
		payload.VersionFiles[fmt.Sprintf("v%d.txt", meta.VersionID)] = base64.StdEncoding.EncodeToString([]byte(v.Content))
	}

	state, err := s.rt.GetState(req.ObjectID)
	if err != nil {
		writeRouteError(w, err)
		return
	}
	payload.StateFiles = make(map[string]string, len(state))
	for k, v := range state {
		payload.StateFiles[k] = base64.StdEncoding.EncodeToString([]byte(v))
	}

	body, _ := json.Marshal(payload)
	importURL := fmt.Sprintf("http://%s:%d/cluster/import", target.Host, target.Port)
	httpReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, importURL, bytes.NewReader(body))
	if err != nil {
		writeRouteError(w, err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		writeError(w, http.StatusBadGateway, "migration transport failed: "+err.Error())
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("target import returned status %d", resp.StatusCode))
		return
	}

	if !req.CopyOnly {
		s.purgeLocal(req.ObjectID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"object_id":  req.ObjectID,
		"to_station": req.ToStation,
		"copy_only":  req.CopyOnly,
	})
}

// purgeLocal removes an object's on-disk primitives from this station
// after a non-copy-only migration. The stores expose their representation
// only through per-key/per-version APIs, so purging operates directly on
// the shared data directory layout documented in §6.3.
func (s *Server) purgeLocal(objectID string) {
	for _, sub := range []string{"state", "logs", "versions", "files"} {
		_ = os.RemoveAll(filepath.Join(s.dataDir, sub, objectID))
	}
}

// handleClusterEvents implements the supplemented GET /cluster/events
// polling endpoint (SPEC_FULL §12): drains the broker's recent buffer for
// operational visibility into station/object lifecycle transitions.
func (s *Server) handleClusterEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.broker.Recent(limit)})
}

func (s *Server) publishEvent(t events.Type, stationID, message string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{Type: t, Message: message, Metadata: map[string]string{"station_id": stationID}})
}
