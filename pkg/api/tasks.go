package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/stationrt/station/pkg/scheduler"
	"github.com/stationrt/station/pkg/types"
)

// handleTasks implements GET/POST /tasks (§4.6b, §6.2): list the durable
// task records or create one. This is the only reachable way to populate
// the scheduler daemon's bbolt table - the daemon itself only polls and
// executes what already exists here.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task store not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		records, err := s.tasks.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if status := r.URL.Query().Get("status"); status != "" {
			filtered := make([]types.TaskRecord, 0, len(records))
			for _, rec := range records {
				if string(rec.Status) == status {
					filtered = append(filtered, rec)
				}
			}
			records = filtered
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": records, "count": len(records)})

	case http.MethodPost:
		var body struct {
			ObjectID     string         `json:"object_id"`
			Method       string         `json:"method"`
			Type         types.TaskType `json:"type"`
			ScheduleExpr string         `json:"schedule_expr"`
			Payload      map[string]any `json:"payload"`
			MaxAttempts  int            `json:"max_attempts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "malformed JSON body")
			return
		}
		if body.ObjectID == "" {
			writeError(w, http.StatusBadRequest, "missing required field: object_id")
			return
		}
		if body.Method == "" {
			body.Method = http.MethodPost
		}
		if body.Type == "" {
			writeError(w, http.StatusBadRequest, "missing required field: type (cron or onetime)")
			return
		}
		if err := scheduler.ValidateScheduleExpr(body.Type, body.ScheduleExpr); err != nil {
			writeError(w, http.StatusBadRequest, "invalid schedule_expr: "+err.Error())
			return
		}

		rec, err := s.tasks.Create(types.TaskRecord{
			ObjectID:     body.ObjectID,
			Method:       body.Method,
			Type:         body.Type,
			ScheduleExpr: body.ScheduleExpr,
			Payload:      body.Payload,
			MaxAttempts:  body.MaxAttempts,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.log.Info().Str("task_id", rec.TaskID).Str("object_id", rec.ObjectID).Msg("task record created")
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "task": rec})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTaskAddr implements GET/DELETE /tasks/{task_id} (§4.6b): fetch or
// cancel one record. DELETE marks it cancelled rather than removing the
// row, matching the daemon's own status-driven lifecycle.
func (s *Server) handleTaskAddr(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task store not configured")
		return
	}

	taskID := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "missing task_id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.tasks.Get(taskID)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": rec})

	case http.MethodDelete:
		if _, err := s.tasks.Get(taskID); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err := s.tasks.Cancel(taskID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.log.Info().Str("task_id", taskID).Msg("task record cancelled")
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
