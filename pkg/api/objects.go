package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/stationrt/station/pkg/router"
	"github.com/stationrt/station/pkg/runtime"
)

// handleObjectsList implements GET /objects (§6.1): every built-in object
// id and its nominal path. Built-in objects have no on-disk handler path,
// so path mirrors object_id (§9 "built-in registry" strategy).
func (s *Server) handleObjectsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ids := runtime.RegisteredObjectIDs()
	objects := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		objects = append(objects, map[string]string{"object_id": id, "path": id})
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": objects})
}

// handleObjectAddr dispatches the four object verbs against {object_id}
// or {object_id}@{station_id} (§6.1).
func (s *Server) handleObjectAddr(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimPrefix(r.URL.Path, "/objects/")
	if addr == "" {
		writeError(w, http.StatusBadRequest, "malformed object address")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleObjectGet(w, r, addr)
	case http.MethodPost:
		s.handleObjectPost(w, r, addr)
	case http.MethodPut:
		s.handleObjectPut(w, r, addr)
	case http.MethodDelete:
		s.handleObjectDelete(w, r, addr)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleObjectGet(w http.ResponseWriter, r *http.Request, addr string) {
	query := parseQuery(r.URL.Query())
	objectID, station := router.SplitAddress(addr)
	introspection := router.IntrospectionQuery(query)

	if station != "" && station != s.stationID {
		result, err := s.router.Route(addr, "GET", &runtime.Request{Query: query}, introspection)
		if err != nil {
			writeRouteError(w, err)
			return
		}
		writeRouted(w, result)
		return
	}

	if introspection {
		s.handleIntrospection(w, objectID, query)
		return
	}

	result, err := s.router.Route(addr, "GET", &runtime.Request{Query: query}, false)
	if err != nil {
		writeRouteError(w, err)
		return
	}
	writeRouted(w, result)
}

// handleIntrospection answers every query-driven GET variant against the
// local copy of an object's primitives (§6.1 table). Resolved only
// against the local station — introspection never load-balances, and an
// explicit remote address is handled by the caller before reaching here.
func (s *Server) handleIntrospection(w http.ResponseWriter, objectID string, query map[string]string) {
	switch {
	case query["source"] == "true":
		content, err := s.rt.GetSource(objectID)
		if err != nil {
			writeRouteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"object_id": objectID, "source": content})

	case query["metadata"] == "true":
		meta, err := s.rt.GetMetadata(objectID)
		if err != nil {
			writeRouteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, meta)

	case query["state"] == "true":
		state, err := s.rt.GetState(objectID)
		if err != nil {
			writeRouteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"object_id": objectID, "state": state})

	case query["status"] == "true":
		schedules := s.rt.GetStatus(objectID)
		writeJSON(w, http.StatusOK, map[string]any{"object_id": objectID, "schedules": schedules})

	case query["logs"] == "true":
		limit, _ := strconv.Atoi(query["limit"])
		logs, err := s.rt.GetLogs(objectID, query["level"], limit, 0, nil)
		if err != nil {
			writeRouteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"object_id": objectID, "logs": logs})

	case query["versions"] == "true":
		limit, _ := strconv.Atoi(query["limit"])
		history, err := s.rt.GetVersionHistory(objectID, limit)
		if err != nil {
			writeRouteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"object_id": objectID, "versions": history})

	case query["version"] != "":
		id, err := strconv.Atoi(query["version"])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid version number")
			return
		}
		v, err := s.rt.GetVersion(objectID, id)
		if err != nil {
			writeRouteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)

	case query["files"] == "true":
		list, err := s.rt.ListFiles(objectID)
		if err != nil {
			writeRouteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"object_id": objectID, "files": list})

	case query["file"] != "":
		s.streamFile(w, objectID, query["file"])

	case query["test"] == "true":
		result, err := s.rt.RunSelfTests(objectID)
		if err != nil {
			writeRouteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		writeError(w, http.StatusBadRequest, "unrecognized introspection query")
	}
}

// streamFile serves a stored blob with a Content-Type inferred from its
// extension; image/* streams inline, everything else as an attachment
// (§6.1 "file=NAME").
func (s *Server) streamFile(w http.ResponseWriter, objectID, filename string) {
	data, err := s.rt.GetFile(objectID, filename)
	if err != nil {
		writeRouteError(w, err)
		return
	}
	contentType := mime.TypeByExtension(fileExt(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if !strings.HasPrefix(contentType, "image/") {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func fileExt(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[i:]
	}
	return ""
}

func (s *Server) handleObjectPost(w http.ResponseWriter, r *http.Request, addr string) {
	objectID, station := router.SplitAddress(addr)
	query := parseQuery(r.URL.Query())
	contentType := r.Header.Get("Content-Type")

	if station != "" && station != s.stationID {
		body, _ := decodeJSONBody(r)
		result, err := s.router.Route(addr, "POST", &runtime.Request{Query: query, Body: body}, false)
		if err != nil {
			writeRouteError(w, err)
			return
		}
		writeRouted(w, result)
		return
	}

	if strings.HasPrefix(contentType, "multipart/") {
		s.handleFileUpload(w, r, objectID)
		return
	}

	body, err := decodeJSONBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	if action, ok := body["action"].(string); ok {
		s.handlePostAction(w, addr, objectID, action, body)
		return
	}

	result, err := s.router.Route(addr, "POST", &runtime.Request{Query: query, Body: body}, false)
	if err != nil {
		writeRouteError(w, err)
		return
	}
	writeRouted(w, result)
}

// handlePostAction implements the special JSON POST actions (§6.1):
// rollback operates directly on the local version store (versions are not
// a replicated primitive, so there is nothing to route); start/stop
// invoke the handler's optional methods and are deliberately kept from
// load-balancing — moving a start/stop call to a different station than
// the one a caller named would silently control the wrong station.
func (s *Server) handlePostAction(w http.ResponseWriter, addr, objectID, action string, body map[string]any) {
	switch action {
	case "rollback":
		versionID, ok := asInt(body["version_id"])
		if !ok {
			writeError(w, http.StatusBadRequest, "missing or invalid version_id")
			return
		}
		author, _ := body["author"].(string)
		message, _ := body["message"].(string)
		newVersion, err := s.rt.RollbackToVersion(objectID, versionID, author, message)
		if err != nil {
			writeRouteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"version_id": newVersion})

	case "start", "stop":
		result, err := s.router.Route(addr, action, &runtime.Request{Body: body}, true)
		if err != nil {
			if errors.Is(err, runtime.ErrMethodNotSupported) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeRouteError(w, err)
			return
		}
		writeRouted(w, result)

	default:
		writeError(w, http.StatusBadRequest, "unrecognized action")
	}
}

func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request, objectID string) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}
	stored := make([]string, 0, len(r.MultipartForm.File))
	for field, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				writeRouteError(w, err)
				return
			}
			data := make([]byte, fh.Size)
			if _, err := f.Read(data); err != nil && fh.Size > 0 {
				f.Close()
				writeRouteError(w, err)
				return
			}
			f.Close()
			name := fh.Filename
			if name == "" {
				name = field
			}
			if err := s.rt.PutFile(objectID, name, data); err != nil {
				writeRouteError(w, err)
				return
			}
			stored = append(stored, name)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "files_stored": stored})
}

func (s *Server) handleObjectPut(w http.ResponseWriter, r *http.Request, addr string) {
	objectID, station := router.SplitAddress(addr)
	query := parseQuery(r.URL.Query())

	if station != "" && station != s.stationID {
		body, _ := decodeJSONBody(r)
		result, err := s.router.Route(addr, "PUT", &runtime.Request{Query: query, Body: body}, router.IntrospectionQuery(query))
		if err != nil {
			writeRouteError(w, err)
			return
		}
		writeRouted(w, result)
		return
	}

	if query["source"] == "true" {
		body, err := decodeJSONBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed JSON body")
			return
		}
		code, _ := body["code"].(string)
		if code == "" {
			writeError(w, http.StatusBadRequest, "missing required field: code")
			return
		}
		author, _ := body["author"].(string)
		message, _ := body["message"].(string)
		versionID, err := s.rt.UpdateCode(objectID, code, author, message)
		if err != nil {
			writeRouteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"version_id": versionID})
		return
	}

	body, err := decodeJSONBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	result, err := s.router.Route(addr, "PUT", &runtime.Request{Query: query, Body: body}, false)
	if err != nil {
		writeRouteError(w, err)
		return
	}
	writeRouted(w, result)
}

func (s *Server) handleObjectDelete(w http.ResponseWriter, r *http.Request, addr string) {
	query := parseQuery(r.URL.Query())
	body, err := decodeJSONBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	result, err := s.router.Route(addr, "DELETE", &runtime.Request{Query: query, Body: body}, false)
	if err != nil {
		writeRouteError(w, err)
		return
	}
	writeRouted(w, result)
}

// decodeJSONBody tolerates an empty body (common on GET-shaped actions and
// bodyless DELETE calls) as an empty map rather than an error.
func decodeJSONBody(r *http.Request) (map[string]any, error) {
	if r.ContentLength == 0 || r.Body == nil {
		return map[string]any{}, nil
	}
	var body map[string]any
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&body); err != nil {
		if err.Error() == "EOF" {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}
