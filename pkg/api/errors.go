package api

import (
	"errors"
	"net/http"

	"github.com/stationrt/station/pkg/router"
	"github.com/stationrt/station/pkg/runtime"
	"github.com/stationrt/station/pkg/store"
)

// writeRouteError maps the error taxonomy of §7 onto HTTP status codes.
func writeRouteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runtime.ErrObjectNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, runtime.ErrMethodNotSupported):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrVersionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrFileNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, router.ErrStationNotFound):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, router.ErrForwardTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, router.ErrForwardTransport):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeRouted serializes a router.Result, merging in the forwarding
// metadata fields clients key off of (§4.8).
func writeRouted(w http.ResponseWriter, result router.Result) {
	if tr, ok := result.Body.(runtime.TypedResponse); ok {
		w.Header().Set("Content-Type", tr.ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(tr.Body)
		return
	}

	body, _ := result.Body.(map[string]any)
	out := make(map[string]any, len(body)+4)
	for k, v := range body {
		out[k] = v
	}
	if body == nil && result.Body != nil {
		out["result"] = result.Body
	}
	if result.RoutedTo != "" {
		out["_routed_to"] = result.RoutedTo
		out["_routed_from"] = result.RoutedFrom
	}
	if result.LoadBalanced {
		out["_load_balanced"] = true
		out["_original_station"] = result.OriginalStation
	}
	writeJSON(w, http.StatusOK, out)
}
