// Package router implements address resolution and forwarding (§4.8):
// deciding whether an incoming request executes on this station or is
// forwarded to a peer, and reconstructing the forwarded HTTP call.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stationrt/station/pkg/log"
	"github.com/stationrt/station/pkg/metrics"
	"github.com/stationrt/station/pkg/registry"
	"github.com/stationrt/station/pkg/runtime"
	"github.com/stationrt/station/pkg/types"
)

// DefaultForwardTimeout bounds a single forwarded call (§4.8.1).
const DefaultForwardTimeout = 30 * time.Second

// loadBalanceMargin and loadBalanceHighWater gate load-based routing
// (§4.8): route away only when clearly better off, or when clearly
// overloaded locally.
const (
	loadBalanceMargin    = 20.0
	loadBalanceHighWater = 70.0
)

var (
	ErrStationNotFound = errors.New("station not found or not live")
	ErrForwardTimeout  = errors.New("forward timed out")
	ErrForwardTransport = errors.New("forward transport error")
)

// Router resolves object_id[@station_id] addresses and either executes
// locally or forwards to the chosen peer.
type Router struct {
	rt         *runtime.Runtime
	registry   *registry.Registry
	stationID  string
	httpClient *http.Client
	log        zerolog.Logger
}

func New(rt *runtime.Runtime, reg *registry.Registry, stationID string) *Router {
	r := &Router{
		rt:         rt,
		registry:   reg,
		stationID:  stationID,
		httpClient: &http.Client{Timeout: DefaultForwardTimeout},
		log:        log.WithComponent("router"),
	}
	rt.SetResolver(r)
	return r
}

// SplitAddress splits "object_id@station_id" into its parts. station is
// empty when the caller did not specify one.
func SplitAddress(address string) (objectID, station string) {
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return address[:i], address[i+1:]
	}
	return address, ""
}

// Result augments a response with the routing metadata the source system's
// clients expect to see (§4.8).
type Result struct {
	Body         any
	RoutedTo     string
	RoutedFrom   string
	LoadBalanced bool
	OriginalStation string
}

// Route resolves address and method, executing locally, forwarding
// explicitly, or load-balancing across live peers. introspection must be
// true whenever the caller's query carries any of source, metadata, logs,
// versions, test, state or status — those never load-balance (§4.8 item 2).
func (r *Router) Route(address, method string, req *runtime.Request, introspection bool) (Result, error) {
	objectID, station := SplitAddress(address)

	if station != "" {
		if station == r.stationID {
			body, err := r.rt.Execute(objectID, method, req)
			return Result{Body: body}, err
		}
		return r.forwardExplicit(station, objectID, method, req)
	}

	if !introspection {
		if target, ok := r.pickByLoad(); ok {
			return r.forwardLoadBalanced(target, objectID, method, req)
		}
	}

	body, err := r.rt.Execute(objectID, method, req)
	return Result{Body: body}, err
}

// ResolveAndExecute implements runtime.ObjectResolver for sibling calls
// issued from inside a handler. Sibling calls are always treated as
// executions (never introspection).
func (r *Router) ResolveAndExecute(objectID, method string, req *runtime.Request) (any, error) {
	result, err := r.Route(objectID, method, req, false)
	return result.Body, err
}

// pickByLoad implements §4.8 step 2: minimum-score live peer, routed to
// only when it clears the margin over the local score or the local score
// alone is high enough to warrant moving work off this station.
func (r *Router) pickByLoad() (string, bool) {
	views := r.registry.Views()

	localScore := 50.0
	for _, v := range views {
		if v.StationID == r.stationID {
			localScore = registry.LoadScore(v.Station)
			break
		}
	}

	var best string
	bestScore := 0.0
	found := false
	for _, v := range views {
		if !v.IsActive || v.StationID == r.stationID {
			continue
		}
		score := registry.LoadScore(v.Station)
		if !found || score < bestScore {
			found = true
			best = v.StationID
			bestScore = score
		}
	}

	if !found {
		return "", false
	}
	if localScore-bestScore > loadBalanceMargin || localScore > loadBalanceHighWater {
		return best, true
	}
	return "", false
}

// forwardExplicit implements §4.8 step 1b: the target must exist and be
// live, or the caller gets back an address-resolution error rather than a
// silent local execution.
func (r *Router) forwardExplicit(targetStation, objectID, method string, req *runtime.Request) (Result, error) {
	view, ok := r.lookupLive(targetStation)
	if !ok {
		return Result{}, ErrStationNotFound
	}

	metrics.RouteForwardedTotal.WithLabelValues("explicit").Inc()
	body, err := r.callRemote(view.URL, objectID, method, req)
	if err != nil {
		metrics.RouteForwardFailures.Inc()
		return Result{}, err
	}
	return Result{
		Body:       body,
		RoutedTo:   targetStation,
		RoutedFrom: r.stationID,
	}, nil
}

// forwardLoadBalanced implements §4.8 step 2e: a forward failure for any
// reason falls back to local execution, since load-balancing must never
// drop a request.
func (r *Router) forwardLoadBalanced(targetStation, objectID, method string, req *runtime.Request) (Result, error) {
	metrics.RouteForwardedTotal.WithLabelValues("load_balanced").Inc()

	view, ok := r.lookupLive(targetStation)
	if !ok {
		metrics.RouteForwardFailures.Inc()
		body, err := r.rt.Execute(objectID, method, req)
		return Result{Body: body, OriginalStation: targetStation}, err
	}

	body, err := r.callRemote(view.URL, objectID, method, req)
	if err != nil {
		r.log.Warn().Err(err).Str("target", targetStation).Msg("load-balanced forward failed, executing locally")
		metrics.RouteForwardFailures.Inc()
		localBody, localErr := r.rt.Execute(objectID, method, req)
		return Result{Body: localBody, OriginalStation: targetStation}, localErr
	}

	return Result{
		Body:            body,
		RoutedTo:        targetStation,
		RoutedFrom:      r.stationID,
		LoadBalanced:    true,
		OriginalStation: r.stationID,
	}, nil
}

func (r *Router) lookupLive(stationID string) (types.StationView, bool) {
	for _, v := range r.registry.Views() {
		if v.StationID == stationID {
			if !v.IsActive {
				return types.StationView{}, false
			}
			return v, true
		}
	}
	return types.StationView{}, false
}

// callRemote reconstructs method against targetURL/objects/objectID,
// carrying the original query string and, for non-GET, the original body
// as JSON (§4.8.1). It does not set any "@station" suffix on the forwarded
// address, so the receiver always treats it as local, preventing transitive
// re-routing loops.
func (r *Router) callRemote(targetURL, objectID, method string, req *runtime.Request) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultForwardTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/objects/%s", targetURL, objectID)
	var httpReq *http.Request
	var err error

	switch method {
	case "GET", "DELETE", "start", "stop":
		httpReq, err = http.NewRequestWithContext(ctx, mapMethod(method), endpoint, nil)
	default:
		payload, marshalErr := json.Marshal(req.Body)
		if marshalErr != nil {
			return nil, marshalErr
		}
		httpReq, err = http.NewRequestWithContext(ctx, mapMethod(method), endpoint, bytes.NewReader(payload))
		if httpReq != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}

	if len(req.Query) > 0 {
		q := url.Values{}
		for k, v := range req.Query {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
			return nil, ErrForwardTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrForwardTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: forwarded call returned status %d", ErrForwardTransport, resp.StatusCode)
	}

	var decoded any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, err
		}
	}
	return decoded, nil
}

func mapMethod(method string) string {
	switch method {
	case "start", "stop":
		return http.MethodPost
	default:
		return method
	}
}

// IntrospectionQuery reports whether query contains any of the parameter
// names that opt an object request out of load-based routing (§4.8 item 2).
func IntrospectionQuery(query map[string]string) bool {
	for _, key := range []string{"source", "metadata", "logs", "versions", "test", "state", "status", "version", "files", "file"} {
		if _, ok := query[key]; ok {
			return true
		}
	}
	return false
}
