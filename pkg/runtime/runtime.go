// Package runtime implements the object runtime (§4.1): loading, caching
// and executing objects, injecting their capability set, and driving the
// in-process periodic scheduler (§4.6a).
//
// Handler code is not dynamically loaded: per the design notes, this
// implementation takes strategy (a), a built-in registry. Objects are Go
// types implementing Object, registered at process startup under an
// object_id. update_code and rollback_to_version still version arbitrary
// text content (typically a reference copy of source) through the version
// store — they do not recompile or hot-swap the running Go code. Callers
// that need true behavioral change must ship a new binary.
package runtime

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stationrt/station/pkg/log"
	"github.com/stationrt/station/pkg/metrics"
	"github.com/stationrt/station/pkg/store"
	"github.com/stationrt/station/pkg/types"
)

var (
	ErrObjectNotFound      = errors.New("object not found")
	ErrMethodNotSupported  = errors.New("method not supported by object")
)

// Request is the merged query + body + form + files map passed to every
// handler invocation (§6.4).
type Request struct {
	Query map[string]string
	Body  map[string]any
	Files map[string][]byte
}

// TypedResponse lets a handler return a non-JSON body (§4.9: "a typed body,
// e.g. content_type image/png with raw bytes").
type TypedResponse struct {
	ContentType string
	Body        []byte
}

// Metadata is the handler's static declared attributes (§4.1 get_metadata).
type Metadata struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Methods     []string `json:"methods"`
}

// Object is the minimal interface every built-in handler satisfies.
// Per-method capability (Get/Post/Put/Delete/Start/Stop/self tests) is
// discovered by optional interface assertions below, matching the source
// system's "declares zero or more of" handler contract (§6.4).
type Object interface {
	// SourceText returns the canonical declared source for this object,
	// seeded as version 1 the first time the object is loaded.
	SourceText() string
}

type MetaProvider interface {
	Metadata() Metadata
}

type GetHandler interface {
	Get(ctx *Context, req *Request) (any, error)
}
type PostHandler interface {
	Post(ctx *Context, req *Request) (any, error)
}
type PutHandler interface {
	Put(ctx *Context, req *Request) (any, error)
}
type DeleteHandler interface {
	Delete(ctx *Context, req *Request) (any, error)
}
type StartHandler interface {
	Start(ctx *Context, req *Request) (any, error)
}
type StopHandler interface {
	Stop(ctx *Context, req *Request) (any, error)
}

// MethodHandler lets an object declare methods beyond the fixed
// GET/POST/PUT/DELETE/start/stop set, for names only ever reached via a
// schedule(interval_s, method_name) registration (§4.1, §4.6a) rather than
// over HTTP — e.g. a "tick" method a handler schedules from its own Start.
// InvokeMethod returns ErrMethodNotSupported itself for any name it does
// not recognize.
type MethodHandler interface {
	InvokeMethod(ctx *Context, method string, req *Request) (any, error)
}

// SelfTester exposes test_* methods for the test=true introspection query.
type SelfTester interface {
	SelfTests() map[string]func(ctx *Context) error
}

// ObjectResolver is how sibling calls and the HTTP surface reach an object
// that might live on another station. Set via SetResolver once the router
// is constructed, avoiding an import cycle between pkg/runtime and
// pkg/router.
type ObjectResolver interface {
	ResolveAndExecute(objectID, method string, req *Request) (any, error)
}

// factory registers a constructor for a built-in object id.
type factory func() Object

var builtins = map[string]factory{}

// Register adds a built-in object constructor under objectID. Called from
// init() in pkg/objects.
func Register(objectID string, f func() Object) {
	builtins[objectID] = f
}

// RegisteredObjectIDs lists every built-in object id, sorted.
func RegisteredObjectIDs() []string {
	ids := make([]string, 0, len(builtins))
	for id := range builtins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Runtime is the process-wide object cache and scheduler.
type Runtime struct {
	stationID string
	state     *store.StateStore
	logger    *store.SelfLogger
	files     *store.FileStore
	versions  *store.VersionStore

	mu       sync.RWMutex
	cache    map[string]Object
	resolver ObjectResolver

	schedMu  sync.Mutex
	periodic map[string]map[string]*types.PeriodicSchedule // objectID -> method -> schedule

	stopCh chan struct{}
	log    zerolog.Logger
}

func New(stationID string, state *store.StateStore, logger *store.SelfLogger, files *store.FileStore, versions *store.VersionStore) *Runtime {
	return &Runtime{
		stationID: stationID,
		state:     state,
		logger:    logger,
		files:     files,
		versions:  versions,
		cache:     make(map[string]Object),
		periodic:  make(map[string]map[string]*types.PeriodicSchedule),
		stopCh:    make(chan struct{}),
		log:       log.WithComponent("runtime"),
	}
}

func (r *Runtime) SetResolver(resolver ObjectResolver) {
	r.resolver = resolver
}

// load returns the cached instance for objectID, constructing and seeding
// version 1 on first use. reload forces re-instantiation (used after
// update_code/rollback_to_version) without affecting other cached objects.
func (r *Runtime) load(objectID string, reload bool) (Object, error) {
	r.mu.Lock()
	if !reload {
		if obj, ok := r.cache[objectID]; ok {
			r.mu.Unlock()
			return obj, nil
		}
	}
	f, ok := builtins[objectID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrObjectNotFound
	}
	obj := f()
	r.cache[objectID] = obj
	r.mu.Unlock()

	if _, err := r.versions.GetVersion(objectID, 0); errors.Is(err, store.ErrVersionNotFound) {
		if _, err := r.versions.SaveVersion(objectID, obj.SourceText(), "system", "initial load"); err != nil {
			return nil, fmt.Errorf("seeding initial version: %w", err)
		}
	}
	return obj, nil
}

func (r *Runtime) newContext(objectID string) *Context {
	return &Context{
		ObjectID: objectID,
		Logger:   &objectLogger{store: r.logger, objectID: objectID},
		State:    &objectState{store: r.state, objectID: objectID},
		Files:    &objectFiles{store: r.files, objectID: objectID},
		runtime:  r,
	}
}

// Execute runs method against objectID, emitting an INFO log before
// invocation and a DEBUG (success) or ERROR (failure) log after, per §4.1.
func (r *Runtime) Execute(objectID, method string, req *Request) (any, error) {
	obj, err := r.load(objectID, false)
	if err != nil {
		return nil, err
	}

	ctx := r.newContext(objectID)
	r.logger.Info(objectID, "executing method", map[string]string{"method": method})

	timer := metrics.NewTimer()
	result, err := dispatch(obj, ctx, method, req)
	timer.ObserveDurationVec(metrics.ObjectExecuteDuration, objectID, method)

	if err != nil {
		metrics.ObjectExecuteFailures.WithLabelValues(objectID, method).Inc()
		r.logger.Error(objectID, "method failed", map[string]string{"method": method, "error": err.Error()})
		return nil, err
	}
	r.logger.Debug(objectID, "method succeeded", map[string]string{"method": method})
	return result, nil
}

func dispatch(obj Object, ctx *Context, method string, req *Request) (any, error) {
	switch method {
	case "GET":
		if h, ok := obj.(GetHandler); ok {
			return h.Get(ctx, req)
		}
	case "POST":
		if h, ok := obj.(PostHandler); ok {
			return h.Post(ctx, req)
		}
	case "PUT":
		if h, ok := obj.(PutHandler); ok {
			return h.Put(ctx, req)
		}
	case "DELETE":
		if h, ok := obj.(DeleteHandler); ok {
			return h.Delete(ctx, req)
		}
	case "start":
		if h, ok := obj.(StartHandler); ok {
			return h.Start(ctx, req)
		}
	case "stop":
		if h, ok := obj.(StopHandler); ok {
			return h.Stop(ctx, req)
		}
	default:
		// Not one of the fixed HTTP verbs: typically a method_name an
		// object registered for itself via Context.Schedule, or the
		// method of a persistent task record.
		if h, ok := obj.(MethodHandler); ok {
			return h.InvokeMethod(ctx, method, req)
		}
	}
	return nil, ErrMethodNotSupported
}

// UpdateCode appends a new version, invalidates the handler cache, and
// reloads. Text content only — see the package doc for why this does not
// change the compiled behavior of a built-in object.
func (r *Runtime) UpdateCode(objectID, newSource, author, message string) (int, error) {
	if _, ok := builtins[objectID]; !ok {
		return 0, ErrObjectNotFound
	}
	// Touch the object first so a never-loaded object gets its "initial
	// load" version (v1) seeded before this edit lands as v2, rather than
	// this edit silently becoming v1 and erasing the original source from
	// history.
	if _, err := r.load(objectID, false); err != nil {
		return 0, err
	}
	versionID, err := r.versions.SaveVersion(objectID, newSource, author, message)
	if err != nil {
		return 0, err
	}
	if _, err := r.load(objectID, true); err != nil {
		return 0, err
	}
	r.logger.Warning(objectID, "source updated", map[string]string{"version_id": fmt.Sprint(versionID), "author": author})
	return versionID, nil
}

// RollbackToVersion resolves target's content via the version store, saves
// it as a fresh version, and reloads.
func (r *Runtime) RollbackToVersion(objectID string, target int, author, message string) (int, error) {
	if _, ok := builtins[objectID]; !ok {
		return 0, ErrObjectNotFound
	}
	versionID, err := r.versions.Rollback(objectID, target, author, message)
	if err != nil {
		return 0, err
	}
	if _, err := r.load(objectID, true); err != nil {
		return 0, err
	}
	r.logger.Critical(objectID, "rolled back", map[string]string{"to_version": fmt.Sprint(target), "new_version": fmt.Sprint(versionID)})
	return versionID, nil
}

func (r *Runtime) GetLogs(objectID, level string, limit, offset int, filters map[string]string) ([]types.LogEntry, error) {
	return r.logger.GetLogs(objectID, level, limit, offset, filters)
}

func (r *Runtime) GetState(objectID string) (map[string]string, error) {
	return r.state.GetAll(objectID)
}

// CachedObjectCount reports how many distinct objects currently have a
// live instance in the process cache, for periodic metrics collection.
func (r *Runtime) CachedObjectCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// PutFile, GetFile and ListFiles expose the file primitive directly to the
// HTTP surface (§6.1 files=true/file=NAME, and multipart POST uploads),
// bypassing handler dispatch since file storage is not itself a handler
// method.
func (r *Runtime) PutFile(objectID, filename string, data []byte) error {
	return r.files.Put(objectID, filename, data)
}

func (r *Runtime) GetFile(objectID, filename string) ([]byte, error) {
	return r.files.Get(objectID, filename)
}

func (r *Runtime) ListFiles(objectID string) ([]types.FileMeta, error) {
	return r.files.List(objectID)
}

func (r *Runtime) GetSource(objectID string) (string, error) {
	if _, err := r.load(objectID, false); err != nil {
		return "", err
	}
	v, err := r.versions.GetVersion(objectID, 0)
	if err != nil {
		return "", err
	}
	return v.Content, nil
}

func (r *Runtime) GetVersionHistory(objectID string, limit int) ([]types.VersionMeta, error) {
	if _, err := r.load(objectID, false); err != nil {
		return nil, err
	}
	return r.versions.GetHistory(objectID, limit, 0)
}

func (r *Runtime) GetVersion(objectID string, id int) (types.Version, error) {
	if _, err := r.load(objectID, false); err != nil {
		return types.Version{}, err
	}
	return r.versions.GetVersion(objectID, id)
}

// GetMetadata composes static declared attributes with runtime-observed
// counts (§4.1).
func (r *Runtime) GetMetadata(objectID string) (map[string]any, error) {
	obj, err := r.load(objectID, false)
	if err != nil {
		return nil, err
	}

	meta := Metadata{Name: objectID}
	if mp, ok := obj.(MetaProvider); ok {
		meta = mp.Metadata()
	}

	logs, _ := r.logger.GetLogs(objectID, "", 0, 0, nil)
	history, _ := r.versions.GetHistory(objectID, 0, 0)
	state, _ := r.state.GetAll(objectID)

	return map[string]any{
		"name":          meta.Name,
		"version":       meta.Version,
		"description":   meta.Description,
		"methods":       meta.Methods,
		"log_count":     len(logs),
		"version_count": len(history),
		"state_keys":    len(state),
	}, nil
}

// GetStatus returns the object's active in-process periodic schedules
// (status=true query, §6.1).
func (r *Runtime) GetStatus(objectID string) []types.PeriodicSchedule {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()

	var out []types.PeriodicSchedule
	for _, sched := range r.periodic[objectID] {
		out = append(out, *sched)
	}
	return out
}

// RunSelfTests invokes every test_* function declared by the object.
func (r *Runtime) RunSelfTests(objectID string) (map[string]any, error) {
	obj, err := r.load(objectID, false)
	if err != nil {
		return nil, err
	}
	tester, ok := obj.(SelfTester)
	if !ok {
		return map[string]any{"test_count": 0, "passed": 0, "failed": 0, "skipped": 0, "results": []any{}}, nil
	}

	ctx := r.newContext(objectID)
	tests := tester.SelfTests()
	names := make([]string, 0, len(tests))
	for name := range tests {
		names = append(names, name)
	}
	sort.Strings(names)

	passed, failed := 0, 0
	results := make([]map[string]any, 0, len(names))
	for _, name := range names {
		start := time.Now()
		err := tests[name](ctx)
		elapsedMS := float64(time.Since(start).Microseconds()) / 1000.0
		row := map[string]any{"test": name, "exec_time_ms": elapsedMS}
		if err != nil {
			failed++
			row["status"] = "fail"
			row["error"] = err.Error()
		} else {
			passed++
			row["status"] = "pass"
		}
		results = append(results, row)
	}

	return map[string]any{
		"test_count": len(names),
		"passed":     passed,
		"failed":     failed,
		"skipped":    0,
		"results":    results,
	}, nil
}

// --- in-process periodic scheduler (§4.6a) ---

// schedule registers (or refreshes) a periodic invocation of methodName
// every intervalSeconds, called from within a handler via the injected
// Context.Schedule.
func (r *Runtime) schedule(objectID, methodName string, intervalSeconds float64) {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()

	m, ok := r.periodic[objectID]
	if !ok {
		m = make(map[string]*types.PeriodicSchedule)
		r.periodic[objectID] = m
	}
	m[methodName] = &types.PeriodicSchedule{
		ObjectID:       objectID,
		MethodName:     methodName,
		IntervalSecond: intervalSeconds,
		NextRun:        nowSeconds() + intervalSeconds,
	}
}

// unschedule clears one periodic method registration, or every
// registration owned by objectID when methodName is empty.
func (r *Runtime) unschedule(objectID, methodName string) {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()

	if methodName == "" {
		delete(r.periodic, objectID)
		return
	}
	if m, ok := r.periodic[objectID]; ok {
		delete(m, methodName)
	}
}

// StartScheduler begins the 1Hz periodic sweep. The handler reference is
// read under the cache lock but invoked outside it (§5, §9: the scheduler
// must not invoke handlers while holding the cache mutex).
func (r *Runtime) StartScheduler() {
	go r.schedulerLoop()
}

func (r *Runtime) StopScheduler() {
	close(r.stopCh)
}

func (r *Runtime) schedulerLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Runtime) sweep() {
	metrics.SchedulerCyclesTotal.Inc()
	now := nowSeconds()

	type due struct {
		objectID, method string
	}
	var dueList []due

	r.schedMu.Lock()
	for objectID, methods := range r.periodic {
		for method, sched := range methods {
			if sched.NextRun <= now {
				dueList = append(dueList, due{objectID, method})
				sched.NextRun = now + sched.IntervalSecond
			}
		}
	}
	r.schedMu.Unlock()

	for _, d := range dueList {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error(d.objectID, "scheduled invocation panicked", map[string]string{"method": d.method, "panic": fmt.Sprint(rec)})
				}
			}()
			if _, err := r.Execute(d.objectID, d.method, &Request{}); err != nil {
				r.logger.Error(d.objectID, "scheduled invocation failed", map[string]string{"method": d.method, "error": err.Error()})
			}
		}()
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
