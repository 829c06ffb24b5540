package runtime

import (
	"github.com/stationrt/station/pkg/store"
	"github.com/stationrt/station/pkg/types"
)

// Context is the capability set injected into every handler invocation
// (§4.1): a logger, state, files, and the ability to call sibling objects or
// (un)register a periodic schedule, all pre-bound to the calling object_id.
type Context struct {
	ObjectID string
	Logger   *objectLogger
	State    *objectState
	Files    *objectFiles

	runtime *Runtime
}

// Call invokes method on another object. When a resolver has been set
// (pkg/router, wired in by cmd/station), the call is routed exactly like an
// external HTTP request — local when the target lives on this station,
// forwarded otherwise. Without a resolver it is always local.
func (c *Context) Call(objectID, method string, req *Request) (any, error) {
	if c.runtime.resolver != nil {
		return c.runtime.resolver.ResolveAndExecute(objectID, method, req)
	}
	return c.runtime.Execute(objectID, method, req)
}

// Schedule registers (or refreshes) a periodic invocation of methodName on
// the calling object, every intervalSeconds (§4.6a).
func (c *Context) Schedule(methodName string, intervalSeconds float64) {
	c.runtime.schedule(c.ObjectID, methodName, intervalSeconds)
}

// Unschedule clears the calling object's periodic registration for
// methodName, or all of them when methodName is empty.
func (c *Context) Unschedule(methodName string) {
	c.runtime.unschedule(c.ObjectID, methodName)
}

// objectLogger is store.SelfLogger pre-bound to one object_id.
type objectLogger struct {
	store    *store.SelfLogger
	objectID string
}

func (l *objectLogger) Debug(message string, fields map[string]string) {
	l.store.Debug(l.objectID, message, fields)
}
func (l *objectLogger) Info(message string, fields map[string]string) {
	l.store.Info(l.objectID, message, fields)
}
func (l *objectLogger) Warning(message string, fields map[string]string) {
	l.store.Warning(l.objectID, message, fields)
}
func (l *objectLogger) Error(message string, fields map[string]string) {
	l.store.Error(l.objectID, message, fields)
}
func (l *objectLogger) Critical(message string, fields map[string]string) {
	l.store.Critical(l.objectID, message, fields)
}

// objectState is store.StateStore pre-bound to one object_id.
type objectState struct {
	store    *store.StateStore
	objectID string
}

func (s *objectState) Get(key, def string) (string, error) {
	return s.store.Get(s.objectID, key, def)
}
func (s *objectState) GetAll() (map[string]string, error) {
	return s.store.GetAll(s.objectID)
}
func (s *objectState) Set(key, value string) error {
	return s.store.Set(s.objectID, key, value)
}
func (s *objectState) Delete(key string) error {
	return s.store.Delete(s.objectID, key)
}

// objectFiles is store.FileStore pre-bound to one object_id.
type objectFiles struct {
	store    *store.FileStore
	objectID string
}

func (f *objectFiles) Put(filename string, data []byte) error {
	return f.store.Put(f.objectID, filename, data)
}
func (f *objectFiles) Get(filename string) ([]byte, error) {
	return f.store.Get(f.objectID, filename)
}
func (f *objectFiles) Delete(filename string) error {
	return f.store.Delete(f.objectID, filename)
}
func (f *objectFiles) Exists(filename string) bool {
	return f.store.Exists(f.objectID, filename)
}
func (f *objectFiles) List() ([]types.FileMeta, error) {
	return f.store.List(f.objectID)
}
