// Package types holds the plain data definitions shared across the station:
// stations, objects and their primitives, and scheduling records.
package types

import "time"

// Station is a cluster member entry as held by the registry (pkg/registry).
type Station struct {
	StationID     string            `json:"station_id"`
	Host          string            `json:"host"`
	Port          int               `json:"port"`
	LastHeartbeat float64           `json:"last_heartbeat"` // unix seconds, sub-second precision
	Metrics       map[string]float64 `json:"metrics,omitempty"`
	Version       string            `json:"version,omitempty"`
}

// StationView is a Station enriched with fields computed at read time.
type StationView struct {
	Station
	IsActive bool   `json:"is_active"`
	URL      string `json:"url"`
}

// Role describes whether a station is the cluster master.
type Role string

const (
	RoleMaster Role = "master"
	RoleWorker Role = "worker"
)

// StateEntry is one row of an object's state.tsv (pkg/store).
type StateEntry struct {
	Key       string
	Value     string
	Timestamp float64
}

// LogEntry is one record in an object's self-log (pkg/store).
type LogEntry struct {
	EntryID   string            `json:"entry_id"`
	Timestamp float64           `json:"timestamp"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// VersionMeta is one row of an object's versions/metadata.tsv, without
// the content body.
type VersionMeta struct {
	VersionID int     `json:"version_id"`
	Timestamp float64 `json:"timestamp"`
	Author    string  `json:"author"`
	Message   string  `json:"message"`
	Hash      string  `json:"hash"`
}

// Version is a VersionMeta plus its content body.
type Version struct {
	VersionMeta
	Content string `json:"content"`
}

// FileMeta describes one blob in an object's file store.
type FileMeta struct {
	Name  string    `json:"name"`
	Size  int64     `json:"size"`
	Mtime time.Time `json:"mtime"`
}

// PeriodicSchedule is an in-process, volatile periodic registration (§4.6a).
type PeriodicSchedule struct {
	ObjectID       string
	MethodName     string
	IntervalSecond float64
	NextRun        float64
}

// TaskType distinguishes the two persistent task record kinds.
type TaskType string

const (
	TaskTypeCron    TaskType = "cron"
	TaskTypeOnetime TaskType = "onetime"
)

// TaskStatus is the lifecycle state of a persistent task record.
type TaskStatus string

const (
	TaskStatusActive    TaskStatus = "active"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// TaskRecord is a durable scheduled task (§4.6b, §3 "Schedule").
type TaskRecord struct {
	TaskID       string         `json:"task_id"`
	ObjectID     string         `json:"object_id"`
	Method       string         `json:"method"`
	ScheduleExpr string         `json:"schedule_expr"`
	Payload      map[string]any `json:"payload,omitempty"`
	Type         TaskType       `json:"type"`
	Status       TaskStatus     `json:"status"`
	CreatedAt    float64        `json:"created_at"`
	LastRun      float64        `json:"last_run"`
	RunCount     int            `json:"run_count"`
	ErrorCount   int            `json:"error_count"`
	MaxAttempts  int            `json:"max_attempts"`
	LastError    string         `json:"last_error,omitempty"`
}
