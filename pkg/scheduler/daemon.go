package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/stationrt/station/pkg/log"
	"github.com/stationrt/station/pkg/metrics"
	"github.com/stationrt/station/pkg/runtime"
	"github.com/stationrt/station/pkg/types"
)

// DefaultPollInterval is how often the daemon scans for due task records
// (§4.6b).
const DefaultPollInterval = 10 * time.Second

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Daemon polls Store for active task records whose schedule has come due
// and invokes them through the runtime.
type Daemon struct {
	store    *Store
	rt       *runtime.Runtime
	interval time.Duration
	stopCh   chan struct{}
	log      zerolog.Logger
}

func NewDaemon(store *Store, rt *runtime.Runtime, interval time.Duration) *Daemon {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Daemon{
		store:    store,
		rt:       rt,
		interval: interval,
		stopCh:   make(chan struct{}),
		log:      log.WithComponent("scheduler"),
	}
}

func (d *Daemon) Start() {
	go d.run()
}

func (d *Daemon) Stop() {
	close(d.stopCh)
}

func (d *Daemon) run() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.poll()
		case <-d.stopCh:
			return
		}
	}
}

func (d *Daemon) poll() {
	records, err := d.store.List()
	if err != nil {
		d.log.Error().Err(err).Msg("failed to list task records")
		return
	}
	now := time.Now()
	for _, rec := range records {
		if rec.Status != types.TaskStatusActive {
			continue
		}
		if !due(rec, now) {
			continue
		}
		d.execute(rec, now)
	}
}

// due reports whether rec should fire at now: a cron record fires when a
// matched occurrence falls after its last run (or after creation, before
// its first run) and not after now, and several missed occurrences give a
// single run; a one-shot record fires once its instant has passed.
func due(rec types.TaskRecord, now time.Time) bool {
	switch rec.Type {
	case types.TaskTypeCron:
		sched, err := cronParser.Parse(rec.ScheduleExpr)
		if err != nil {
			return false
		}
		reference := rec.CreatedAt
		if rec.LastRun > 0 {
			reference = rec.LastRun
		}
		from := time.Unix(0, int64(reference*1e9))
		return !sched.Next(from).After(now)
	case types.TaskTypeOnetime:
		if rec.RunCount > 0 {
			return false
		}
		at, err := time.Parse(time.RFC3339, rec.ScheduleExpr)
		if err != nil {
			return false
		}
		return !at.After(now)
	default:
		return false
	}
}

func (d *Daemon) execute(rec types.TaskRecord, now time.Time) {
	req := &runtime.Request{Body: rec.Payload}
	_, err := d.rt.Execute(rec.ObjectID, rec.Method, req)

	rec.LastRun = float64(now.UnixNano()) / 1e9
	rec.RunCount++
	if err != nil {
		rec.ErrorCount++
		rec.LastError = err.Error()
		metrics.TaskRecordExecutionsTotal.WithLabelValues("error").Inc()
		d.log.Error().Err(err).Str("task_id", rec.TaskID).Str("object_id", rec.ObjectID).Msg("task execution failed")
		if rec.ErrorCount >= rec.MaxAttempts {
			rec.Status = types.TaskStatusFailed
		}
	} else {
		metrics.TaskRecordExecutionsTotal.WithLabelValues("ok").Inc()
		rec.LastError = ""
		if rec.Type == types.TaskTypeOnetime {
			rec.Status = types.TaskStatusCompleted
		}
	}

	if err := d.store.Update(rec); err != nil {
		d.log.Error().Err(err).Str("task_id", rec.TaskID).Msg("failed to persist task record after execution")
	}
}

// ValidateScheduleExpr exposes validation for the HTTP surface (§6.2) to
// reject a malformed schedule_expr at task-creation time.
func ValidateScheduleExpr(taskType types.TaskType, expr string) error {
	switch taskType {
	case types.TaskTypeCron:
		_, err := cronParser.Parse(expr)
		return err
	case types.TaskTypeOnetime:
		_, err := time.Parse(time.RFC3339, expr)
		return err
	default:
		return fmt.Errorf("unknown task type %q", taskType)
	}
}
