// Package replication implements the bounded worker pool described in
// §4.10: one process-wide pool to which the state store, logger and file
// store submit fire-and-forget replication tasks, each retried up to
// max_attempts with exponential backoff.
package replication

import (
	"context"
	"time"

	"github.com/stationrt/station/pkg/log"
	"github.com/stationrt/station/pkg/metrics"
)

// DefaultConcurrency is the default pool size (§4.10).
const DefaultConcurrency = 20

const maxAttempts = 3

var backoffs = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Kind distinguishes the three replication payload shapes, which carry
// different per-attempt timeouts (§4.10: 2s for state/log, 5s for files).
type Kind string

const (
	KindState Kind = "state"
	KindLog   Kind = "log"
	KindFile  Kind = "file"
)

func (k Kind) timeout() time.Duration {
	if k == KindFile {
		return 5 * time.Second
	}
	return 2 * time.Second
}

// task carries everything one replication attempt needs. send performs the
// actual HTTP call against a fresh context per attempt.
type task struct {
	kind Kind
	send func(ctx context.Context) error
}

// Pool is a bounded, process-wide worker pool for fire-and-forget
// replication calls.
type Pool struct {
	tasks  chan task
	stopCh chan struct{}
}

// NewPool starts concurrency worker goroutines draining a shared task
// queue. Tasks carry no identity beyond their parameters and are safe to
// drop on process exit — the queue itself is unbuffered-adjacent (a
// generous buffer) so a momentary burst does not block callers.
func NewPool(concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	p := &Pool{
		tasks:  make(chan task, 4096),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < concurrency; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) Stop() {
	close(p.stopCh)
}

func (p *Pool) worker() {
	for {
		select {
		case t := <-p.tasks:
			p.execute(t)
		case <-p.stopCh:
			return
		}
	}
}

// submit enqueues a task, dropping it (with a warning log) if the pool is
// saturated — failure after all attempts is already tolerated by §4.10, so
// a dropped submission is not a correctness issue, only a slower
// convergence.
func (p *Pool) submit(t task) {
	metrics.ReplicationTasksSubmitted.WithLabelValues(string(t.kind)).Inc()
	select {
	case p.tasks <- t:
	default:
		log.Logger.Warn().Str("kind", string(t.kind)).Msg("replication pool saturated, dropping task")
	}
}

func (p *Pool) execute(t task) {
	timer := metrics.NewTimer()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), t.kind.timeout())
		err := t.send(ctx)
		cancel()
		if err == nil {
			timer.ObserveDurationVec(metrics.ReplicationDuration, string(t.kind))
			return
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(backoffs[attempt-1])
		}
	}
	metrics.ReplicationTasksFailed.WithLabelValues(string(t.kind)).Inc()
	log.Logger.Warn().Err(lastErr).Str("kind", string(t.kind)).Msg("replication task exhausted all attempts")
}
