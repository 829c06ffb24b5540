package replication

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolExecutesSubmittedTask(t *testing.T) {
	p := NewPool(2)
	defer p.Stop()

	var calls int32
	done := make(chan struct{})
	p.submit(task{
		kind: KindState,
		send: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			close(done)
			return nil
		},
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not execute")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestPoolRetriesOnFailure(t *testing.T) {
	p := NewPool(1)
	defer p.Stop()

	// The real backoff schedule (1s before the first retry) is left in
	// place, so this test only asserts eventual-retry count within a
	// relaxed window.
	var calls int32
	done := make(chan struct{})
	p.submit(task{
		kind: KindLog,
		send: func(ctx context.Context) error {
			n := atomic.AddInt32(&calls, 1)
			if n < 2 {
				return assertError
			}
			close(done)
			return nil
		},
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not retry to success in time")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

type testError string

func (e testError) Error() string { return string(e) }

var assertError = testError("boom")
