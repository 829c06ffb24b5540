// Package events provides an internal, channel-based publish/subscribe
// broker. It is infrastructure the out-of-scope dashboard would consume —
// not the dashboard itself — and records lifecycle transitions for
// operational visibility (see the /cluster/events polling endpoint in
// pkg/api). pkg/api publishes TypeStationJoined on station registration;
// the other Type constants are declared but not published anywhere.
package events

import (
	"sync"
	"time"
)

// Type identifies the kind of event published.
type Type string

const (
	TypeStationJoined  Type = "station.joined"
	TypeStationDown    Type = "station.down"
	TypeObjectExecuted Type = "object.executed"
	TypeObjectFailed   Type = "object.failed"
)

// Event is one occurrence on the broker.
type Event struct {
	ID        string
	Type      Type
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker manages event subscriptions and distribution.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}

	bufMu  sync.Mutex
	buffer []*Event // most recent events, for /cluster/events polling
}

const recentBufferSize = 200

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers and records it in the
// recent-events buffer.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.bufMu.Lock()
	b.buffer = append(b.buffer, event)
	if len(b.buffer) > recentBufferSize {
		b.buffer = b.buffer[len(b.buffer)-recentBufferSize:]
	}
	b.bufMu.Unlock()

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Recent returns up to limit of the most recently published events, newest
// last. limit <= 0 returns everything buffered.
func (b *Broker) Recent(limit int) []*Event {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()

	if limit <= 0 || limit >= len(b.buffer) {
		out := make([]*Event, len(b.buffer))
		copy(out, b.buffer)
		return out
	}
	out := make([]*Event, limit)
	copy(out, b.buffer[len(b.buffer)-limit:])
	return out
}
