// Package events fans out history-surface events to live subscribers.
//
// The coordinator publishes exactly one event per terminal state
// transition. Delivery is best effort: a subscriber that does not keep up
// loses events rather than stalling executions. Durable history lives in
// the storage package.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/debug"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Publisher accepts events.
type Publisher interface {
	Publish(ev api.Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(api.Event) {}

type subscriber struct {
	tenant  string
	session string // empty subscribes to every session of tenant
	ch      chan api.Event
	dropped atomic.Int64
}

// Broker is an in-process Publisher with per-session subscriptions.
type Broker struct {
	buffer int

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewBroker returns a Broker whose subscribers buffer up to buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{buffer: buffer, subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a channel receiving events of tenant's sessionID, or of
// every session of tenant when sessionID is empty. Events of other tenants
// are never delivered. The cancel function unsubscribes and closes the
// channel; it is safe to call more than once.
func (b *Broker) Subscribe(tenant, sessionID string) (<-chan api.Event, func()) {
	s := &subscriber{tenant: tenant, session: sessionID, ch: make(chan api.Event, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				close(s.ch)
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every matching subscriber without blocking.
func (b *Broker) Publish(ev api.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.tenant != ev.Tenant || (s.session != "" && s.session != ev.SessionID) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			// Drop if subscriber is not consuming fast enough.
			n := s.dropped.Add(1)
			debug.Log("events", "subscriber lagging, event dropped", "session", ev.SessionID, "type", ev.Type, "dropped", n)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Later Publish calls are no-ops and later
// subscriptions receive a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}

// Recorder is a Publisher that keeps every event, for tests.
type Recorder struct {
	mu     sync.Mutex
	events []api.Event
}

func (r *Recorder) Publish(ev api.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []api.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.Event(nil), r.events...)
}

// Fanout publishes to several publishers in order.
type Fanout []Publisher

func (f Fanout) Publish(ev api.Event) {
	for _, p := range f {
		p.Publish(ev)
	}
}
