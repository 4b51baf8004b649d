package events

import (
	"testing"
	"time"

	"github.com/rhuss/antwort-sandbox/pkg/api"
)

func event(session, exec string) api.Event {
	return api.Event{Type: api.EventExecutionCompleted, SessionID: session, ExecutionID: exec, Status: api.StatusSuccess, Timestamp: time.Now()}
}

func receive(t *testing.T, ch <-chan api.Event) api.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return api.Event{}
}

func TestBrokerSessionFiltering(t *testing.T) {
	b := NewBroker(0)
	a, cancelA := b.Subscribe("", "sess_a")
	defer cancelA()
	all, cancelAll := b.Subscribe("", "")
	defer cancelAll()

	b.Publish(event("sess_b", "e1"))
	b.Publish(event("sess_a", "e2"))

	if ev := receive(t, a); ev.ExecutionID != "e2" {
		t.Errorf("sess_a subscriber got %s", ev.ExecutionID)
	}
	if ev := receive(t, all); ev.ExecutionID != "e1" {
		t.Errorf("wildcard got %s first", ev.ExecutionID)
	}
	if ev := receive(t, all); ev.ExecutionID != "e2" {
		t.Errorf("wildcard got %s second", ev.ExecutionID)
	}
	select {
	case ev := <-a:
		t.Errorf("unexpected extra event %+v", ev)
	default:
	}
}

func TestBrokerTenantIsolation(t *testing.T) {
	b := NewBroker(0)
	acme, cancel := b.Subscribe("acme", "s1")
	defer cancel()
	acmeAll, cancelAll := b.Subscribe("acme", "")
	defer cancelAll()

	other := event("s1", "foreign")
	other.Tenant = "globex"
	b.Publish(other)
	b.Publish(event("s1", "untenanted"))
	own := event("s1", "mine")
	own.Tenant = "acme"
	b.Publish(own)

	if ev := receive(t, acme); ev.ExecutionID != "mine" {
		t.Errorf("acme session subscriber got %s", ev.ExecutionID)
	}
	if ev := receive(t, acmeAll); ev.ExecutionID != "mine" {
		t.Errorf("acme wildcard subscriber got %s", ev.ExecutionID)
	}
	if len(acme) != 0 || len(acmeAll) != 0 {
		t.Error("events of other tenants leaked")
	}
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker(2)
	ch, cancel := b.Subscribe("", "s")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := range 10 {
			b.Publish(event("s", string(rune('a'+i))))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(ch) != 2 {
		t.Errorf("buffered %d events, want 2", len(ch))
	}
}

func TestBrokerCancel(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe("", "s")
	if b.Subscribers() != 1 {
		t.Fatalf("Subscribers = %d", b.Subscribers())
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel not closed after cancel")
	}
	if b.Subscribers() != 0 {
		t.Errorf("Subscribers = %d after cancel", b.Subscribers())
	}
	b.Publish(event("s", "e")) // must not panic on the closed channel
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe("", "")
	b.Close()
	if _, ok := <-ch; ok {
		t.Error("subscription survived Close")
	}
	cancel()

	late, _ := b.Subscribe("", "")
	if _, ok := <-late; ok {
		t.Error("subscription after Close is open")
	}
	b.Publish(event("s", "e"))
}

func TestFanoutAndRecorder(t *testing.T) {
	var r1, r2 Recorder
	Fanout{&r1, &r2}.Publish(event("s", "e1"))
	if len(r1.Events()) != 1 || len(r2.Events()) != 1 {
		t.Errorf("fanout delivered %d/%d", len(r1.Events()), len(r2.Events()))
	}
}
