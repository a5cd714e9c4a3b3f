package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(NewEvent("message.upserted", "payload"))

	select {
	case evt := <-ch:
		if evt.Kind != "message.upserted" {
			t.Errorf("got kind %q, want message.upserted", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("push.", 10)
	defer unsub()

	b.Publish(NewEvent("message.upserted", nil))
	b.Publish(NewEvent("push.message", nil))

	select {
	case evt := <-ch:
		if evt.Kind != "push.message" {
			t.Errorf("got kind %q, want push.message", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected extra event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeReleasesRegistration(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount = %d after unsubscribe, want 0", n)
	}

	b.Publish(NewEvent("session.status_changed", nil))
	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDoesNotBlockOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("push.", 1)
	defer unsub()

	b.Publish(NewEvent("push.one", nil))
	// Buffer is full; this delivery is dropped rather than blocking.
	b.Publish(NewEvent("push.two", nil))

	evt := <-ch
	if evt.Kind != "push.one" {
		t.Errorf("got %q, want push.one", evt.Kind)
	}
}
