package events

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(time.Minute, zerolog.Nop())
	t.Cleanup(h.Close)
	return h
}

func recvEvent(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscriber channel closed unexpectedly")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	h := newTestHub(t)
	sub := h.Subscribe("", nil)

	h.Publish(NewEvent(EntityUpdate("tickets"), "acme", map[string]any{"count": 3}))

	evt := recvEvent(t, sub)
	if evt.Name != "tickets-update" {
		t.Errorf("event name = %q, want %q", evt.Name, "tickets-update")
	}
	if evt.Payload["count"] != 3 {
		t.Errorf("payload count = %v, want 3", evt.Payload["count"])
	}
	if _, ok := evt.Payload["timestamp"]; !ok {
		t.Error("payload missing timestamp")
	}
}

func TestHub_TenantFilter(t *testing.T) {
	h := newTestHub(t)
	acme := h.Subscribe("acme", nil)
	globex := h.Subscribe("globex", nil)
	all := h.Subscribe("", nil)

	h.Publish(NewEvent(EntityUpdate("tickets"), "acme", nil))

	if evt := recvEvent(t, acme); evt.Tenant != "acme" {
		t.Errorf("acme subscriber got tenant %q", evt.Tenant)
	}
	recvEvent(t, all)

	select {
	case evt := <-globex.Events():
		t.Errorf("globex subscriber received %q for another tenant", evt.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UntenantedEventReachesEveryone(t *testing.T) {
	h := newTestHub(t)
	acme := h.Subscribe("acme", nil)

	h.Publish(NewEvent(EventHeartbeat, "", nil))

	if evt := recvEvent(t, acme); evt.Name != EventHeartbeat {
		t.Errorf("event name = %q, want %q", evt.Name, EventHeartbeat)
	}
}

func TestHub_NameFilter(t *testing.T) {
	h := newTestHub(t)
	sub := h.Subscribe("", []string{"tickets-update"})

	h.Publish(NewEvent(EntityUpdate("companies"), "", nil))
	h.Publish(NewEvent(EntityUpdate("tickets"), "", nil))

	evt := recvEvent(t, sub)
	if evt.Name != "tickets-update" {
		t.Errorf("filtered subscriber received %q", evt.Name)
	}

	select {
	case evt := <-sub.Events():
		t.Errorf("unexpected extra event %q", evt.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UpdateSubscription(t *testing.T) {
	h := newTestHub(t)
	sub := h.Subscribe("", []string{"tickets-update"})

	if !h.UpdateSubscription(sub.ID, []string{"companies-update"}) {
		t.Fatal("UpdateSubscription returned false for a known id")
	}

	evt := recvEvent(t, sub)
	if evt.Name != EventSubscriptionUpdated {
		t.Fatalf("first event after update = %q, want %q", evt.Name, EventSubscriptionUpdated)
	}
	if evt.Payload["subscriberId"] != sub.ID {
		t.Errorf("subscriberId payload = %v, want %s", evt.Payload["subscriberId"], sub.ID)
	}

	h.Publish(NewEvent(EntityUpdate("tickets"), "", nil))
	h.Publish(NewEvent(EntityUpdate("companies"), "", nil))

	if evt := recvEvent(t, sub); evt.Name != "companies-update" {
		t.Errorf("post-update event = %q, want companies-update", evt.Name)
	}
}

func TestHub_UpdateSubscription_UnknownID(t *testing.T) {
	h := newTestHub(t)

	if h.UpdateSubscription("no-such-subscriber", nil) {
		t.Error("UpdateSubscription returned true for an unknown id")
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := newTestHub(t)
	sub := h.Subscribe("", nil)

	h.Unsubscribe(sub.ID)
	h.Unsubscribe(sub.ID) // idempotent

	if h.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", h.SubscriberCount())
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("channel should be closed after Unsubscribe")
	}

	// Publishing after removal must not panic or deliver.
	h.Publish(NewEvent(EventHeartbeat, "", nil))
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := newTestHub(t)
	sub := h.Subscribe("", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			h.Publish(NewEvent(EventHeartbeat, "", nil))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// Drain: at most the buffered window survived.
	drained := 0
	for {
		select {
		case <-sub.Events():
			drained++
		default:
			if drained > subscriberBuffer {
				t.Errorf("drained %d events, buffer is %d", drained, subscriberBuffer)
			}
			return
		}
	}
}

func TestHub_TouchDefersReaping(t *testing.T) {
	h := NewHub(30*time.Millisecond, zerolog.Nop())
	t.Cleanup(h.Close)
	sub := h.Subscribe("", nil)

	// Touching during delivery must never deadlock or block fan-out.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				sub.Touch()
			}
		}
	}()
	for i := 0; i < 100; i++ {
		h.Publish(NewEvent(EventHeartbeat, "", nil))
	}
	close(stop)
	wg.Wait()

	// An active subscriber survives the reaper.
	time.Sleep(20 * time.Millisecond)
	sub.Touch()
	h.reap()
	if h.SubscriberCount() != 1 {
		t.Fatal("touched subscriber was reaped")
	}

	// An idle one does not.
	time.Sleep(40 * time.Millisecond)
	h.reap()
	if h.SubscriberCount() != 0 {
		t.Error("idle subscriber survived the reaper")
	}
	// The reaped subscriber's channel drains and closes.
	for range sub.Events() {
	}
}

func TestHub_Close(t *testing.T) {
	h := NewHub(time.Minute, zerolog.Nop())
	sub := h.Subscribe("", nil)

	h.Close()
	h.Close() // idempotent

	if h.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d after Close, want 0", h.SubscriberCount())
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("channel should be closed after hub Close")
	}

	// Subscribing to a closed hub yields an already-closed subscriber.
	late := h.Subscribe("", nil)
	if _, ok := <-late.Events(); ok {
		t.Error("subscriber on a closed hub should have a closed channel")
	}
}
