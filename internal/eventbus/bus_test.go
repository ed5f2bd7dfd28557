package eventbus

import (
	"testing"
	"time"
)

func recvOrFail(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishFanout(t *testing.T) {
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: "x", Data: 42})

	for _, ch := range []<-chan Event{ch1, ch2} {
		e := recvOrFail(t, ch)
		if e.Type != "x" || e.Data != 42 {
			t.Errorf("event = %+v", e)
		}
		if e.Time.IsZero() {
			t.Error("publish must stamp the time")
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "first"})
	b.Publish(Event{Type: "second"}) // buffer full, dropped

	if e := recvOrFail(t, ch); e.Type != "first" {
		t.Errorf("type = %q", e.Type)
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected extra event %+v", e)
	default:
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	unsub()
	unsub() // idempotent

	// Must not panic on the closed channel.
	b.Publish(Event{Type: "after"})

	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
}
