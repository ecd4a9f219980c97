package eventbus

import (
	"testing"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unA := b.Subscribe(2)
	c, unC := b.Subscribe(2)
	defer unA()
	defer unC()

	b.Publish(Event{Type: TaskStarted, Data: "x"})

	for _, ch := range []<-chan Event{a, c} {
		ev := <-ch
		if ev.Type != TaskStarted || ev.Time.IsZero() {
			t.Fatalf("event = %+v", ev)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	if got := (<-ch).Type; got != "a" {
		t.Fatalf("first event = %q", got)
	}
	if Dropped(b) != 1 {
		t.Fatalf("dropped = %d", Dropped(b))
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: "after"})
}
