package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeActivity, Data: "x"})
	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypeActivity || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatalf("event not delivered")
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"}) // buffer full; dropped

	if e := <-ch; e.Type != "one" {
		t.Fatalf("got %s, want one", e.Type)
	}
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}
	b.Publish(Event{Type: "after"})
}
