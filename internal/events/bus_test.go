package events_test

import (
	"testing"
	"time"

	"github.com/micro-nova/mspi-tuning/internal/events"
	"github.com/micro-nova/mspi-tuning/internal/models"
)

func recv(t *testing.T, ch <-chan models.Event) (models.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		return ev, ok
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no event within 100ms")
	}
	return models.Event{}, false
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	bus := events.NewBus()
	a := bus.Subscribe("a")
	b := bus.Subscribe("b")

	bus.Publish(models.Event{Type: models.EventTuned, Status: models.Status{Mode: models.ModeHigh}})

	for name, ch := range map[string]<-chan models.Event{"a": a, "b": b} {
		ev, ok := recv(t, ch)
		if !ok || ev.Type != models.EventTuned || ev.Status.Mode != models.ModeHigh {
			t.Errorf("%s: got %+v (open=%v), want tuned event at high speed", name, ev, ok)
		}
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("gone")

	bus.Unsubscribe("gone")
	bus.Unsubscribe("gone")
	bus.Publish(models.Event{Type: models.EventMode})

	if _, ok := recv(t, ch); ok {
		t.Error("channel still open after Unsubscribe")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := events.NewBus()
	bus.Subscribe("stalled")

	const sent = 20
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < sent; i++ {
			bus.Publish(models.Event{Type: models.EventMode})
		}
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Publish waited on a stalled subscriber")
	}
	// The first eight fill the subscriber buffer.
	if got, want := bus.Dropped(), sent-8; got != want {
		t.Errorf("Dropped() = %d, want %d", got, want)
	}
}

func TestSubscriberCount(t *testing.T) {
	bus := events.NewBus()
	steps := []struct {
		op   func()
		want int
	}{
		{func() {}, 0},
		{func() { bus.Subscribe("x") }, 1},
		{func() { bus.Subscribe("y") }, 2},
		{func() { bus.Unsubscribe("x") }, 1},
		{func() { bus.Unsubscribe("missing") }, 1},
	}
	for i, s := range steps {
		s.op()
		if got := bus.SubscriberCount(); got != s.want {
			t.Errorf("step %d: SubscriberCount() = %d, want %d", i, got, s.want)
		}
	}
}
