// Package events fans controller events out to SSE subscribers.
package events

import (
	"sync"

	"github.com/micro-nova/mspi-tuning/internal/models"
)

const subBufferSize = 8

// Bus delivers events to SSE subscribers. A subscriber whose buffer is full
// misses the event; Publish runs on the speed-switch path and never waits.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]chan models.Event
	dropped int
}

func NewBus() *Bus {
	return &Bus{subs: map[string]chan models.Event{}}
}

// Subscribe registers id and returns its event channel. The channel is closed
// by Unsubscribe.
func (b *Bus) Subscribe(id string) <-chan models.Event {
	ch := make(chan models.Event, subBufferSize)
	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe is a no-op for unknown IDs.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
}

// Publish sends ev to all subscribers.
func (b *Bus) Publish(ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
		}
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
