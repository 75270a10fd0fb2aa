// Package events implements Kiln's Event Bus: typed pub/sub fan-out with
// a bounded replay history. Delivery runs on the publisher's goroutine
// and never blocks it: each subscriber channel is offered the event
// without waiting. A subscriber whose buffer is full has its oldest
// queued event dropped to make room, and every drop is counted (see
// Dropped) rather than silent, so a slow subscriber loses its oldest
// events instead of throttling publishing.
package events

import (
	"sync"
	"time"

	"github.com/codeofaxel/kiln/pkg/types"
)

// Subscriber is a channel that receives events.
type Subscriber chan *types.Event

// Broker fans out published events to all subscribers and retains a
// bounded history for late joiners / diagnostics.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]*subscriberStats
	history     []*types.Event
	historyCap  int
}

type subscriberStats struct {
	dropped int64
}

// NewBroker creates a new event broker with the given history capacity.
// A historyCap of 0 disables history retention.
func NewBroker(historyCap int) *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]*subscriberStats),
		historyCap:  historyCap,
	}
}

// Subscribe creates a new subscription with a buffered channel of the
// given capacity. A capacity of 0 gives an unbuffered channel: an event
// reaches it only if the subscriber is already waiting in a receive when
// Publish runs; otherwise the event is dropped and counted.
func (b *Broker) Subscribe(bufferSize int) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, bufferSize)
	b.subscribers[sub] = &subscriberStats{}
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Dropped returns how many events were dropped for a subscriber due to a
// full buffer, under drop-oldest semantics.
func (b *Broker) Dropped(sub Subscriber) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if stats, ok := b.subscribers[sub]; ok {
		return stats.dropped
	}
	return 0
}

// Publish offers event to every current subscriber without blocking, on
// the caller's goroutine, then appends it to the bounded history.
// Subscribers with a full buffer have their oldest queued event dropped
// to make room — the drop is counted, never silent.
func (b *Broker) Publish(event *types.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for sub, stats := range b.subscribers {
		select {
		case sub <- event:
		default:
			select {
			case <-sub:
				stats.dropped++
			default:
			}
			select {
			case sub <- event:
			default:
				stats.dropped++
			}
		}
	}

	if b.historyCap > 0 {
		b.history = append(b.history, event)
		if len(b.history) > b.historyCap {
			b.history = b.history[len(b.history)-b.historyCap:]
		}
	}
}

// History returns a copy of the retained recent events, oldest first.
func (b *Broker) History() []*types.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*types.Event, len(b.history))
	copy(out, b.history)
	return out
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
