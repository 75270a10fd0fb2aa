package events

import (
	"testing"
	"time"

	"github.com/codeofaxel/kiln/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker(10)
	sub := b.Subscribe(1)
	defer b.Unsubscribe(sub)

	b.Publish(&types.Event{Type: types.EventJobSubmitted, Source: "orchestrator"})

	select {
	case ev := <-sub:
		assert.Equal(t, types.EventJobSubmitted, ev.Type)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestPublishDropOldestWithCounter(t *testing.T) {
	b := NewBroker(0)
	sub := b.Subscribe(1)
	defer b.Unsubscribe(sub)

	b.Publish(&types.Event{Type: types.EventJobQueued})
	b.Publish(&types.Event{Type: types.EventJobStarted}) // fills buffer, first one never read
	b.Publish(&types.Event{Type: types.EventJobCompleted})

	require.Equal(t, int64(2), b.Dropped(sub))

	ev := <-sub
	assert.Equal(t, types.EventJobCompleted, ev.Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker(0)
	sub := b.Subscribe(1)
	b.Unsubscribe(sub)

	_, ok := <-sub
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestHistoryBounded(t *testing.T) {
	b := NewBroker(2)

	b.Publish(&types.Event{Type: types.EventJobQueued})
	b.Publish(&types.Event{Type: types.EventJobStarted})
	b.Publish(&types.Event{Type: types.EventJobCompleted})

	hist := b.History()
	require.Len(t, hist, 2)
	assert.Equal(t, types.EventJobStarted, hist[0].Type)
	assert.Equal(t, types.EventJobCompleted, hist[1].Type)
}

func TestSubscriberCount(t *testing.T) {
	b := NewBroker(0)
	assert.Equal(t, 0, b.SubscriberCount())

	s1 := b.Subscribe(1)
	s2 := b.Subscribe(1)
	assert.Equal(t, 2, b.SubscriberCount())

	b.Unsubscribe(s1)
	b.Unsubscribe(s2)
	assert.Equal(t, 0, b.SubscriberCount())
}
