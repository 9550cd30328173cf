package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRecentWrapsOldestFirst(t *testing.T) {
	t.Parallel()

	h := NewHub(3)
	for i := 1; i <= 5; i++ {
		h.Publish(Event{Type: EventForwarded, RelayMessageID: i})
	}

	recent := h.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, 3, recent[0].RelayMessageID)
	assert.Equal(t, 5, recent[2].RelayMessageID)
	assert.NotEmpty(t, recent[0].ID)
	assert.False(t, recent[0].At.IsZero())
}

func TestHubRecentBeforeWrap(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	h.Publish(Event{Type: EventReplied})

	assert.Len(t, h.Recent(), 1)
}

func TestHubSubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub(10)
	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	h.Publish(Event{Type: EventBroadcastSent, Detail: "1 out of 2"})
	ev := <-ch
	assert.Equal(t, EventBroadcastSent, ev.Type)

	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers())
	_, open := <-ch
	assert.False(t, open)
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	h := NewHub(10)
	_, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer*3; i++ {
		h.Publish(Event{Type: EventForwarded})
	}
}

func TestNilHubDiscards(t *testing.T) {
	t.Parallel()

	var h *Hub
	h.Publish(Event{Type: EventForwarded})
	assert.Nil(t, h.Recent())
}
