package events

import (
	"testing"
	"time"

	"github.com/smallbiznis/chainstream/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishBeforeSubscribeIsReplayed(t *testing.T) {
	hub := NewHub(clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))

	hub.Publish(TopicTreasury, TypeLiabilitiesAccrued, map[string]float64{"total": 1})
	hub.Publish(TopicTreasury, TypeAgentState, "monitoring")

	sub, backlog, err := hub.Subscribe(TopicTreasury)
	require.NoError(t, err)
	defer sub.Close()

	require.Len(t, backlog, 2)
	assert.Equal(t, TypeLiabilitiesAccrued, backlog[0].Type)
	assert.Equal(t, TypeAgentState, backlog[1].Type)
	assert.NotEqual(t, backlog[0].ID, backlog[1].ID)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), backlog[0].At)
}

func TestSubscriberReceivesLiveEvents(t *testing.T) {
	hub := NewHub(nil)
	sub, backlog, err := hub.Subscribe(TopicTreasury)
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, backlog)

	hub.Publish(TopicTreasury, TypePaymentSettled, nil)

	select {
	case event := <-sub.Events():
		assert.Equal(t, TypePaymentSettled, event.Type)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestBacklogIsBounded(t *testing.T) {
	hub := NewHub(nil)
	for i := 0; i < DefaultBufferSize+10; i++ {
		hub.Publish(TopicTreasury, TypeLiabilitiesAccrued, i)
	}

	sub, backlog, err := hub.Subscribe(TopicTreasury)
	require.NoError(t, err)
	defer sub.Close()

	require.Len(t, backlog, DefaultBufferSize)
	assert.Equal(t, 10, backlog[0].Data)
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	hub := NewHub(nil)
	sub, _, err := hub.Subscribe(TopicTreasury)
	require.NoError(t, err)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < DefaultSubscriberBuffer*4; i++ {
			hub.Publish(TopicTreasury, TypeLiabilitiesAccrued, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
	assert.Len(t, sub.Events(), DefaultSubscriberBuffer)
}

func TestSubscribeRejectsEmptyTopic(t *testing.T) {
	hub := NewHub(nil)
	_, _, err := hub.Subscribe("  ")
	assert.ErrorIs(t, err, ErrInvalidTopic)

	var nilHub *Hub
	_, _, err = nilHub.Subscribe(TopicTreasury)
	assert.ErrorIs(t, err, ErrHubUnavailable)
}

func TestCloseIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	sub, _, err := hub.Subscribe(TopicTreasury)
	require.NoError(t, err)

	sub.Close()
	sub.Close()

	hub.Publish(TopicTreasury, TypeAgentState, "idle")
	assert.Len(t, sub.Events(), 0)
}
