package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishDeliversToSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventMatchCreated, Message: "m1 deployed"})

	select {
	case evt := <-sub:
		assert.Equal(t, EventMatchCreated, evt.Type)
		assert.Equal(t, "m1 deployed", evt.Message)
		assert.False(t, evt.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroker_PublishFansOutToEverySubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer b.Unsubscribe(sub1)
	defer b.Unsubscribe(sub2)

	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventNodeJoined})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case evt := <-sub:
			assert.Equal(t, EventNodeJoined, evt.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBroker_UnsubscribeStopsDeliveryAndClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	assert.False(t, ok)
}

func TestBroker_PublishDoesNotBlockOnFullSubscriberBuffer(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 100; i++ {
		b.Publish(&Event{Type: EventAutoscaleDecision})
	}

	// Should not deadlock even though sub's buffer (50) is smaller than
	// the number of events published; excess events are dropped.
	time.Sleep(50 * time.Millisecond)
}

func TestBroker_SubscribeReplaysRecentEvents(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	warmup := b.Subscribe()
	b.Publish(&Event{Type: EventNodeJoined, Message: "n1"})
	b.Publish(&Event{Type: EventMatchCreated, Message: "m1"})
	<-warmup
	<-warmup
	b.Unsubscribe(warmup)

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	var got []EventType
	for i := 0; i < 2; i++ {
		select {
		case evt := <-sub:
			got = append(got, evt.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for replayed event")
		}
	}
	assert.Equal(t, []EventType{EventNodeJoined, EventMatchCreated}, got)
}

func TestBroker_HighPriorityEventSurvivesFullBufferOnceDrained(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 50; i++ {
		b.Publish(&Event{Type: EventAutoscaleDecision})
	}
	time.Sleep(20 * time.Millisecond) // let the low priority sends fill sub's buffer

	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range sub {
			if evt.Type == EventNodeDown {
				return
			}
		}
	}()

	b.Publish(&Event{Type: EventNodeDown, Message: "n1 down"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for high priority event to survive a full buffer")
	}
}
