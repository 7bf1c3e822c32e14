package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"server/internal/domain"
	"server/internal/infra"
)

func testLogger() infra.Logger {
	return infra.NewLogger("test")
}

func TestPublishScopedToOwner(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Close()

	subA := bus.Subscribe("owner-a")
	subB := bus.Subscribe("owner-b")

	bus.Publish(domain.Event{Type: domain.EventJobUpdated, OwnerID: "owner-a", Payload: "for-a"})

	select {
	case evt := <-subA.Events():
		require.Equal(t, domain.EventJobUpdated, evt.Type)
		require.Equal(t, "for-a", evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("owner-a never received its event")
	}

	select {
	case evt := <-subB.Events():
		t.Fatalf("owner-b received owner-a's event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishFansOutToAllOwnerSubscribers(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Close()

	first := bus.Subscribe("owner-a")
	second := bus.Subscribe("owner-a")

	bus.Publish(domain.Event{Type: domain.EventBatchUpdated, OwnerID: "owner-a"})

	for _, sub := range []*Subscription{first, second} {
		select {
		case <-sub.Events():
		case <-time.After(time.Second):
			t.Fatal("subscriber missed fanout")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Close()

	sub := bus.Subscribe("owner-a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Publish far beyond the buffer without draining; must not block.
		for i := 0; i < subscriberBuffer*4; i++ {
			bus.Publish(domain.Event{Type: domain.EventJobUpdated, OwnerID: "owner-a", Payload: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	require.Len(t, sub.Events(), subscriberBuffer)
}

func TestClosedSubscriptionStopsReceiving(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Close()

	sub := bus.Subscribe("owner-a")
	sub.Close()

	bus.Publish(domain.Event{Type: domain.EventJobUpdated, OwnerID: "owner-a"})

	_, open := <-sub.Events()
	require.False(t, open)
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus(testLogger())
	sub := bus.Subscribe("owner-a")
	bus.Close()

	_, open := <-sub.Events()
	require.False(t, open)

	// Publishing after close is a no-op.
	bus.Publish(domain.Event{Type: domain.EventJobUpdated, OwnerID: "owner-a"})
}
