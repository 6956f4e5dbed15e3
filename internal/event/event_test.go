package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeOrder(t *testing.T) {
	bus := NewMemoryBus()
	ch, cancel := bus.Subscribe("u1")
	defer cancel()

	for i := 1; i <= 5; i++ {
		bus.Publish(Event{Kind: KindProgress, UserID: "u1", JobID: "j1", Progress: i * 20})
	}

	for i := 1; i <= 5; i++ {
		e := <-ch
		assert.Equal(t, i*20, e.Progress, "events must arrive in publish order")
		assert.False(t, e.At.IsZero())
	}
}

func TestPerUserIsolation(t *testing.T) {
	bus := NewMemoryBus()
	chA, cancelA := bus.Subscribe("alice")
	defer cancelA()
	chB, cancelB := bus.Subscribe("bob")
	defer cancelB()

	bus.Publish(Event{Kind: KindStart, UserID: "alice", JobID: "j1"})

	e := <-chA
	assert.Equal(t, "alice", e.UserID)

	select {
	case e := <-chB:
		t.Fatalf("bob received alice's event: %+v", e)
	default:
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()
	ch, cancel := bus.Subscribe("u1")
	cancel()

	bus.Publish(Event{Kind: KindStart, UserID: "u1"})

	// Канал закрыт, события после cancel не приходят.
	e, ok := <-ch
	assert.False(t, ok, "expected closed channel, got %+v", e)
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	bus := NewMemoryBus()
	ch, cancel := bus.Subscribe("u1")
	defer cancel()

	total := subscriberBuffer + 10
	for i := 0; i < total; i++ {
		bus.Publish(Event{Kind: KindProgress, UserID: "u1", Progress: i})
	}

	var received []int
	for {
		select {
		case e := <-ch:
			received = append(received, e.Progress)
			continue
		default:
		}
		break
	}

	require.NotEmpty(t, received)
	assert.Equal(t, total-1, received[len(received)-1], "latest event must survive")
	for i := 1; i < len(received); i++ {
		assert.Greater(t, received[i], received[i-1], "order preserved")
	}
}

func TestMultipleSubscribersSameUser(t *testing.T) {
	bus := NewMemoryBus()
	ch1, cancel1 := bus.Subscribe("u1")
	defer cancel1()
	ch2, cancel2 := bus.Subscribe("u1")
	defer cancel2()

	bus.Publish(Event{Kind: KindComplete, UserID: "u1", JobID: "j9"})

	e1 := <-ch1
	e2 := <-ch2
	assert.Equal(t, "j9", e1.JobID)
	assert.Equal(t, "j9", e2.JobID)
}
