package streaming

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	m := NewManager(16)
	ch := m.Subscribe("s1", 8)
	defer m.Unsubscribe("s1", ch)

	m.Publish("s1", Event{Type: EventStepStarted, Message: "decomposition"})
	m.Publish("s1", Event{Type: EventStepCompleted, Message: "decomposition"})
	m.Publish("s1", Event{Type: EventCompleted})

	got := make([]Event, 0, 3)
	for i := 0; i < 3; i++ {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	require.Len(t, got, 3)
	assert.Equal(t, EventStepStarted, got[0].Type)
	assert.Equal(t, EventStepCompleted, got[1].Type)
	assert.Equal(t, EventCompleted, got[2].Type)
	assert.Equal(t, uint64(0), got[0].Seq)
	assert.Equal(t, uint64(1), got[1].Seq)
	assert.Equal(t, uint64(2), got[2].Seq)
}

func TestSubscribersAreIsolatedPerSession(t *testing.T) {
	m := NewManager(16)
	ch1 := m.Subscribe("s1", 4)
	ch2 := m.Subscribe("s2", 4)
	defer m.Unsubscribe("s1", ch1)
	defer m.Unsubscribe("s2", ch2)

	m.Publish("s1", Event{Type: EventStepStarted})

	select {
	case <-ch1:
	case <-time.After(time.Second):
		t.Fatal("s1 subscriber did not receive event")
	}
	select {
	case ev := <-ch2:
		t.Fatalf("s2 subscriber received foreign event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	m := NewManager(16)
	ch := m.Subscribe("s1", 1)
	defer m.Unsubscribe("s1", ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			m.Publish("s1", Event{Type: EventSourceFound})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestReplaySinceReturnsOnlyNewer(t *testing.T) {
	m := NewManager(16)
	for i := 0; i < 5; i++ {
		m.Publish("s1", Event{Type: EventSourceFound})
	}

	events := m.ReplaySince("s1", 2)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(3), events[0].Seq)
	assert.Equal(t, uint64(4), events[1].Seq)
}

func TestRingOverwritesOldest(t *testing.T) {
	m := NewManager(4)
	for i := 0; i < 10; i++ {
		m.Publish("s1", Event{Type: EventSourceFound})
	}

	events := m.ReplaySince("s1", 0)
	require.Len(t, events, 4)
	assert.Equal(t, uint64(6), events[0].Seq)
	assert.Equal(t, uint64(9), events[3].Seq)
}

// Publishing while subscribers churn must never send on a closed channel.
func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	m := NewManager(16)
	var wg sync.WaitGroup

	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				m.Publish("s1", Event{Type: EventSourceFound})
			}
		}()
	}

	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				ch := m.Subscribe("s1", 1)
				select {
				case <-ch:
				default:
				}
				m.Unsubscribe("s1", ch)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent publish/unsubscribe did not finish")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := NewManager(4)
	ch := m.Subscribe("s1", 4)
	m.Unsubscribe("s1", ch)

	_, open := <-ch
	assert.False(t, open)
}
