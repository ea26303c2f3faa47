package relay_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novel-client/internal/orchestrator"
	"novel-client/internal/relay"
)

func TestHub_PublishReachesSubscriber(t *testing.T) {
	hub := relay.NewHub(nil)

	id, events := hub.Subscribe("p1")
	defer hub.Unsubscribe("p1", id)

	hub.Publish(orchestrator.ProgressEvent{
		ProjectID: "p1",
		Step:      orchestrator.StepWorld,
		State:     orchestrator.StateProcessing,
		Message:   "drafting",
		Percent:   10,
	})

	select {
	case ev := <-events:
		assert.Equal(t, orchestrator.StepWorld, ev.Step)
		assert.Equal(t, "drafting", ev.Message)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the event")
	}
}

func TestHub_EventsScopedToProject(t *testing.T) {
	hub := relay.NewHub(nil)

	id, events := hub.Subscribe("p1")
	defer hub.Unsubscribe("p1", id)

	hub.Publish(orchestrator.ProgressEvent{ProjectID: "other"})

	select {
	case <-events:
		t.Fatal("subscriber received an event for a different project")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := relay.NewHub(nil)

	id, events := hub.Subscribe("p1")
	hub.Unsubscribe("p1", id)

	_, open := <-events
	assert.False(t, open)

	// Публикация после отписки никого не трогает и не паникует.
	hub.Publish(orchestrator.ProgressEvent{ProjectID: "p1"})
}

// Переполненный подписчик теряет события, но Publish не блокируется.
func TestHub_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := relay.NewHub(nil)

	id, events := hub.Subscribe("p1")
	defer hub.Unsubscribe("p1", id)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			hub.Publish(orchestrator.ProgressEvent{ProjectID: "p1", Percent: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// Что-то из начала потока дошло.
	require.NotEmpty(t, events)
}
