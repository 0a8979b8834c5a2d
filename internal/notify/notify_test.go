package notify

import (
	"testing"

	"github.com/redlinehq/redline/internal/jobstore"
)

func TestPublishReachesSubscriber(t *testing.T) {
	n := New()
	events, cancel := n.Subscribe("job-1")
	defer cancel()

	n.Publish(Event{JobID: "job-1", Status: jobstore.StatusProcessing, Stage: jobstore.StageSplit, Progress: 5})

	ev := <-events
	if ev.Stage != jobstore.StageSplit || ev.Progress != 5 {
		t.Errorf("got %+v", ev)
	}
}

func TestPublishIsScopedToJob(t *testing.T) {
	n := New()
	a, cancelA := n.Subscribe("job-a")
	defer cancelA()
	b, cancelB := n.Subscribe("job-b")
	defer cancelB()

	n.Publish(Event{JobID: "job-a", Progress: 10})

	if len(a) != 1 {
		t.Errorf("job-a subscriber has %d events, want 1", len(a))
	}
	if len(b) != 0 {
		t.Errorf("job-b subscriber has %d events, want 0", len(b))
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	n := New()
	_, cancel := n.Subscribe("job-1")
	defer cancel()

	// Nobody drains; overflow past the buffer must be dropped, not block.
	for i := 0; i < subscriberBuffer+10; i++ {
		n.Publish(Event{JobID: "job-1", Progress: i})
	}
}

func TestCancelClosesChannel(t *testing.T) {
	n := New()
	events, cancel := n.Subscribe("job-1")
	cancel()

	if _, ok := <-events; ok {
		t.Error("channel still open after cancel")
	}

	// Publishing after cancel is a no-op, not a panic.
	n.Publish(Event{JobID: "job-1"})
}

func TestMultipleSubscribersBothReceive(t *testing.T) {
	n := New()
	a, cancelA := n.Subscribe("job-1")
	defer cancelA()
	b, cancelB := n.Subscribe("job-1")
	defer cancelB()

	n.Publish(Event{JobID: "job-1", Progress: 42})

	if (<-a).Progress != 42 {
		t.Error("first subscriber missed event")
	}
	if (<-b).Progress != 42 {
		t.Error("second subscriber missed event")
	}
}
