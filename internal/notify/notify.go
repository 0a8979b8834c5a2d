// Package notify is the progress side-channel. The coordinator publishes an
// event at every stage transition; consumers subscribe by job ID and are
// decoupled from pipeline internals. Delivery is best-effort: a slow
// subscriber drops events rather than stalling the pipeline.
package notify

import (
	"sync"

	"github.com/redlinehq/redline/internal/jobstore"
)

// Event describes a stage transition of one job.
type Event struct {
	JobID    string          `json:"job_id"`
	Status   jobstore.Status `json:"status"`
	Stage    string          `json:"stage"`
	Progress int             `json:"progress"`
	Message  string          `json:"message,omitempty"`
}

const subscriberBuffer = 64

// Notifier fans events out to per-job subscribers.
type Notifier struct {
	mu   sync.Mutex
	subs map[string][]chan Event
}

func New() *Notifier {
	return &Notifier{subs: make(map[string][]chan Event)}
}

// Subscribe registers for events of one job. The returned cancel func must be
// called to release the subscription; it closes the channel.
func (n *Notifier) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	n.mu.Lock()
	n.subs[jobID] = append(n.subs[jobID], ch)
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		chans := n.subs[jobID]
		for i, c := range chans {
			if c == ch {
				n.subs[jobID] = append(chans[:i], chans[i+1:]...)
				close(c)
				break
			}
		}
		if len(n.subs[jobID]) == 0 {
			delete(n.subs, jobID)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers of the job. Never blocks.
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
