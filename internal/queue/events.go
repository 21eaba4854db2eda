package queue

import "sync"

// EventType identifies a job lifecycle transition.
type EventType string

const (
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventStalled   EventType = "stalled"
)

// Event is a fan-out notification emitted when a job reaches a lifecycle
// point. Observability consumers (logging, metrics) subscribe to these.
// Delivery is best-effort, so correctness-sensitive handling lives
// elsewhere: callers waiting on a specific job use the Ticket returned by
// EnqueueWait, and terminal-failure bookkeeping uses the Pool's
// FailureHandler.
type Event struct {
	Type  EventType
	Job   Job
	Error string
}

// Notifier fans events out to subscribers. Publishing never blocks: a
// subscriber that falls behind misses events rather than stalling workers.
type Notifier struct {
	mu   sync.RWMutex
	subs []chan Event
}

// NewNotifier constructs a Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe returns a channel receiving future events.
func (n *Notifier) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()
	return ch
}

// Publish delivers the event to every subscriber that has buffer room.
func (n *Notifier) Publish(ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
