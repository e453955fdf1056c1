package dispatch

import "time"

// Event names published by the dispatcher.
const (
	EventQueued     = "request_queued"
	EventDispatched = "request_dispatched"
	EventCompleted  = "request_completed"
	EventFailed     = "request_failed"
	EventCancelled  = "request_cancelled"
	EventRetried    = "request_retried"
	EventSlotOff    = "slot_disabled"
	EventSlotOn     = "slot_enabled"
)

// Event represents a dispatcher lifecycle event.
type Event struct {
	Name      string
	At        time.Time
	RequestID string
	SlotID    string
	Fields    map[string]any
}

// EventPublisher receives events from the dispatcher. Publish is called with the
// dispatcher lock held; implementations must be non-blocking and must not call
// back into the dispatcher.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// publish stamps e and hands it to the history and the configured publisher.
func (d *Dispatcher) publish(e Event) {
	if e.At.IsZero() {
		e.At = d.now()
	}
	d.pub.Publish(e)
}

// Events returns up to n recent events, oldest first.
func (d *Dispatcher) Events(n int) []Event { return d.history.Recent(n) }
