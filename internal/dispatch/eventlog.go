package dispatch

import (
	"sync"

	"github.com/rs/zerolog"
)

const defaultEventHistory = 256

// EventLog keeps the most recent events in a fixed-size ring. The dispatcher
// always records into one; tests may also pass one as Config.Publisher.
type EventLog struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	total uint64
}

// NewEventLog returns a log holding at most size events (default 256).
func NewEventLog(size int) *EventLog {
	if size <= 0 {
		size = defaultEventHistory
	}
	return &EventLog{buf: make([]Event, 0, size)}
}

func (l *EventLog) Publish(e Event) {
	l.mu.Lock()
	if len(l.buf) < cap(l.buf) {
		l.buf = append(l.buf, e)
	} else {
		l.buf[l.next] = e
	}
	l.next = (l.next + 1) % cap(l.buf)
	l.total++
	l.mu.Unlock()
}

// Recent returns up to n events, oldest first. n <= 0 returns everything kept.
func (l *EventLog) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	size := len(l.buf)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Event, 0, n)
	start := 0
	if size == cap(l.buf) {
		start = l.next
	}
	for i := size - n; i < size; i++ {
		out = append(out, l.buf[(start+i)%size])
	}
	return out
}

// Names returns the kept event names, oldest first.
func (l *EventLog) Names() []string {
	events := l.Recent(0)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Name
	}
	return out
}

// Total counts every event ever published, including ones pushed out of the ring.
func (l *EventLog) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// LogPublisher writes every event to log at debug level.
type LogPublisher struct {
	Log zerolog.Logger
}

func (p LogPublisher) Publish(e Event) {
	ev := p.Log.Debug().Str("event", e.Name)
	if e.RequestID != "" {
		ev = ev.Str("request", e.RequestID)
	}
	if e.SlotID != "" {
		ev = ev.Str("slot", e.SlotID)
	}
	ev.Fields(e.Fields).Msg("dispatch event")
}

// fanout delivers each event to every publisher in order.
type fanout []EventPublisher

func (f fanout) Publish(e Event) {
	for _, p := range f {
		p.Publish(e)
	}
}
