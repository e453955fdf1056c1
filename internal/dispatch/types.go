package dispatch

import (
	"context"
	"time"

	"drawd/internal/engine"
)

// State is the lifecycle state of a draw request.
type State string

const (
	StateQueued     State = "queued"
	StateDispatched State = "dispatched"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// SlotState is derived from slot bookkeeping; it is never stored.
type SlotState string

const (
	SlotFree     SlotState = "free"
	SlotBusy     SlotState = "busy"
	SlotCooling  SlotState = "cooling"
	SlotDisabled SlotState = "disabled"
)

// DisableReason records who took a slot out of rotation.
type DisableReason string

const (
	DisabledByAdmin      DisableReason = "admin"
	DisabledByCredential DisableReason = "credential"
	DisabledByHealth     DisableReason = "health"
)

// Request is the caller-supplied part of a draw request.
type Request struct {
	Caller string
	// Privileged callers bypass the per-user cooldown.
	Privileged bool
	Kind       engine.Kind
	Job        engine.Job
}

// Result is the externally visible view of a request.
type Result struct {
	ID        string
	State     State
	Kind      engine.Kind
	Caller    string
	Artifact  engine.Artifact
	Err       error
	ErrorKind engine.ErrorKind
	SlotID    string
	Attempts  int
	Admitted  time.Time
	Started   time.Time
	Finished  time.Time
}

// CancelOutcome tells the caller whether a cancel was honored before dispatch.
type CancelOutcome string

const (
	CancelledQueued           CancelOutcome = "queued"
	CancelRequestedDispatched CancelOutcome = "dispatched"
)

type request struct {
	id         string
	caller     string
	kind       engine.Kind
	job        engine.Job
	state      State
	admitted   time.Time
	started    time.Time
	finished   time.Time
	attempts   int
	slotID     string
	exclude    map[string]struct{}
	lastErr    error
	cancel     context.CancelFunc
	cancelReq  bool
	artifact   engine.Artifact
	err        error
	errKind    engine.ErrorKind
	done       chan struct{}
}

func (r *request) view() Result {
	return Result{
		ID:        r.id,
		State:     r.state,
		Kind:      r.kind,
		Caller:    r.caller,
		Artifact:  r.artifact,
		Err:       r.err,
		ErrorKind: r.errKind,
		SlotID:    r.slotID,
		Attempts:  r.attempts,
		Admitted:  r.admitted,
		Started:   r.started,
		Finished:  r.finished,
	}
}

func (r *request) excluded(slotID string) bool {
	_, ok := r.exclude[slotID]
	return ok
}

type slot struct {
	id       string
	kind     engine.Kind
	eng      engine.Engine
	cooldown time.Duration
	busy     bool
	current  string
	disabled bool
	reason   DisableReason
	lastUsed time.Time
	avg      time.Duration
	runs     uint64
	failures uint64
}

// Ticket is the caller's handle on an admitted request.
type Ticket struct {
	r *request
}

func (t *Ticket) ID() string { return t.r.id }

// Done is closed when the request reaches a terminal state.
func (t *Ticket) Done() <-chan struct{} { return t.r.done }

// Result returns the terminal result, or false while the request is still live.
func (t *Ticket) Result() (Result, bool) {
	select {
	case <-t.r.done:
		return t.r.view(), true
	default:
		return Result{}, false
	}
}

// Wait blocks until the request is terminal or ctx is done.
func (t *Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.r.done:
		return t.r.view(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
