package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"drawd/internal/cooldown"
	"drawd/internal/engine"
)

// Dispatcher matches queued draw requests to engine slots.
type Dispatcher struct {
	mu sync.Mutex

	slots []*slot
	byID  map[string]*slot
	queue []*request
	live  map[string]*request
	done  map[string]*request

	maxQueueDepth      int
	maxRetries         int
	alpha              float64
	userCooldown       time.Duration
	credentialCooldown time.Duration
	retention          time.Duration
	pumpInterval       time.Duration
	healthInterval     time.Duration

	cooldowns *cooldown.Tracker
	now       func() time.Time
	log       zerolog.Logger
	pub       EventPublisher
	history   *EventLog

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wake       chan struct{}
	stop       chan struct{}
	loopDone   chan struct{}
	closing    bool
	running    bool
	inflight   sync.WaitGroup
	probing    atomic.Bool

	submitted, completed, failed, cancelled, rejected uint64
}

// New builds a Dispatcher and starts its pump loop. Call Shutdown to stop it.
func New(cfg Config) (*Dispatcher, error) {
	d, err := newDispatcher(cfg)
	if err != nil {
		return nil, err
	}
	d.running = true
	go d.loop()
	return d, nil
}

func newDispatcher(cfg Config) (*Dispatcher, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Slots) == 0 {
		return nil, errors.New("dispatch: at least one slot is required")
	}
	d := &Dispatcher{
		byID:               make(map[string]*slot, len(cfg.Slots)),
		live:               make(map[string]*request),
		done:               make(map[string]*request),
		maxQueueDepth:      cfg.MaxQueueDepth,
		maxRetries:         cfg.MaxRetries,
		alpha:              cfg.Alpha,
		userCooldown:       cfg.UserCooldown,
		credentialCooldown: cfg.CredentialCooldown,
		retention:          cfg.ResultRetention,
		pumpInterval:       cfg.PumpInterval,
		healthInterval:     cfg.HealthInterval,
		cooldowns:          cfg.Cooldowns,
		now:                cfg.Cooldowns.Now,
		log:                cfg.Logger.With().Str("component", "dispatch").Logger(),
		wake:               make(chan struct{}, 1),
		stop:               make(chan struct{}),
		loopDone:           make(chan struct{}),
	}
	d.history = NewEventLog(cfg.EventHistory)
	d.pub = fanout{d.history, cfg.Publisher}
	d.baseCtx, d.baseCancel = context.WithCancel(context.Background())
	for _, spec := range cfg.Slots {
		if spec.ID == "" {
			return nil, errors.New("dispatch: slot id is required")
		}
		if spec.Kind == "" || spec.Kind == engine.KindAny {
			return nil, fmt.Errorf("dispatch: slot %s needs a concrete kind", spec.ID)
		}
		if spec.Engine == nil {
			return nil, fmt.Errorf("dispatch: slot %s has no engine", spec.ID)
		}
		if _, dup := d.byID[spec.ID]; dup {
			return nil, fmt.Errorf("dispatch: duplicate slot id %s", spec.ID)
		}
		s := &slot{
			id:       spec.ID,
			kind:     spec.Kind,
			eng:      spec.Engine,
			cooldown: spec.Cooldown,
			avg:      cfg.InitialServiceTime,
		}
		if spec.Disabled {
			s.disabled, s.reason = true, DisabledByAdmin
		}
		d.slots = append(d.slots, s)
		d.byID[s.id] = s
	}
	return d, nil
}

// Submit admits a request or rejects it immediately with an *AdmissionError.
// Admission arms the caller's cooldown unless the caller is privileged.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (*Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kind := req.Kind
	if kind == "" {
		kind = engine.KindAny
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.admitLocked(req, kind); err != nil {
		d.rejected++
		admissionRejections.WithLabelValues(string(err.Reason)).Inc()
		d.log.Debug().Str("caller", req.Caller).Str("reason", string(err.Reason)).Msg("admission rejected")
		return nil, err
	}
	now := d.now()
	r := &request{
		id:       uuid.NewString(),
		caller:   req.Caller,
		kind:     kind,
		job:      req.Job,
		state:    StateQueued,
		admitted: now,
		done:     make(chan struct{}),
	}
	d.queue = append(d.queue, r)
	d.live[r.id] = r
	d.submitted++
	if d.userCooldown > 0 && !req.Privileged && req.Caller != "" {
		d.cooldowns.ArmFrom(cooldown.User(req.Caller), now, d.userCooldown)
	}
	queueDepth.Set(float64(len(d.queue)))
	d.publish(Event{Name: EventQueued, RequestID: r.id, Fields: map[string]any{"caller": r.caller, "kind": string(kind), "position": len(d.queue)}})
	d.log.Info().Str("request", r.id).Str("caller", r.caller).Str("kind", string(kind)).Int("position", len(d.queue)).Msg("request queued")
	d.signal()
	return &Ticket{r: r}, nil
}

func (d *Dispatcher) admitLocked(req Request, kind engine.Kind) *AdmissionError {
	if d.closing {
		return &AdmissionError{Reason: ReasonShutdown, Kind: kind}
	}
	if d.userCooldown > 0 && !req.Privileged && req.Caller != "" {
		if ok, rem := d.cooldowns.Remaining(cooldown.User(req.Caller)); ok {
			return &AdmissionError{Reason: ReasonCooldown, Kind: kind, Remaining: rem}
		}
	}
	configured, enabled := false, false
	for _, s := range d.slots {
		if !kind.Matches(s.kind) {
			continue
		}
		configured = true
		if !s.disabled {
			enabled = true
			break
		}
	}
	if !configured {
		return &AdmissionError{Reason: ReasonUnknownEngine, Kind: kind}
	}
	if !enabled {
		return &AdmissionError{Reason: ReasonEngineDisabled, Kind: kind}
	}
	if d.maxQueueDepth > 0 && len(d.queue) >= d.maxQueueDepth {
		return &AdmissionError{Reason: ReasonQueueFull, Kind: kind}
	}
	return nil
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) loop() {
	defer close(d.loopDone)
	tick := time.NewTicker(d.pumpInterval)
	defer tick.Stop()
	var healthC <-chan time.Time
	if d.healthInterval > 0 {
		ht := time.NewTicker(d.healthInterval)
		defer ht.Stop()
		healthC = ht.C
	}
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		next := d.pump()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if !next.IsZero() {
			wait := next.Sub(d.now())
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
		}
		select {
		case <-d.stop:
			return
		case <-d.wake:
		case <-tick.C:
			d.cooldowns.Sweep()
		case <-timer.C:
		case <-healthC:
			if d.probing.CompareAndSwap(false, true) {
				go func() {
					defer d.probing.Store(false)
					d.CheckHealth(d.baseCtx)
				}()
			}
		}
	}
}

// pump dispatches every queued request that has a free matching slot, in FIFO
// order with skip: a request that cannot be served does not block later ones.
// It returns the next instant at which a cooling slot frees up (zero if none).
func (d *Dispatcher) pump() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return time.Time{}
	}
	now := d.now()
	d.recoverCredentialsLocked()
	d.expireResultsLocked(now)

	waiting := make([]*request, 0, len(d.queue))
	for _, r := range d.queue {
		if !d.servableLocked(r) {
			d.rejectQueuedLocked(r, now)
			continue
		}
		s := d.pickSlotLocked(r)
		if s == nil {
			waiting = append(waiting, r)
			continue
		}
		d.startLocked(r, s, now)
	}
	d.queue = waiting
	queueDepth.Set(float64(len(d.queue)))
	return d.nextWakeLocked()
}

// servableLocked reports whether some enabled, non-excluded slot can ever take r.
func (d *Dispatcher) servableLocked(r *request) bool {
	for _, s := range d.slots {
		if !s.disabled && r.kind.Matches(s.kind) && !r.excluded(s.id) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) rejectQueuedLocked(r *request, now time.Time) {
	if r.lastErr != nil {
		// A retried request ran out of alternates; surface its last failure.
		d.finishLocked(r, StateFailed, engine.Artifact{}, r.lastErr, now)
		return
	}
	d.finishLocked(r, StateFailed, engine.Artifact{}, &AdmissionError{Reason: ReasonEngineDisabled, Kind: r.kind}, now)
}

func (d *Dispatcher) startLocked(r *request, s *slot, now time.Time) {
	s.busy = true
	s.current = r.id
	s.lastUsed = now
	r.state = StateDispatched
	r.slotID = s.id
	r.started = now
	r.attempts++
	ctx, cancel := context.WithCancel(d.baseCtx)
	r.cancel = cancel
	d.inflight.Add(1)
	d.publish(Event{Name: EventDispatched, RequestID: r.id, SlotID: s.id, Fields: map[string]any{"attempt": r.attempts}})
	d.log.Info().Str("request", r.id).Str("slot", s.id).Int("attempt", r.attempts).Msg("request dispatched")
	go d.execute(ctx, r, s, r.job, now)
}

func (d *Dispatcher) execute(ctx context.Context, r *request, s *slot, job engine.Job, start time.Time) {
	defer d.inflight.Done()
	art, err := runEngine(ctx, s.eng, job)
	d.complete(r, s, art, err, start)
}

// runEngine shields the dispatcher from engine panics.
func runEngine(ctx context.Context, eng engine.Engine, job engine.Job) (art engine.Artifact, err error) {
	defer func() {
		if p := recover(); p != nil {
			art, err = engine.Artifact{}, fmt.Errorf("engine panic: %v", p)
		}
	}()
	return eng.Execute(ctx, job)
}

// complete releases the slot, arms its cooldown and settles the request.
func (d *Dispatcher) complete(r *request, s *slot, art engine.Artifact, err error, start time.Time) {
	d.mu.Lock()
	defer d.signal()
	defer d.mu.Unlock()

	finish := d.now()
	s.busy = false
	s.current = ""
	r.cancel()
	if s.cooldown > 0 {
		d.cooldowns.ArmFrom(cooldown.Slot(s.id), finish, s.cooldown)
	}
	elapsed := finish.Sub(start)
	executionDuration.WithLabelValues(string(s.kind)).Observe(elapsed.Seconds())
	if err == nil && art.Empty() {
		err = ErrEmptyArtifact
	}

	if err == nil {
		s.runs++
		s.avg = time.Duration((1-d.alpha)*float64(s.avg) + d.alpha*float64(elapsed))
		executionsTotal.WithLabelValues(string(s.kind), "completed").Inc()
		d.finishLocked(r, StateCompleted, art, nil, finish)
		return
	}

	s.failures++
	if r.cancelReq || (d.closing && errors.Is(err, context.Canceled)) {
		executionsTotal.WithLabelValues(string(s.kind), "cancelled").Inc()
		d.finishLocked(r, StateCancelled, engine.Artifact{}, ErrCancelled, finish)
		return
	}
	kind := engine.Classify(err)
	executionsTotal.WithLabelValues(string(s.kind), string(kind)).Inc()
	d.log.Warn().Err(err).Str("request", r.id).Str("slot", s.id).Str("kind", string(kind)).Msg("execution failed")

	if kind == engine.ErrCredential {
		d.disableLocked(s, DisabledByCredential)
		if d.credentialCooldown > 0 {
			d.cooldowns.ArmFrom(cooldown.Credential(s.id), finish, d.credentialCooldown)
		}
	}
	if engine.Retryable(kind) && r.attempts <= d.maxRetries && !d.closing {
		if r.exclude == nil {
			r.exclude = make(map[string]struct{})
		}
		r.exclude[s.id] = struct{}{}
		r.lastErr = err
		if d.servableLocked(r) {
			r.state = StateQueued
			r.cancel = nil
			// Retries bypass MaxQueueDepth.
			d.queue = append([]*request{r}, d.queue...)
			queueDepth.Set(float64(len(d.queue)))
			d.publish(Event{Name: EventRetried, RequestID: r.id, SlotID: s.id, Fields: map[string]any{"attempt": r.attempts}})
			return
		}
	}
	d.finishLocked(r, StateFailed, engine.Artifact{}, err, finish)
}

// finishLocked moves r to a terminal state and wakes its waiters.
func (d *Dispatcher) finishLocked(r *request, state State, art engine.Artifact, err error, now time.Time) {
	r.state = state
	r.finished = now
	r.artifact = art
	r.err = err
	if state == StateFailed {
		r.errKind = engine.Classify(err)
		if IsAdmissionRejected(err) {
			r.errKind = ""
		}
	}
	delete(d.live, r.id)
	d.done[r.id] = r
	close(r.done)

	ev := Event{RequestID: r.id, SlotID: r.slotID}
	switch state {
	case StateCompleted:
		d.completed++
		ev.Name = EventCompleted
	case StateCancelled:
		d.cancelled++
		ev.Name = EventCancelled
	default:
		d.failed++
		ev.Name = EventFailed
		ev.Fields = map[string]any{"error": err.Error(), "kind": string(r.errKind)}
	}
	d.publish(ev)
	d.log.Info().Str("request", r.id).Str("state", string(state)).Int("attempts", r.attempts).Msg("request finished")
}

func (d *Dispatcher) expireResultsLocked(now time.Time) {
	for id, r := range d.done {
		if now.Sub(r.finished) > d.retention {
			delete(d.done, id)
		}
	}
}

func (d *Dispatcher) nextWakeLocked() time.Time {
	var next time.Time
	consider := func(t time.Time, ok bool) {
		if ok && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	for _, s := range d.slots {
		if s.disabled && s.reason == DisabledByCredential && d.credentialCooldown > 0 {
			consider(d.cooldowns.Expiry(cooldown.Credential(s.id)))
		}
		if len(d.queue) > 0 && !s.disabled && !s.busy {
			consider(d.cooldowns.Expiry(cooldown.Slot(s.id)))
		}
	}
	return next
}
