package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"drawd/internal/engine"
)

// manualClock is a settable time source shared by the dispatcher and its cooldown tracker.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var okArtifact = engine.Artifact{Images: [][]byte{[]byte("png")}}

// instant returns a successful artifact immediately.
func instant() engine.Engine {
	return engine.Func(func(context.Context, engine.Job) (engine.Artifact, error) { return okArtifact, nil })
}

// gated blocks each execution until release receives a value or ctx ends.
func gated(release <-chan struct{}) engine.Engine {
	return engine.Func(func(ctx context.Context, _ engine.Job) (engine.Artifact, error) {
		select {
		case <-release:
			return okArtifact, nil
		case <-ctx.Done():
			return engine.Artifact{}, ctx.Err()
		}
	})
}

// failing always returns err.
func failing(err error) engine.Engine {
	return engine.Func(func(context.Context, engine.Job) (engine.Artifact, error) { return engine.Artifact{}, err })
}

// healthEngine reports a configurable health.
type healthEngine struct {
	mu     sync.Mutex
	health engine.Health
}

func (h *healthEngine) Execute(context.Context, engine.Job) (engine.Artifact, error) {
	return okArtifact, nil
}

func (h *healthEngine) HealthCheck(context.Context) engine.Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.health
}

func (h *healthEngine) set(v engine.Health) {
	h.mu.Lock()
	h.health = v
	h.mu.Unlock()
}

// newManual builds a dispatcher without its pump loop; tests call pump directly.
func newManual(t *testing.T, clock *manualClock, cfg Config) *Dispatcher {
	t.Helper()
	cfg.Now = clock.Now
	d, err := newDispatcher(cfg)
	if err != nil {
		t.Fatalf("newDispatcher: %v", err)
	}
	t.Cleanup(d.baseCancel)
	return d
}

// newRunning builds a dispatcher with its loop and stops it at test end.
func newRunning(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	if cfg.PumpInterval == 0 {
		cfg.PumpInterval = 10 * time.Millisecond
	}
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return d
}

func submit(t *testing.T, d *Dispatcher, req Request) *Ticket {
	t.Helper()
	tk, err := d.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return tk
}

func wait(t *testing.T, tk *Ticket) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := tk.Wait(ctx)
	if err != nil {
		t.Fatalf("wait %s: %v", tk.ID(), err)
	}
	return res
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stateOf(d *Dispatcher, id string) State {
	r, _ := d.Lookup(id)
	return r.State
}

func slotStatus(t *testing.T, d *Dispatcher, id string) (state, reason string) {
	t.Helper()
	for _, s := range d.Status().Slots {
		if s.ID == id {
			return s.State, s.DisabledReason
		}
	}
	t.Fatalf("slot %s not in status", id)
	return "", ""
}
