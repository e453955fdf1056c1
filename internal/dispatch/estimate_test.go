package dispatch

import (
	"errors"
	"testing"
	"time"

	"drawd/internal/engine"
)

func TestEstimateWait_Model(t *testing.T) {
	cases := []struct {
		name  string
		slots []slotView
		kind  engine.Kind
		ahead []engine.Kind
		want  time.Duration
	}{
		{"free slot, empty queue", []slotView{{Kind: engine.KindAPI, State: SlotFree, Avg: 5 * time.Second}}, engine.KindAPI, nil, 0},
		{"busy slot past its average", []slotView{{Kind: engine.KindAPI, State: SlotBusy, Avg: 5 * time.Second, Elapsed: 9 * time.Second}}, engine.KindAPI, nil, 0},
		{"busy slot then cooldown", []slotView{{Kind: engine.KindWeb, State: SlotBusy, Avg: 20 * time.Second, Elapsed: 5 * time.Second, Cooldown: 10 * time.Second}}, engine.KindWeb, nil, 25 * time.Second},
		{"nearest of two", []slotView{
			{Kind: engine.KindWeb, State: SlotCooling, Avg: 10 * time.Second, CooldownLeft: 8 * time.Second},
			{Kind: engine.KindWeb, State: SlotCooling, Avg: 30 * time.Second, CooldownLeft: 3 * time.Second},
		}, engine.KindWeb, []engine.Kind{engine.KindWeb, engine.KindAPI, engine.KindAny}, 3*time.Second + 2*20*time.Second},
		{"requests ahead owe the cooldown too", []slotView{
			{Kind: engine.KindWeb, State: SlotCooling, Avg: 5 * time.Second, Cooldown: 30 * time.Second, CooldownLeft: 10 * time.Second},
		}, engine.KindWeb, []engine.Kind{engine.KindWeb}, 10*time.Second + 35*time.Second},
		{"disabled and foreign slots ignored", []slotView{
			{Kind: engine.KindWeb, State: SlotDisabled, Avg: time.Second},
			{Kind: engine.KindAPI, State: SlotFree, Avg: time.Second},
		}, engine.KindWeb, nil, 0},
	}
	for _, tc := range cases {
		if got := estimateWait(tc.slots, tc.kind, tc.ahead); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestEstimateWait_NonNegativeAndNonIncreasing(t *testing.T) {
	prev := time.Duration(1<<62 - 1)
	for elapsed := time.Duration(0); elapsed <= 20*time.Second; elapsed += 500 * time.Millisecond {
		slots := []slotView{{Kind: engine.KindAPI, State: SlotBusy, Avg: 5 * time.Second, Elapsed: elapsed, Cooldown: 2 * time.Second}}
		got := estimateWait(slots, engine.KindAPI, []engine.Kind{engine.KindAPI})
		if got < 0 || got > prev {
			t.Fatalf("elapsed %v: estimate %v (previous %v)", elapsed, got, prev)
		}
		prev = got
	}
}

// Two api requests arrive back to back with one free api slot averaging 5s:
// the second waits about 5s and is only dispatched after the first finishes.
func TestEstimate_SecondRequestWaitsOneServiceTime(t *testing.T) {
	clock := newManualClock()
	release := make(chan struct{})
	d := newManual(t, clock, Config{
		Slots:              []SlotSpec{{ID: "api-1", Kind: engine.KindAPI, Engine: gated(release)}},
		InitialServiceTime: 5 * time.Second,
	})
	first := submit(t, d, Request{Caller: "a", Kind: engine.KindAPI})
	clock.Advance(time.Millisecond)
	second := submit(t, d, Request{Caller: "b", Kind: engine.KindAPI})

	if est, _ := d.Estimate(second.ID()); est != 5*time.Second {
		t.Fatalf("before dispatch: %v", est)
	}
	d.pump()
	if s := stateOf(d, first.ID()); s != StateDispatched {
		t.Fatalf("first not dispatched: %s", s)
	}
	if est, _ := d.Estimate(second.ID()); est != 5*time.Second {
		t.Fatalf("after dispatch: %v", est)
	}
	clock.Advance(2 * time.Second)
	if est, _ := d.Estimate(second.ID()); est != 3*time.Second {
		t.Fatalf("after 2s: %v", est)
	}
	d.pump()
	if s := stateOf(d, second.ID()); s != StateQueued {
		t.Fatalf("second dispatched while first running: %s", s)
	}
	if est := d.EstimateFor(engine.KindAPI); est != 3*time.Second+5*time.Second {
		t.Fatalf("estimate for a new arrival: %v", est)
	}

	release <- struct{}{}
	wait(t, first)
	d.pump()
	if s := stateOf(d, second.ID()); s != StateDispatched {
		t.Fatalf("second not dispatched after first finished: %s", s)
	}
	if est, _ := d.Estimate(second.ID()); est != 0 {
		t.Fatalf("dispatched request estimate %v", est)
	}
	if pos, _ := d.Position(second.ID()); pos != 0 {
		t.Fatalf("dispatched request position %d", pos)
	}
	release <- struct{}{}
	wait(t, second)
	if _, err := d.Estimate(second.ID()); !errors.Is(err, ErrRequestFinished) {
		t.Fatalf("expected ErrRequestFinished, got %v", err)
	}
	if _, err := d.Position("missing"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

// A web slot with a 30s cooldown: the estimate of the second queued request
// only counts down while the first one waits, runs and cools.
func TestEstimate_NonIncreasingAcrossSlotCooldown(t *testing.T) {
	clock := newManualClock()
	release := make(chan struct{})
	d := newManual(t, clock, Config{
		Slots:              []SlotSpec{{ID: "web-1", Kind: engine.KindWeb, Engine: gated(release), Cooldown: 30 * time.Second}},
		InitialServiceTime: 5 * time.Second,
	})

	warm := submit(t, d, Request{Caller: "x", Kind: engine.KindWeb})
	d.pump()
	clock.Advance(5 * time.Second)
	release <- struct{}{}
	wait(t, warm)

	first := submit(t, d, Request{Caller: "a", Kind: engine.KindWeb})
	second := submit(t, d, Request{Caller: "b", Kind: engine.KindWeb})

	prev := time.Duration(1<<62 - 1)
	check := func(when string, want time.Duration) {
		t.Helper()
		got, err := d.Estimate(second.ID())
		if err != nil {
			t.Fatalf("%s: %v", when, err)
		}
		if got != want {
			t.Fatalf("%s: estimate %v, want %v", when, got, want)
		}
		if got > prev {
			t.Fatalf("%s: estimate rose from %v to %v", when, prev, got)
		}
		prev = got
	}

	check("fresh", 30*time.Second+35*time.Second)
	clock.Advance(29 * time.Second)
	d.pump()
	check("cooldown almost over", time.Second+35*time.Second)

	clock.Advance(time.Second)
	d.pump()
	if s := stateOf(d, first.ID()); s != StateDispatched {
		t.Fatalf("first not dispatched: %s", s)
	}
	check("first dispatched", 5*time.Second+30*time.Second)

	clock.Advance(5 * time.Second)
	check("first past its average", 30*time.Second)
	release <- struct{}{}
	wait(t, first)
	check("first finished", 30*time.Second)

	clock.Advance(30 * time.Second)
	d.pump()
	if s := stateOf(d, second.ID()); s != StateDispatched {
		t.Fatalf("second not dispatched: %s", s)
	}
	check("second dispatched", 0)
	release <- struct{}{}
	wait(t, second)
}
