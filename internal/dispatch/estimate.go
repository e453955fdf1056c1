package dispatch

import (
	"time"

	"drawd/internal/cooldown"
	"drawd/internal/engine"
)

// slotView is the estimator's input for one slot.
type slotView struct {
	Kind         engine.Kind
	State        SlotState
	Avg          time.Duration
	Elapsed      time.Duration
	Cooldown     time.Duration
	CooldownLeft time.Duration
}

// estimateWait is the wait-time model: time until the nearest matching slot
// frees up, plus one turn of a matching slot (mean service time and mean
// cooldown) for every request ahead that competes for the same class. A Busy
// slot owes its cooldown too, so the estimate does not grow when a request
// ahead is dispatched. Never negative.
func estimateWait(slots []slotView, kind engine.Kind, ahead []engine.Kind) time.Duration {
	nearest := time.Duration(-1)
	var sum time.Duration
	n := 0
	for _, s := range slots {
		if s.State == SlotDisabled || !kind.Matches(s.Kind) {
			continue
		}
		var free time.Duration
		switch s.State {
		case SlotBusy:
			free = max(0, s.Avg-s.Elapsed) + s.Cooldown
		case SlotCooling:
			free = max(0, s.CooldownLeft)
		}
		if nearest < 0 || free < nearest {
			nearest = free
		}
		sum += s.Avg + s.Cooldown
		n++
	}
	if n == 0 {
		return 0
	}
	competing := 0
	for _, k := range ahead {
		if overlaps(kind, k) {
			competing++
		}
	}
	total := nearest + (sum/time.Duration(n))*time.Duration(competing)
	if total < 0 {
		return 0
	}
	return total
}

func overlaps(a, b engine.Kind) bool {
	return a == engine.KindAny || b == engine.KindAny || a == b
}

func (d *Dispatcher) slotViewsLocked() []slotView {
	now := d.now()
	out := make([]slotView, 0, len(d.slots))
	for _, s := range d.slots {
		v := slotView{Kind: s.kind, State: d.slotStateLocked(s), Avg: s.avg, Cooldown: s.cooldown}
		if v.State == SlotBusy {
			v.Elapsed = now.Sub(s.lastUsed)
		}
		if _, left := d.cooldowns.Remaining(cooldown.Slot(s.id)); left > 0 {
			v.CooldownLeft = left
		}
		out = append(out, v)
	}
	return out
}

// Position returns the 1-based queue position of a queued request and 0 once
// it has been dispatched.
func (d *Dispatcher) Position(id string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.liveLocked(id)
	if err != nil {
		return 0, err
	}
	if r.state != StateQueued {
		return 0, nil
	}
	for i, q := range d.queue {
		if q == r {
			return i + 1, nil
		}
	}
	return 0, nil
}

// Estimate returns the expected wait before a queued request is dispatched.
// Dispatched requests report zero. Recomputed from current state on every call.
func (d *Dispatcher) Estimate(id string) (time.Duration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.liveLocked(id)
	if err != nil {
		return 0, err
	}
	if r.state != StateQueued {
		return 0, nil
	}
	ahead := make([]engine.Kind, 0, len(d.queue))
	for _, q := range d.queue {
		if q == r {
			break
		}
		ahead = append(ahead, q.kind)
	}
	return estimateWait(d.slotViewsLocked(), r.kind, ahead), nil
}

// EstimateFor estimates the wait of a request of kind submitted now.
func (d *Dispatcher) EstimateFor(kind engine.Kind) time.Duration {
	if kind == "" {
		kind = engine.KindAny
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ahead := make([]engine.Kind, len(d.queue))
	for i, q := range d.queue {
		ahead[i] = q.kind
	}
	return estimateWait(d.slotViewsLocked(), kind, ahead)
}

func (d *Dispatcher) liveLocked(id string) (*request, error) {
	if r, ok := d.live[id]; ok {
		return r, nil
	}
	if _, ok := d.done[id]; ok {
		return nil, ErrRequestFinished
	}
	return nil, ErrRequestNotFound
}
