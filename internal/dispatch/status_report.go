package dispatch

import (
	"drawd/internal/cooldown"
	"drawd/internal/engine"
	"drawd/pkg/types"
)

// Status builds the response for /status.
func (d *Dispatcher) Status() types.QueueStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	resp := types.QueueStatus{
		QueueLen:       len(d.queue),
		MaxQueueDepth:  d.maxQueueDepth,
		TotalSubmitted: d.submitted,
		TotalCompleted: d.completed,
		TotalFailed:    d.failed,
		TotalCancelled: d.cancelled,
		TotalRejected:  d.rejected,
		ServerTimeUnix: now.Unix(),
	}
	resp.Slots = make([]types.SlotStatus, 0, len(d.slots))
	for _, s := range d.slots {
		st := d.slotStateLocked(s)
		if st == SlotBusy {
			resp.Inflight++
		}
		ss := types.SlotStatus{
			ID:                s.id,
			Kind:              string(s.kind),
			State:             string(st),
			AvgServiceSeconds: s.avg.Seconds(),
			Runs:              s.runs,
			Failures:          s.failures,
			DisabledReason:    string(s.reason),
		}
		if !s.lastUsed.IsZero() {
			ss.LastUsedUnix = s.lastUsed.Unix()
		}
		if _, left := d.cooldowns.Remaining(cooldown.Slot(s.id)); left > 0 {
			ss.CooldownRemainingSeconds = left.Seconds()
		}
		resp.Slots = append(resp.Slots, ss)
	}
	return resp
}

// Lookup returns the current view of a live or retained request.
func (d *Dispatcher) Lookup(id string) (Result, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.live[id]; ok {
		return r.view(), true
	}
	if r, ok := d.done[id]; ok {
		return r.view(), true
	}
	return Result{}, false
}

// Ready reports whether at least one slot is enabled and the dispatcher is open.
func (d *Dispatcher) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return false
	}
	for _, s := range d.slots {
		if !s.disabled {
			return true
		}
	}
	return false
}

// HasKind reports whether any slot of kind is configured.
func (d *Dispatcher) HasKind(kind engine.Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.slots {
		if kind.Matches(s.kind) {
			return true
		}
	}
	return false
}
