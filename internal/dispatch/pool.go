package dispatch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"drawd/internal/cooldown"
	"drawd/internal/engine"
)

func (d *Dispatcher) slotStateLocked(s *slot) SlotState {
	switch {
	case s.disabled:
		return SlotDisabled
	case s.busy:
		return SlotBusy
	case d.cooldowns.Active(cooldown.Slot(s.id)):
		return SlotCooling
	default:
		return SlotFree
	}
}

// pickSlotLocked returns the best Free slot for r: lowest average service
// time, then least recently used. Nil when nothing matching is free.
func (d *Dispatcher) pickSlotLocked(r *request) *slot {
	var best *slot
	for _, s := range d.slots {
		if !r.kind.Matches(s.kind) || r.excluded(s.id) {
			continue
		}
		if d.slotStateLocked(s) != SlotFree {
			continue
		}
		if best == nil || s.avg < best.avg || (s.avg == best.avg && s.lastUsed.Before(best.lastUsed)) {
			best = s
		}
	}
	return best
}

func (d *Dispatcher) disableLocked(s *slot, reason DisableReason) {
	if s.disabled && s.reason == reason {
		return
	}
	s.disabled = true
	s.reason = reason
	d.publish(Event{Name: EventSlotOff, SlotID: s.id, Fields: map[string]any{"reason": string(reason)}})
	d.log.Warn().Str("slot", s.id).Str("reason", string(reason)).Msg("slot disabled")
}

func (d *Dispatcher) enableLocked(s *slot) {
	if !s.disabled {
		return
	}
	s.disabled = false
	s.reason = ""
	d.cooldowns.Clear(cooldown.Credential(s.id))
	d.publish(Event{Name: EventSlotOn, SlotID: s.id})
	d.log.Info().Str("slot", s.id).Msg("slot enabled")
}

func (d *Dispatcher) recoverCredentialsLocked() {
	if d.credentialCooldown <= 0 {
		return
	}
	for _, s := range d.slots {
		if s.disabled && s.reason == DisabledByCredential && !d.cooldowns.Active(cooldown.Credential(s.id)) {
			d.enableLocked(s)
		}
	}
}

// DisableSlot takes a slot out of rotation. A running execution is not interrupted.
func (d *Dispatcher) DisableSlot(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.byID[id]
	if !ok {
		return ErrSlotNotFound
	}
	d.disableLocked(s, DisabledByAdmin)
	d.signal()
	return nil
}

// EnableSlot returns a slot to rotation regardless of why it was disabled.
func (d *Dispatcher) EnableSlot(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.byID[id]
	if !ok {
		return ErrSlotNotFound
	}
	d.enableLocked(s)
	d.signal()
	return nil
}

// ClearSlotCooldown lets a cooling slot take work immediately.
func (d *Dispatcher) ClearSlotCooldown(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[id]; !ok {
		return ErrSlotNotFound
	}
	d.cooldowns.Clear(cooldown.Slot(id))
	d.signal()
	return nil
}

// UserCooldown reports the caller's remaining draw cooldown.
func (d *Dispatcher) UserCooldown(caller string) (bool, time.Duration) {
	return d.cooldowns.Remaining(cooldown.User(caller))
}

// ClearUserCooldown lifts a caller's draw cooldown. It reports whether one was active.
func (d *Dispatcher) ClearUserCooldown(caller string) bool {
	return d.cooldowns.Clear(cooldown.User(caller))
}

// CheckHealth probes every slot not disabled by an operator. Unavailable slots
// are disabled with DisabledByHealth; healthy ones previously disabled that way
// come back. Admin and credential disables are left alone.
func (d *Dispatcher) CheckHealth(ctx context.Context) map[string]engine.Health {
	type probe struct {
		s   *slot
		eng engine.Engine
	}
	d.mu.Lock()
	probes := make([]probe, 0, len(d.slots))
	for _, s := range d.slots {
		if s.disabled && s.reason != DisabledByHealth {
			continue
		}
		probes = append(probes, probe{s: s, eng: s.eng})
	}
	d.mu.Unlock()

	results := make([]engine.Health, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range probes {
		i, p := i, p
		g.Go(func() error {
			results[i] = p.eng.HealthCheck(gctx)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]engine.Health, len(probes))
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, p := range probes {
		h := results[i]
		out[p.s.id] = h
		switch {
		case h == engine.Unavailable && !p.s.disabled:
			d.disableLocked(p.s, DisabledByHealth)
		case h == engine.Available && p.s.disabled && p.s.reason == DisabledByHealth:
			d.enableLocked(p.s)
		}
	}
	d.signal()
	return out
}
