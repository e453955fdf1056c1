// Package cooldown keeps per-key expiry timestamps for mandatory idle windows
// (per-user command cooldowns, per-slot cooldowns, credential back-off).
package cooldown

import (
	"sync"
	"time"
)

// Scope distinguishes independent cooldown namespaces for the same subject.
type Scope string

const (
	ScopeUser       Scope = "user"
	ScopeSlot       Scope = "slot"
	ScopeCredential Scope = "credential"
)

// Key identifies one cooldown record.
type Key struct {
	Subject string
	Scope   Scope
}

// User, Slot and Credential build keys for the well-known scopes.
func User(id string) Key       { return Key{Subject: id, Scope: ScopeUser} }
func Slot(id string) Key       { return Key{Subject: id, Scope: ScopeSlot} }
func Credential(id string) Key { return Key{Subject: id, Scope: ScopeCredential} }

// Clock returns the current time. Tests substitute a manual clock.
type Clock func() time.Time

// Tracker is a mutex-protected table of expiry timestamps.
// A record whose expiry is not after now is equivalent to an absent record.
type Tracker struct {
	mu     sync.RWMutex
	now    Clock
	expiry map[Key]time.Time
}

// New returns a Tracker using the wall clock.
func New() *Tracker { return NewWithClock(nil) }

// NewWithClock returns a Tracker reading time from now (wall clock when nil).
func NewWithClock(now Clock) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now, expiry: make(map[Key]time.Time)}
}

// Now reports the tracker's notion of the current time.
func (t *Tracker) Now() time.Time { return t.now() }

// Remaining reports whether key is on cooldown and for how long.
func (t *Tracker) Remaining(k Key) (bool, time.Duration) {
	now := t.now()
	t.mu.RLock()
	exp, ok := t.expiry[k]
	t.mu.RUnlock()
	if !ok || !exp.After(now) {
		return false, 0
	}
	return true, exp.Sub(now)
}

// Active is Remaining without the duration.
func (t *Tracker) Active(k Key) bool {
	on, _ := t.Remaining(k)
	return on
}

// Arm sets the expiry of key to now+d, replacing any existing record.
// A non-positive d clears the record. It returns the new expiry.
func (t *Tracker) Arm(k Key, d time.Duration) time.Time {
	return t.ArmFrom(k, t.now(), d)
}

// ArmFrom is Arm with an explicit start instant.
func (t *Tracker) ArmFrom(k Key, from time.Time, d time.Duration) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d <= 0 {
		delete(t.expiry, k)
		return from
	}
	exp := from.Add(d)
	t.expiry[k] = exp
	return exp
}

// Clear removes the record for key. It reports whether a live record existed.
func (t *Tracker) Clear(k Key) bool {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	exp, ok := t.expiry[k]
	delete(t.expiry, k)
	return ok && exp.After(now)
}

// Expiry returns the raw expiry of a live record.
func (t *Tracker) Expiry(k Key) (time.Time, bool) {
	now := t.now()
	t.mu.RLock()
	defer t.mu.RUnlock()
	exp, ok := t.expiry[k]
	if !ok || !exp.After(now) {
		return time.Time{}, false
	}
	return exp, true
}

// Sweep drops expired records and returns how many were removed.
func (t *Tracker) Sweep() int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, exp := range t.expiry {
		if !exp.After(now) {
			delete(t.expiry, k)
			n++
		}
	}
	return n
}

// Len returns the number of live records.
func (t *Tracker) Len() int {
	now := t.now()
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, exp := range t.expiry {
		if exp.After(now) {
			n++
		}
	}
	return n
}
