package dispatch

import (
	"time"

	"github.com/rs/zerolog"

	"drawd/internal/cooldown"
	"drawd/internal/engine"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth      = 32
	defaultMaxRetries         = 2
	defaultAlpha              = 0.2
	defaultInitialServiceTime = 60 * time.Second
	defaultResultRetention    = 24 * time.Hour
	defaultPumpInterval       = time.Second
)

// SlotSpec declares one unit of rendering capacity.
type SlotSpec struct {
	ID     string
	Kind   engine.Kind
	Engine engine.Engine
	// Cooldown is armed after every execution on the slot, measured from its finish.
	Cooldown time.Duration
	// Disabled starts the slot administratively disabled.
	Disabled bool
}

// Config encapsulates all tunables for Dispatcher construction.
type Config struct {
	Slots []SlotSpec
	// MaxQueueDepth bounds queued (not yet dispatched) requests at admission.
	// Zero selects the package default; a negative value disables the bound.
	// A request re-queued for a retry was already admitted and is never dropped,
	// so the queue may briefly exceed the bound; new submissions stay rejected
	// until it is back under.
	MaxQueueDepth int
	// MaxRetries bounds re-dispatches of a request after transient failures.
	// Zero selects the default; negative disables retries.
	MaxRetries int
	// Alpha is the EWMA weight of a new service-time sample.
	Alpha              float64
	InitialServiceTime time.Duration
	// UserCooldown is the minimum spacing between admitted requests of one caller.
	UserCooldown time.Duration
	// CredentialCooldown re-enables a credential-disabled slot after this long.
	// Zero keeps the slot disabled until EnableSlot is called.
	CredentialCooldown time.Duration
	// ResultRetention keeps terminal results queryable for this long.
	ResultRetention time.Duration
	PumpInterval    time.Duration
	// HealthInterval enables periodic engine health probes when positive.
	HealthInterval time.Duration

	Now       func() time.Time
	Logger    *zerolog.Logger
	Publisher EventPublisher
	Cooldowns *cooldown.Tracker
	// EventHistory bounds the events kept for Events (default 256).
	EventHistory int
}

func (c Config) withDefaults() Config {
	if c.MaxQueueDepth == 0 {
		c.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = defaultAlpha
	}
	if c.InitialServiceTime <= 0 {
		c.InitialServiceTime = defaultInitialServiceTime
	}
	if c.ResultRetention <= 0 {
		c.ResultRetention = defaultResultRetention
	}
	if c.PumpInterval <= 0 {
		c.PumpInterval = defaultPumpInterval
	}
	if c.Cooldowns == nil {
		c.Cooldowns = cooldown.NewWithClock(c.Now)
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.Logger == nil {
		l := zerolog.Nop()
		c.Logger = &l
	}
	return c
}
