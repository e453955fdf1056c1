package dispatch

import (
	"errors"
	"fmt"
	"time"

	"drawd/internal/engine"
)

// RejectReason names why a request was refused at admission.
type RejectReason string

const (
	ReasonShutdown       RejectReason = "shutdown"
	ReasonCooldown       RejectReason = "cooldown"
	ReasonUnknownEngine  RejectReason = "unknown_engine"
	ReasonEngineDisabled RejectReason = "engine_disabled"
	ReasonQueueFull      RejectReason = "queue_full"
)

// AdmissionError is returned by Submit when a request is not queued. It is also
// the failure of a queued request whose engine class lost every enabled slot.
type AdmissionError struct {
	Reason RejectReason
	Kind   engine.Kind
	// Remaining is set for ReasonCooldown.
	Remaining time.Duration
}

func (e *AdmissionError) Error() string {
	switch e.Reason {
	case ReasonCooldown:
		return fmt.Sprintf("on cooldown for %s", e.Remaining.Round(time.Second))
	case ReasonUnknownEngine:
		return fmt.Sprintf("no engine of kind %q is configured", e.Kind)
	case ReasonEngineDisabled:
		return fmt.Sprintf("engine %q is disabled", e.Kind)
	case ReasonQueueFull:
		return "queue is full"
	case ReasonShutdown:
		return "dispatcher is shutting down"
	default:
		return "admission rejected: " + string(e.Reason)
	}
}

// IsAdmissionRejected reports whether err is (or wraps) an AdmissionError.
func IsAdmissionRejected(err error) bool {
	var ae *AdmissionError
	return errors.As(err, &ae)
}

// AsAdmissionError extracts the AdmissionError from err.
func AsAdmissionError(err error) (*AdmissionError, bool) {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

var (
	ErrRequestNotFound = errors.New("request not found")
	ErrRequestFinished = errors.New("request already finished")
	ErrSlotNotFound    = errors.New("slot not found")
	// ErrCancelled is the Result.Err of a cancelled request.
	ErrCancelled = errors.New("request cancelled")
	// ErrEmptyArtifact is reported when an engine succeeds without output.
	ErrEmptyArtifact = errors.New("engine returned no output")
)
