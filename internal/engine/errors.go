package engine

import (
	"context"
	"errors"
	"net"
)

// ErrorKind is the stable classification of a backend failure.
type ErrorKind string

const (
	ErrContentPolicy ErrorKind = "content_policy"
	ErrCredential    ErrorKind = "credential"
	ErrTransient     ErrorKind = "transient"
	ErrUnknown       ErrorKind = "unknown"
)

// ClassifiedError wraps a backend error with its kind.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

func classified(kind ErrorKind, err error) error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &ClassifiedError{Kind: kind, Err: err}
}

// ContentPolicy marks err as a content-policy rejection.
func ContentPolicy(err error) error { return classified(ErrContentPolicy, err) }

// Credential marks err as an authentication or credential expiry failure.
func Credential(err error) error { return classified(ErrCredential, err) }

// Transient marks err as a retryable failure (network blip, rate limit).
func Transient(err error) error { return classified(ErrTransient, err) }

// Classify returns the kind of err. Deadline and network errors are transient;
// anything else without an explicit classification is unknown.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ErrTransient
	}
	return ErrUnknown
}

// Retryable reports whether a failure of kind may be retried on another slot.
func Retryable(kind ErrorKind) bool { return kind == ErrTransient }
