// Package engine defines the contract every rendering backend satisfies.
// The dispatcher treats all engines through this interface; backend specific
// failure modes are expressed through ClassifiedError rather than type checks.
package engine

import (
	"context"
	"fmt"
	"strings"
)

// Kind names an engine class. Slots carry a concrete kind; requests may ask for KindAny.
type Kind string

const (
	KindAPI Kind = "api"
	KindWeb Kind = "web"
	KindAny Kind = "any"
)

// ParseKind normalizes user input. Empty, "auto" and "any" select KindAny.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "auto":
		return KindAny, nil
	case "api":
		return KindAPI, nil
	case "web", "browser", "doubao":
		return KindWeb, nil
	default:
		return "", fmt.Errorf("unknown engine %q", s)
	}
}

// Matches reports whether a slot of kind slot can serve a request preferring want.
func (want Kind) Matches(slot Kind) bool {
	return want == KindAny || want == slot
}

// Job is one backend invocation.
type Job struct {
	Prompt   string
	Images   [][]byte
	Template string
}

// Artifact is what a successful execution yields.
type Artifact struct {
	Images [][]byte
	Text   string
}

// Empty reports whether the backend returned nothing usable.
func (a Artifact) Empty() bool {
	return len(a.Images) == 0 && strings.TrimSpace(a.Text) == ""
}

// Health is the result of a backend health probe.
type Health string

const (
	Available   Health = "available"
	Unavailable Health = "unavailable"
)

// Engine turns a prompt (and optional images) into an artifact.
// Execute must return when ctx is canceled.
type Engine interface {
	Execute(ctx context.Context, job Job) (Artifact, error)
	HealthCheck(ctx context.Context) Health
}

// Func adapts a function to Engine; the health probe always reports Available.
type Func func(ctx context.Context, job Job) (Artifact, error)

func (f Func) Execute(ctx context.Context, job Job) (Artifact, error) { return f(ctx, job) }

func (f Func) HealthCheck(context.Context) Health { return Available }
