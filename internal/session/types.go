package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"drawd/internal/templates"
)

// Mode selects what a session produces.
type Mode string

const (
	ModeCreate   Mode = "create"
	ModeOptimize Mode = "optimize"
)

// ParseMode accepts "create" and "optimize".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCreate, ModeOptimize:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown session mode %q", s)
}

// State of a session.
type State string

const (
	StateAwaitingSeed     State = "awaiting_seed"
	StateProposalPending  State = "proposal_pending"
	StateAwaitingUserTurn State = "awaiting_user_turn"
	StateConfirmed        State = "confirmed"
	StateCancelled        State = "cancelled"
	StateExpired          State = "expired"
)

// Terminal reports whether the session accepts no more turns.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateCancelled || s == StateExpired
}

// Seed starts a session. Create needs Image; Optimize needs Template and may
// carry an initial Instruction.
type Seed struct {
	Image       []byte
	Hint        string
	Template    string
	Instruction string
}

// Revision is one proposal in the draft history.
type Revision struct {
	Body        string
	Instruction string
	At          time.Time
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ID        string
	Key       string
	Mode      Mode
	State     State
	Name      string
	Body      string
	History   []Revision
	Turns     int
	Reason    string
	StartedAt time.Time
	ExpiresAt time.Time
}

// Collaborator drafts and revises template bodies.
type Collaborator interface {
	ProposeTemplate(ctx context.Context, image []byte, hint string) (name, body string, err error)
	ReviseTemplate(ctx context.Context, body, instruction string) (string, error)
	OptimizePrompt(ctx context.Context, body string) (string, error)
}

// Store is the slice of the template repository a session writes through.
type Store interface {
	Get(ctx context.Context, name string) (templates.Template, error)
	Create(ctx context.Context, name, prompt string) (templates.Template, error)
	Update(ctx context.Context, name, prompt string) (templates.Template, error)
}

var (
	ErrSessionActive = errors.New("a session is already active")
	ErrNoSession     = errors.New("no session")
	ErrSessionClosed = errors.New("session is closed")
	ErrInvalidSeed   = errors.New("invalid session seed")
	ErrWrongState    = errors.New("operation not allowed in current session state")
	ErrShutdown      = errors.New("session manager closed")
	ErrEmptyInput    = errors.New("empty reply")
)

// CollaboratorError reports a failed AI call; the session has been cancelled.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string { return "collaborator " + e.Op + ": " + e.Err.Error() }

func (e *CollaboratorError) Unwrap() error { return e.Err }

// IsCollaboratorFailure reports whether err came from the AI collaborator.
func IsCollaboratorFailure(err error) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce)
}
