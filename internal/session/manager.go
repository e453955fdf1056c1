// Package session runs the interactive template create/optimize conversation.
// Each caller key has at most one live session. Turns on a session are
// serialized; Get never waits for an in-flight collaborator call.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"drawd/internal/templates"
)

const (
	defaultIdleTimeout = 5 * time.Minute
	defaultRetention   = time.Minute
)

// Config tunes a Manager.
type Config struct {
	// IdleTimeout expires a session waiting for the user this long.
	IdleTimeout time.Duration
	// Retention keeps a finished session's snapshot readable.
	Retention time.Duration
	Now       func() time.Time
	Logger    *zerolog.Logger
}

// Manager owns every session.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*session
	closed    bool
	collab    Collaborator
	store     Store
	idle      time.Duration
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

type session struct {
	// turn is held for the whole of a turn, including collaborator and store calls.
	turn sync.Mutex

	// guarded by Manager.mu
	id       string
	key      string
	mode     Mode
	state    State
	name     string
	body     string
	history  []Revision
	turns    int
	reason   string
	started  time.Time
	deadline time.Time
	timer    *time.Timer
	gen      uint64
	busy     bool
}

// NewManager builds a Manager writing confirmed drafts to store.
func NewManager(collab Collaborator, store Store, cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Manager{
		sessions:  make(map[string]*session),
		collab:    collab,
		store:     store,
		idle:      cfg.IdleTimeout,
		retention: cfg.Retention,
		now:       cfg.Now,
		log:       log.With().Str("component", "session").Logger(),
	}
}

// Start opens a session for key and produces the first proposal. A
// collaborator failure leaves the session Cancelled and returns a
// *CollaboratorError.
func (m *Manager) Start(ctx context.Context, key string, mode Mode, seed Seed) (Snapshot, error) {
	switch mode {
	case ModeCreate:
		if len(seed.Image) == 0 {
			return Snapshot{}, fmt.Errorf("%w: create needs an image", ErrInvalidSeed)
		}
	case ModeOptimize:
		if strings.TrimSpace(seed.Template) == "" {
			return Snapshot{}, fmt.Errorf("%w: optimize needs a template name", ErrInvalidSeed)
		}
	default:
		return Snapshot{}, fmt.Errorf("%w: mode %q", ErrInvalidSeed, mode)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Snapshot{}, ErrShutdown
	}
	if cur, ok := m.sessions[key]; ok && !cur.state.Terminal() {
		snap := m.snapshotLocked(cur)
		m.mu.Unlock()
		return snap, ErrSessionActive
	}
	s := &session{id: uuid.NewString(), key: key, mode: mode, state: StateAwaitingSeed, started: m.now()}
	m.sessions[key] = s
	s.turn.Lock()
	defer s.turn.Unlock()
	s.state = StateProposalPending
	m.mu.Unlock()

	m.log.Info().Str("session", s.id).Str("key", key).Str("mode", string(mode)).Msg("session started")

	name, body, instruction, err := m.propose(ctx, mode, seed)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.finishLocked(s, StateCancelled, err.Error())
		return m.snapshotLocked(s), err
	}
	if s.state != StateProposalPending {
		return m.snapshotLocked(s), ErrSessionClosed
	}
	s.name = name
	m.proposeLocked(s, body, instruction)
	return m.snapshotLocked(s), nil
}

func (m *Manager) propose(ctx context.Context, mode Mode, seed Seed) (name, body, instruction string, err error) {
	if mode == ModeCreate {
		name, body, err = m.collab.ProposeTemplate(ctx, seed.Image, seed.Hint)
		if err != nil {
			return "", "", "", &CollaboratorError{Op: "propose", Err: err}
		}
		name, body = strings.TrimSpace(name), strings.TrimSpace(body)
		if name == "" || body == "" {
			return "", "", "", &CollaboratorError{Op: "propose", Err: errors.New("incomplete proposal")}
		}
		return name, body, seed.Hint, nil
	}
	tpl, err := m.store.Get(ctx, seed.Template)
	if err != nil {
		return "", "", "", err
	}
	if strings.TrimSpace(seed.Instruction) != "" {
		body, err = m.collab.ReviseTemplate(ctx, tpl.Prompt, seed.Instruction)
	} else {
		body, err = m.collab.OptimizePrompt(ctx, tpl.Prompt)
	}
	if err == nil && strings.TrimSpace(body) == "" {
		err = errors.New("empty revision")
	}
	if err != nil {
		return "", "", "", &CollaboratorError{Op: "optimize", Err: err}
	}
	return tpl.Name, strings.TrimSpace(body), seed.Instruction, nil
}

// Turn applies one user reply: confirm, cancel or a revision instruction.
func (m *Manager) Turn(ctx context.Context, key, input string) (Snapshot, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Snapshot{}, ErrEmptyInput
	}
	return m.apply(ctx, key, Classify(input), input)
}

// Cancel ends the session for key without writing anything.
func (m *Manager) Cancel(ctx context.Context, key string) (Snapshot, error) {
	return m.apply(ctx, key, TurnCancel, "")
}

func (m *Manager) apply(ctx context.Context, key string, turn Turn, input string) (Snapshot, error) {
	s, err := m.acquire(key)
	if err != nil {
		return Snapshot{}, err
	}
	defer s.turn.Unlock()

	m.mu.Lock()
	if s.state != StateAwaitingUserTurn {
		snap := m.snapshotLocked(s)
		m.mu.Unlock()
		return snap, ErrSessionClosed
	}
	m.disarmLocked(s)
	s.turns++
	s.busy = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		s.busy = false
		m.mu.Unlock()
	}()

	switch turn {
	case TurnCancel:
		m.mu.Lock()
		defer m.mu.Unlock()
		m.finishLocked(s, StateCancelled, "cancelled by user")
		return m.snapshotLocked(s), nil
	case TurnConfirm:
		return m.confirm(ctx, s)
	default:
		return m.revise(ctx, s, input)
	}
}

// acquire waits for any in-flight turn on key's session.
func (m *Manager) acquire(key string) (*session, error) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNoSession
	}
	s.turn.Lock()
	return s, nil
}

func (m *Manager) confirm(ctx context.Context, s *session) (Snapshot, error) {
	m.mu.Lock()
	mode, name, body := s.mode, s.name, s.body
	m.mu.Unlock()

	var err error
	if mode == ModeCreate {
		_, err = m.store.Create(ctx, name, body)
	} else {
		_, err = m.store.Update(ctx, name, body)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		// the draft survives a failed write so the caller can rename and retry
		m.armLocked(s)
		return m.snapshotLocked(s), err
	}
	m.finishLocked(s, StateConfirmed, "")
	return m.snapshotLocked(s), nil
}

func (m *Manager) revise(ctx context.Context, s *session, instruction string) (Snapshot, error) {
	m.mu.Lock()
	s.state = StateProposalPending
	body := s.body
	m.mu.Unlock()

	next, err := m.collab.ReviseTemplate(ctx, body, instruction)
	if err == nil && strings.TrimSpace(next) == "" {
		err = errors.New("empty revision")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s.state != StateProposalPending {
		return m.snapshotLocked(s), ErrSessionClosed
	}
	if err != nil {
		cerr := &CollaboratorError{Op: "revise", Err: err}
		m.finishLocked(s, StateCancelled, cerr.Error())
		return m.snapshotLocked(s), cerr
	}
	m.proposeLocked(s, strings.TrimSpace(next), instruction)
	return m.snapshotLocked(s), nil
}

// Rename changes the draft name of a create session, typically after a name conflict.
func (m *Manager) Rename(key, name string) (Snapshot, error) {
	name = strings.TrimSpace(name)
	if err := templates.ValidateName(name); err != nil {
		return Snapshot{}, err
	}
	s, err := m.acquire(key)
	if err != nil {
		return Snapshot{}, err
	}
	defer s.turn.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.state != StateAwaitingUserTurn {
		return m.snapshotLocked(s), ErrSessionClosed
	}
	if s.mode != ModeCreate {
		return m.snapshotLocked(s), ErrWrongState
	}
	s.name = name
	m.armLocked(s)
	return m.snapshotLocked(s), nil
}

// Get returns the session for key, including recently finished ones.
func (m *Manager) Get(key string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return Snapshot{}, false
	}
	return m.snapshotLocked(s), true
}

// List returns every known session ordered by key.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, m.snapshotLocked(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Close cancels sessions waiting for the user and refuses new ones. Sessions
// in the middle of a turn finish that turn and are cancelled afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, s := range m.sessions {
		if s.state == StateAwaitingUserTurn && !s.busy {
			m.finishLocked(s, StateCancelled, "shutdown")
		}
	}
}

func (m *Manager) proposeLocked(s *session, body, instruction string) {
	s.body = body
	s.history = append(s.history, Revision{Body: body, Instruction: instruction, At: m.now()})
	m.armLocked(s)
}

// armLocked (re)starts the idle timer. A fired timer whose generation is stale is ignored.
func (m *Manager) armLocked(s *session) {
	m.disarmLocked(s)
	if m.closed {
		m.finishLocked(s, StateCancelled, "shutdown")
		return
	}
	s.state = StateAwaitingUserTurn
	s.deadline = m.now().Add(m.idle)
	gen := s.gen
	s.timer = time.AfterFunc(m.idle, func() { m.expire(s, gen) })
}

func (m *Manager) disarmLocked(s *session) {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.deadline = time.Time{}
}

func (m *Manager) expire(s *session, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.gen != gen || s.state != StateAwaitingUserTurn {
		return
	}
	m.finishLocked(s, StateExpired, "idle timeout")
}

func (m *Manager) finishLocked(s *session, state State, reason string) {
	m.disarmLocked(s)
	s.state = state
	s.reason = reason
	m.log.Info().Str("session", s.id).Str("key", s.key).Str("state", string(state)).Str("reason", reason).Msg("session finished")
	time.AfterFunc(m.retention, func() {
		m.mu.Lock()
		if m.sessions[s.key] == s {
			delete(m.sessions, s.key)
		}
		m.mu.Unlock()
	})
}

func (m *Manager) snapshotLocked(s *session) Snapshot {
	h := make([]Revision, len(s.history))
	copy(h, s.history)
	return Snapshot{
		ID:        s.id,
		Key:       s.key,
		Mode:      s.mode,
		State:     s.state,
		Name:      s.name,
		Body:      s.body,
		History:   h,
		Turns:     s.turns,
		Reason:    s.reason,
		StartedAt: s.started,
		ExpiresAt: s.deadline,
	}
}
