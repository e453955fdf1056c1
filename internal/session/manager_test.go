package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"drawd/internal/templates"
)

type fakeCollab struct {
	mu         sync.Mutex
	name       string
	proposeErr error
	reviseErr  error
	revisions  []string
	// gate, when set, blocks ReviseTemplate until it receives.
	gate chan struct{}
}

func (f *fakeCollab) ProposeTemplate(_ context.Context, image []byte, hint string) (string, string, error) {
	if f.proposeErr != nil {
		return "", "", f.proposeErr
	}
	return f.name, "a scene drawn from " + string(image), nil
}

func (f *fakeCollab) ReviseTemplate(_ context.Context, body, instruction string) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reviseErr != nil {
		return "", f.reviseErr
	}
	f.revisions = append(f.revisions, instruction)
	return body + " + " + instruction, nil
}

func (f *fakeCollab) OptimizePrompt(_ context.Context, body string) (string, error) {
	return body + " (optimized)", nil
}

type write struct{ op, name, prompt string }

type fakeStore struct {
	mu     sync.Mutex
	items  map[string]string
	writes []write
}

func newFakeStore(items map[string]string) *fakeStore {
	if items == nil {
		items = map[string]string{}
	}
	return &fakeStore{items: items}
}

func (s *fakeStore) Get(_ context.Context, name string) (templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[name]
	if !ok {
		return templates.Template{}, templates.ErrNotFound
	}
	return templates.Template{Name: name, Prompt: p}, nil
}

func (s *fakeStore) Create(_ context.Context, name, prompt string) (templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[name]; ok {
		return templates.Template{}, &templates.ConflictError{Name: name}
	}
	s.items[name] = prompt
	s.writes = append(s.writes, write{"create", name, prompt})
	return templates.Template{Name: name, Prompt: prompt}, nil
}

func (s *fakeStore) Update(_ context.Context, name, prompt string) (templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[name]; !ok {
		return templates.Template{}, templates.ErrNotFound
	}
	s.items[name] = prompt
	s.writes = append(s.writes, write{"update", name, prompt})
	return templates.Template{Name: name, Prompt: prompt}, nil
}

func (s *fakeStore) Writes() []write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]write(nil), s.writes...)
}

func newTestManager(c Collaborator, s Store, idle time.Duration) *Manager {
	return NewManager(c, s, Config{IdleTimeout: idle, Retention: time.Hour})
}

var seedImage = Seed{Image: []byte("photo"), Hint: "prison theme"}

func TestCreate_ReviseThenConfirmWritesOnce(t *testing.T) {
	ctx := context.Background()
	collab := &fakeCollab{name: "jail"}
	store := newFakeStore(nil)
	m := newTestManager(collab, store, time.Minute)

	snap, err := m.Start(ctx, "admin", ModeCreate, seedImage)
	if err != nil || snap.State != StateAwaitingUserTurn || snap.Name != "jail" {
		t.Fatalf("start: %+v %v", snap, err)
	}
	snap, err = m.Turn(ctx, "admin", "make the bars thicker")
	if err != nil || snap.State != StateAwaitingUserTurn {
		t.Fatalf("revise: %+v %v", snap, err)
	}
	revised := snap.Body
	if len(snap.History) != 2 || snap.History[1].Instruction != "make the bars thicker" {
		t.Fatalf("history %+v", snap.History)
	}
	if len(store.Writes()) != 0 {
		t.Fatalf("revision must not write")
	}
	snap, err = m.Turn(ctx, "admin", "  确认 ")
	if err != nil || snap.State != StateConfirmed {
		t.Fatalf("confirm: %+v %v", snap, err)
	}
	w := store.Writes()
	if len(w) != 1 || w[0] != (write{"create", "jail", revised}) {
		t.Fatalf("expected exactly one create(jail, revised), got %+v", w)
	}
	if _, err := m.Turn(ctx, "admin", "yes"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("turn after confirm: %v", err)
	}
}

func TestCancel_LeavesRepositoryUntouched(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[string]string{"jail": "old"})
	m := newTestManager(&fakeCollab{name: "new"}, store, time.Minute)
	if _, err := m.Start(ctx, "k", ModeOptimize, Seed{Template: "jail"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap, err := m.Turn(ctx, "k", "算了")
	if err != nil || snap.State != StateCancelled {
		t.Fatalf("cancel: %+v %v", snap, err)
	}
	if len(store.Writes()) != 0 {
		t.Fatalf("cancel wrote to repository")
	}
}

func TestOptimize_InitialInstructionAndConfirmUpdates(t *testing.T) {
	ctx := context.Background()
	collab := &fakeCollab{}
	store := newFakeStore(map[string]string{"jail": "behind bars"})
	m := newTestManager(collab, store, time.Minute)

	snap, err := m.Start(ctx, "k", ModeOptimize, Seed{Template: "jail"})
	if err != nil || snap.Body != "behind bars (optimized)" || snap.Name != "jail" {
		t.Fatalf("plain optimize: %+v %v", snap, err)
	}
	if _, err := m.Cancel(ctx, "k"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	snap, err = m.Start(ctx, "k", ModeOptimize, Seed{Template: "jail", Instruction: "at night"})
	if err != nil || snap.Body != "behind bars + at night" {
		t.Fatalf("instructed optimize: %+v %v", snap, err)
	}
	if _, err := m.Turn(ctx, "k", "ok"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if w := store.Writes(); len(w) != 1 || w[0].op != "update" || w[0].prompt != "behind bars + at night" {
		t.Fatalf("writes %+v", w)
	}
}

func TestStart_Validation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(&fakeCollab{name: "x"}, newFakeStore(nil), time.Minute)
	if _, err := m.Start(ctx, "k", ModeCreate, Seed{Hint: "no image"}); !errors.Is(err, ErrInvalidSeed) {
		t.Fatalf("expected invalid seed, got %v", err)
	}
	if _, err := m.Start(ctx, "k", ModeOptimize, Seed{}); !errors.Is(err, ErrInvalidSeed) {
		t.Fatalf("expected invalid seed, got %v", err)
	}
	snap, err := m.Start(ctx, "k", ModeOptimize, Seed{Template: "missing"})
	if !templates.IsNotFound(err) || snap.State != StateCancelled {
		t.Fatalf("missing template: %+v %v", snap, err)
	}
	if _, err := m.Start(ctx, "k", ModeCreate, seedImage); err != nil {
		t.Fatalf("start after cancelled session: %v", err)
	}
	if _, err := m.Start(ctx, "k", ModeCreate, seedImage); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	if _, err := m.Turn(ctx, "k", "   "); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := m.Turn(ctx, "other", "yes"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestCollaboratorFailureCancelsSession(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(&fakeCollab{proposeErr: errors.New("llm down")}, newFakeStore(nil), time.Minute)
	snap, err := m.Start(ctx, "k", ModeCreate, seedImage)
	if !IsCollaboratorFailure(err) || snap.State != StateCancelled || snap.Reason == "" {
		t.Fatalf("start failure: %+v %v", snap, err)
	}

	collab := &fakeCollab{name: "x"}
	m = newTestManager(collab, newFakeStore(nil), time.Minute)
	if _, err := m.Start(ctx, "k", ModeCreate, seedImage); err != nil {
		t.Fatalf("start: %v", err)
	}
	collab.mu.Lock()
	collab.reviseErr = errors.New("timeout")
	collab.mu.Unlock()
	snap, err = m.Turn(ctx, "k", "brighter")
	if !IsCollaboratorFailure(err) || snap.State != StateCancelled {
		t.Fatalf("revise failure: %+v %v", snap, err)
	}

	incomplete := newTestManager(&fakeCollab{name: ""}, newFakeStore(nil), time.Minute)
	if _, err := incomplete.Start(ctx, "k", ModeCreate, seedImage); !IsCollaboratorFailure(err) {
		t.Fatalf("incomplete proposal should fail, got %v", err)
	}
}

func TestConfirm_NameConflictThenRename(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[string]string{"jail": "taken"})
	m := newTestManager(&fakeCollab{name: "jail"}, store, time.Minute)
	if _, err := m.Start(ctx, "k", ModeCreate, seedImage); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap, err := m.Turn(ctx, "k", "yes")
	var ce *templates.ConflictError
	if !errors.As(err, &ce) || ce.Name != "jail" || snap.State != StateAwaitingUserTurn {
		t.Fatalf("expected conflict keeping the session open: %+v %v", snap, err)
	}
	if _, err := m.Rename("k", ""); err == nil {
		t.Fatalf("empty name accepted")
	}
	if snap, err := m.Rename("k", "jail-2"); err != nil || snap.Name != "jail-2" {
		t.Fatalf("rename: %+v %v", snap, err)
	}
	if snap, err := m.Turn(ctx, "k", "yes"); err != nil || snap.State != StateConfirmed {
		t.Fatalf("confirm after rename: %+v %v", snap, err)
	}
	if w := store.Writes(); len(w) != 1 || w[0].name != "jail-2" {
		t.Fatalf("writes %+v", w)
	}
}

func TestIdleTimeoutExpires(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(nil)
	m := newTestManager(&fakeCollab{name: "x"}, store, 20*time.Millisecond)
	snap, err := m.Start(ctx, "k", ModeCreate, seedImage)
	if err != nil || snap.ExpiresAt.IsZero() {
		t.Fatalf("start: %+v %v", snap, err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if s, _ := m.Get("k"); s.State == StateExpired {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := m.Turn(ctx, "k", "yes"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
	if len(store.Writes()) != 0 {
		t.Fatalf("expired session wrote to repository")
	}
}

func TestTurnsAreSerialized(t *testing.T) {
	ctx := context.Background()
	collab := &fakeCollab{name: "x", gate: make(chan struct{})}
	store := newFakeStore(nil)
	m := newTestManager(collab, store, time.Minute)
	if _, err := m.Start(ctx, "k", ModeCreate, seedImage); err != nil {
		t.Fatalf("start: %v", err)
	}

	reviseDone := make(chan Snapshot, 1)
	go func() {
		snap, _ := m.Turn(ctx, "k", "more fog")
		reviseDone <- snap
	}()
	waitState(t, m, "k", StateProposalPending)

	confirmDone := make(chan Snapshot, 1)
	go func() {
		snap, _ := m.Turn(ctx, "k", "yes")
		confirmDone <- snap
	}()
	// Get does not block on the in-flight revision
	if s, ok := m.Get("k"); !ok || s.State != StateProposalPending {
		t.Fatalf("get during revision: %+v", s)
	}
	select {
	case <-confirmDone:
		t.Fatalf("confirm overtook the in-flight revision")
	case <-time.After(20 * time.Millisecond):
	}
	collab.gate <- struct{}{}
	revised := <-reviseDone
	final := <-confirmDone
	if final.State != StateConfirmed {
		t.Fatalf("confirm: %+v", final)
	}
	if w := store.Writes(); len(w) != 1 || w[0].prompt != revised.Body {
		t.Fatalf("confirm did not save the revised draft: %+v", w)
	}
}

func TestClose_CancelsWaitingSessions(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(&fakeCollab{name: "x"}, newFakeStore(nil), time.Minute)
	if _, err := m.Start(ctx, "a", ModeCreate, seedImage); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Close()
	if s, _ := m.Get("a"); s.State != StateCancelled {
		t.Fatalf("state after close %s", s.State)
	}
	if _, err := m.Start(ctx, "b", ModeCreate, seedImage); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
	if list := m.List(); len(list) != 1 || list[0].Key != "a" {
		t.Fatalf("list %+v", list)
	}
}

func waitState(t *testing.T, m *Manager, key string, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s, _ := m.Get(key); s.State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session %s never reached %s", key, want)
}
