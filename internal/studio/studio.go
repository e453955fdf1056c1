// Package studio is the caller-facing surface of drawd. It turns draw requests
// into dispatcher submissions and gates template administration and template
// sessions behind caller privilege.
package studio

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"drawd/internal/dispatch"
	"drawd/internal/engine"
	"drawd/internal/prompt"
	"drawd/internal/session"
	"drawd/internal/templates"
	"drawd/pkg/types"
)

var (
	ErrForbidden         = errors.New("operation requires a privileged caller")
	ErrEmptyRequest      = errors.New("a prompt, a template or an image is required")
	ErrAPIEngineDisabled = errors.New("the api engine is disabled for regular callers")
	ErrDrawInProgress    = errors.New("a draw from this caller is still being prepared")
)

// Caller identifies who is asking.
type Caller struct {
	ID         string
	Privileged bool
}

// DrawInput is one draw request before prompt composition.
type DrawInput struct {
	Prompt string
	// Engine is parsed with engine.ParseKind; empty selects the configured default.
	Engine   string
	Template string
	// Optimize overrides the configured default when set.
	Optimize *bool
	Images   [][]byte
}

// Estimate is the admission-time queue view of a draw.
type Estimate struct {
	Position int
	Wait     time.Duration
}

// Config holds the caller-policy knobs.
type Config struct {
	DefaultEngine    engine.Kind
	DisableAPIEngine bool
	DefaultOptimize  bool
	Logger           *zerolog.Logger
}

// Service wires the dispatcher, template repository, session manager and
// prompt optimizer together.
type Service struct {
	disp     *dispatch.Dispatcher
	repo     templates.Repository
	sessions *session.Manager
	opt      prompt.Optimizer
	cfg      Config
	log      zerolog.Logger

	mu        sync.Mutex
	preparing map[string]struct{} // regular callers between cooldown check and Submit
}

// New returns a Service. opt and sessions may be nil when no collaborator is
// configured; optimization is then skipped and session operations fail.
func New(disp *dispatch.Dispatcher, repo templates.Repository, sessions *session.Manager, opt prompt.Optimizer, cfg Config) *Service {
	if cfg.DefaultEngine == "" {
		cfg.DefaultEngine = engine.KindAny
	}
	s := &Service{disp: disp, repo: repo, sessions: sessions, opt: opt, cfg: cfg, log: zerolog.Nop(), preparing: map[string]struct{}{}}
	if cfg.Logger != nil {
		s.log = cfg.Logger.With().Str("component", "studio").Logger()
	}
	return s
}

// Draw validates, composes and submits a draw request.
func (s *Service) Draw(ctx context.Context, c Caller, in DrawInput) (*dispatch.Ticket, Estimate, error) {
	text := strings.TrimSpace(in.Prompt)
	tmplName := strings.TrimSpace(in.Template)
	if text == "" && tmplName == "" && len(in.Images) == 0 {
		return nil, Estimate{}, ErrEmptyRequest
	}
	kind, err := s.engineFor(c, in.Engine)
	if err != nil {
		return nil, Estimate{}, err
	}
	var body string
	if tmplName != "" {
		t, err := templates.Resolve(ctx, s.repo, tmplName)
		if err != nil {
			return nil, Estimate{}, err
		}
		tmplName, body = t.Name, t.Prompt
	}
	// Check admission before spending a collaborator call on the prompt. The
	// cooldown is armed by Submit, so a caller holds a claim until then.
	if !c.Privileged {
		if ok, rem := s.disp.UserCooldown(c.ID); ok {
			return nil, Estimate{}, &dispatch.AdmissionError{Reason: dispatch.ReasonCooldown, Kind: kind, Remaining: rem}
		}
		if !s.claim(c.ID) {
			return nil, Estimate{}, ErrDrawInProgress
		}
		defer s.unclaim(c.ID)
	}
	optimize := s.cfg.DefaultOptimize
	if in.Optimize != nil {
		optimize = *in.Optimize
	}
	final := prompt.Build(s.log.WithContext(ctx), s.opt, text, body, in.Images, optimize)
	if final == "" {
		// Image-only request without instructions.
		final = "Redraw the attached image."
	}
	ticket, err := s.disp.Submit(ctx, dispatch.Request{
		Caller:     c.ID,
		Privileged: c.Privileged,
		Kind:       kind,
		Job:        engine.Job{Prompt: final, Images: in.Images, Template: tmplName},
	})
	if err != nil {
		return nil, Estimate{}, err
	}
	est := Estimate{}
	if pos, err := s.disp.Position(ticket.ID()); err == nil {
		est.Position = pos
	}
	if wait, err := s.disp.Estimate(ticket.ID()); err == nil {
		est.Wait = wait
	}
	s.log.Info().Str("request", ticket.ID()).Str("caller", c.ID).Str("kind", string(kind)).
		Bool("optimized", optimize).Str("template", tmplName).Msg("draw submitted")
	return ticket, est, nil
}

func (s *Service) claim(caller string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.preparing[caller]; busy {
		return false
	}
	s.preparing[caller] = struct{}{}
	return true
}

func (s *Service) unclaim(caller string) {
	s.mu.Lock()
	delete(s.preparing, caller)
	s.mu.Unlock()
}

func (s *Service) engineFor(c Caller, requested string) (engine.Kind, error) {
	kind := s.cfg.DefaultEngine
	if strings.TrimSpace(requested) != "" {
		k, err := engine.ParseKind(requested)
		if err != nil {
			return "", &dispatch.AdmissionError{Reason: dispatch.ReasonUnknownEngine, Kind: engine.Kind(requested)}
		}
		kind = k
	}
	if !s.cfg.DisableAPIEngine || c.Privileged {
		return kind, nil
	}
	switch kind {
	case engine.KindAPI:
		return "", ErrAPIEngineDisabled
	case engine.KindAny:
		return engine.KindWeb, nil
	}
	return kind, nil
}

// Cancel cancels a request. Regular callers may only cancel their own.
func (s *Service) Cancel(c Caller, id string) (dispatch.CancelOutcome, error) {
	if !c.Privileged {
		res, ok := s.disp.Lookup(id)
		if !ok {
			return "", dispatch.ErrRequestNotFound
		}
		if res.Caller != c.ID {
			return "", ErrForbidden
		}
	}
	return s.disp.Cancel(id)
}

// Lookup returns a request with its live queue position and wait estimate.
func (s *Service) Lookup(id string) (dispatch.Result, Estimate, bool) {
	res, ok := s.disp.Lookup(id)
	if !ok {
		return dispatch.Result{}, Estimate{}, false
	}
	est := Estimate{}
	if res.State == dispatch.StateQueued || res.State == dispatch.StateDispatched {
		est.Position, _ = s.disp.Position(id)
		est.Wait, _ = s.disp.Estimate(id)
	}
	return res, est, true
}

// Dispatcher exposes the underlying dispatcher to the process lifecycle.
func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.disp }

// Ready reports whether any slot can take work.
func (s *Service) Ready() bool { return s.disp.Ready() }

// Status reports queue and slot state.
func (s *Service) Status() types.QueueStatus { return s.disp.Status() }

// SetSlotEnabled takes a slot in or out of rotation.
func (s *Service) SetSlotEnabled(c Caller, id string, enabled bool) error {
	if err := require(c); err != nil {
		return err
	}
	if enabled {
		return s.disp.EnableSlot(id)
	}
	return s.disp.DisableSlot(id)
}

// ClearCooldowns lifts a caller's draw cooldown and reports whether one was active.
func (s *Service) ClearCooldowns(c Caller, caller string) (bool, error) {
	if err := require(c); err != nil {
		return false, err
	}
	return s.disp.ClearUserCooldown(caller), nil
}

// Events returns up to n recent dispatcher events.
func (s *Service) Events(c Caller, n int) ([]dispatch.Event, error) {
	if err := require(c); err != nil {
		return nil, err
	}
	return s.disp.Events(n), nil
}
