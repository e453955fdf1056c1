package studio

import (
	"context"
	"errors"
	"strings"

	"drawd/internal/session"
	"drawd/internal/templates"
)

// ErrNoCollaborator is returned by session operations when no AI collaborator is configured.
var ErrNoCollaborator = errors.New("no AI collaborator configured")

func require(c Caller) error {
	if !c.Privileged {
		return ErrForbidden
	}
	return nil
}

// Templates lists every template ordered by name. Anyone may list.
func (s *Service) Templates(ctx context.Context) ([]templates.Template, error) {
	return s.repo.List(ctx)
}

// Template resolves a template by name or 1-based index.
func (s *Service) Template(ctx context.Context, ref string) (templates.Template, error) {
	return templates.Resolve(ctx, s.repo, ref)
}

func (s *Service) AddTemplate(ctx context.Context, c Caller, name, body string) (templates.Template, error) {
	if err := require(c); err != nil {
		return templates.Template{}, err
	}
	t, err := s.repo.Create(ctx, strings.TrimSpace(name), body)
	if err == nil {
		s.log.Info().Str("template", t.Name).Str("caller", c.ID).Msg("template added")
	}
	return t, err
}

// EditTemplate replaces the body of the template named (or indexed) by ref.
func (s *Service) EditTemplate(ctx context.Context, c Caller, ref, body string) (templates.Template, error) {
	if err := require(c); err != nil {
		return templates.Template{}, err
	}
	cur, err := templates.Resolve(ctx, s.repo, ref)
	if err != nil {
		return templates.Template{}, err
	}
	t, err := s.repo.Update(ctx, cur.Name, body)
	if err == nil {
		s.log.Info().Str("template", t.Name).Str("caller", c.ID).Msg("template updated")
	}
	return t, err
}

// DeleteTemplates removes the referenced templates and reports which refs
// did not resolve.
func (s *Service) DeleteTemplates(ctx context.Context, c Caller, refs ...string) (deleted, missing []string, err error) {
	if err := require(c); err != nil {
		return nil, nil, err
	}
	// Resolve every index against the same listing before deleting anything.
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		t, err := templates.Resolve(ctx, s.repo, ref)
		if templates.IsNotFound(err) || errors.Is(err, templates.ErrInvalidName) {
			missing = append(missing, ref)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		names = append(names, t.Name)
	}
	if len(names) > 0 {
		deleted, err = s.repo.Delete(ctx, names...)
		if err != nil {
			return nil, nil, err
		}
	}
	s.log.Info().Strs("deleted", deleted).Strs("missing", missing).Str("caller", c.ID).Msg("templates deleted")
	return deleted, missing, nil
}

// ReloadTemplates re-reads storage into memory.
func (s *Service) ReloadTemplates(ctx context.Context, c Caller) (int, error) {
	if err := require(c); err != nil {
		return 0, err
	}
	return s.repo.Reload(ctx)
}

// ClearTemplates empties the in-memory set; storage is untouched until Reload.
func (s *Service) ClearTemplates(ctx context.Context, c Caller) (int, error) {
	if err := require(c); err != nil {
		return 0, err
	}
	n := s.repo.Clear(ctx)
	s.log.Warn().Int("cleared", n).Str("caller", c.ID).Msg("template view cleared")
	return n, nil
}

// StartSession opens a create or optimize session keyed by the caller.
func (s *Service) StartSession(ctx context.Context, c Caller, mode session.Mode, seed session.Seed) (session.Snapshot, error) {
	if err := s.sessionGate(c); err != nil {
		return session.Snapshot{}, err
	}
	if mode == session.ModeOptimize && strings.TrimSpace(seed.Template) != "" {
		t, err := templates.Resolve(ctx, s.repo, seed.Template)
		if err != nil {
			return session.Snapshot{}, err
		}
		seed.Template = t.Name
	}
	return s.sessions.Start(ctx, c.ID, mode, seed)
}

// Respond feeds one reply into the caller's session.
func (s *Service) Respond(ctx context.Context, c Caller, input string) (session.Snapshot, error) {
	if err := s.sessionGate(c); err != nil {
		return session.Snapshot{}, err
	}
	return s.sessions.Turn(ctx, c.ID, input)
}

func (s *Service) RenameSession(c Caller, name string) (session.Snapshot, error) {
	if err := s.sessionGate(c); err != nil {
		return session.Snapshot{}, err
	}
	return s.sessions.Rename(c.ID, name)
}

func (s *Service) CancelSession(ctx context.Context, c Caller) (session.Snapshot, error) {
	if err := s.sessionGate(c); err != nil {
		return session.Snapshot{}, err
	}
	return s.sessions.Cancel(ctx, c.ID)
}

// Session returns the caller's current or most recent session.
func (s *Service) Session(c Caller) (session.Snapshot, error) {
	if err := s.sessionGate(c); err != nil {
		return session.Snapshot{}, err
	}
	snap, ok := s.sessions.Get(c.ID)
	if !ok {
		return session.Snapshot{}, session.ErrNoSession
	}
	return snap, nil
}

// Sessions lists every tracked session.
func (s *Service) Sessions(c Caller) ([]session.Snapshot, error) {
	if err := s.sessionGate(c); err != nil {
		return nil, err
	}
	return s.sessions.List(), nil
}

func (s *Service) sessionGate(c Caller) error {
	if err := require(c); err != nil {
		return err
	}
	if s.sessions == nil {
		return ErrNoCollaborator
	}
	return nil
}
