package templates

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"drawd/internal/common/fsutil"
)

// FileStore persists templates in a TOML document, one table per template:
//
//	[figure]
//	prompt = "..."
//	created_at = 2025-01-01T12:00:00Z
//	updated_at = 2025-01-01T12:00:00Z
//
// Plain `name = "prompt"` entries are accepted on read.
type FileStore struct {
	path string
	now  func() time.Time
	log  zerolog.Logger
	view view
	// wmu serializes read-modify-write cycles on the file.
	wmu sync.Mutex
}

type fileEntry struct {
	Prompt    string    `toml:"prompt"`
	CreatedAt time.Time `toml:"created_at"`
	UpdatedAt time.Time `toml:"updated_at"`
}

// OpenFile loads path, creating it with the default templates when missing.
func OpenFile(ctx context.Context, path string, opts Options) (*FileStore, error) {
	opts = opts.withDefaults()
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	s := &FileStore{path: p, now: opts.Now, log: opts.Logger.With().Str("store", "file").Str("path", p).Logger()}
	if !fsutil.PathExists(p) {
		now := s.now().UTC()
		seed := make(map[string]Template, len(opts.Defaults))
		for name, prompt := range opts.Defaults {
			seed[name] = Template{Name: name, Prompt: prompt, CreatedAt: now, UpdatedAt: now}
		}
		if err := s.write(seed); err != nil {
			return nil, fmt.Errorf("seed templates: %w", err)
		}
		s.log.Info().Int("count", len(seed)).Msg("created template file with defaults")
	}
	if _, err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) read() (map[string]Template, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Template{}, nil
		}
		return nil, err
	}
	var raw map[string]any
	if err := toml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	out := make(map[string]Template, len(raw))
	for name, v := range raw {
		t := Template{Name: name}
		switch e := v.(type) {
		case string:
			t.Prompt = e
		case map[string]any:
			t.Prompt, _ = e["prompt"].(string)
			t.CreatedAt = tomlTime(e["created_at"])
			t.UpdatedAt = tomlTime(e["updated_at"])
		default:
			s.log.Warn().Str("template", name).Msg("skipping malformed template entry")
			continue
		}
		out[name] = t
	}
	return out, nil
}

func tomlTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case toml.LocalDateTime:
		return t.AsTime(time.UTC)
	}
	return time.Time{}
}

func (s *FileStore) write(items map[string]Template) error {
	doc := make(map[string]fileEntry, len(items))
	for name, t := range items {
		doc[name] = fileEntry{Prompt: t.Prompt, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt}
	}
	b, err := toml.Marshal(doc)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.path, b, 0o644)
}

// mutate applies fn to the current file contents and writes the result back.
func (s *FileStore) mutate(fn func(items map[string]Template) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	items, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(items); err != nil {
		return err
	}
	return s.write(items)
}

func (s *FileStore) Create(_ context.Context, name, prompt string) (Template, error) {
	if err := validate(name, prompt); err != nil {
		return Template{}, err
	}
	now := s.now().UTC()
	t := Template{Name: name, Prompt: prompt, CreatedAt: now, UpdatedAt: now}
	err := s.mutate(func(items map[string]Template) error {
		if _, exists := items[name]; exists {
			return &ConflictError{Name: name}
		}
		items[name] = t
		return nil
	})
	if err != nil {
		return Template{}, err
	}
	s.view.put(t)
	s.log.Info().Str("template", name).Msg("template created")
	return t, nil
}

func (s *FileStore) Update(_ context.Context, name, prompt string) (Template, error) {
	if err := validate(name, prompt); err != nil {
		return Template{}, err
	}
	var t Template
	err := s.mutate(func(items map[string]Template) error {
		cur, ok := items[name]
		if !ok {
			return notFound(name)
		}
		cur.Prompt = prompt
		cur.UpdatedAt = s.now().UTC()
		items[name] = cur
		t = cur
		return nil
	})
	if err != nil {
		return Template{}, err
	}
	s.view.put(t)
	s.log.Info().Str("template", name).Msg("template updated")
	return t, nil
}

func (s *FileStore) Delete(_ context.Context, names ...string) ([]string, error) {
	var deleted []string
	err := s.mutate(func(items map[string]Template) error {
		for _, n := range names {
			if _, ok := items[n]; ok {
				delete(items, n)
				deleted = append(deleted, n)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.view.remove(deleted)
	return deleted, nil
}

func (s *FileStore) Get(_ context.Context, name string) (Template, error) {
	if t, ok := s.view.get(name); ok {
		return t, nil
	}
	return Template{}, notFound(name)
}

func (s *FileStore) List(context.Context) ([]Template, error) { return s.view.list(), nil }

func (s *FileStore) Reload(context.Context) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	items, err := s.read()
	if err != nil {
		return 0, err
	}
	n := s.view.replace(items)
	s.log.Info().Int("count", n).Msg("templates loaded")
	return n, nil
}

func (s *FileStore) Clear(context.Context) int { return s.view.clear() }

func (s *FileStore) Purge(context.Context) (int, error) {
	var n int
	err := s.mutate(func(items map[string]Template) error {
		n = len(items)
		for k := range items {
			delete(items, k)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.view.clear()
	return n, nil
}
