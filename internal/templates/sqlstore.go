package templates

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"drawd/internal/common/fsutil"
)

const schema = `
CREATE TABLE IF NOT EXISTS templates (
    name TEXT PRIMARY KEY,
    prompt TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

// SQLStore keeps templates in a SQLite database.
type SQLStore struct {
	db   *sql.DB
	now  func() time.Time
	log  zerolog.Logger
	view view
}

// OpenSQL opens (or creates) the database at path and seeds defaults into an
// empty table. Use ":memory:" for a throwaway store.
func OpenSQL(ctx context.Context, path string, opts Options) (*SQLStore, error) {
	opts = opts.withDefaults()
	dsn := path
	if path != ":memory:" {
		p, err := fsutil.ExpandHome(path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = p
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	s := &SQLStore{db: db, now: opts.Now, log: opts.Logger.With().Str("store", "sqlite").Logger()}
	if err := s.seed(ctx, opts.Defaults); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := s.Reload(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) seed(ctx context.Context, defaults map[string]string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM templates`).Scan(&n); err != nil {
		return fmt.Errorf("count templates: %w", err)
	}
	if n > 0 || len(defaults) == 0 {
		return nil
	}
	now := formatTime(s.now())
	for name, prompt := range defaults {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO templates (name, prompt, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			name, prompt, now, now); err != nil {
			return fmt.Errorf("seed template %s: %w", name, err)
		}
	}
	s.log.Info().Int("count", len(defaults)).Msg("seeded default templates")
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

func (s *SQLStore) Create(ctx context.Context, name, prompt string) (Template, error) {
	if err := validate(name, prompt); err != nil {
		return Template{}, err
	}
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (name, prompt, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, prompt, formatTime(now), formatTime(now))
	if err != nil {
		return Template{}, fmt.Errorf("insert template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Template{}, &ConflictError{Name: name}
	}
	t := Template{Name: name, Prompt: prompt, CreatedAt: now, UpdatedAt: now}
	s.view.put(t)
	return t, nil
}

func (s *SQLStore) Update(ctx context.Context, name, prompt string) (Template, error) {
	if err := validate(name, prompt); err != nil {
		return Template{}, err
	}
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE templates SET prompt = ?, updated_at = ? WHERE name = ?`,
		prompt, formatTime(now), name)
	if err != nil {
		return Template{}, fmt.Errorf("update template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Template{}, notFound(name)
	}
	t, err := s.load(ctx, name)
	if err != nil {
		return Template{}, err
	}
	s.view.put(t)
	return t, nil
}

func (s *SQLStore) load(ctx context.Context, name string) (Template, error) {
	var t Template
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, prompt, created_at, updated_at FROM templates WHERE name = ?`, name).
		Scan(&t.Name, &t.Prompt, &created, &updated)
	if err == sql.ErrNoRows {
		return Template{}, notFound(name)
	}
	if err != nil {
		return Template{}, err
	}
	t.CreatedAt, t.UpdatedAt = parseTime(created), parseTime(updated)
	return t, nil
}

func (s *SQLStore) Delete(ctx context.Context, names ...string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	var deleted []string
	for _, n := range names {
		res, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE name = ?`, n)
		if err != nil {
			return nil, fmt.Errorf("delete template %s: %w", n, err)
		}
		if c, _ := res.RowsAffected(); c > 0 {
			deleted = append(deleted, n)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.view.remove(deleted)
	return deleted, nil
}

func (s *SQLStore) Get(_ context.Context, name string) (Template, error) {
	if t, ok := s.view.get(name); ok {
		return t, nil
	}
	return Template{}, notFound(name)
}

func (s *SQLStore) List(context.Context) ([]Template, error) { return s.view.list(), nil }

func (s *SQLStore) Reload(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, prompt, created_at, updated_at FROM templates`)
	if err != nil {
		return 0, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	items := make(map[string]Template)
	for rows.Next() {
		var t Template
		var created, updated string
		if err := rows.Scan(&t.Name, &t.Prompt, &created, &updated); err != nil {
			return 0, err
		}
		t.CreatedAt, t.UpdatedAt = parseTime(created), parseTime(updated)
		items[t.Name] = t
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return s.view.replace(items), nil
}

func (s *SQLStore) Clear(context.Context) int { return s.view.clear() }

func (s *SQLStore) Purge(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates`)
	if err != nil {
		return 0, fmt.Errorf("purge templates: %w", err)
	}
	n, _ := res.RowsAffected()
	s.view.clear()
	return int(n), nil
}
