// Package templates stores named prompt templates. Two backends share one
// contract: FileStore keeps a TOML document on disk, SQLStore a SQLite table.
// Both serve reads from an in-memory view that Reload refreshes and Clear
// empties without touching storage.
package templates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Template is a named reusable prompt fragment.
type Template struct {
	Name      string
	Prompt    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	ErrNotFound     = errors.New("template not found")
	ErrNameConflict = errors.New("template name already exists")
	ErrInvalidName  = errors.New("invalid template name")
	ErrEmptyPrompt  = errors.New("template prompt is empty")
)

// ConflictError carries the colliding name. It matches ErrNameConflict with errors.Is.
type ConflictError struct{ Name string }

func (e *ConflictError) Error() string { return fmt.Sprintf("template %q already exists", e.Name) }

func (e *ConflictError) Is(target error) bool { return target == ErrNameConflict }

// IsNameConflict reports whether err is a name collision.
func IsNameConflict(err error) bool { return errors.Is(err, ErrNameConflict) }

// IsNotFound reports whether err means the template does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IndexError is returned by Resolve for a numeric selector outside 1..Count.
type IndexError struct {
	Input string
	Count int
}

func (e *IndexError) Error() string {
	if e.Count == 0 {
		return fmt.Sprintf("template index %s: no templates defined", e.Input)
	}
	return fmt.Sprintf("template index %s out of range 1..%d", e.Input, e.Count)
}

func (e *IndexError) Is(target error) bool { return target == ErrNotFound }

// Repository is the persistence contract used by the draw path and sessions.
type Repository interface {
	Create(ctx context.Context, name, prompt string) (Template, error)
	Update(ctx context.Context, name, prompt string) (Template, error)
	// Delete removes the named templates and returns the names that existed.
	Delete(ctx context.Context, names ...string) ([]string, error)
	Get(ctx context.Context, name string) (Template, error)
	// List returns every template ordered by name.
	List(ctx context.Context) ([]Template, error)
	// Reload replaces the in-memory view with storage and returns the count.
	Reload(ctx context.Context) (int, error)
	// Clear empties the in-memory view only and returns how many were dropped.
	Clear(ctx context.Context) int
	// Purge deletes every template from storage and memory.
	Purge(ctx context.Context) (int, error)
}

// DefaultTemplates seed a store whose storage does not exist yet.
var DefaultTemplates = map[string]string{
	"figure":  "Turn the subject into a 1/7 scale collectible figure standing on a round acrylic base on a desk, with the figure's retail box behind it and soft studio lighting.",
	"sticker": "Redraw the subject as a die-cut cartoon sticker with a thick white border, flat colors and a subtle drop shadow on a plain background.",
}

// Resolve maps user input to a template. Input made only of digits is a
// 1-based index into List; anything else is a name.
func Resolve(ctx context.Context, repo Repository, input string) (Template, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Template{}, ErrInvalidName
	}
	if isDigits(input) {
		all, err := repo.List(ctx)
		if err != nil {
			return Template{}, err
		}
		idx, err := strconv.Atoi(input)
		if err != nil || idx < 1 || idx > len(all) {
			return Template{}, &IndexError{Input: input, Count: len(all)}
		}
		return all[idx-1], nil
	}
	return repo.Get(ctx, input)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ValidateName rejects names that cannot be addressed unambiguously.
func ValidateName(name string) error {
	switch {
	case name == "" || strings.TrimSpace(name) != name:
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case utf8.RuneCountInString(name) > 64:
		return fmt.Errorf("%w: longer than 64 characters", ErrInvalidName)
	case strings.ContainsAny(name, "\r\n\t"):
		return fmt.Errorf("%w: contains control characters", ErrInvalidName)
	case isDigits(name):
		return fmt.Errorf("%w: %q would shadow an index", ErrInvalidName, name)
	}
	return nil
}

func validate(name, prompt string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

func notFound(name string) error { return fmt.Errorf("%w: %s", ErrNotFound, name) }

func sortedList(m map[string]Template) []Template {
	out := make([]Template, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
