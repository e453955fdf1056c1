// Package registry locates gguf model files for the in-process collaborator.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"drawd/internal/common/fsutil"
)

// ErrNoModels is returned when a directory holds no gguf files.
var ErrNoModels = errors.New("no gguf models found")

// Model is one gguf file on disk.
type Model struct {
	ID   string
	Path string
	Size int64
}

// LoadDir scans dir for *.gguf files (case-insensitive), sorted by filename.
// ID is the filename; Path is absolute.
func LoadDir(dir string) ([]Model, error) {
	abs, err := absPath(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []Model
	for _, e := range entries {
		if e.IsDir() || !isGGUF(e.Name()) {
			continue
		}
		m := Model{ID: e.Name(), Path: filepath.Join(abs, e.Name())}
		if info, err := e.Info(); err == nil {
			m.Size = info.Size()
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Resolve turns a configured model location into a file path. path may name a
// gguf file directly or a directory; in a directory, id picks a file by name
// (with or without extension) and an empty id picks the first file.
func Resolve(path, id string) (Model, error) {
	abs, err := absPath(path)
	if err != nil {
		return Model{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Model{}, fmt.Errorf("model path: %w", err)
	}
	if !info.IsDir() {
		if !isGGUF(abs) {
			return Model{}, fmt.Errorf("model path %s is not a gguf file", abs)
		}
		return Model{ID: filepath.Base(abs), Path: abs, Size: info.Size()}, nil
	}
	models, err := LoadDir(abs)
	if err != nil {
		return Model{}, err
	}
	if len(models) == 0 {
		return Model{}, fmt.Errorf("%w in %s", ErrNoModels, abs)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return models[0], nil
	}
	for _, m := range models {
		if strings.EqualFold(m.ID, id) || strings.EqualFold(strings.TrimSuffix(m.ID, filepath.Ext(m.ID)), id) {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("model %q not found in %s", id, abs)
}

func absPath(p string) (string, error) {
	base, err := fsutil.ExpandHome(p)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}
	return abs, nil
}

func isGGUF(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".gguf")
}
