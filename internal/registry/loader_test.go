package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeModels(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("gguf"), 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
}

func TestLoadDir_FiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	writeModels(t, dir, "b.GGUF", "a.gguf", "not-model.txt", "model.bin")
	if err := os.Mkdir(filepath.Join(dir, "sub.gguf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	models, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(models) != 2 || models[0].ID != "a.gguf" || models[1].ID != "b.GGUF" {
		t.Fatalf("unexpected models: %+v", models)
	}
	if models[0].Size != 4 || !filepath.IsAbs(models[0].Path) {
		t.Fatalf("unexpected metadata: %+v", models[0])
	}
}

func TestLoadDir_ExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.Mkdir(filepath.Join(home, "models"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeModels(t, filepath.Join(home, "models"), "x.gguf")
	models, err := LoadDir("~/models")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(models) != 1 || models[0].ID != "x.gguf" {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	writeModels(t, dir, "qwen-7b.gguf", "llama-3.gguf")

	m, err := Resolve(dir, "")
	if err != nil || m.ID != "llama-3.gguf" {
		t.Fatalf("default pick: %+v %v", m, err)
	}
	m, err = Resolve(dir, "QWEN-7B")
	if err != nil || m.ID != "qwen-7b.gguf" {
		t.Fatalf("pick by stem: %+v %v", m, err)
	}
	m, err = Resolve(filepath.Join(dir, "qwen-7b.gguf"), "ignored")
	if err != nil || m.ID != "qwen-7b.gguf" {
		t.Fatalf("direct file: %+v %v", m, err)
	}
	if _, err := Resolve(dir, "mistral"); err == nil {
		t.Fatalf("expected not found")
	}
	if _, err := Resolve(t.TempDir(), ""); !errors.Is(err, ErrNoModels) {
		t.Fatalf("expected ErrNoModels, got %v", err)
	}
	writeModels(t, dir, "notes.txt")
	if _, err := Resolve(filepath.Join(dir, "notes.txt"), ""); err == nil {
		t.Fatalf("expected error for non-gguf file")
	}
}
