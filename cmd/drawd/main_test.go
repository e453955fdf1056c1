package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"drawd/internal/config"
	"drawd/internal/engine"
	"drawd/internal/httpapi"
	"drawd/internal/registry"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&App{Out: &out, Err: &errOut})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "drawd dev") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTemplatesLifecycle(t *testing.T) {
	store := filepath.Join(t.TempDir(), "templates.toml")
	tpl := func(args ...string) string {
		t.Helper()
		out, err := execute(t, append(append([]string{"templates"}, args...), "--store", store)...)
		if err != nil {
			t.Fatalf("templates %v: %v", args, err)
		}
		return out
	}

	if out := tpl("add", "cat", "a cat in a hat"); !strings.Contains(out, "created cat") {
		t.Fatalf("add output %q", out)
	}
	out := tpl("list")
	for _, want := range []string{"NAME", "1  cat", "figure", "sticker", "now"} {
		if !strings.Contains(out, want) {
			t.Fatalf("list output missing %q:\n%s", want, out)
		}
	}

	tpl("edit", "1", "a dog in a hat")
	if out := tpl("show", "cat"); !strings.Contains(out, "a dog in a hat") || !strings.Contains(out, "name:    cat") {
		t.Fatalf("show output %q", out)
	}

	if out := tpl("delete", "1"); !strings.Contains(out, "deleted cat") {
		t.Fatalf("delete output %q", out)
	}
	if out := tpl("list"); strings.Contains(out, " cat ") {
		t.Fatalf("cat still listed:\n%s", out)
	}
}

func TestTemplatesErrors(t *testing.T) {
	store := filepath.Join(t.TempDir(), "templates.db")
	tpl := func(args ...string) (string, error) {
		t.Helper()
		return execute(t, append(append([]string{"templates"}, args...), "--backend", "sqlite", "--store", store)...)
	}

	if _, err := tpl("add", "figure", "dup"); err == nil {
		t.Fatalf("expected conflict for seeded name")
	}
	if _, err := tpl("add", "empty"); err == nil {
		t.Fatalf("expected missing prompt error")
	}
	if _, err := tpl("delete", "figure", "nope"); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("expected not found for nope, got %v", err)
	}
	if _, err := tpl("purge"); err == nil {
		t.Fatalf("purge without --yes should fail")
	}
	out, err := tpl("purge", "--yes")
	if err != nil || !strings.Contains(out, "purged 1 templates") {
		t.Fatalf("purge: %q %v", out, err)
	}
	if out, _ := tpl("list"); !strings.Contains(out, "no templates") {
		t.Fatalf("list after purge: %q", out)
	}
}

func TestServeRejectsConfigWithoutEngines(t *testing.T) {
	_, err := execute(t, "serve", "--addr", ":0")
	if err == nil || !strings.Contains(err.Error(), "at least one engine") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildSlots(t *testing.T) {
	specs, err := buildSlots([]config.EngineConfig{
		{Kind: "web", BaseURL: "http://web", Credentials: []string{"c1", "c2"}, Cooldown: config.Duration(15 * time.Second)},
		{Kind: "api", BaseURL: "http://api", Slots: 2},
		{Kind: "web", BaseURL: "http://web2", Disabled: true},
	})
	if err != nil {
		t.Fatalf("buildSlots: %v", err)
	}
	want := []struct {
		id       string
		kind     engine.Kind
		disabled bool
	}{
		{"web-0", engine.KindWeb, false},
		{"web-1", engine.KindWeb, false},
		{"api-0", engine.KindAPI, false},
		{"api-1", engine.KindAPI, false},
		{"web-2", engine.KindWeb, true},
	}
	if len(specs) != len(want) {
		t.Fatalf("got %d slots, want %d", len(specs), len(want))
	}
	for i, w := range want {
		s := specs[i]
		if s.ID != w.id || s.Kind != w.kind || s.Disabled != w.disabled || s.Engine == nil {
			t.Fatalf("slot %d: %+v", i, s)
		}
	}
	if specs[0].Cooldown != 15*time.Second || specs[2].Cooldown != 0 {
		t.Fatalf("cooldowns not carried: %v %v", specs[0].Cooldown, specs[2].Cooldown)
	}

	if _, err := buildSlots([]config.EngineConfig{{Kind: "any", BaseURL: "x"}}); err == nil {
		t.Fatalf("expected error for kind any")
	}
}

func TestOpenCollaborator(t *testing.T) {
	log := zerolog.Nop()
	c, err := openCollaborator(config.CollaboratorConfig{}, &log)
	if err != nil || c != nil {
		t.Fatalf("empty backend: %v %v", c, err)
	}
	if _, err := openCollaborator(config.CollaboratorConfig{Backend: "openai"}, &log); err == nil {
		t.Fatalf("openai without key should fail")
	}
	c, err = openCollaborator(config.CollaboratorConfig{Backend: "openai", APIKey: "k"}, &log)
	if err != nil || c == nil {
		t.Fatalf("openai: %v", err)
	}
	_, err = openCollaborator(config.CollaboratorConfig{Backend: "llama", ModelPath: t.TempDir()}, &log)
	if err == nil {
		t.Fatalf("llama with an empty model dir should fail")
	}
	if !errors.Is(err, registry.ErrNoModels) {
		t.Fatalf("unexpected error kind %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, "production", "")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Debug().Msg("hidden")
	log.Info().Str("k", "v").Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"k":"v"`) {
		t.Fatalf("unexpected log output %q", buf.String())
	}

	buf.Reset()
	log, _ = newLogger(&buf, "development", "")
	log.Debug().Msg("visible")
	if !strings.Contains(buf.String(), "visible") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("development logger should print console debug lines, got %q", buf.String())
	}

	if _, err := newLogger(&buf, "", "loud"); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestAPIDocAnnotations(t *testing.T) {
	raw, err := os.ReadFile("docs.go")
	if err != nil {
		t.Fatalf("read docs.go: %v", err)
	}
	doc := string(raw)
	for _, want := range []string{"@title           drawd API", "@BasePath  /", "@name                        " + httpapi.HeaderAdminToken} {
		if !strings.Contains(doc, want) {
			t.Fatalf("docs.go missing %q", want)
		}
	}
}
