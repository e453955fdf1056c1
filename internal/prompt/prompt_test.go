package prompt

import (
	"context"
	"errors"
	"testing"
)

type fakeOptimizer struct {
	out      string
	err      error
	calls    int
	user     string
	template string
}

func (f *fakeOptimizer) FusePrompt(_ context.Context, user, template string, _ [][]byte) (string, error) {
	f.calls++
	f.user, f.template = user, template
	return f.out, f.err
}

func TestCompose(t *testing.T) {
	cases := []struct {
		user, template, want string
	}{
		{"a cat", "oil painting", "a cat.\nFollow this style and these requirements: oil painting"},
		{"", "oil painting", "oil painting"},
		{"a cat", "  ", "a cat"},
		{"", "", ""},
	}
	for _, tc := range cases {
		if got := Compose(tc.user, tc.template); got != tc.want {
			t.Fatalf("Compose(%q,%q)=%q want %q", tc.user, tc.template, got, tc.want)
		}
	}
}

func TestBuild_OptimizeOff(t *testing.T) {
	opt := &fakeOptimizer{out: "ignored"}
	if got := Build(context.Background(), opt, "cat", "", nil, false); got != "cat" {
		t.Fatalf("got %q", got)
	}
	if opt.calls != 0 {
		t.Fatalf("optimizer should not run")
	}
	if got := Build(context.Background(), nil, "cat", "", nil, true); got != "cat" {
		t.Fatalf("nil optimizer: got %q", got)
	}
}

func TestBuild_UsesOptimizer(t *testing.T) {
	opt := &fakeOptimizer{out: " a fluffy cat in oil "}
	got := Build(context.Background(), opt, "cat", "oil", nil, true)
	if got != "a fluffy cat in oil" {
		t.Fatalf("got %q", got)
	}
	if opt.user != "cat" || opt.template != "oil" {
		t.Fatalf("optimizer saw %q %q", opt.user, opt.template)
	}
}

func TestBuild_FallsBackOnFailure(t *testing.T) {
	for _, opt := range []*fakeOptimizer{{err: errors.New("down")}, {out: "   "}} {
		got := Build(context.Background(), opt, "cat", "oil", nil, true)
		if got != Compose("cat", "oil") {
			t.Fatalf("expected composed fallback, got %q", got)
		}
	}
}
