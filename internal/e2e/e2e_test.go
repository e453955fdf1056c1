package e2e

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"drawd/internal/engine"
	"drawd/pkg/types"
)

// TestE2E_OptimizedTemplateDraw sends a templated draw with optimization and
// checks the engine receives the collaborator's prompt and the credential.
func TestE2E_OptimizedTemplateDraw(t *testing.T) {
	web := newFakeEngine(t, nil)
	collabSrv := newFakeCollaborator(t)
	s := newStack(t, collabSrv.URL, slotDef{id: "web-0", kind: engine.KindWeb, url: web.srv.URL, credential: "cookie-a"})

	optimize := true
	var res types.DrawResponse
	code := s.do(t, req{method: http.MethodPost, path: "/draw", user: "alice", body: types.DrawRequest{
		Prompt: "my cat", Template: "figure", Optimize: &optimize, Wait: true,
	}}, &res)
	if code != http.StatusOK || res.State != "completed" || res.Slot != "web-0" {
		t.Fatalf("draw: %d %+v", code, res)
	}
	if len(res.Images) != 1 || string(res.Images[0]) != "png-bytes" {
		t.Fatalf("unexpected images %q", res.Images)
	}
	calls := web.calls()
	if len(calls) != 1 {
		t.Fatalf("engine calls: %d", len(calls))
	}
	got := calls[0]
	if got.Prompt != "a richly detailed scene" || got.Template != "figure" || got.Credential != "cookie-a" {
		t.Fatalf("engine received %+v", got)
	}
}

// TestE2E_TransientFailover verifies a 503 from the first engine is retried
// on the next matching slot.
func TestE2E_TransientFailover(t *testing.T) {
	api := newFakeEngine(t, func(string) int { return http.StatusServiceUnavailable })
	web := newFakeEngine(t, nil)
	s := newStack(t, "",
		slotDef{id: "api-0", kind: engine.KindAPI, url: api.srv.URL},
		slotDef{id: "web-0", kind: engine.KindWeb, url: web.srv.URL},
	)

	var res types.DrawResponse
	code := s.do(t, req{method: http.MethodPost, path: "/draw", user: "bob", body: types.DrawRequest{Prompt: "a boat", Wait: true}}, &res)
	if code != http.StatusOK || res.Slot != "web-0" || res.Attempts != 2 {
		t.Fatalf("draw: %d %+v", code, res)
	}
	if len(api.calls()) != 1 || len(web.calls()) != 1 {
		t.Fatalf("calls api=%d web=%d", len(api.calls()), len(web.calls()))
	}
	// Un-optimized prompt passes through unchanged.
	if p := web.calls()[0].Prompt; p != "a boat" {
		t.Fatalf("prompt %q", p)
	}
}

// TestE2E_CredentialFailureDisablesSlot checks an expired credential takes its
// slot out of rotation until an admin re-enables it.
func TestE2E_CredentialFailureDisablesSlot(t *testing.T) {
	web := newFakeEngine(t, func(cred string) int {
		if cred == "expired" {
			return http.StatusUnauthorized
		}
		return 0
	})
	s := newStack(t, "",
		slotDef{id: "web-0", kind: engine.KindWeb, url: web.srv.URL, credential: "expired"},
		slotDef{id: "web-1", kind: engine.KindWeb, url: web.srv.URL, credential: "fresh"},
	)

	var fail types.ErrorResponse
	code := s.do(t, req{method: http.MethodPost, path: "/draw", user: "carol", body: types.DrawRequest{Prompt: "x", Wait: true}}, &fail)
	if code != http.StatusBadGateway || fail.Kind != string(engine.ErrCredential) {
		t.Fatalf("expected credential failure, got %d %+v", code, fail)
	}

	var st types.QueueStatus
	if code := s.do(t, req{method: http.MethodGet, path: "/status"}, &st); code != http.StatusOK {
		t.Fatalf("status: %d", code)
	}
	var found bool
	for _, sl := range st.Slots {
		if sl.ID == "web-0" {
			found = true
			if sl.State != "disabled" || sl.DisabledReason != "credential" {
				t.Fatalf("web-0 status %+v", sl)
			}
		}
	}
	if !found {
		t.Fatalf("web-0 missing from status %+v", st)
	}

	var ok types.DrawResponse
	code = s.do(t, req{method: http.MethodPost, path: "/draw", user: "dave", body: types.DrawRequest{Prompt: "y", Wait: true}}, &ok)
	if code != http.StatusOK || ok.Slot != "web-1" {
		t.Fatalf("second draw: %d %+v", code, ok)
	}

	if code := s.do(t, req{method: http.MethodPost, path: "/slots/web-0/enable"}, nil); code != http.StatusForbidden {
		t.Fatalf("enable without token: %d", code)
	}
	if code := s.do(t, req{method: http.MethodPost, path: "/slots/web-0/enable", admin: true}, nil); code != http.StatusNoContent {
		t.Fatalf("enable: %d", code)
	}
}

// TestE2E_SessionTemplateThenDraw drafts a template from an image, revises
// and confirms it, then draws with it.
func TestE2E_SessionTemplateThenDraw(t *testing.T) {
	web := newFakeEngine(t, nil)
	collabSrv := newFakeCollaborator(t)
	s := newStack(t, collabSrv.URL, slotDef{id: "web-0", kind: engine.KindWeb, url: web.srv.URL})

	var snap types.SessionResponse
	code := s.do(t, req{method: http.MethodPost, path: "/sessions", admin: true, user: "op",
		body: types.SessionStartRequest{Mode: "create", Image: []byte("seed")}}, &snap)
	if code != http.StatusCreated || snap.Name != "jail" || snap.Prompt != "behind bars" {
		t.Fatalf("start: %d %+v", code, snap)
	}
	code = s.do(t, req{method: http.MethodPost, path: "/sessions/turn", admin: true, user: "op",
		body: types.SessionTurnRequest{Input: "make it night"}}, &snap)
	if code != http.StatusOK || snap.Prompt != "behind bars, at night" || snap.Revisions != 2 {
		t.Fatalf("revise: %d %+v", code, snap)
	}
	code = s.do(t, req{method: http.MethodPost, path: "/sessions/turn", admin: true, user: "op",
		body: types.SessionTurnRequest{Input: "ok"}}, &snap)
	if code != http.StatusOK || snap.State != "confirmed" {
		t.Fatalf("confirm: %d %+v", code, snap)
	}

	var tpl types.Template
	if code := s.do(t, req{method: http.MethodGet, path: "/templates/jail"}, &tpl); code != http.StatusOK || tpl.Prompt != "behind bars, at night" {
		t.Fatalf("template: %d %+v", code, tpl)
	}

	var res types.DrawResponse
	code = s.do(t, req{method: http.MethodPost, path: "/draw", user: "erin", body: types.DrawRequest{Prompt: "me", Template: "jail", Wait: true}}, &res)
	if code != http.StatusOK {
		t.Fatalf("draw: %d %+v", code, res)
	}
	p := web.calls()[0].Prompt
	if !strings.HasPrefix(p, "me.") || !strings.Contains(p, "behind bars, at night") {
		t.Fatalf("composed prompt %q", p)
	}
}

// TestE2E_AsyncDrawAndMetrics polls an async draw to completion and checks
// the request metrics are exported.
func TestE2E_AsyncDrawAndMetrics(t *testing.T) {
	web := newFakeEngine(t, nil)
	s := newStack(t, "", slotDef{id: "web-0", kind: engine.KindWeb, url: web.srv.URL})

	var acc types.DrawResponse
	if code := s.do(t, req{method: http.MethodPost, path: "/draw", user: "frank", body: types.DrawRequest{Prompt: "async"}}, &acc); code != http.StatusAccepted || acc.ID == "" {
		t.Fatalf("submit: %d %+v", code, acc)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		var cur types.DrawResponse
		if code := s.do(t, req{method: http.MethodGet, path: "/draw/" + acc.ID}, &cur); code != http.StatusOK {
			t.Fatalf("poll: %d", code)
		}
		if cur.State == "completed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("draw did not complete: %+v", cur)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if code := s.do(t, req{method: http.MethodGet, path: "/readyz"}, nil); code != http.StatusOK {
		t.Fatalf("readyz: %d", code)
	}
	resp, err := http.Get(s.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	for _, want := range []string{"drawd_requests_total", `path="/draw/{id}"`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("metrics missing %s", want)
		}
	}
}
