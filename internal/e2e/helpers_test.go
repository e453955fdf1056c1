package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"drawd/internal/collab"
	"drawd/internal/dispatch"
	"drawd/internal/engine"
	"drawd/internal/engine/remote"
	"drawd/internal/httpapi"
	"drawd/internal/session"
	"drawd/internal/studio"
	"drawd/internal/templates"
)

const adminToken = "e2e-admin"

// generation is what a fake engine received.
type generation struct {
	Prompt     string
	Template   string
	Credential string
}

// fakeEngine serves the rendering endpoint protocol. fail decides per
// credential whether to answer with an error status.
type fakeEngine struct {
	srv  *httptest.Server
	fail func(credential string) int

	mu   sync.Mutex
	seen []generation
}

func newFakeEngine(t *testing.T, fail func(credential string) int) *fakeEngine {
	t.Helper()
	fe := &fakeEngine{fail: fail}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt   string `json:"prompt"`
			Template string `json:"template"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		cred := r.Header.Get("X-Engine-Credential")
		fe.mu.Lock()
		fe.seen = append(fe.seen, generation{Prompt: req.Prompt, Template: req.Template, Credential: cred})
		fe.mu.Unlock()
		if fe.fail != nil {
			if status := fe.fail(cred); status != 0 {
				w.WriteHeader(status)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rejected"})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"images": [][]byte{[]byte("png-bytes")}, "text": "done"})
	})
	fe.srv = httptest.NewServer(mux)
	t.Cleanup(fe.srv.Close)
	return fe
}

func (fe *fakeEngine) calls() []generation {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return append([]generation(nil), fe.seen...)
}

// collabReply carries every field the collaborator decoders look for, so one
// canned answer serves proposals, revisions and optimizations alike.
const collabReply = `{"success": true, "template_name": "jail", "prompt": "behind bars", "new_prompt": "behind bars, at night", "optimized_prompt": "a richly detailed scene"}`

// newFakeCollaborator serves an OpenAI-compatible chat completions endpoint.
func newFakeCollaborator(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.Copy(io.Discard, r.Body)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": collabReply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type slotDef struct {
	id         string
	kind       engine.Kind
	url        string
	credential string
}

// stack is a full drawd service behind a real HTTP listener.
type stack struct {
	srv  *httptest.Server
	disp *dispatch.Dispatcher
}

func newStack(t *testing.T, collabURL string, defs ...slotDef) *stack {
	t.Helper()
	httpapi.SetAdminToken(adminToken)
	t.Cleanup(func() { httpapi.SetAdminToken("") })

	specs := make([]dispatch.SlotSpec, 0, len(defs))
	for _, d := range defs {
		specs = append(specs, dispatch.SlotSpec{
			ID:     d.id,
			Kind:   d.kind,
			Engine: remote.New(remote.Options{BaseURL: d.url, Credential: d.credential, RequestTimeout: 5 * time.Second}),
		})
	}
	disp, err := dispatch.New(dispatch.Config{Slots: specs})
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = disp.Shutdown(ctx)
	})

	repo, err := templates.OpenSQL(context.Background(), ":memory:", templates.Options{})
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	var svc *studio.Service
	if collabURL != "" {
		client, err := collab.NewOpenAI(collab.OpenAIOptions{APIKey: "test", BaseURL: collabURL + "/v1"})
		if err != nil {
			t.Fatalf("collaborator: %v", err)
		}
		sessions := session.NewManager(client, repo, session.Config{})
		t.Cleanup(sessions.Close)
		svc = studio.New(disp, repo, sessions, client, studio.Config{})
	} else {
		svc = studio.New(disp, repo, nil, nil, studio.Config{})
	}

	srv := httptest.NewServer(httpapi.NewMux(svc))
	t.Cleanup(srv.Close)
	return &stack{srv: srv, disp: disp}
}

type req struct {
	method, path string
	body         any
	user         string
	admin        bool
}

// do sends r and decodes a JSON answer into out when out is non-nil.
func (s *stack) do(t *testing.T, r req, out any) int {
	t.Helper()
	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(b)
	}
	hr, err := http.NewRequest(r.method, s.srv.URL+r.path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if r.body != nil {
		hr.Header.Set("Content-Type", "application/json")
	}
	if r.user != "" {
		hr.Header.Set("X-User-ID", r.user)
	}
	if r.admin {
		hr.Header.Set("X-Admin-Token", adminToken)
	}
	resp, err := http.DefaultClient.Do(hr)
	if err != nil {
		t.Fatalf("%s %s: %v", r.method, r.path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode %s %s (%d) %q: %v", r.method, r.path, resp.StatusCode, raw, err)
		}
	}
	return resp.StatusCode
}
