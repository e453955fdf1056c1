package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"drawd/internal/studio"
)

// serverBaseCtx is a process-level context that can be canceled on shutdown.
// Defaults to Background if not set.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context that is canceled when either a or b is done.
// The returned cancel func must be called to release the goroutine when handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Request headers carrying caller identity and privilege.
const (
	HeaderUserID     = "X-User-ID"
	HeaderAdminToken = "X-Admin-Token"
)

type callerKey struct{}

// withCaller resolves the caller from X-User-ID and X-Admin-Token. Requests
// without a user id are keyed by remote address.
func withCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := studio.Caller{ID: strings.TrimSpace(r.Header.Get(HeaderUserID))}
		if c.ID == "" {
			c.ID = "ip:" + r.RemoteAddr
		}
		if tok := r.Header.Get(HeaderAdminToken); adminToken != "" && tok != "" {
			c.Privileged = subtle.ConstantTimeCompare([]byte(tok), []byte(adminToken)) == 1
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

// callerFrom returns the caller attached by withCaller.
func callerFrom(r *http.Request) studio.Caller {
	c, _ := r.Context().Value(callerKey{}).(studio.Caller)
	return c
}
