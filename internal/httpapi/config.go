package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
// Draw requests carry base64 images, so the default is 20 MiB.
var maxBodyBytes int64 = 20 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 20 << 20
		return
	}
	maxBodyBytes = n
}

// drawWaitTimeout bounds how long POST /draw with wait=true blocks before
// answering 202 with the current state. Zero waits until the client leaves.
var drawWaitTimeout = 5 * time.Minute

// SetDrawWaitTimeout sets the wait bound (negative disables it).
func SetDrawWaitTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	drawWaitTimeout = d
}

// adminToken grants privilege to requests presenting it in X-Admin-Token.
// Empty means no caller is privileged.
var adminToken string

// SetAdminToken configures the privileged-caller token.
func SetAdminToken(tok string) { adminToken = tok }

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
