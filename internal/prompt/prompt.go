// Package prompt builds the text sent to a rendering engine from the user's
// request and an optional template.
package prompt

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Optimizer rewrites a draw request into a detailed prompt.
type Optimizer interface {
	FusePrompt(ctx context.Context, user, template string, images [][]byte) (string, error)
}

// Compose joins a user request and a template body without any model call.
func Compose(user, template string) string {
	user, template = strings.TrimSpace(user), strings.TrimSpace(template)
	switch {
	case user != "" && template != "":
		return user + ".\nFollow this style and these requirements: " + template
	case template != "":
		return template
	default:
		return user
	}
}

// Build returns the final prompt. With optimize set and an optimizer present,
// the collaborator rewrites the request; any failure falls back to Compose.
func Build(ctx context.Context, opt Optimizer, user, template string, images [][]byte, optimize bool) string {
	composed := Compose(user, template)
	if !optimize || opt == nil || composed == "" {
		return composed
	}
	request := strings.TrimSpace(user)
	if request == "" {
		// Template-only draws still go through fusion with an empty request.
		request = "Follow the template."
	}
	out, err := opt.FusePrompt(ctx, request, strings.TrimSpace(template), images)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("prompt optimization failed, using composed prompt")
		return composed
	}
	if out = strings.TrimSpace(out); out == "" {
		return composed
	}
	return out
}
