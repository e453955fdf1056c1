// Package collab is the AI collaborator used by template sessions and draw
// prompt optimization. It speaks to an OpenAI-compatible chat endpoint or,
// when built with the llama tag, to an in-process model.
package collab

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrNoImage is returned by ProposeTemplate without an image.
var ErrNoImage = errors.New("an image is required to propose a template")

// backend runs one chat turn and returns the raw assistant reply.
type backend interface {
	chat(ctx context.Context, system, user string, images [][]byte) (string, error)
	name() string
}

// Client implements the session collaborator and prompt fusion on top of a backend.
type Client struct {
	be  backend
	log zerolog.Logger
}

func newClient(be backend, log *zerolog.Logger) *Client {
	c := &Client{be: be, log: zerolog.Nop()}
	if log != nil {
		c.log = log.With().Str("component", "collab").Str("backend", be.name()).Logger()
	}
	return c
}

// ProposeTemplate drafts a named template from a reference image.
func (c *Client) ProposeTemplate(ctx context.Context, image []byte, hint string) (string, string, error) {
	if len(image) == 0 {
		return "", "", ErrNoImage
	}
	user := strings.TrimSpace(hint)
	if user == "" {
		user = "Create a style template from this image."
	}
	raw, err := c.be.chat(ctx, systemCreateFromImage, user, [][]byte{image})
	if err != nil {
		return "", "", c.fail("propose", err)
	}
	name, body, err := decodeCreate(raw)
	if err != nil {
		return "", "", c.fail("propose", err)
	}
	return name, body, nil
}

// ReviseTemplate applies a free-text instruction to a template body.
func (c *Client) ReviseTemplate(ctx context.Context, body, instruction string) (string, error) {
	raw, err := c.be.chat(ctx, systemRefineTemplate, refineInput(body, instruction), nil)
	if err != nil {
		return "", c.fail("revise", err)
	}
	out, err := decodeRefine(raw)
	if err != nil {
		return "", c.fail("revise", err)
	}
	return out, nil
}

// OptimizePrompt rewrites a template body without a user instruction.
func (c *Client) OptimizePrompt(ctx context.Context, body string) (string, error) {
	raw, err := c.be.chat(ctx, systemOptimizeTemplate, body, nil)
	if err != nil {
		return "", c.fail("optimize", err)
	}
	out, err := decodeRefine(raw)
	if err != nil {
		return "", c.fail("optimize", err)
	}
	return out, nil
}

// FusePrompt turns a draw request into a detailed prompt, merging in the
// template when one is given.
func (c *Client) FusePrompt(ctx context.Context, user, template string, images [][]byte) (string, error) {
	system, input := systemOptimizeDraw, user
	if strings.TrimSpace(template) != "" {
		system, input = systemFusion, fusionInput(template, user)
	}
	raw, err := c.be.chat(ctx, system, input, images)
	if err != nil {
		return "", c.fail("fuse", err)
	}
	out, err := decodeOptimize(raw)
	if err != nil {
		return "", c.fail("fuse", err)
	}
	return out, nil
}

func (c *Client) fail(op string, err error) error {
	c.log.Warn().Err(err).Str("op", op).Msg("collaborator call failed")
	return fmt.Errorf("%s: %w", op, err)
}
