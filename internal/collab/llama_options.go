package collab

import (
	"errors"
	"io"
	"runtime"

	"github.com/rs/zerolog"
)

// ErrImagesUnsupported is returned when a text-only backend receives images.
var ErrImagesUnsupported = errors.New("backend does not accept images")

// LlamaOptions configures the in-process backend.
type LlamaOptions struct {
	ModelPath   string
	ContextSize int
	Threads     int
	MaxTokens   int
	Temperature float32
	Logger      *zerolog.Logger
}

func (o LlamaOptions) withDefaults() LlamaOptions {
	if o.ContextSize <= 0 {
		o.ContextSize = 4096
	}
	if o.Threads <= 0 {
		o.Threads = runtime.NumCPU()
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1024
	}
	if o.Temperature <= 0 {
		o.Temperature = 0.6
	}
	return o
}

// chatPrompt renders a ChatML conversation for instruction-tuned gguf models.
func chatPrompt(system, user string) string {
	return "<|im_start|>system\n" + system + "<|im_end|>\n" +
		"<|im_start|>user\n" + user + "<|im_end|>\n" +
		"<|im_start|>assistant\n"
}

// Close releases backend resources, if any.
func (c *Client) Close() error {
	if cl, ok := c.be.(interface{ close() }); ok {
		cl.close()
	}
	return nil
}

var _ io.Closer = (*Client)(nil)
