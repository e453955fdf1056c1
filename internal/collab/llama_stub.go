//go:build !llama

package collab

import "errors"

// ErrLlamaUnavailable is returned by NewLlama in builds without the llama tag.
var ErrLlamaUnavailable = errors.New("llama support not built (missing 'llama' build tag)")

// NewLlama fails fast: the in-process runtime is not linked into this build.
func NewLlama(opts LlamaOptions) (*Client, error) {
	return nil, ErrLlamaUnavailable
}
