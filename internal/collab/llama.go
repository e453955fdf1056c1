//go:build llama

package collab

import (
	"context"
	"errors"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

type llamaBackend struct {
	mu      sync.Mutex
	model   *llama.LLama
	threads int
	tokens  int
	temp    float32
}

// NewLlama loads a gguf model in process. The model is text only; image
// inputs are rejected.
func NewLlama(opts LlamaOptions) (*Client, error) {
	if strings.TrimSpace(opts.ModelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	opts = opts.withDefaults()
	m, err := llama.New(opts.ModelPath, llama.SetContext(opts.ContextSize))
	if err != nil {
		return nil, err
	}
	be := &llamaBackend{model: m, threads: opts.Threads, tokens: opts.MaxTokens, temp: opts.Temperature}
	return newClient(be, opts.Logger), nil
}

func (l *llamaBackend) name() string { return "llama" }

func (l *llamaBackend) chat(ctx context.Context, system, user string, images [][]byte) (string, error) {
	if len(images) > 0 {
		return "", ErrImagesUnsupported
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.model == nil {
		return "", errors.New("llama model not initialized")
	}
	l.model.SetTokenCallback(func(string) bool { return ctx.Err() == nil })
	text, err := l.model.Predict(chatPrompt(system, user),
		llama.SetTokens(l.tokens),
		llama.SetThreads(l.threads),
		llama.SetTemperature(l.temp),
		llama.SetStopWords("<|im_end|>"),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return text, nil
}

func (l *llamaBackend) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.model != nil {
		l.model.Free()
		l.model = nil
	}
}
