package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/whisperengine/whisperengine/pkg/provider/llm"
)

// ErrAllFailed is returned when every chat backend fails or sits behind an
// open breaker.
var ErrAllFailed = errors.New("all chat backends failed")

// FallbackConfig configures the circuit breaker each backend gets.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// chatBackend pairs one provider with its dedicated breaker.
type chatBackend struct {
	name     string
	provider llm.Provider
	breaker  *CircuitBreaker
}

// LLMFallback implements [llm.Provider] over an ordered chain of chat
// backends with one circuit breaker each. The primary is tried first; an
// open breaker or a failure moves on to the next entry. A single-backend
// chain degrades to a plain breaker around that endpoint.
type LLMFallback struct {
	backends []chatBackend
	cfg      FallbackConfig
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback wraps primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, name string, cfg FallbackConfig) *LLMFallback {
	f := &LLMFallback{cfg: cfg}
	f.add(name, primary)
	return f
}

// AddFallback appends a backend tried after everything registered before it.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.add(name, provider)
}

func (f *LLMFallback) add(name string, provider llm.Provider) {
	cbCfg := f.cfg.CircuitBreaker
	cbCfg.Name = name
	f.backends = append(f.backends, chatBackend{
		name:     name,
		provider: provider,
		breaker:  NewCircuitBreaker(cbCfg),
	})
}

// Complete returns the first healthy backend's completion.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := f.each(func(p llm.Provider) error {
		var err error
		resp, err = p.Complete(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Validate succeeds when at least one backend answers its model listing.
func (f *LLMFallback) Validate(ctx context.Context) error {
	return f.each(func(p llm.Provider) error {
		return p.Validate(ctx)
	})
}

// ModelID is the primary backend's model identifier, static log metadata.
func (f *LLMFallback) ModelID() string {
	return f.backends[0].provider.ModelID()
}

// each tries fn on every backend in order until one succeeds. The sentinel
// and the last cause are both wrapped, so callers can still classify the
// underlying failure.
func (f *LLMFallback) each(fn func(llm.Provider) error) error {
	var lastErr error
	for i := range f.backends {
		b := &f.backends[i]
		err := b.breaker.Execute(func() error {
			return fn(b.provider)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("chat backend skipped, circuit open", "backend", b.name)
			continue
		}
		slog.Warn("chat backend failed, trying next", "backend", b.name, "error", err)
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
