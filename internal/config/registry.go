package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/whisperengine/whisperengine/pkg/provider/embeddings"
	"github.com/whisperengine/whisperengine/pkg/provider/emotion"
	"github.com/whisperengine/whisperengine/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]func(EndpointConfig) (llm.Provider, error)
	embeddings map[string]func(EmbeddingsConfig) (embeddings.Provider, error)
	emotion    map[string]func(EndpointConfig) (emotion.Analyzer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]func(EndpointConfig) (llm.Provider, error)),
		embeddings: make(map[string]func(EmbeddingsConfig) (embeddings.Provider, error)),
		emotion:    make(map[string]func(EndpointConfig) (emotion.Analyzer, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(EndpointConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(EmbeddingsConfig) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterEmotion registers an emotion analyzer factory under name.
func (r *Registry) RegisterEmotion(name string, factory func(EndpointConfig) (emotion.Analyzer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emotion[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(name string, entry EndpointConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under name.
func (r *Registry) CreateEmbeddings(name string, entry EmbeddingsConfig) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, name)
	}
	return factory(entry)
}

// CreateEmotion instantiates an emotion analyzer using the factory registered under name.
func (r *Registry) CreateEmotion(name string, entry EndpointConfig) (emotion.Analyzer, error) {
	r.mu.RLock()
	factory, ok := r.emotion[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: emotion/%q", ErrProviderNotRegistered, name)
	}
	return factory(entry)
}
