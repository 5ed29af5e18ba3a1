// Package runtime defines the token generation capability the engine drives
// and a registry of backends implementing it.
package runtime

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrGeneratorDone is returned by ComputeStep once the generator has finished.
var ErrGeneratorDone = errors.New("runtime: generator is done")

// SearchOptions are passed through to the backend unmodified. Zero values
// mean "backend default".
type SearchOptions struct {
	// MaxLength bounds the total sequence length (prompt plus generated tokens).
	MaxLength         int
	TopP              float64
	Temperature       float64
	RepetitionPenalty float64
}

// Options configure how a backend opens a model.
type Options struct {
	ContextSize int
	Threads     int
}

// Runtime is one loaded model together with its tokenizer.
type Runtime interface {
	Encode(text string) ([]int32, error)
	Decode(tokens []int32) (string, error)
	// NewStreamDecoder returns a decoder that turns single tokens into text
	// fragments, holding back incomplete characters.
	NewStreamDecoder() StreamDecoder
	// NewGenerator prepares step-wise generation seeded with input.
	NewGenerator(input []int32, opts SearchOptions) (Generator, error)
	// Generate runs to completion and returns the full output sequence,
	// input tokens included.
	Generate(input []int32, opts SearchOptions) ([]int32, error)
	Close() error
}

// Generator produces one token per step.
type Generator interface {
	IsDone() bool
	// ComputeStep computes logits and selects the next token.
	ComputeStep() error
	// NextToken returns the token selected by the last ComputeStep.
	NextToken() int32
	Close() error
}

// StreamDecoder decodes tokens incrementally.
type StreamDecoder interface {
	Decode(token int32) (string, error)
}

// Factory opens a model at path.
type Factory func(path string, opts Options) (Runtime, error)

// Registry maps backend names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry holds the built-in backends.
var DefaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(name string, f Factory) { DefaultRegistry.Register(name, f) }

// Register adds or replaces a backend factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	r.factories[normalize(name)] = f
	r.mu.Unlock()
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	f, ok := r.factories[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("runtime: backend %q not registered", name)
	}
	return f, nil
}

// Names lists registered backends in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Open looks up backend and opens the model at path.
func (r *Registry) Open(backend, path string, opts Options) (Runtime, error) {
	f, err := r.Lookup(backend)
	if err != nil {
		return nil, err
	}
	return f(path, opts)
}

func normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// LlamaBuilt reports whether the llama backend was compiled in.
func LlamaBuilt() bool { return llamaBuilt }
