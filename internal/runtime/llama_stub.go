//go:build !llama

package runtime

import "errors"

// LlamaBackend is the name of the llama.cpp backend.
const LlamaBackend = "llama"

const llamaBuilt = false

// ErrLlamaNotBuilt is returned when the binary lacks the 'llama' build tag.
var ErrLlamaNotBuilt = errors.New("llama support not built (missing 'llama' build tag)")

func init() {
	Register(LlamaBackend, func(string, Options) (Runtime, error) { return nil, ErrLlamaNotBuilt })
}
