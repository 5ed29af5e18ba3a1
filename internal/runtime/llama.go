//go:build llama

package runtime

import (
	"errors"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// LlamaBackend is the name of the llama.cpp backend.
const LlamaBackend = "llama"

// llamaBuilt reports whether the binary was compiled with llama.cpp.
const llamaBuilt = true

func init() {
	Register(LlamaBackend, OpenLlama)
}

// OpenLlama loads a GGUF model through go-llama.cpp. go-llama.cpp exposes
// text in and text out, so tokens handed to the engine are ids into a table
// of interned text pieces rather than vocabulary ids.
func OpenLlama(path string, opts Options) (Runtime, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("llama: model path is empty")
	}
	mo := []llama.ModelOption{}
	if opts.ContextSize > 0 {
		mo = append(mo, llama.SetContext(opts.ContextSize))
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaRuntime{
		model:   m,
		threads: opts.Threads,
		ids:     make(map[string]int32),
	}, nil
}

type llamaRuntime struct {
	model   *llama.LLama
	threads int

	mu     sync.Mutex
	pieces []string
	ids    map[string]int32
	// prompts holds encoded inputs under negative ids until generation consumes them.
	prompts map[int32]string
	nextIn  int32
}

func (r *llamaRuntime) intern(piece string) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[piece]; ok {
		return id
	}
	id := int32(len(r.pieces))
	r.pieces = append(r.pieces, piece)
	r.ids[piece] = id
	return id
}

func (r *llamaRuntime) Encode(text string) ([]int32, error) {
	if r.model == nil {
		return nil, errors.New("llama: model not initialized")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prompts == nil {
		r.prompts = make(map[int32]string)
	}
	r.nextIn--
	r.prompts[r.nextIn] = text
	return []int32{r.nextIn}, nil
}

func (r *llamaRuntime) lookup(tok int32) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tok < 0 {
		s, ok := r.prompts[tok]
		return s, ok
	}
	if int(tok) >= len(r.pieces) {
		return "", false
	}
	return r.pieces[tok], true
}

func (r *llamaRuntime) Decode(tokens []int32) (string, error) {
	var b strings.Builder
	for _, t := range tokens {
		s, ok := r.lookup(t)
		if !ok {
			return "", errors.New("llama: unknown token")
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

// releaseInput drops prompt entries once generation has started.
func (r *llamaRuntime) releaseInput(input []int32) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, t := range input {
		if t < 0 {
			b.WriteString(r.prompts[t])
			delete(r.prompts, t)
		} else if int(t) < len(r.pieces) {
			b.WriteString(r.pieces[t])
		}
	}
	return b.String()
}

func (r *llamaRuntime) NewStreamDecoder() StreamDecoder { return llamaStreamDecoder{r: r} }

func (r *llamaRuntime) NewGenerator(input []int32, opts SearchOptions) (Generator, error) {
	if r.model == nil {
		return nil, errors.New("llama: model not initialized")
	}
	prompt := r.releaseInput(input)
	g := &llamaGenerator{
		r:      r,
		pieces: make(chan string),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	r.model.SetTokenCallback(func(tok string) bool {
		select {
		case g.pieces <- tok:
			return true
		case <-g.stop:
			return false
		}
	})
	po := predictOptions(opts, r.threads, len(input))
	go func() {
		defer close(g.done)
		defer close(g.pieces)
		_, g.err = r.model.Predict(prompt, po...)
	}()
	return g, nil
}

func (r *llamaRuntime) Generate(input []int32, opts SearchOptions) ([]int32, error) {
	if r.model == nil {
		return nil, errors.New("llama: model not initialized")
	}
	prompt := r.releaseInput(input)
	out := append([]int32(nil), input...)
	r.model.SetTokenCallback(func(tok string) bool {
		out = append(out, r.intern(tok))
		return true
	})
	if _, err := r.model.Predict(prompt, predictOptions(opts, r.threads, len(input))...); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *llamaRuntime) Close() error {
	if r.model != nil {
		r.model.Free()
		r.model = nil
	}
	return nil
}

type llamaGenerator struct {
	r        *llamaRuntime
	pieces   chan string
	stop     chan struct{}
	done     chan struct{}
	err      error
	last     int32
	finished bool
	stopOnce sync.Once
}

func (g *llamaGenerator) IsDone() bool { return g.finished }

func (g *llamaGenerator) ComputeStep() error {
	if g.finished {
		return ErrGeneratorDone
	}
	piece, ok := <-g.pieces
	if !ok {
		g.finished = true
		<-g.done
		if g.err != nil {
			return g.err
		}
		return ErrGeneratorDone
	}
	g.last = g.r.intern(piece)
	return nil
}

func (g *llamaGenerator) NextToken() int32 { return g.last }

func (g *llamaGenerator) Close() error {
	g.stopOnce.Do(func() { close(g.stop) })
	for range g.pieces {
	}
	<-g.done
	return nil
}

type llamaStreamDecoder struct{ r *llamaRuntime }

func (d llamaStreamDecoder) Decode(token int32) (string, error) {
	s, ok := d.r.lookup(token)
	if !ok {
		return "", errors.New("llama: unknown token")
	}
	return s, nil
}

func zf(v float64, def float32) float32 {
	if v > 0 {
		return float32(v)
	}
	return def
}

// predictOptions maps search options onto go-llama.cpp. MaxLength counts the
// prompt, which is a single interned piece here, so it bounds new tokens.
func predictOptions(opts SearchOptions, threads, inputLen int) []llama.PredictOption {
	tokens := opts.MaxLength - inputLen
	if tokens < 1 {
		tokens = 1
	}
	if threads < 1 {
		threads = llama.DefaultOptions.Threads
	}
	return []llama.PredictOption{
		llama.SetTokens(tokens),
		llama.SetThreads(threads),
		llama.SetTopP(zf(opts.TopP, llama.DefaultOptions.TopP)),
		llama.SetTemperature(zf(opts.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(opts.RepetitionPenalty, llama.DefaultOptions.Penalty)),
	}
}
