package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"onnxd/internal/runtime"
	"onnxd/pkg/types"
)

// testCtx returns a context bounded to a few seconds for the test.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// fakeRuntime generates a fixed list of pieces. Token i decodes to pieces[i];
// the encoded prompt is the single token -1.
type fakeRuntime struct {
	pieces []string
	// stepHook runs before step i is computed.
	stepHook  func(i int)
	encodeErr error
	stepErr   error
	panicStep bool

	mu      sync.Mutex
	prompts []string
	closed  atomic.Bool
	closes  atomic.Int32
}

func (f *fakeRuntime) Encode(text string) ([]int32, error) {
	if f.encodeErr != nil {
		return nil, f.encodeErr
	}
	f.mu.Lock()
	f.prompts = append(f.prompts, text)
	f.mu.Unlock()
	return []int32{-1}, nil
}

func (f *fakeRuntime) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func (f *fakeRuntime) piece(t int32) (string, error) {
	if t < 0 || int(t) >= len(f.pieces) {
		return "", errors.New("fake: bad token")
	}
	return f.pieces[t], nil
}

func (f *fakeRuntime) Decode(tokens []int32) (string, error) {
	var b strings.Builder
	for _, t := range tokens {
		s, err := f.piece(t)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func (f *fakeRuntime) NewStreamDecoder() runtime.StreamDecoder { return fakeDecoder{f} }

func (f *fakeRuntime) NewGenerator(input []int32, opts runtime.SearchOptions) (runtime.Generator, error) {
	return &fakeGenerator{f: f, inputLen: len(input), maxLength: opts.MaxLength}, nil
}

func (f *fakeRuntime) Generate(input []int32, opts runtime.SearchOptions) ([]int32, error) {
	g := &fakeGenerator{f: f, inputLen: len(input), maxLength: opts.MaxLength}
	out := append([]int32(nil), input...)
	for !g.IsDone() {
		if err := g.ComputeStep(); err != nil {
			return nil, err
		}
		out = append(out, g.NextToken())
	}
	return out, nil
}

func (f *fakeRuntime) Close() error {
	f.closed.Store(true)
	f.closes.Add(1)
	return nil
}

type fakeDecoder struct{ f *fakeRuntime }

func (d fakeDecoder) Decode(t int32) (string, error) { return d.f.piece(t) }

type fakeGenerator struct {
	f         *fakeRuntime
	i         int
	inputLen  int
	maxLength int
}

func (g *fakeGenerator) IsDone() bool {
	if g.i >= len(g.f.pieces) {
		return true
	}
	return g.maxLength > 0 && g.inputLen+g.i >= g.maxLength
}

func (g *fakeGenerator) ComputeStep() error {
	if g.IsDone() {
		return runtime.ErrGeneratorDone
	}
	if g.f.stepHook != nil {
		g.f.stepHook(g.i)
	}
	if g.f.panicStep {
		panic("fake step exploded")
	}
	if g.f.stepErr != nil {
		return g.f.stepErr
	}
	g.i++
	return nil
}

func (g *fakeGenerator) NextToken() int32 { return int32(g.i - 1) }
func (g *fakeGenerator) Close() error     { return nil }

// newTestEngine wires rt behind a private registry under backend "fake".
// Loading the path "bad" fails.
func newTestEngine(t *testing.T, rt *fakeRuntime) (*Engine, *MemoryPublisher) {
	t.Helper()
	return newFactoryEngine(t, func(path string, _ runtime.Options) (runtime.Runtime, error) {
		if path == "bad" {
			return nil, errors.New("cannot open model")
		}
		return rt, nil
	})
}

// newFactoryEngine wires f behind a private registry under backend "fake".
func newFactoryEngine(t *testing.T, f runtime.Factory) (*Engine, *MemoryPublisher) {
	t.Helper()
	reg := runtime.NewRegistry()
	reg.Register("fake", f)
	pub := NewMemoryPublisher()
	e := NewWithConfig(Config{
		Backend:  "fake",
		Runtimes: reg,
		Events:   pub,
		Clock:    func() time.Time { return time.UnixMilli(1_700_000_000_123) },
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Close(ctx)
	})
	return e, pub
}

func mustLoad(t *testing.T, e *Engine, path string) {
	t.Helper()
	env := e.LoadModel(testCtx(t), types.LoadModelRequest{ModelPath: path})
	if env.Status.StatusCode != 200 {
		t.Fatalf("load %s: %+v", path, env)
	}
}

// collect drains ch until it is closed.
func collect(t *testing.T, ch <-chan types.Envelope) []types.Envelope {
	t.Helper()
	var out []types.Envelope
	timeout := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, env)
		case <-timeout:
			t.Fatalf("timed out after %d envelopes", len(out))
		}
	}
}

func chatReq(stream bool, msgs ...types.ChatMessage) types.ChatCompletionRequest {
	r := types.NewChatCompletionRequest(msgs)
	r.Stream = stream
	return r
}

func user(s string) types.ChatMessage { return types.ChatMessage{Role: "user", Content: s} }

func message(t *testing.T, env types.Envelope) string {
	t.Helper()
	m, ok := env.Payload.(types.MessageResponse)
	if !ok {
		t.Fatalf("payload is %T, want MessageResponse", env.Payload)
	}
	return m.Message
}

func streamData(t *testing.T, env types.Envelope) string {
	t.Helper()
	d, ok := env.Payload.(types.StreamData)
	if !ok {
		t.Fatalf("payload is %T, want StreamData", env.Payload)
	}
	return d.Data
}
