package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"onnxd/internal/runtime"
)

// Session owns one opened runtime. Jobs enter it one at a time; Release
// cancels its context and closes the runtime once the current job leaves.
type Session struct {
	rt     runtime.Runtime
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// StreamResult summarizes a completed streaming generation.
type StreamResult struct {
	Tokens  int
	Elapsed time.Duration
}

// BatchResult is the decoded output of a batch generation.
type BatchResult struct {
	Text    string
	Tokens  int
	Elapsed time.Duration
}

func newSession(rt runtime.Runtime, log zerolog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{rt: rt, ctx: ctx, cancel: cancel, log: log}
}

// Context is cancelled when the session is released.
func (s *Session) Context() context.Context { return s.ctx }

// enter acquires exclusive use of the runtime. It fails once released.
func (s *Session) enter() bool {
	s.mu.Lock()
	if s.closed || s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	return true
}

func (s *Session) leave() { s.mu.Unlock() }

// Release cancels in-flight work and closes the runtime in the background
// once the running job, if any, has left. The returned channel is closed
// when the runtime is closed.
func (s *Session) Release() <-chan struct{} {
	s.cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		s.closed = true
		if err := s.rt.Close(); err != nil {
			s.log.Error().Err(err).Msg("runtime close failed")
		}
	}()
	return done
}

// Stream generates step by step and hands every decoded fragment to onToken.
// ctx is checked once per step; cancellation yields errAborted without a
// stop marker. An onToken error ends generation and is returned as is.
func (s *Session) Stream(ctx context.Context, prompt string, opts runtime.SearchOptions, onToken func(string) error) (StreamResult, error) {
	var res StreamResult
	input, err := s.rt.Encode(prompt)
	if err != nil {
		return res, inferenceError{op: "encode", err: err}
	}
	if ctx.Err() != nil {
		return res, errAborted
	}
	gen, err := s.rt.NewGenerator(input, opts)
	if err != nil {
		return res, inferenceError{op: "generator", err: err}
	}
	defer gen.Close()
	dec := s.rt.NewStreamDecoder()
	start := time.Now()
	for !gen.IsDone() {
		if ctx.Err() != nil {
			res.Elapsed = time.Since(start)
			return res, errAborted
		}
		if err := gen.ComputeStep(); err != nil {
			if errors.Is(err, runtime.ErrGeneratorDone) {
				break
			}
			return res, inferenceError{op: "step", err: err}
		}
		frag, err := dec.Decode(gen.NextToken())
		if err != nil {
			return res, inferenceError{op: "decode", err: err}
		}
		res.Tokens++
		if err := onToken(frag); err != nil {
			return res, err
		}
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// Batch generates the whole completion in one runtime call and decodes only
// the tokens that follow the input.
func (s *Session) Batch(ctx context.Context, prompt string, opts runtime.SearchOptions) (BatchResult, error) {
	var res BatchResult
	input, err := s.rt.Encode(prompt)
	if err != nil {
		return res, inferenceError{op: "encode", err: err}
	}
	if ctx.Err() != nil {
		return res, errAborted
	}
	start := time.Now()
	out, err := s.rt.Generate(input, opts)
	res.Elapsed = time.Since(start)
	if err != nil {
		return res, inferenceError{op: "generate", err: err}
	}
	if len(out) <= len(input) {
		return res, nil
	}
	suffix := out[len(input):]
	text, err := s.rt.Decode(suffix)
	if err != nil {
		return res, inferenceError{op: "decode", err: err}
	}
	res.Text = text
	res.Tokens = len(suffix)
	return res, nil
}

// tokensPerSecond guards against a zero elapsed time.
func tokensPerSecond(tokens int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(tokens) / elapsed.Seconds()
}
