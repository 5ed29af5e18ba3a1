package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"onnxd/pkg/types"
)

// State is the engine lifecycle state.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// loadedModel is the immutable view of the occupied model slot.
type loadedModel struct {
	id         string
	path       string
	startTime  int64 // unix milliseconds
	tmpl       Template
	session    *Session
	dispatcher *Dispatcher
}

// Engine serves one model at a time. LoadModel and UnloadModel are
// serialized; ChatCompletion may be called from any goroutine.
type Engine struct {
	cfg    Config
	log    zerolog.Logger
	events EventPublisher

	// mu serializes load, unload and close.
	mu         sync.Mutex
	dispatcher *Dispatcher
	closed     bool
	releases   sync.WaitGroup

	state  atomic.Int32
	loaded atomic.Pointer[loadedModel]
}

// Snapshot is a point-in-time view of the engine used by readiness checks.
type Snapshot struct {
	State     State
	ModelID   string
	ModelPath string
	StartTime int64
	QueueLen  int
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Ready reports whether a model is loaded.
func (e *Engine) Ready() bool { return e.loaded.Load() != nil }

// ModelID returns the loaded model id or "".
func (e *Engine) ModelID() string {
	if lm := e.loaded.Load(); lm != nil {
		return lm.id
	}
	return ""
}

// Snapshot returns the current state without blocking on load or unload.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{State: e.State()}
	if lm := e.loaded.Load(); lm != nil {
		s.ModelID = lm.id
		s.ModelPath = lm.path
		s.StartTime = lm.startTime
		s.QueueLen = lm.dispatcher.Len()
	}
	return s
}

// Embedding is not supported; it always answers 409.
func (e *Engine) Embedding(ctx context.Context, req types.EmbeddingRequest) types.Envelope {
	e.log.Warn().Msg(msgEmbeddingUnsupp)
	return conflict(msgEmbeddingUnsupp)
}

// ModelStatus is not supported; it always answers 409.
func (e *Engine) ModelStatus(ctx context.Context) types.Envelope {
	e.log.Warn().Msg(msgModelStatusUnsupp)
	return conflict(msgModelStatusUnsupp)
}

// ListModels returns the loaded model, or an empty list.
func (e *Engine) ListModels(ctx context.Context) types.Envelope {
	lm := e.loaded.Load()
	if lm == nil {
		return modelListEnvelope(nil)
	}
	e.log.Debug().Str("model", lm.id).Msg("running models responded")
	return modelListEnvelope([]types.ModelEntry{{
		ID:        lm.id,
		Engine:    EngineTag,
		StartTime: lm.startTime,
		VRAM:      resourceUnknown,
		RAM:       resourceUnknown,
		Object:    objectModel,
	}})
}

// Close unloads the model, drains queued jobs and waits for the runtime to
// be released or ctx to end.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.unloadLocked()
	d := e.dispatcher
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if d != nil {
			d.Close()
		}
		e.releases.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
