package engine

import (
	"context"
	"strings"

	"onnxd/pkg/types"
)

// ModelIDFrom derives the model id: model, else model_alias, else the last
// path element of model_path with backslashes treated as separators.
func ModelIDFrom(req types.LoadModelRequest) string {
	if req.Model != "" {
		return req.Model
	}
	if req.ModelAlias != "" {
		return req.ModelAlias
	}
	p := strings.ReplaceAll(req.ModelPath, `\`, "/")
	return p[strings.LastIndex(p, "/")+1:]
}

// LoadModel opens the model described by req. It is valid only while no
// model is loaded; a failed open leaves the engine unloaded.
func (e *Engine) LoadModel(ctx context.Context, req types.LoadModelRequest) types.Envelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return conflict("engine is closed")
	}
	if lm := e.loaded.Load(); lm != nil {
		e.log.Warn().Str("model", lm.id).Msg("load rejected: model already loaded")
		return ErrorEnvelope(alreadyLoadedError{modelID: lm.id}, false)
	}
	id := ModelIDFrom(req)
	e.state.Store(int32(StateLoading))
	e.events.Publish(Event{Name: EventLoadStart, ModelID: id, Fields: map[string]any{"path": req.ModelPath, "backend": e.cfg.Backend}})
	e.log.Info().Str("model", id).Str("path", req.ModelPath).Str("backend", e.cfg.Backend).Msg("loading model")

	rt, err := e.cfg.Runtimes.Open(e.cfg.Backend, req.ModelPath, e.cfg.RuntimeOptions)
	if err == nil && ctx.Err() != nil {
		// caller gave up while the runtime was opening
		err = ctx.Err()
	}
	if err != nil {
		if rt != nil {
			if cerr := rt.Close(); cerr != nil {
				e.log.Warn().Err(cerr).Str("model", id).Msg("closing partially opened runtime")
			}
		}
		e.state.Store(int32(StateUnloaded))
		lerr := loadError{path: req.ModelPath, err: err}
		loadsTotal.WithLabelValues("error").Inc()
		e.events.Publish(Event{Name: EventLoadFailed, ModelID: id, Fields: map[string]any{"error": err.Error()}})
		e.log.Error().Err(lerr).Str("model", id).Msg("model load failed")
		return ErrorEnvelope(lerr, false)
	}

	if e.dispatcher == nil {
		e.dispatcher = NewDispatcher(e.log.With().Str("worker", "dispatcher").Logger())
	}
	lm := &loadedModel{
		id:         id,
		path:       req.ModelPath,
		startTime:  e.cfg.Clock().UnixMilli(),
		tmpl:       TemplateFrom(req),
		session:    newSession(rt, e.log.With().Str("model", id).Logger()),
		dispatcher: e.dispatcher,
	}
	e.loaded.Store(lm)
	e.state.Store(int32(StateLoaded))
	modelLoaded.Set(1)
	loadsTotal.WithLabelValues("ok").Inc()
	e.events.Publish(Event{Name: EventLoaded, ModelID: id})
	e.log.Info().Str("model", id).Str("path", req.ModelPath).Msg("model loaded")
	return okMessage(msgLoaded)
}

// UnloadModel releases the loaded model. In-flight and queued jobs observe
// the cancellation and terminate with an abort envelope.
func (e *Engine) UnloadModel(ctx context.Context) types.Envelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.unloadLocked() {
		e.log.Warn().Msg("unload rejected: model is not loaded")
		return ErrorEnvelope(notLoadedError{}, false)
	}
	return okMessage(msgUnloaded)
}

// unloadLocked empties the model slot. Callers hold e.mu.
func (e *Engine) unloadLocked() bool {
	lm := e.loaded.Swap(nil)
	if lm == nil {
		return false
	}
	e.state.Store(int32(StateUnloaded))
	modelLoaded.Set(0)
	e.releases.Add(1)
	done := lm.session.Release()
	go func() {
		<-done
		e.releases.Done()
	}()
	e.events.Publish(Event{Name: EventUnloaded, ModelID: lm.id})
	e.log.Info().Str("model", lm.id).Msg("model unloaded")
	return true
}
