package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"onnxd/internal/runtime"
	"onnxd/pkg/types"
)

// job is one chat completion waiting for or running on the worker.
type job struct {
	id     string
	ctx    context.Context
	lm     *loadedModel
	req    types.ChatCompletionRequest
	prompt string
	out    chan types.Envelope
	log    zerolog.Logger
}

// send delivers env unless the caller has gone away.
func (j *job) send(env types.Envelope) error {
	select {
	case j.out <- env:
		return nil
	case <-j.ctx.Done():
		return j.ctx.Err()
	}
}

// SearchOptionsFor maps request sampling fields onto runtime search options.
func SearchOptionsFor(req types.ChatCompletionRequest) runtime.SearchOptions {
	return runtime.SearchOptions{
		MaxLength:         req.MaxTokens,
		TopP:              req.TopP,
		Temperature:       req.Temperature,
		RepetitionPenalty: req.FrequencyPenalty,
	}
}

// ChatCompletion assembles the prompt on the calling goroutine and queues
// generation on the worker. The returned channel yields one or more
// envelopes and is closed after the terminal one. Cancelling ctx abandons
// the job; no further envelopes are delivered.
func (e *Engine) ChatCompletion(ctx context.Context, req types.ChatCompletionRequest) <-chan types.Envelope {
	lm := e.loaded.Load()
	if lm == nil {
		e.log.Warn().Msg("chat completion rejected: model is not loaded")
		return single(ErrorEnvelope(notLoadedError{}, false))
	}
	j := &job{
		id:     uuid.NewString(),
		ctx:    ctx,
		lm:     lm,
		req:    req,
		prompt: Assemble(req.Messages, lm.tmpl, e.log),
		out:    make(chan types.Envelope, e.cfg.ResultBuffer),
	}
	j.log = e.log.With().Str("job", j.id).Str("model", lm.id).Logger()
	queueDepth.Inc()
	if err := lm.dispatcher.Submit(func() { e.run(j) }); err != nil {
		queueDepth.Dec()
		return single(ErrorEnvelope(notLoadedError{}, false))
	}
	j.log.Debug().Bool("stream", req.Stream).Int("prompt_len", len(j.prompt)).Msg("job queued")
	return j.out
}

func single(env types.Envelope) <-chan types.Envelope {
	ch := make(chan types.Envelope, 1)
	ch <- env
	close(ch)
	return ch
}

// run executes j on the worker goroutine. Every path closes j.out.
func (e *Engine) run(j *job) {
	defer close(j.out)
	defer queueDepth.Dec()
	mode := modeLabel(j.req.Stream)
	defer func() {
		if r := recover(); r != nil {
			err := inferenceError{op: "panic", err: fmt.Errorf("%v", r)}
			e.finish(j, mode, err)
			_ = j.send(ErrorEnvelope(err, j.req.Stream))
		}
	}()

	if !j.lm.session.enter() {
		e.finish(j, mode, errAborted)
		_ = j.send(abortEnvelope(j.req.Stream))
		return
	}
	defer j.lm.session.leave()

	// runCtx ends when either the caller or the session goes away.
	runCtx, cancel := context.WithCancel(j.ctx)
	defer cancel()
	stop := context.AfterFunc(j.lm.session.Context(), cancel)
	defer stop()

	e.events.Publish(Event{Name: EventJobStart, ModelID: j.lm.id, Fields: map[string]any{"job": j.id, "mode": mode}})
	var err error
	if j.req.Stream {
		err = e.runStream(runCtx, j)
	} else {
		err = e.runBatch(runCtx, j)
	}
	e.finish(j, mode, err)
	if err == nil || j.ctx.Err() != nil {
		// done, or nobody is listening any more
		return
	}
	_ = j.send(ErrorEnvelope(err, j.req.Stream))
}

func (e *Engine) runStream(ctx context.Context, j *job) error {
	cf := chunkFactory{id: NewCompletionID(), model: j.lm.id, created: e.cfg.Clock().Unix()}
	res, err := j.lm.session.Stream(ctx, j.prompt, SearchOptionsFor(j.req), func(frag string) error {
		if frag == "" {
			return nil
		}
		env, err := cf.fragment(frag)
		if err != nil {
			return inferenceError{op: "encode chunk", err: err}
		}
		return j.send(env)
	})
	tokensGenerated.Add(float64(res.Tokens))
	generationDuration.WithLabelValues("stream").Observe(res.Elapsed.Seconds())
	if err != nil {
		return err
	}
	j.log.Debug().Int("tokens", res.Tokens).Float64("tokens_per_second", tokensPerSecond(res.Tokens, res.Elapsed)).Msg("stream finished")
	env, err := cf.terminal()
	if err != nil {
		return inferenceError{op: "encode chunk", err: err}
	}
	return j.send(env)
}

func (e *Engine) runBatch(ctx context.Context, j *job) error {
	res, err := j.lm.session.Batch(ctx, j.prompt, SearchOptionsFor(j.req))
	tokensGenerated.Add(float64(res.Tokens))
	generationDuration.WithLabelValues("batch").Observe(res.Elapsed.Seconds())
	if err != nil {
		return err
	}
	j.log.Debug().Int("tokens", res.Tokens).Float64("tokens_per_second", tokensPerSecond(res.Tokens, res.Elapsed)).Msg("batch finished")
	return j.send(completionEnvelope(NewCompletionID(), j.lm.id, e.cfg.Clock().Unix(), res.Text))
}

// finish records the job outcome in metrics, events and logs.
func (e *Engine) finish(j *job, mode string, err error) {
	outcome, name := "ok", EventJobDone
	switch {
	case err == nil:
	case j.ctx.Err() != nil:
		outcome, name = "cancelled", EventJobAborted
	case IsAborted(err):
		outcome, name = "aborted", EventJobAborted
	default:
		outcome, name = "error", EventJobFailed
	}
	jobsTotal.WithLabelValues(mode, outcome).Inc()
	ev := Event{Name: name, ModelID: j.lm.id, Fields: map[string]any{"job": j.id, "mode": mode}}
	if err != nil {
		ev.Fields["error"] = err.Error()
	}
	e.events.Publish(ev)
	switch outcome {
	case "error":
		j.log.Error().Err(err).Msg("inference failed")
	case "aborted":
		j.log.Warn().Msg("model unloaded during inference")
	case "cancelled":
		j.log.Info().Msg("job cancelled by caller")
	}
}
