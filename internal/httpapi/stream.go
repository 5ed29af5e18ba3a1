package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"onnxd/pkg/types"
)

const msgAborted = "Model unloaded during inference"

// Stream outcomes, also used as stream_aborts_total reasons.
const (
	outcomeDone     = "done"
	outcomeRejected = "rejected"
	outcomeAborted  = "aborted"
	outcomeError    = "error"
	outcomeClient   = "client"
	outcomeTimeout  = "timeout"
	outcomeClosed   = "closed"
)

type streamError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// streamEnvelopes copies stream envelopes to the client as server-sent
// events. A failure before the first chunk is answered as a plain JSON
// response; a later one becomes an error event. out receives the event
// bytes and w is only used for headers and flushing.
func streamEnvelopes(ctx context.Context, w http.ResponseWriter, out io.Writer, ch <-chan types.Envelope) string {
	rc := http.NewResponseController(w)
	started := false
	for {
		var (
			env types.Envelope
			ok  bool
		)
		select {
		case env, ok = <-ch:
		case <-ctx.Done():
			reason := outcomeClient
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				reason = outcomeTimeout
			}
			IncrementStreamAbort(reason)
			return reason
		}
		if !ok {
			IncrementStreamAbort(outcomeClosed)
			return outcomeClosed
		}

		data, isData := env.Payload.(types.StreamData)
		if !started {
			if env.Status.HasError || !isData {
				writeEnvelope(w, env)
				return outcomeRejected
			}
			h := w.Header()
			h.Set("Content-Type", "text/event-stream")
			h.Set("Cache-Control", "no-cache")
			h.Set("Connection", "keep-alive")
			h.Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}

		if env.Status.HasError {
			reason := outcomeError
			se := streamError{Message: msgAborted, Code: http.StatusServiceUnavailable}
			if isData {
				reason = outcomeAborted
			} else if m, ok := env.Payload.(types.MessageResponse); ok {
				se = streamError{Message: m.Message, Code: env.Status.StatusCode}
			}
			writeStreamError(out, se)
			_ = rc.Flush()
			IncrementStreamAbort(reason)
			return reason
		}

		if _, err := io.WriteString(out, data.Data); err != nil {
			IncrementStreamAbort(outcomeClient)
			return outcomeClient
		}
		_ = rc.Flush()
		if env.Status.IsDone {
			return outcomeDone
		}
	}
}

func writeStreamError(out io.Writer, se streamError) {
	b, err := json.Marshal(map[string]streamError{"error": se})
	if err != nil {
		return
	}
	_, _ = io.WriteString(out, "data: "+string(b)+"\n\n")
}
