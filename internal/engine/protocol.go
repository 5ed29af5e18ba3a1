package engine

import (
	"bytes"
	"encoding/json"
	"math/rand/v2"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"onnxd/pkg/types"
)

// Wire constants of the response protocol.
const (
	EngineTag         = "onnxd"
	SSEPrefix         = "data: "
	SSEDelimiter      = "\n\n"
	SSEDone           = SSEPrefix + "[DONE]" + SSEDelimiter
	SystemFingerprint = "_"

	objectCompletion = "chat.completion"
	objectChunk      = "chat.completion.chunk"
	objectList       = "list"
	objectModel      = "model"
	resourceUnknown  = "-"

	completionIDLen = 20
	idAlphabet      = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// NewCompletionID returns a random 20-character alphanumeric id.
func NewCompletionID() string {
	b := make([]byte, completionIDLen)
	for i := range b {
		b[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return string(b)
}

func status(done, hasErr, stream bool, code int) types.Status {
	return types.Status{IsDone: done, HasError: hasErr, IsStream: stream, StatusCode: code}
}

func messageEnvelope(st types.Status, msg string) types.Envelope {
	return types.Envelope{Status: st, Payload: types.MessageResponse{Message: msg}}
}

// okMessage is a successful non-stream envelope with a message payload.
func okMessage(msg string) types.Envelope {
	return messageEnvelope(status(true, false, false, http.StatusOK), msg)
}

// conflict is a 409 precondition envelope.
func conflict(msg string) types.Envelope {
	return messageEnvelope(status(false, true, false, http.StatusConflict), msg)
}

// ErrorEnvelope converts an engine error into its envelope.
func ErrorEnvelope(err error, stream bool) types.Envelope {
	switch {
	case IsNotLoaded(err):
		return conflict(msgNotLoaded)
	case IsAlreadyLoaded(err):
		return conflict(err.Error())
	case IsLoadFailed(err):
		return messageEnvelope(status(false, true, false, http.StatusInternalServerError), msgLoadFailed)
	case IsAborted(err):
		return abortEnvelope(stream)
	default:
		return messageEnvelope(status(false, true, stream, http.StatusInternalServerError), msgInferenceFailed)
	}
}

// abortEnvelope terminates a job whose model was unloaded underneath it.
func abortEnvelope(stream bool) types.Envelope {
	st := status(false, true, stream, http.StatusOK)
	if stream {
		return types.Envelope{Status: st, Payload: types.StreamData{Data: ""}}
	}
	return messageEnvelope(st, msgAborted)
}

// marshalCompact encodes v without HTML escaping and without a trailing newline.
func marshalCompact(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// SSELine wraps a JSON document as "data: <json>\n\n".
func SSELine(doc string) string { return SSEPrefix + doc + SSEDelimiter }

// chunkFactory builds the chunks of one streamed completion. All chunks of a
// job share id, model and created.
type chunkFactory struct {
	id      string
	model   string
	created int64
}

func (f chunkFactory) chunk(content string, finish openai.FinishReason) types.ChatCompletionChunk {
	return types.ChatCompletionChunk{
		ID:      f.id,
		Object:  objectChunk,
		Created: f.created,
		Model:   f.model,
		Choices: []types.ChunkChoice{{
			Index:        0,
			Delta:        types.ChunkDelta{Content: content},
			FinishReason: finish,
		}},
	}
}

// fragment is an intermediate stream envelope with finish_reason null.
func (f chunkFactory) fragment(content string) (types.Envelope, error) {
	doc, err := marshalCompact(f.chunk(content, ""))
	if err != nil {
		return types.Envelope{}, err
	}
	return types.Envelope{
		Status:  status(false, false, true, http.StatusOK),
		Payload: types.StreamData{Data: SSELine(doc)},
	}, nil
}

// terminal carries the stop chunk immediately followed by the [DONE] sentinel.
func (f chunkFactory) terminal() (types.Envelope, error) {
	doc, err := marshalCompact(f.chunk("", openai.FinishReasonStop))
	if err != nil {
		return types.Envelope{}, err
	}
	return types.Envelope{
		Status:  status(true, false, true, http.StatusOK),
		Payload: types.StreamData{Data: SSELine(doc) + SSEDone},
	}, nil
}

// completionEnvelope is the single envelope of a batch completion.
func completionEnvelope(id, model string, created int64, content string) types.Envelope {
	return types.Envelope{
		Status: status(true, false, false, http.StatusOK),
		Payload: types.ChatCompletion{
			ID:                id,
			Object:            objectCompletion,
			Created:           created,
			Model:             model,
			SystemFingerprint: SystemFingerprint,
			Choices: []types.CompletionChoice{{
				Index:        0,
				Message:      types.CompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				FinishReason: openai.FinishReasonStop,
			}},
			Usage: types.Usage{},
		},
	}
}

func modelListEnvelope(entries []types.ModelEntry) types.Envelope {
	if entries == nil {
		entries = []types.ModelEntry{}
	}
	return types.Envelope{
		Status:  status(true, false, false, http.StatusOK),
		Payload: types.ModelList{Object: objectList, Data: entries},
	}
}
