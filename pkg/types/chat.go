package types

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
)

// Request defaults applied when a field is absent from the JSON body.
const (
	DefaultMaxTokens   = 500
	DefaultTopP        = 0.95
	DefaultTemperature = 0.8
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	// example: user
	Role string `json:"role" example:"user"`
	// example: Hello!
	Content string `json:"content" example:"Hello!"`
}

// ChatCompletionRequest is the body accepted by the chat completion operation.
type ChatCompletionRequest struct {
	// Optional model name; informational only since one model is loaded at a time.
	Model    string        `json:"model,omitempty"`
	Messages []ChatMessage `json:"messages" validate:"dive"`
	// example: true
	Stream bool `json:"stream" example:"true"`
	// example: 500
	MaxTokens int `json:"max_tokens" validate:"gte=0" example:"500"`
	// example: 0.95
	TopP float64 `json:"top_p" validate:"gte=0,lte=1" example:"0.95"`
	// example: 0.8
	Temperature float64 `json:"temperature" validate:"gte=0" example:"0.8"`
	// example: 0
	FrequencyPenalty float64 `json:"frequency_penalty" example:"0"`
}

// NewChatCompletionRequest returns a request with defaults filled in.
func NewChatCompletionRequest(messages []ChatMessage) ChatCompletionRequest {
	return ChatCompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		TopP:        DefaultTopP,
		Temperature: DefaultTemperature,
	}
}

// UnmarshalJSON decodes over a defaulted request so absent fields keep
// their defaults while explicit zeros are preserved.
func (r *ChatCompletionRequest) UnmarshalJSON(b []byte) error {
	type plain ChatCompletionRequest
	p := plain(NewChatCompletionRequest(nil))
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = ChatCompletionRequest(p)
	return nil
}

// Usage is always reported as zeros; the engine does not count tokens.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionMessage is the assistant message of a batch completion.
type CompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionChoice is choices[i] of a chat.completion object.
type CompletionChoice struct {
	Index        int                 `json:"index"`
	Message      CompletionMessage   `json:"message"`
	FinishReason openai.FinishReason `json:"finish_reason"`
}

// ChatCompletion is the non-streaming response object.
type ChatCompletion struct {
	ID                string             `json:"id"`
	Object            string             `json:"object"`
	Created           int64              `json:"created"`
	Model             string             `json:"model"`
	SystemFingerprint string             `json:"system_fingerprint"`
	Choices           []CompletionChoice `json:"choices"`
	Usage             Usage              `json:"usage"`
}

// ChunkDelta carries the incremental content of a streamed chunk.
type ChunkDelta struct {
	Content string `json:"content"`
}

// ChunkChoice is choices[i] of a chat.completion.chunk object. An empty
// FinishReason marshals as null.
type ChunkChoice struct {
	Index        int                 `json:"index"`
	Delta        ChunkDelta          `json:"delta"`
	FinishReason openai.FinishReason `json:"finish_reason"`
}

// ChatCompletionChunk is one streamed event.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// EmbeddingRequest is accepted for API compatibility only.
type EmbeddingRequest struct {
	Model string `json:"model,omitempty"`
	Input any    `json:"input"`
}
