package types

// Status mirrors HTTP response semantics for every engine callback.
type Status struct {
	IsDone     bool `json:"is_done"`
	HasError   bool `json:"has_error"`
	IsStream   bool `json:"is_stream"`
	StatusCode int  `json:"status_code"`
}

// Envelope is one (status, payload) pair delivered by the engine.
// Payload is one of MessageResponse, StreamData, ChatCompletion or ModelList.
type Envelope struct {
	Status  Status `json:"status"`
	Payload any    `json:"payload"`
}

// MessageResponse is the payload of load/unload/status/error envelopes.
type MessageResponse struct {
	// example: Model loaded successfully
	Message string `json:"message" example:"Model loaded successfully"`
}

// StreamData carries pre-formatted SSE text: "data: <json>\n\n".
type StreamData struct {
	Data string `json:"data"`
}

// LoadModelRequest configures a model load. Pointer fields distinguish an
// absent value (default applies) from an explicit empty one.
type LoadModelRequest struct {
	// example: /home/user/models/phi3-mini-4k-instruct
	ModelPath  string `json:"model_path" yaml:"model_path" toml:"model_path" example:"/home/user/models/phi3-mini-4k-instruct"`
	Model      string `json:"model,omitempty" yaml:"model" toml:"model"`
	ModelAlias string `json:"model_alias,omitempty" yaml:"model_alias" toml:"model_alias"`

	UserPrompt     *string `json:"user_prompt,omitempty" yaml:"user_prompt" toml:"user_prompt"`
	AIPrompt       *string `json:"ai_prompt,omitempty" yaml:"ai_prompt" toml:"ai_prompt"`
	SystemPrompt   *string `json:"system_prompt,omitempty" yaml:"system_prompt" toml:"system_prompt"`
	PrePrompt      *string `json:"pre_prompt,omitempty" yaml:"pre_prompt" toml:"pre_prompt"`
	MaxHistoryChat *int    `json:"max_history_chat,omitempty" yaml:"max_history_chat" toml:"max_history_chat" validate:"omitempty,gte=0"`
}

// ModelEntry describes the loaded model in a list-models response.
type ModelEntry struct {
	ID        string `json:"id"`
	Engine    string `json:"engine"`
	StartTime int64  `json:"start_time"`
	VRAM      string `json:"vram"`
	RAM       string `json:"ram"`
	Object    string `json:"object"`
}

// ModelList is the list-models payload.
type ModelList struct {
	Object string       `json:"object"`
	Data   []ModelEntry `json:"data"`
}
