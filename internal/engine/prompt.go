package engine

import (
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"onnxd/pkg/types"
)

// Template defaults used when a load request omits the field.
const (
	DefaultUserPrefix      = "USER: "
	DefaultAIPrefix        = "ASSISTANT: "
	DefaultSystemPrefix    = "ASSISTANT's RULE: "
	DefaultPrePrompt       = ""
	DefaultMaxHistoryTurns = 2
)

// Template controls how chat messages are flattened into a prompt.
type Template struct {
	UserPrefix   string
	AIPrefix     string
	SystemPrefix string
	PrePrompt    string
	// MaxHistoryTurns keeps the last 2*MaxHistoryTurns user/assistant messages.
	MaxHistoryTurns int
}

// DefaultTemplate returns the template applied to an empty load request.
func DefaultTemplate() Template {
	return Template{
		UserPrefix:      DefaultUserPrefix,
		AIPrefix:        DefaultAIPrefix,
		SystemPrefix:    DefaultSystemPrefix,
		PrePrompt:       DefaultPrePrompt,
		MaxHistoryTurns: DefaultMaxHistoryTurns,
	}
}

// TemplateFrom overlays the fields present in req on the defaults.
func TemplateFrom(req types.LoadModelRequest) Template {
	t := DefaultTemplate()
	if req.UserPrompt != nil {
		t.UserPrefix = *req.UserPrompt
	}
	if req.AIPrompt != nil {
		t.AIPrefix = *req.AIPrompt
	}
	if req.SystemPrompt != nil {
		t.SystemPrefix = *req.SystemPrompt
	}
	if req.PrePrompt != nil {
		t.PrePrompt = *req.PrePrompt
	}
	if req.MaxHistoryChat != nil {
		t.MaxHistoryTurns = *req.MaxHistoryChat
	}
	return t
}

// Assemble flattens messages into a single prompt ending with the AI prefix.
//
// System messages are prepended and never windowed. User and assistant
// messages are kept only when their index in the full list falls within the
// last 2*MaxHistoryTurns positions. Any other role is appended verbatim with
// the role name as prefix and logged as a warning.
func Assemble(messages []types.ChatMessage, t Template, log zerolog.Logger) string {
	n := len(messages)
	// inclusive: with a window of 2 over 4 messages, index 2 is kept
	first := n - 2*t.MaxHistoryTurns
	var acc strings.Builder
	acc.WriteString(t.PrePrompt)
	var system strings.Builder
	for i, m := range messages {
		switch m.Role {
		case openai.ChatMessageRoleSystem:
			// later system messages land in front of earlier ones
			s := t.SystemPrefix + m.Content + system.String()
			system.Reset()
			system.WriteString(s)
		case openai.ChatMessageRoleUser:
			if i >= first {
				acc.WriteString(t.UserPrefix)
				acc.WriteString(m.Content)
			}
		case openai.ChatMessageRoleAssistant:
			if i >= first {
				acc.WriteString(t.AIPrefix)
				acc.WriteString(m.Content)
			}
		default:
			log.Warn().Str("role", m.Role).Int("index", i).Msg("unexpected message role, appending verbatim")
			acc.WriteString(m.Role)
			acc.WriteString(m.Content)
		}
	}
	acc.WriteString(t.AIPrefix)
	return system.String() + acc.String()
}
