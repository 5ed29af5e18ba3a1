package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"onnxd/internal/config"
	"onnxd/internal/engine"
	"onnxd/pkg/types"
)

func newPromptCmd(rf *rootFlags) *cobra.Command {
	var (
		userPrompt, aiPrompt, systemPrompt, prePrompt string
		maxHistory                                    int
	)
	cmd := &cobra.Command{
		Use:   "prompt <messages.json|->",
		Short: "Print the prompt assembled from chat messages",
		Long: `Print the prompt assembled from chat messages.

The input is either a JSON array of {"role","content"} messages or a chat
completion request body with a "messages" field. Use - to read stdin.`,
		Example: "  onnxd prompt chat.json --max-history 1\n  echo '[{\"role\":\"user\",\"content\":\"hi\"}]' | onnxd prompt -",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				b   []byte
				err error
			)
			if args[0] == "-" {
				b, err = io.ReadAll(cmd.InOrStdin())
			} else {
				b, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read messages: %w", err)
			}
			msgs, err := parseMessages(b)
			if err != nil {
				return err
			}

			var req types.LoadModelRequest
			f := cmd.Flags()
			if f.Changed("user-prompt") {
				req.UserPrompt = &userPrompt
			}
			if f.Changed("ai-prompt") {
				req.AIPrompt = &aiPrompt
			}
			if f.Changed("system-prompt") {
				req.SystemPrompt = &systemPrompt
			}
			if f.Changed("pre-prompt") {
				req.PrePrompt = &prePrompt
			}
			if f.Changed("max-history") {
				if maxHistory < 0 {
					return fmt.Errorf("--max-history must be >= 0")
				}
				req.MaxHistoryChat = &maxHistory
			}
			cfg, err := loadConfig(rf, config.Config{})
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			_, err = io.WriteString(cmd.OutOrStdout(), engine.Assemble(msgs, engine.TemplateFrom(req), log))
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&userPrompt, "user-prompt", engine.DefaultUserPrefix, "Prefix for user messages")
	f.StringVar(&aiPrompt, "ai-prompt", engine.DefaultAIPrefix, "Prefix for assistant messages")
	f.StringVar(&systemPrompt, "system-prompt", engine.DefaultSystemPrefix, "Prefix for system messages")
	f.StringVar(&prePrompt, "pre-prompt", engine.DefaultPrePrompt, "Text placed before the conversation")
	f.IntVar(&maxHistory, "max-history", engine.DefaultMaxHistoryTurns, "Conversation turns kept")
	return cmd
}

// parseMessages accepts a message array or a request object.
func parseMessages(b []byte) ([]types.ChatMessage, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var msgs []types.ChatMessage
		if err := json.Unmarshal(b, &msgs); err != nil {
			return nil, fmt.Errorf("parse messages: %w", err)
		}
		return msgs, nil
	}
	var req types.ChatCompletionRequest
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	return req.Messages, nil
}
