package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		server    string
		system    string
		maxTokens int
		noStream  bool
	)
	cmd := &cobra.Command{
		Use:     "chat <message>",
		Short:   "Send a chat completion to a running server",
		Example: "  onnxd chat --server http://127.0.0.1:3928 \"Write a haiku\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oc := newOpenAIClient(server)
			req := openai.ChatCompletionRequest{
				MaxTokens: maxTokens,
				Messages:  []openai.ChatCompletionMessage{},
			}
			if system != "" {
				req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
			}
			req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: strings.Join(args, " ")})

			out := cmd.OutOrStdout()
			if noStream {
				resp, err := oc.CreateChatCompletion(cmd.Context(), req)
				if err != nil {
					return err
				}
				if len(resp.Choices) == 0 {
					return errors.New("empty completion")
				}
				_, err = fmt.Fprintln(out, resp.Choices[0].Message.Content)
				return err
			}

			req.Stream = true
			stream, err := oc.CreateChatCompletionStream(cmd.Context(), req)
			if err != nil {
				return err
			}
			defer stream.Close()
			for {
				resp, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					_, err = fmt.Fprintln(out)
					return err
				}
				if err != nil {
					return err
				}
				for _, c := range resp.Choices {
					fmt.Fprint(out, c.Delta.Content)
				}
			}
		},
	}
	f := cmd.Flags()
	f.StringVar(&server, "server", "http://127.0.0.1:3928", "Server base URL")
	f.StringVar(&system, "system", "", "Optional system message")
	f.IntVar(&maxTokens, "max-tokens", 0, "Maximum sequence length (0 uses the server default)")
	f.BoolVar(&noStream, "no-stream", false, "Wait for the full completion instead of streaming")
	return cmd
}

// newOpenAIClient points the OpenAI client at the server's /v1 routes.
func newOpenAIClient(server string) *openai.Client {
	oc := openai.DefaultConfig("")
	oc.BaseURL = strings.TrimRight(server, "/") + "/v1"
	return openai.NewClientWithConfig(oc)
}
