package engine

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"onnxd/pkg/types"
)

func msgs(pairs ...string) []types.ChatMessage {
	out := make([]types.ChatMessage, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, types.ChatMessage{Role: pairs[i], Content: pairs[i+1]})
	}
	return out
}

func TestAssemble(t *testing.T) {
	tmpl := Template{UserPrefix: "U:", AIPrefix: "A:", SystemPrefix: "S:", PrePrompt: "P|", MaxHistoryTurns: 1}
	cases := []struct {
		name  string
		msgs  []types.ChatMessage
		turns int
		want  string
	}{
		{"empty", nil, 1, "P|A:"},
		{"window keeps last turn with system", msgs("system", "sys", "user", "U1", "assistant", "A1", "user", "U2"), 1, "S:sysP|A:A1U:U2A:"},
		{"window keeps last turn", msgs("user", "U1", "assistant", "A1", "user", "U2"), 1, "P|A:A1U:U2A:"},
		{"window wider than history", msgs("user", "U1", "assistant", "A1", "user", "U2"), 5, "P|U:U1A:A1U:U2A:"},
		{"zero turns keeps only system", msgs("system", "sys", "user", "U1"), 0, "S:sysP|A:"},
		{"negative turns", msgs("user", "U1"), -3, "P|A:"},
		{"system anywhere is prepended", msgs("user", "U1", "system", "late"), 2, "S:lateP|U:U1A:"},
		{"later system lands first", msgs("system", "one", "system", "two"), 2, "S:twoS:oneP|A:"},
		{"unknown role appended verbatim", msgs("tool", "result"), 0, "P|toolresultA:"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tm := tmpl
			tm.MaxHistoryTurns = c.turns
			if got := Assemble(c.msgs, tm, zerolog.Nop()); got != c.want {
				t.Fatalf("got %q want %q", got, c.want)
			}
		})
	}
}

func TestAssembleWarnsOnUnknownRole(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	_ = Assemble(msgs("function", "x"), DefaultTemplate(), log)
	if !strings.Contains(buf.String(), `"role":"function"`) || !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Fatalf("expected warning, got %q", buf.String())
	}
}

func TestAssembleDefaults(t *testing.T) {
	got := Assemble(msgs("system", "be brief", "user", "hi"), DefaultTemplate(), zerolog.Nop())
	want := "ASSISTANT's RULE: be briefUSER: hiASSISTANT: "
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestTemplateFromKeepsExplicitEmpty(t *testing.T) {
	empty := ""
	turns := 4
	tm := TemplateFrom(types.LoadModelRequest{ModelPath: "m", UserPrompt: &empty, MaxHistoryChat: &turns})
	if tm.UserPrefix != "" {
		t.Fatalf("explicit empty user prompt replaced by %q", tm.UserPrefix)
	}
	if tm.AIPrefix != DefaultAIPrefix || tm.SystemPrefix != DefaultSystemPrefix || tm.PrePrompt != DefaultPrePrompt {
		t.Fatalf("defaults not applied: %+v", tm)
	}
	if tm.MaxHistoryTurns != 4 {
		t.Fatalf("turns=%d", tm.MaxHistoryTurns)
	}
	if d := TemplateFrom(types.LoadModelRequest{}); d != DefaultTemplate() {
		t.Fatalf("empty request should give defaults: %+v", d)
	}
}
