package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"onnxd/pkg/types"
)

// deltas extracts delta.content from every non-terminal stream envelope.
func deltas(t *testing.T, envs []types.Envelope) []string {
	t.Helper()
	var out []string
	for _, env := range envs {
		if env.Status.IsDone || env.Status.HasError {
			continue
		}
		m := decodeSSE(t, streamData(t, env))
		delta := firstChoice(t, m)["delta"].(map[string]any)
		out = append(out, delta["content"].(string))
	}
	return out
}

func TestStreamingMatchesBatch(t *testing.T) {
	rt := &fakeRuntime{pieces: []string{"Hel", "lo", ", ", "world"}}
	e, _ := newTestEngine(t, rt)
	mustLoad(t, e, "m")

	envs := collect(t, e.ChatCompletion(testCtx(t), chatReq(true, user("hi"))))
	if len(envs) != 5 {
		t.Fatalf("envelopes=%d", len(envs))
	}
	streamed := strings.Join(deltas(t, envs), "")

	batch := collect(t, e.ChatCompletion(testCtx(t), chatReq(false, user("hi"))))
	if len(batch) != 1 || batch[0].Status != (types.Status{IsDone: true, StatusCode: 200}) {
		t.Fatalf("batch=%+v", batch)
	}
	cc := batch[0].Payload.(types.ChatCompletion)
	if cc.Choices[0].Message.Content != streamed || streamed != "Hello, world" {
		t.Fatalf("stream=%q batch=%q", streamed, cc.Choices[0].Message.Content)
	}
	if cc.Model != "m" || len(cc.ID) != 20 || cc.Usage.TotalTokens != 0 {
		t.Fatalf("completion=%+v", cc)
	}
	if rt.lastPrompt() != "USER: hiASSISTANT: " {
		t.Fatalf("prompt=%q", rt.lastPrompt())
	}
}

func TestStreamTerminalEnvelope(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRuntime{pieces: []string{"a", "b"}})
	mustLoad(t, e, "m")
	envs := collect(t, e.ChatCompletion(testCtx(t), chatReq(true, user("hi"))))
	last := envs[len(envs)-1]
	if last.Status != (types.Status{IsDone: true, IsStream: true, StatusCode: 200}) {
		t.Fatalf("terminal status=%+v", last.Status)
	}
	data := streamData(t, last)
	if !strings.HasSuffix(data, SSEDone) {
		t.Fatalf("terminal=%q", data)
	}
	if firstChoice(t, decodeSSE(t, strings.TrimSuffix(data, SSEDone)))["finish_reason"] != "stop" {
		t.Fatalf("terminal chunk must carry stop: %q", data)
	}
	prev := decodeSSE(t, streamData(t, envs[len(envs)-2]))
	if firstChoice(t, prev)["finish_reason"] != nil {
		t.Fatalf("last-but-one chunk must have null finish_reason")
	}
	// every chunk of one completion shares id and model
	var ids []string
	for _, env := range envs[:len(envs)-1] {
		m := decodeSSE(t, streamData(t, env))
		ids = append(ids, m["id"].(string))
		if m["model"] != "m" {
			t.Fatalf("model=%v", m["model"])
		}
	}
	if ids[0] != ids[1] {
		t.Fatalf("ids differ: %v", ids)
	}
}

func TestEmptyFragmentsAreSkipped(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRuntime{pieces: []string{"a", "", "b"}})
	mustLoad(t, e, "m")
	envs := collect(t, e.ChatCompletion(testCtx(t), chatReq(true, user("hi"))))
	if got := deltas(t, envs); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("deltas=%q", got)
	}
}

func TestMaxTokensBoundsGeneration(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRuntime{pieces: []string{"a", "b", "c", "d"}})
	mustLoad(t, e, "m")
	req := chatReq(false, user("hi"))
	req.MaxTokens = 3 // one prompt token plus two generated
	envs := collect(t, e.ChatCompletion(testCtx(t), req))
	if got := envs[0].Payload.(types.ChatCompletion).Choices[0].Message.Content; got != "ab" {
		t.Fatalf("content=%q", got)
	}
}

func TestJobsRunInSubmissionOrder(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	var steps []string
	rt := &fakeRuntime{pieces: []string{"1", "2", "3"}}
	rt.stepHook = func(i int) {
		once.Do(func() { <-release })
		steps = append(steps, fmt.Sprintf("%s#%d", strings.TrimSuffix(strings.TrimPrefix(rt.lastPrompt(), "USER: "), "ASSISTANT: "), i))
	}
	e, _ := newTestEngine(t, rt)
	mustLoad(t, e, "m")
	first := e.ChatCompletion(testCtx(t), chatReq(true, user("first")))
	second := e.ChatCompletion(testCtx(t), chatReq(true, user("second")))
	if n := e.Snapshot().QueueLen; n != 2 {
		t.Fatalf("queue len=%d", n)
	}
	close(release)
	a := collect(t, first)
	b := collect(t, second)
	if len(a) != 4 || len(b) != 4 {
		t.Fatalf("envelopes first=%d second=%d", len(a), len(b))
	}
	want := "first#0 first#1 first#2 second#0 second#1 second#2"
	if got := strings.Join(steps, " "); got != want {
		t.Fatalf("steps=%q", got)
	}
}

func TestUnloadDuringStreamAborts(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	rt := &fakeRuntime{pieces: []string{"a", "b", "c", "d"}}
	rt.stepHook = func(i int) {
		if i == 1 {
			close(started)
			<-release
		}
	}
	e, pub := newTestEngine(t, rt)
	mustLoad(t, e, "m")
	ch := e.ChatCompletion(testCtx(t), chatReq(true, user("hi")))
	<-started
	if env := e.UnloadModel(testCtx(t)); env.Status.StatusCode != 200 {
		t.Fatalf("unload=%+v", env)
	}
	close(release)
	envs := collect(t, ch)
	last := envs[len(envs)-1]
	if last.Status != (types.Status{HasError: true, IsStream: true, StatusCode: 200}) || streamData(t, last) != "" {
		t.Fatalf("abort envelope=%+v", last)
	}
	for _, env := range envs {
		if strings.Contains(streamData(t, env), "[DONE]") {
			t.Fatalf("aborted stream must not carry the sentinel")
		}
	}
	if err := e.Close(testCtx(t)); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !rt.closed.Load() {
		t.Fatalf("runtime not released")
	}
	names := pub.Names()
	found := false
	for _, n := range names {
		found = found || n == EventJobAborted
	}
	if !found {
		t.Fatalf("events=%v", names)
	}
}

func TestQueuedBatchJobAbortsAfterUnload(t *testing.T) {
	release := make(chan struct{})
	rt := &fakeRuntime{pieces: []string{"a"}}
	rt.stepHook = func(int) { <-release }
	e, _ := newTestEngine(t, rt)
	mustLoad(t, e, "m")
	first := e.ChatCompletion(testCtx(t), chatReq(true, user("one")))
	queued := e.ChatCompletion(testCtx(t), chatReq(false, user("two")))
	e.UnloadModel(testCtx(t))
	close(release)
	collect(t, first)
	envs := collect(t, queued)
	if len(envs) != 1 {
		t.Fatalf("envelopes=%d", len(envs))
	}
	st := envs[0].Status
	if st.StatusCode != 200 || !st.HasError || st.IsDone || st.IsStream {
		t.Fatalf("status=%+v", st)
	}
	if message(t, envs[0]) != msgAborted {
		t.Fatalf("message=%q", message(t, envs[0]))
	}
}

func TestInferenceErrorKeepsWorkerAlive(t *testing.T) {
	rt := &fakeRuntime{pieces: []string{"x"}, stepErr: errors.New("boom")}
	e, _ := newTestEngine(t, rt)
	mustLoad(t, e, "m")
	before := testutil.ToFloat64(jobsTotal.WithLabelValues("stream", "error"))
	envs := collect(t, e.ChatCompletion(testCtx(t), chatReq(true, user("hi"))))
	last := envs[len(envs)-1]
	if last.Status.StatusCode != 500 || !last.Status.HasError || message(t, last) != "Error during inference" {
		t.Fatalf("error envelope=%+v", last)
	}
	if after := testutil.ToFloat64(jobsTotal.WithLabelValues("stream", "error")); after != before+1 {
		t.Fatalf("jobs_total error %v -> %v", before, after)
	}
	rt.stepErr = nil
	envs = collect(t, e.ChatCompletion(testCtx(t), chatReq(false, user("again"))))
	if envs[0].Status.StatusCode != 200 {
		t.Fatalf("worker did not recover: %+v", envs[0])
	}
}

func TestPanicInRuntimeBecomes500(t *testing.T) {
	rt := &fakeRuntime{pieces: []string{"x"}, panicStep: true}
	e, _ := newTestEngine(t, rt)
	mustLoad(t, e, "m")
	envs := collect(t, e.ChatCompletion(testCtx(t), chatReq(false, user("hi"))))
	if len(envs) != 1 || envs[0].Status.StatusCode != 500 {
		t.Fatalf("envelopes=%+v", envs)
	}
	rt.panicStep = false
	envs = collect(t, e.ChatCompletion(testCtx(t), chatReq(false, user("hi"))))
	if envs[0].Status.StatusCode != 200 {
		t.Fatalf("after panic=%+v", envs[0])
	}
}

func TestEncodeErrorBecomes500(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRuntime{encodeErr: errors.New("bad text")})
	mustLoad(t, e, "m")
	envs := collect(t, e.ChatCompletion(testCtx(t), chatReq(true, user("hi"))))
	if len(envs) != 1 || envs[0].Status.StatusCode != 500 || !envs[0].Status.IsStream {
		t.Fatalf("envelopes=%+v", envs)
	}
}

func TestCallerCancelClosesChannel(t *testing.T) {
	release := make(chan struct{})
	rt := &fakeRuntime{pieces: []string{"a", "b", "c"}}
	rt.stepHook = func(i int) {
		if i == 1 {
			<-release
		}
	}
	e, _ := newTestEngine(t, rt)
	mustLoad(t, e, "m")
	ctx, cancel := context.WithCancel(context.Background())
	ch := e.ChatCompletion(ctx, chatReq(true, user("hi")))
	<-ch // first fragment
	cancel()
	close(release)
	for env := range ch {
		if env.Status.IsDone {
			t.Fatalf("cancelled job delivered terminal envelope")
		}
	}
	// the worker is free for the next job
	envs := collect(t, e.ChatCompletion(testCtx(t), chatReq(false, user("next"))))
	if envs[0].Status.StatusCode != 200 {
		t.Fatalf("next job=%+v", envs[0])
	}
}

func TestEnvelopeJSONShape(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRuntime{pieces: []string{"a"}})
	mustLoad(t, e, "m")
	envs := collect(t, e.ChatCompletion(testCtx(t), chatReq(true, user("hi"))))
	b, err := json.Marshal(envs[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, k := range []string{`"is_done":false`, `"has_error":false`, `"is_stream":true`, `"status_code":200`, `"data":"data: {`} {
		if !strings.Contains(string(b), k) {
			t.Fatalf("missing %s in %s", k, b)
		}
	}
}
