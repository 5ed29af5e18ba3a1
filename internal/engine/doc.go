// Package engine hosts a single loaded model and serves chat completions
// against it.
//
// Responsibilities:
//   - Model lifecycle: LoadModel opens a runtime backend, UnloadModel cancels
//     in-flight work and releases the runtime once it is idle.
//   - Prompt assembly from chat messages with a per-model Template and a
//     history window.
//   - Serialized generation: every completion job runs on one worker
//     goroutine in submission order (Dispatcher).
//   - Response protocol: every operation answers with types.Envelope values;
//     streamed completions carry pre-formatted SSE lines ending with the
//     "data: [DONE]" sentinel.
//
// Errors never cross the engine boundary as Go errors; they are converted
// into envelopes with the matching status code.
package engine
