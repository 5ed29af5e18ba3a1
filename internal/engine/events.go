package engine

// Event is an engine lifecycle event: name + model id and optional fields.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// Event names published by the engine.
const (
	EventLoadStart  = "load_start"
	EventLoaded     = "loaded"
	EventLoadFailed = "load_failed"
	EventUnloaded   = "unloaded"
	EventJobStart   = "job_start"
	EventJobDone    = "job_done"
	EventJobAborted = "job_aborted"
	EventJobFailed  = "job_failed"
)

// EventPublisher receives engine events. Publish must be non-blocking and
// must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
