package engine

import (
	"time"

	"github.com/rs/zerolog"

	"onnxd/internal/runtime"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultBackend      = runtime.EchoBackend
	defaultResultBuffer = 32
)

// Config encapsulates all tunables for Engine construction.
type Config struct {
	// Backend selects the runtime factory used by LoadModel.
	Backend string
	// Runtimes is the backend registry; runtime.DefaultRegistry when nil.
	Runtimes       *runtime.Registry
	RuntimeOptions runtime.Options
	Logger         *zerolog.Logger
	Events         EventPublisher
	// ResultBuffer is the capacity of each ChatCompletion result channel.
	ResultBuffer int
	// Clock returns the current time; time.Now when nil.
	Clock func() time.Time
}

// NewWithConfig constructs an Engine from Config.
func NewWithConfig(cfg Config) *Engine {
	if cfg.Backend == "" {
		cfg.Backend = defaultBackend
	}
	if cfg.Runtimes == nil {
		cfg.Runtimes = runtime.DefaultRegistry
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = defaultResultBuffer
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	e := &Engine{cfg: cfg, events: cfg.Events}
	if cfg.Logger != nil {
		e.log = cfg.Logger.With().Str("component", "engine").Logger()
	} else {
		e.log = zerolog.Nop()
	}
	if e.events == nil {
		e.events = noopPublisher{}
	}
	return e
}
