package engine

import (
	"sync"

	"github.com/rs/zerolog"
)

// Dispatcher runs submitted functions one at a time, in submission order, on
// a single worker goroutine. The backlog is unbounded and Submit never blocks.
type Dispatcher struct {
	log zerolog.Logger

	mu      sync.Mutex
	queue   []func()
	running bool
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewDispatcher starts the worker goroutine.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.loop()
	return d
}

// Submit enqueues fn. It fails only after Close.
func (d *Dispatcher) Submit(fn func()) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errDispatcherClosed
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	d.nudge()
	return nil
}

// Len reports queued plus running jobs.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.queue)
	if d.running {
		n++
	}
	return n
}

// Close stops accepting work and waits for the backlog to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.nudge()
	<-d.done
}

func (d *Dispatcher) nudge() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.running = false
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			<-d.wake
			continue
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.running = true
		d.mu.Unlock()
		d.run(fn)
	}
}

// run keeps the worker alive when a job panics.
func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Msg("dispatcher job panicked")
		}
	}()
	fn()
}
