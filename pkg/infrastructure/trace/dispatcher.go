package trace

import (
	"sync"

	"github.com/rs/zerolog"
)

// DefaultBuffer is the dispatcher's bounded queue capacity.
const DefaultBuffer = 1024

// Dispatcher fans events out to sinks from a single background goroutine.
// When the buffer is full the oldest event is dropped, never the caller
// blocked.
type Dispatcher struct {
	logger zerolog.Logger
	sinks  []Sink

	mu     sync.Mutex
	queue  chan Event
	done   chan struct{}
	closed bool
}

// NewDispatcher starts a dispatcher over the given sinks.
func NewDispatcher(logger zerolog.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	d := &Dispatcher{
		logger: logger.With().Str("component", "trace").Logger(),
		sinks:  sinks,
		queue:  make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit queues an event, dropping the oldest queued event when full.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	for {
		select {
		case d.queue <- ev:
			d.mu.Unlock()
			eventsEmitted.WithLabelValues(string(ev.Level)).Inc()
			return
		default:
		}
		select {
		case <-d.queue:
			eventsDropped.Inc()
		default:
		}
	}
}

// Close drains the queue and closes every sink.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done

	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("trace sink close failed")
		}
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		for _, s := range d.sinks {
			if err := s.Write(ev); err != nil {
				d.logger.Warn().Err(err).Msg("trace sink write failed")
			}
		}
	}
}
