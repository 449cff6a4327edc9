// Package telemetry emits structured lifecycle events to an analytics sink.
// Emission is fire-and-forget: it must never block or fail a core operation.
package telemetry

import (
	"log/slog"
	"time"
)

// Event is one analytics event.
type Event struct {
	Kind       string         `json:"kind"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Emitter is the sink exposed to the core services.
type Emitter interface {
	Emit(kind string, properties map[string]any)
}

// AsyncEmitter buffers events on a channel drained by one background
// goroutine. When the buffer is full the event is dropped rather than
// blocking the caller.
type AsyncEmitter struct {
	events chan Event
	done   chan struct{}
	log    *slog.Logger
}

func NewAsyncEmitter(log *slog.Logger, buffer int) *AsyncEmitter {
	if buffer <= 0 {
		buffer = 256
	}
	e := &AsyncEmitter{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		log:    log,
	}
	go e.drain()
	return e
}

func (e *AsyncEmitter) Emit(kind string, properties map[string]any) {
	ev := Event{Kind: kind, Properties: properties, Timestamp: time.Now().UTC()}
	select {
	case e.events <- ev:
	default:
		// Buffer full; telemetry is best-effort.
	}
}

func (e *AsyncEmitter) drain() {
	defer close(e.done)
	for ev := range e.events {
		e.log.Info("telemetry event", "kind", ev.Kind, "properties", ev.Properties, "eventTime", ev.Timestamp)
	}
}

// Close flushes buffered events and stops the drain goroutine.
func (e *AsyncEmitter) Close() {
	close(e.events)
	<-e.done
}

// NopEmitter discards everything. Used in tests.
type NopEmitter struct{}

func (NopEmitter) Emit(string, map[string]any) {}
