// Package audit emits the structured event records the pipeline produces
// at validation verdicts, merge completion, and errors.
//
// Events carry {timestamp, stage, event_type, message, metadata} and flow
// to a Sink. The default sink logs each event as structured JSON through
// log/slog; a Recorder sink captures events in memory for tests and for
// store-backed persistence.
package audit

import (
	"log/slog"
	"sync"
	"time"
)

// Stage identifies the pipeline stage an event originated from.
type Stage string

const (
	StageValidation Stage = "validation"
	StageDiff       Stage = "diff"
	StageMerge      Stage = "merge"
	StageLineage    Stage = "lineage"
	StagePipeline   Stage = "pipeline"
)

// Event is one structured audit record.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Stage     Stage          `json:"stage"`
	EventType string         `json:"event_type"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Sink consumes audit events. Implementations must be safe for concurrent
// use.
type Sink interface {
	Emit(e Event)
}

// SlogSink writes each event as one structured log line.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink wraps a slog logger as a sink. A nil logger uses
// slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit implements Sink.
func (s *SlogSink) Emit(e Event) {
	attrs := []any{
		slog.String("stage", string(e.Stage)),
		slog.String("event_type", e.EventType),
	}
	for k, v := range e.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.logger.Info(e.Message, attrs...)
}

// Recorder captures events in memory, preserving emission order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the captured events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByType returns the captured events with the given event type.
func (r *Recorder) ByType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Multi fans events out to several sinks in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Discard is a sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Event) {}
