package monitoring

import (
	"fmt"
	"sync"
	"time"
)

// Event is one structured observation from a backend or pipeline stage.
type Event struct {
	Stage   string // "matching", "post-processing", "progress", "degraded", ...
	Backend string
	Message string
	Done    int // rows finished, for progress events
	Total   int
	Elapsed time.Duration
}

func (e Event) String() string {
	s := "[" + e.Stage + "]"
	if e.Backend != "" {
		s += " " + e.Backend
	}
	if e.Total > 0 {
		s += fmt.Sprintf(" %d/%d", e.Done, e.Total)
	}
	if e.Elapsed > 0 {
		s += " " + e.Elapsed.String()
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

// Sink receives events. Implementations must be safe for concurrent use;
// worker goroutines may emit at the same time.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// LogSink writes events through Logf.
type LogSink struct{}

func (LogSink) Emit(e Event) { Logf("%s", e) }

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

// Recorder keeps every event it receives, for callers that inspect a run
// after it finishes.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Stage returns the recorded events for one stage.
func (r *Recorder) Stage(stage string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Multi fans events out to several sinks.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}
