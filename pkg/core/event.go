package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType identifies something that happened during a crew run.
type EventType string

const (
	EventCrewStarted        EventType = "crew.started"
	EventCrewCompleted      EventType = "crew.completed"
	EventAgentTaskStarted   EventType = "agent.task.started"
	EventAgentTaskCompleted EventType = "agent.task.completed"
	EventAgentDelegation    EventType = "agent.delegation"
	EventAgentError         EventType = "agent.error"
)

// Event is one entry of a run's event stream. Agent is the role that
// produced it and is empty for crew-level events.
type Event struct {
	Type      EventType
	Agent     string
	RunID     string
	Timestamp time.Time
	Payload   map[string]any
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(eventType EventType, agent string, runID string, payload map[string]any) Event {
	return Event{Type: eventType, Agent: agent, RunID: runID, Timestamp: time.Now().UTC(), Payload: payload}
}

// EventEmitter receives run events. Emit must not block the run.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter drops every event.
type NoopEventEmitter struct{}

func (NoopEventEmitter) Emit(context.Context, Event) {}

// LogEventEmitter writes events to a slog logger at debug level.
type LogEventEmitter struct {
	Logger *slog.Logger
}

// Emit implements EventEmitter.
func (e LogEventEmitter) Emit(ctx context.Context, event Event) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	attrs := make([]any, 0, 2+len(event.Payload))
	attrs = append(attrs, slog.String("run_id", event.RunID))
	if event.Agent != "" {
		attrs = append(attrs, slog.String("agent", event.Agent))
	}
	for k, v := range event.Payload {
		attrs = append(attrs, slog.Any(k, v))
	}
	logger.DebugContext(ctx, string(event.Type), attrs...)
}

// MultiEmitter fans every event out to each emitter in order.
type MultiEmitter []EventEmitter

// Emit implements EventEmitter.
func (m MultiEmitter) Emit(ctx context.Context, event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(ctx, event)
		}
	}
}

// EventRecorder keeps events in memory, mostly for tests.
type EventRecorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements EventEmitter.
func (r *EventRecorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a snapshot of everything recorded so far.
func (r *EventRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of one type.
func (r *EventRecorder) OfType(t EventType) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
