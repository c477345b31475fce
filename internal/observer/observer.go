// Package observer reports run progress to anything watching a
// generation: a websocket client, a log sink, a test spy. It mirrors
// the teacher's node/wave event bus, retargeted from workflow nodes to
// pipeline stages.
package observer

import (
	"context"
	"time"

	"github.com/caseworks/mysteryforge/internal/model"
)

// EventType names a stage-lifecycle transition (dot notation, as the
// teacher does for its own execution events).
type EventType string

const (
	EventTypeRunStarted     EventType = "run.started"
	EventTypeRunCompleted   EventType = "run.completed"
	EventTypeRunFailed      EventType = "run.failed"
	EventTypeStageStarted   EventType = "stage.started"
	EventTypeStageRetrying  EventType = "stage.retrying"
	EventTypeStageCompleted EventType = "stage.completed"
	EventTypeStageFailed    EventType = "stage.failed"
)

// Event carries everything a watcher needs about one transition. Most
// fields are only populated for the event types they're relevant to,
// same as the teacher's Event.
type Event struct {
	Type      EventType
	DraftID   string
	Timestamp time.Time

	Stage *model.Stage

	RetryCount *int
	DurationMs *int64

	Errors   []string
	Warnings []string

	Message *string
}

// Observer receives every notified Event unless its Filter rejects it.
type Observer interface {
	OnEvent(ctx context.Context, event Event) error
	Name() string
	Filter() EventFilter
}

// EventFilter decides whether an event reaches a particular observer.
type EventFilter interface {
	ShouldNotify(event Event) bool
}

// DraftIDFilter only passes events for one run, the shape a websocket
// connection subscribed to a single in-flight draft needs.
type DraftIDFilter struct {
	DraftID string
}

func (f *DraftIDFilter) ShouldNotify(event Event) bool {
	return event.DraftID == f.DraftID
}

// EventTypeFilter only passes the listed event types; empty means all.
type EventTypeFilter struct {
	allowed map[EventType]bool
}

func NewEventTypeFilter(types ...EventType) *EventTypeFilter {
	if len(types) == 0 {
		return nil
	}
	allowed := make(map[EventType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return &EventTypeFilter{allowed: allowed}
}

func (f *EventTypeFilter) ShouldNotify(event Event) bool {
	if f == nil || len(f.allowed) == 0 {
		return true
	}
	return f.allowed[event.Type]
}
