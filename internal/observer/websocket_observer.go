package observer

import (
	"context"
	"encoding/json"

	"github.com/caseworks/mysteryforge/internal/infrastructure/logger"
)

// WebSocketObserver forwards every notified Event to the hub as JSON,
// the same Observer-over-a-transport shape as the teacher's own
// WebSocket observer, retargeted to stage events.
type WebSocketObserver struct {
	hub    *WebSocketHub
	filter EventFilter
	logger *logger.Logger
}

type WebSocketObserverOption func(*WebSocketObserver)

func WithWebSocketFilter(f EventFilter) WebSocketObserverOption {
	return func(o *WebSocketObserver) { o.filter = f }
}

func WithWebSocketLogger(log *logger.Logger) WebSocketObserverOption {
	return func(o *WebSocketObserver) { o.logger = log }
}

func NewWebSocketObserver(hub *WebSocketHub, opts ...WebSocketObserverOption) *WebSocketObserver {
	o := &WebSocketObserver{hub: hub}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *WebSocketObserver) Name() string { return "websocket" }

func (o *WebSocketObserver) Filter() EventFilter { return o.filter }

func (o *WebSocketObserver) OnEvent(_ context.Context, event Event) error {
	payload, err := json.Marshal(eventWireFormat(event))
	if err != nil {
		return err
	}
	o.hub.Broadcast(event.DraftID, payload)
	return nil
}

// eventWireFormat flattens Event's optional pointer fields into a
// plain map so nil fields are simply absent from the JSON rather than
// serialized as null.
func eventWireFormat(event Event) map[string]any {
	out := map[string]any{
		"type":      string(event.Type),
		"draftId":   event.DraftID,
		"timestamp": event.Timestamp,
	}
	if event.Stage != nil {
		out["stage"] = string(*event.Stage)
	}
	if event.RetryCount != nil {
		out["retryCount"] = *event.RetryCount
	}
	if event.DurationMs != nil {
		out["durationMs"] = *event.DurationMs
	}
	if len(event.Errors) > 0 {
		out["errors"] = event.Errors
	}
	if len(event.Warnings) > 0 {
		out["warnings"] = event.Warnings
	}
	if event.Message != nil {
		out["message"] = *event.Message
	}
	return out
}
