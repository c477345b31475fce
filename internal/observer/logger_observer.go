package observer

import (
	"context"

	"github.com/caseworks/mysteryforge/internal/infrastructure/logger"
)

// LoggerObserver writes every notified Event to structured logs, the
// simplest observer in the fan-out and the one enabled by default.
type LoggerObserver struct {
	logger *logger.Logger
	filter EventFilter
}

type LoggerObserverOption func(*LoggerObserver)

func WithLoggerFilter(f EventFilter) LoggerObserverOption {
	return func(o *LoggerObserver) { o.filter = f }
}

func NewLoggerObserver(log *logger.Logger, opts ...LoggerObserverOption) *LoggerObserver {
	o := &LoggerObserver{logger: log}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *LoggerObserver) Name() string { return "logger" }

func (o *LoggerObserver) Filter() EventFilter { return o.filter }

func (o *LoggerObserver) OnEvent(ctx context.Context, event Event) error {
	args := []any{"draftId", event.DraftID, "event", string(event.Type)}
	if event.Stage != nil {
		args = append(args, "stage", string(*event.Stage))
	}
	if event.RetryCount != nil {
		args = append(args, "retryCount", *event.RetryCount)
	}
	if event.DurationMs != nil {
		args = append(args, "durationMs", *event.DurationMs)
	}
	if len(event.Errors) > 0 {
		args = append(args, "errors", event.Errors)
	}

	switch event.Type {
	case EventTypeRunFailed, EventTypeStageFailed:
		o.logger.ErrorContext(ctx, "pipeline event", args...)
	case EventTypeStageRetrying:
		o.logger.WarnContext(ctx, "pipeline event", args...)
	default:
		o.logger.InfoContext(ctx, "pipeline event", args...)
	}
	return nil
}
