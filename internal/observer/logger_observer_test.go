package observer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/mysteryforge/internal/config"
	"github.com/caseworks/mysteryforge/internal/infrastructure/logger"
	"github.com/caseworks/mysteryforge/internal/model"
)

func testLogger() *logger.Logger {
	return logger.New(config.LoggingConfig{Level: "debug", Format: "json"})
}

func TestLoggerObserver_NameAndFilter(t *testing.T) {
	obs := NewLoggerObserver(testLogger())
	assert.Equal(t, "logger", obs.Name())
	assert.Nil(t, obs.Filter())
}

func TestLoggerObserver_WithLoggerFilterIsApplied(t *testing.T) {
	filter := &DraftIDFilter{DraftID: "draft-1"}
	obs := NewLoggerObserver(testLogger(), WithLoggerFilter(filter))
	assert.Equal(t, filter, obs.Filter())
}

func TestLoggerObserver_OnEventNeverErrors(t *testing.T) {
	obs := NewLoggerObserver(testLogger())

	stage := model.StageEvents
	retryCount := 1
	durationMs := int64(42)

	events := []Event{
		{Type: EventTypeRunStarted, DraftID: "draft-1", Timestamp: time.Now()},
		{Type: EventTypeStageStarted, DraftID: "draft-1", Timestamp: time.Now(), Stage: &stage},
		{Type: EventTypeStageRetrying, DraftID: "draft-1", Timestamp: time.Now(), Stage: &stage, RetryCount: &retryCount},
		{Type: EventTypeStageCompleted, DraftID: "draft-1", Timestamp: time.Now(), Stage: &stage, DurationMs: &durationMs},
		{Type: EventTypeStageFailed, DraftID: "draft-1", Timestamp: time.Now(), Stage: &stage, Errors: []string{"boom"}},
		{Type: EventTypeRunFailed, DraftID: "draft-1", Timestamp: time.Now()},
		{Type: EventTypeRunCompleted, DraftID: "draft-1", Timestamp: time.Now()},
	}

	for _, e := range events {
		require.NoError(t, obs.OnEvent(context.Background(), e))
	}
}
