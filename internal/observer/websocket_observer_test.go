package observer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/mysteryforge/internal/model"
)

func TestWebSocketObserver_NameAndFilter(t *testing.T) {
	hub := NewWebSocketHub(testLogger())
	obs := NewWebSocketObserver(hub)
	assert.Equal(t, "websocket", obs.Name())
	assert.Nil(t, obs.Filter())

	filter := &DraftIDFilter{DraftID: "draft-1"}
	filtered := NewWebSocketObserver(hub, WithWebSocketFilter(filter))
	assert.Equal(t, filter, filtered.Filter())
}

func TestWebSocketObserver_OnEventBroadcastsJSONToSubscribedClient(t *testing.T) {
	hub := NewWebSocketHub(testLogger())
	client := newWSClient("draft-1")
	hub.register <- client
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	obs := NewWebSocketObserver(hub, WithWebSocketLogger(testLogger()))

	stage := model.StageEvents
	retryCount := 2
	event := Event{
		Type:       EventTypeStageRetrying,
		DraftID:    "draft-1",
		Timestamp:  time.Now(),
		Stage:      &stage,
		RetryCount: &retryCount,
	}

	require.NoError(t, obs.OnEvent(context.Background(), event))

	select {
	case payload := <-client.send:
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))
		assert.Equal(t, string(EventTypeStageRetrying), decoded["type"])
		assert.Equal(t, "draft-1", decoded["draftId"])
		assert.Equal(t, string(model.StageEvents), decoded["stage"])
		assert.Equal(t, float64(2), decoded["retryCount"])
		_, hasErrors := decoded["errors"]
		assert.False(t, hasErrors, "an event with no errors must omit the field rather than serialize null")
	case <-time.After(time.Second):
		t.Fatal("subscribed client never received the event broadcast")
	}
}

func TestEventWireFormat_OmitsUnsetOptionalFields(t *testing.T) {
	out := eventWireFormat(Event{Type: EventTypeRunStarted, DraftID: "draft-1", Timestamp: time.Now()})

	for _, key := range []string{"stage", "retryCount", "durationMs", "errors", "warnings", "message"} {
		_, present := out[key]
		assert.False(t, present, "unset field %q must be absent, not present as null", key)
	}
}
