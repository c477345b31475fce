package observer

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketHandler_WelcomeMessageAndBroadcastRelay(t *testing.T) {
	hub := NewWebSocketHub(testLogger())
	handler := NewWebSocketHandler(hub, testLogger())

	server := httptest.NewServer(handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?draftId=draft-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var welcome map[string]any
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "control", welcome["type"])
	assert.Equal(t, "draft-1", welcome["draftId"])
	assert.NotEmpty(t, welcome["clientId"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast("draft-1", []byte(`{"type":"stage.started"}`))

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"stage.started"}`, string(payload))
}

func TestWebSocketHandler_ClientCloseUnregistersFromHub(t *testing.T) {
	hub := NewWebSocketHub(testLogger())
	handler := NewWebSocketHandler(hub, testLogger())

	server := httptest.NewServer(handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?draftId=draft-2"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	var welcome map[string]any
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}
