package observer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketHub_RegisterAndClientCount(t *testing.T) {
	hub := NewWebSocketHub(testLogger())

	c1 := newWSClient("draft-1")
	c2 := newWSClient("draft-2")
	hub.register <- c1
	hub.register <- c2

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestWebSocketHub_UnregisterClosesSendChannel(t *testing.T) {
	hub := NewWebSocketHub(testLogger())

	c := newWSClient("draft-1")
	hub.register <- c
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.unregister <- c
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-c.send
	assert.False(t, ok, "unregistering a client must close its send channel")
}

func TestWebSocketHub_BroadcastFiltersByDraftID(t *testing.T) {
	hub := NewWebSocketHub(testLogger())

	subscribed := newWSClient("draft-1")
	other := newWSClient("draft-2")
	hub.register <- subscribed
	hub.register <- other
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Broadcast("draft-1", []byte(`{"hello":"world"}`))

	select {
	case payload := <-subscribed.send:
		assert.Equal(t, `{"hello":"world"}`, string(payload))
	case <-time.After(time.Second):
		t.Fatal("subscribed client never received the broadcast payload")
	}

	select {
	case payload := <-other.send:
		t.Fatalf("client subscribed to a different draft received a payload it should have been filtered from: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebSocketHub_BroadcastEmptyDraftIDReachesEveryClient(t *testing.T) {
	hub := NewWebSocketHub(testLogger())

	a := newWSClient("draft-1")
	b := newWSClient("draft-2")
	hub.register <- a
	hub.register <- b
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Broadcast("", []byte("broadcast-to-all"))

	for _, c := range []*wsClient{a, b} {
		select {
		case payload := <-c.send:
			assert.Equal(t, "broadcast-to-all", string(payload))
		case <-time.After(time.Second):
			t.Fatal("every client should receive an empty-draftId broadcast")
		}
	}
}
