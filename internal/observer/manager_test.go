package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spyObserver struct {
	name     string
	filter   EventFilter
	mu       sync.Mutex
	received []Event
	err      error
	panics   bool
}

func (s *spyObserver) Name() string {
	return s.name
}

func (s *spyObserver) Filter() EventFilter {
	return s.filter
}

func (s *spyObserver) OnEvent(_ context.Context, event Event) error {
	if s.panics {
		panic("spy observer panicking")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, event)
	return s.err
}

func (s *spyObserver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func TestManager_RegisterRejectsDuplicateName(t *testing.T) {
	m := NewManager(testLogger())
	require.NoError(t, m.Register(&spyObserver{name: "dup"}))
	err := m.Register(&spyObserver{name: "dup"})
	require.Error(t, err)
	assert.Equal(t, 1, m.Count())
}

func TestManager_UnregisterRemovesObserver(t *testing.T) {
	m := NewManager(testLogger())
	require.NoError(t, m.Register(&spyObserver{name: "a"}))
	require.NoError(t, m.Unregister("a"))
	assert.Equal(t, 0, m.Count())
}

func TestManager_UnregisterUnknownNameErrors(t *testing.T) {
	m := NewManager(testLogger())
	err := m.Unregister("ghost")
	assert.Error(t, err)
}

func TestManager_NotifyFansOutToEveryObserver(t *testing.T) {
	m := NewManager(testLogger())
	a := &spyObserver{name: "a"}
	b := &spyObserver{name: "b"}
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))

	m.Notify(context.Background(), Event{Type: EventTypeRunStarted, DraftID: "draft-1"})

	require.Eventually(t, func() bool { return a.count() == 1 && b.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestManager_NotifyRespectsFilter(t *testing.T) {
	m := NewManager(testLogger())
	onlyDraft1 := &spyObserver{name: "filtered", filter: &DraftIDFilter{DraftID: "draft-1"}}
	require.NoError(t, m.Register(onlyDraft1))

	m.Notify(context.Background(), Event{Type: EventTypeRunStarted, DraftID: "draft-2"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, onlyDraft1.count(), "an event for a different draft must never reach a draft-scoped observer")

	m.Notify(context.Background(), Event{Type: EventTypeRunStarted, DraftID: "draft-1"})
	require.Eventually(t, func() bool { return onlyDraft1.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestManager_NotifySurvivesObserverPanic(t *testing.T) {
	m := NewManager(testLogger())
	panicking := &spyObserver{name: "panicking", panics: true}
	healthy := &spyObserver{name: "healthy"}
	require.NoError(t, m.Register(panicking))
	require.NoError(t, m.Register(healthy))

	assert.NotPanics(t, func() {
		m.Notify(context.Background(), Event{Type: EventTypeRunStarted, DraftID: "draft-1"})
	})

	require.Eventually(t, func() bool { return healthy.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestManager_NotifyToleratesObserverError(t *testing.T) {
	m := NewManager(testLogger())
	failing := &spyObserver{name: "failing", err: errors.New("delivery failed")}
	require.NoError(t, m.Register(failing))

	assert.NotPanics(t, func() {
		m.Notify(context.Background(), Event{Type: EventTypeRunStarted, DraftID: "draft-1"})
	})
	require.Eventually(t, func() bool { return failing.count() == 1 }, time.Second, 5*time.Millisecond)
}
