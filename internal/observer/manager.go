package observer

import (
	"context"
	"fmt"
	"sync"

	"github.com/caseworks/mysteryforge/internal/infrastructure/logger"
)

// Manager fans one event out to every registered observer, same
// non-blocking-per-observer-goroutine shape as the teacher's
// ObserverManager.
type Manager struct {
	observers []Observer
	logger    *logger.Logger
	mu        sync.RWMutex
}

// NewManager builds an empty manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{logger: log}
}

// Register adds an observer, rejecting a duplicate name.
func (m *Manager) Register(obs Observer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.observers {
		if existing.Name() == obs.Name() {
			return fmt.Errorf("observer with name %q already registered", obs.Name())
		}
	}
	m.observers = append(m.observers, obs)
	return nil
}

// Unregister removes an observer by name.
func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, obs := range m.observers {
		if obs.Name() == name {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("observer %q not found", name)
}

// Notify delivers event to every registered observer concurrently;
// a slow or panicking observer never blocks or fails the run.
func (m *Manager) Notify(ctx context.Context, event Event) {
	m.mu.RLock()
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.RUnlock()

	for _, obs := range observers {
		go m.notifyOne(ctx, obs, event)
	}
}

func (m *Manager) notifyOne(ctx context.Context, obs Observer, event Event) {
	defer func() {
		if r := recover(); r != nil {
			if m.logger != nil {
				m.logger.ErrorContext(ctx, "observer panic recovered",
					"observer", obs.Name(),
					"event_type", string(event.Type),
					"panic", r,
				)
			}
		}
	}()

	if filter := obs.Filter(); filter != nil && !filter.ShouldNotify(event) {
		return
	}

	if err := obs.OnEvent(ctx, event); err != nil {
		if m.logger != nil {
			m.logger.ErrorContext(ctx, "observer notification failed",
				"observer", obs.Name(),
				"event_type", string(event.Type),
				"error", err,
			)
		}
	}
}

// Count reports how many observers are registered.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.observers)
}
