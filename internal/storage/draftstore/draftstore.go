// Package draftstore persists an in-flight GenerationState so a run
// can resume after a restart (§3 "Ownership", §6 "Resume input").
package draftstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caseworks/mysteryforge/internal/infrastructure/cache"
	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/pipeline"
)

// keyPrefix namespaces draft keys in the shared Redis keyspace, the
// same convention the teacher uses for its own cache entries.
const keyPrefix = "mysteryforge:draft:"

// Store is a Redis-backed pipeline.DraftStore. Drafts are JSON-encoded
// GenerationState values, TTL-bounded so an abandoned run eventually
// frees its slot.
type Store struct {
	cache *cache.RedisCache
	ttl   time.Duration
}

// New wraps an already-connected RedisCache.
func New(c *cache.RedisCache, ttl time.Duration) *Store {
	return &Store{cache: c, ttl: ttl}
}

func draftKey(draftID string) string {
	return keyPrefix + draftID
}

// Save writes (or overwrites) the draft's current state, resetting its
// TTL window.
func (s *Store) Save(ctx context.Context, state *model.GenerationState) error {
	state.UpdatedAt = time.Now()

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal draft %s: %w", state.DraftID, err)
	}

	if err := s.cache.Set(ctx, draftKey(state.DraftID), payload, s.ttl); err != nil {
		return fmt.Errorf("failed to save draft %s: %w", state.DraftID, err)
	}
	return nil
}

// Load fetches and decodes a draft, returning *pipeline.ErrDraftNotFound
// if it was never stored or its TTL has expired.
func (s *Store) Load(ctx context.Context, draftID string) (*model.GenerationState, error) {
	raw, err := s.cache.Get(ctx, draftKey(draftID))
	if errors.Is(err, redis.Nil) {
		return nil, &pipeline.ErrDraftNotFound{DraftID: draftID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load draft %s: %w", draftID, err)
	}

	var state model.GenerationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal draft %s: %w", draftID, err)
	}
	return &state, nil
}

// Delete removes a draft, e.g. once S12 finishes and the run no longer
// owns any resumable state.
func (s *Store) Delete(ctx context.Context, draftID string) error {
	if err := s.cache.Delete(ctx, draftKey(draftID)); err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", draftID, err)
	}
	return nil
}
