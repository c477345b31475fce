package pipeline

import (
	"context"

	"github.com/caseworks/mysteryforge/internal/model"
)

// DraftStore persists a run's in-flight GenerationState so a run can
// be resumed after a process restart or a failed stage (§3 "Ownership",
// §6 "Resume input"). Implementations are expected to TTL-bound
// entries; a draft that outlives its TTL is simply gone, and a resume
// against it fails like any other unknown draft id.
type DraftStore interface {
	Save(ctx context.Context, state *model.GenerationState) error
	Load(ctx context.Context, draftID string) (*model.GenerationState, error)
	Delete(ctx context.Context, draftID string) error
}

// CaseStore persists a finished Case (§12 "store"). Cases are
// append-only: once stored, a case is never mutated by a later run.
type CaseStore interface {
	Save(ctx context.Context, draftID string, c *model.Case) error
}

// ErrDraftNotFound is returned by DraftStore.Load when no draft is
// stored under the given id (expired TTL or a typo'd resume request).
type ErrDraftNotFound struct {
	DraftID string
}

func (e *ErrDraftNotFound) Error() string {
	return "no draft found for id " + e.DraftID
}
