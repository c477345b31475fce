// Package casestore persists finished Cases (§4.12 "store"). Storage
// is append-only: a stored case is never updated by a later run.
package casestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/caseworks/mysteryforge/internal/model"
)

// ErrCaseNotFound is returned by GetByDraftID when no case was ever
// stored under the given draft id.
type ErrCaseNotFound struct {
	DraftID string
}

func (e *ErrCaseNotFound) Error() string {
	return "no case found for draft id " + e.DraftID
}

// Store is a Bun/Postgres-backed pipeline.CaseStore.
type Store struct {
	db *bun.DB
}

// New wraps an already-connected bun.DB.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// GetByDraftID fetches the finished Case a run produced, the "run
// inspection output" a client polls for once a draft stops appearing
// in the draft store (§6).
func (s *Store) GetByDraftID(ctx context.Context, draftID string) (*model.Case, error) {
	row := new(caseModel)
	err := s.db.NewSelect().
		Model(row).
		Where("draft_id = ?", draftID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrCaseNotFound{DraftID: draftID}
		}
		return nil, fmt.Errorf("failed to load case for draft %s: %w", draftID, err)
	}
	return row.CaseData.Case, nil
}

// Save inserts one row for a finished case inside a transaction, the
// same RunInTx-then-NewInsert shape as the teacher's repository layer.
func (s *Store) Save(ctx context.Context, draftID string, c *model.Case) error {
	row := &caseModel{
		DraftID:  draftID,
		CaseDate: c.CaseDate,
		Title:    c.Title,
		CaseData: newJSONDoc(c),
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(row).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save case for draft %s: %w", draftID, err)
	}
	return nil
}
