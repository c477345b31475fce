package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/mysteryforge/internal/config"
	"github.com/caseworks/mysteryforge/internal/infrastructure/logger"
	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
	"github.com/caseworks/mysteryforge/internal/observer"
	"github.com/caseworks/mysteryforge/internal/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDraftStore struct {
	state map[string]*model.GenerationState
}

func newFakeDraftStore() *fakeDraftStore {
	return &fakeDraftStore{state: make(map[string]*model.GenerationState)}
}

func (s *fakeDraftStore) Save(_ context.Context, state *model.GenerationState) error {
	s.state[state.DraftID] = state
	return nil
}

func (s *fakeDraftStore) Load(_ context.Context, draftID string) (*model.GenerationState, error) {
	if draftID == "boom" {
		return nil, errors.New("connection reset")
	}
	st, ok := s.state[draftID]
	if !ok {
		return nil, &pipeline.ErrDraftNotFound{DraftID: draftID}
	}
	return st, nil
}

func (s *fakeDraftStore) Delete(_ context.Context, draftID string) error {
	delete(s.state, draftID)
	return nil
}

type fakeCaseStore struct {
	cases map[string]*model.Case
}

func newFakeCaseStore() *fakeCaseStore {
	return &fakeCaseStore{cases: make(map[string]*model.Case)}
}

func (s *fakeCaseStore) Save(_ context.Context, draftID string, c *model.Case) error {
	s.cases[draftID] = c
	return nil
}

func identityStage(name model.Stage, mutate func(*model.GenerationState)) pipeline.StageDef {
	return pipeline.StageDef{
		Name:          name,
		Deterministic: true,
		Run: func(_ context.Context, state *model.GenerationState, _ modelclient.Client, _ []string) (*model.GenerationState, model.ValidationResult, error) {
			next := state.Clone()
			if mutate != nil {
				mutate(next)
			}
			return next, model.OK(), nil
		},
	}
}

func newRunHandlersForTest(drafts *fakeDraftStore, stages []pipeline.StageDef) *RunHandlers {
	log := logger.New(config.LoggingConfig{Level: "error", Format: "json"})
	orchestrator := pipeline.New(stages, nil, nil, drafts, newFakeCaseStore(), observer.NewManager(log), log)
	return NewRunHandlers(orchestrator, nil, nil, log)
}

func TestHandleStartRun_Success(t *testing.T) {
	drafts := newFakeDraftStore()
	stages := []pipeline.StageDef{
		identityStage(model.StageTemplate, func(s *model.GenerationState) { s.Template = &model.Template{Title: "The Study"} }),
		identityStage(model.StageStore, nil),
	}
	handlers := newRunHandlersForTest(drafts, stages)

	router := gin.New()
	router.POST("/runs", handlers.HandleStartRun)

	body, err := json.Marshal(map[string]any{"caseDate": "2026-07-31"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var decoded SuccessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
}

func TestHandleStartRun_MissingRequiredFieldIsRejected(t *testing.T) {
	handlers := newRunHandlersForTest(newFakeDraftStore(), nil)

	router := gin.New()
	router.POST("/runs", handlers.HandleStartRun)

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, "VALIDATION_FAILED", apiErr.Code)
}

func TestHandleGetRun_LiveDraftReturnsInProgress(t *testing.T) {
	drafts := newFakeDraftStore()
	seed := model.NewGenerationState("draft-1", model.RunInput{CaseDate: "2026-07-31"})
	seed.Template = &model.Template{Title: "mid-run"}
	require.NoError(t, drafts.Save(context.Background(), seed))

	handlers := newRunHandlersForTest(drafts, nil)

	router := gin.New()
	router.GET("/runs/:draftId", handlers.HandleGetRun)

	req := httptest.NewRequest(http.MethodGet, "/runs/draft-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "in_progress")
}

func TestHandleGetRun_NonNotFoundDraftStoreErrorSkipsCaseStoreFallback(t *testing.T) {
	// A transient draft-store error (not ErrDraftNotFound) must surface
	// directly rather than falling through to the case-store lookup,
	// which HandleGetRun only consults once a draft is confirmed gone.
	handlers := newRunHandlersForTest(newFakeDraftStore(), nil)

	router := gin.New()
	router.GET("/runs/:draftId", handlers.HandleGetRun)

	req := httptest.NewRequest(http.MethodGet, "/runs/boom", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleResumeRun_RejectsUnknownDraft(t *testing.T) {
	handlers := newRunHandlersForTest(newFakeDraftStore(), nil)

	router := gin.New()
	router.POST("/runs/:draftId/resume", handlers.HandleResumeRun)

	req := httptest.NewRequest(http.MethodPost, "/runs/missing/resume", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
