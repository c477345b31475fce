package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caseworks/mysteryforge/internal/infrastructure/logger"
	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/observer"
	"github.com/caseworks/mysteryforge/internal/pipeline"
	"github.com/caseworks/mysteryforge/internal/storage/casestore"
)

// RunHandlers drives an Orchestrator over HTTP: start a run, inspect
// or resume a draft, and open a websocket onto its progress (§6).
type RunHandlers struct {
	orchestrator *pipeline.Orchestrator
	cases        *casestore.Store
	wsHub        *observer.WebSocketHub
	logger       *logger.Logger
}

func NewRunHandlers(o *pipeline.Orchestrator, cases *casestore.Store, wsHub *observer.WebSocketHub, log *logger.Logger) *RunHandlers {
	return &RunHandlers{orchestrator: o, cases: cases, wsHub: wsHub, logger: log}
}

type startRunRequest struct {
	CaseDate    string                      `json:"caseDate" binding:"required"`
	Difficulty  model.Difficulty            `json:"difficulty"`
	CrimeType   string                      `json:"crimeType"`
	ModelConfig map[string]model.ModelAlias `json:"modelConfig"`
}

// HandleStartRun handles POST /runs: kicks off a brand new generation
// run and blocks until it finishes or fails (§6 "Run input").
func (h *RunHandlers) HandleStartRun(c *gin.Context) {
	var req startRunRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	draftID := model.NewDraftID()
	input := model.RunInput{
		CaseDate:    req.CaseDate,
		Difficulty:  req.Difficulty,
		CrimeType:   req.CrimeType,
		ModelConfig: req.ModelConfig,
	}

	h.logger.Info("run started", "draftId", draftID, "caseDate", req.CaseDate, "requestId", GetRequestID(c))

	state, err := h.orchestrator.Start(c.Request.Context(), draftID, input)
	if err != nil {
		h.respondRunError(c, draftID, err)
		return
	}

	respondJSON(c, http.StatusCreated, runResponse(draftID, state))
}

// HandleGetRun handles GET /runs/:draftId: the "run inspection
// output" (§6) — the in-flight draft's last-known-good state while a
// run is still live, or the finished Case once it has completed and
// the draft has been cleaned up.
func (h *RunHandlers) HandleGetRun(c *gin.Context) {
	draftID, ok := getParam(c, "draftId")
	if !ok {
		return
	}

	state, err := h.orchestrator.Inspect(c.Request.Context(), draftID)
	if err == nil {
		respondJSON(c, http.StatusOK, draftResponse(draftID, state))
		return
	}

	var notFound *pipeline.ErrDraftNotFound
	if !errors.As(err, &notFound) {
		respondAPIError(c, err)
		return
	}

	finishedCase, caseErr := h.cases.GetByDraftID(c.Request.Context(), draftID)
	if caseErr != nil {
		var caseNotFound *casestore.ErrCaseNotFound
		if errors.As(caseErr, &caseNotFound) {
			respondAPIError(c, ErrDraftNotFound)
			return
		}
		respondAPIError(c, caseErr)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"draftId": draftID, "status": "completed", "case": finishedCase})
}

type resumeRunRequest struct {
	StartFromStep *model.Stage `json:"startFromStep"`
}

// HandleResumeRun handles POST /runs/:draftId/resume (§6 "Resume
// input"). A missing startFromStep resumes from the first incomplete
// stage; an explicit one discards and re-runs that stage onward.
func (h *RunHandlers) HandleResumeRun(c *gin.Context) {
	draftID, ok := getParam(c, "draftId")
	if !ok {
		return
	}

	var req resumeRunRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			return
		}
	}

	h.logger.Info("run resumed", "draftId", draftID, "requestId", GetRequestID(c))

	state, err := h.orchestrator.Resume(c.Request.Context(), draftID, req.StartFromStep)
	if err != nil {
		h.respondRunError(c, draftID, err)
		return
	}

	respondJSON(c, http.StatusOK, runResponse(draftID, state))
}

// HandleRunWebSocket handles GET /runs/:draftId/ws: upgrades to a
// websocket subscribed to this draft's stage-lifecycle events.
func (h *RunHandlers) HandleRunWebSocket(c *gin.Context) {
	draftID, ok := getParam(c, "draftId")
	if !ok {
		return
	}
	c.Request.URL.RawQuery = "draftId=" + draftID
	observer.NewWebSocketHandler(h.wsHub, h.logger).ServeHTTP(c.Writer, c.Request)
}

func (h *RunHandlers) respondRunError(c *gin.Context, draftID string, err error) {
	h.logger.Error("run failed", "draftId", draftID, "error", err, "requestId", GetRequestID(c))
	respondAPIError(c, err)
}

func runResponse(draftID string, state *model.GenerationState) gin.H {
	if len(state.OptimalPath) > 0 && state.Title != "" {
		return gin.H{"draftId": draftID, "status": "completed", "state": state}
	}
	return gin.H{"draftId": draftID, "status": "in_progress", "state": state}
}

func draftResponse(draftID string, state *model.GenerationState) gin.H {
	return gin.H{"draftId": draftID, "status": "in_progress", "state": state}
}
