package rest

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/pipeline"
)

func TestTranslateError_Nil(t *testing.T) {
	assert.Nil(t, TranslateError(nil))
}

func TestTranslateError_AlreadyAPIError(t *testing.T) {
	original := NewAPIError("CUSTOM", "custom message", http.StatusTeapot)
	translated := TranslateError(original)
	assert.Same(t, original, translated)
}

func TestTranslateError_DraftNotFound(t *testing.T) {
	err := &pipeline.ErrDraftNotFound{DraftID: "draft-1"}
	translated := TranslateError(err)
	assert.Equal(t, "DRAFT_NOT_FOUND", translated.Code)
	assert.Equal(t, http.StatusNotFound, translated.HTTPStatus)
}

func TestTranslateError_InputValidation(t *testing.T) {
	err := &pipeline.InputValidationError{Msg: "caseDate is required"}
	translated := TranslateError(err)
	assert.Equal(t, "INVALID_INPUT", translated.Code)
	assert.Equal(t, http.StatusBadRequest, translated.HTTPStatus)
}

func TestTranslateError_PipelineFailure(t *testing.T) {
	err := &pipeline.PipelineFailure{Stage: model.StageEvents, Reason: "exhausted retries"}
	translated := TranslateError(err)
	assert.Equal(t, "PIPELINE_FAILED", translated.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, translated.HTTPStatus)
}

func TestTranslateError_FatalStage(t *testing.T) {
	err := &pipeline.FatalStageError{Stage: model.StageFactGraph, Msg: "unreachable graph"}
	translated := TranslateError(err)
	assert.Equal(t, "PIPELINE_FATAL", translated.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, translated.HTTPStatus)
}

func TestTranslateError_UnknownFallsBackToInternal(t *testing.T) {
	translated := TranslateError(assertErrSentinel{})
	assert.Equal(t, "INTERNAL_ERROR", translated.Code)
	assert.Equal(t, http.StatusInternalServerError, translated.HTTPStatus)
}

type assertErrSentinel struct{}

func (assertErrSentinel) Error() string { return "unmapped error" }
