// Package rest exposes the case-generation pipeline over HTTP: submit
// a run, poll or resume a draft, and watch its progress over a
// websocket (§6 "External Interfaces").
package rest

import (
	"errors"
	"net/http"

	"github.com/caseworks/mysteryforge/internal/pipeline"
)

// APIError is the envelope every non-2xx response is shaped as.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code, message string, httpStatus int) *APIError {
	return &APIError{Code: code, Message: message, HTTPStatus: httpStatus}
}

var (
	ErrBadRequest    = NewAPIError("BAD_REQUEST", "invalid request", http.StatusBadRequest)
	ErrInvalidJSON   = NewAPIError("INVALID_JSON", "invalid JSON in request body", http.StatusBadRequest)
	ErrDraftNotFound = NewAPIError("DRAFT_NOT_FOUND", "draft not found", http.StatusNotFound)
	ErrInternal      = NewAPIError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
)

// TranslateError maps a pipeline error to the APIError a client sees.
// Pipeline internals (stage names, validator error text) are surfaced
// in the message since they're exactly what a caller needs to fix a
// rejected run input or decide where to resume from.
func TranslateError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var notFound *pipeline.ErrDraftNotFound
	if errors.As(err, &notFound) {
		return NewAPIError("DRAFT_NOT_FOUND", err.Error(), http.StatusNotFound)
	}

	var inputErr *pipeline.InputValidationError
	if errors.As(err, &inputErr) {
		return NewAPIError("INVALID_INPUT", err.Error(), http.StatusBadRequest)
	}

	var failure *pipeline.PipelineFailure
	if errors.As(err, &failure) {
		return NewAPIError("PIPELINE_FAILED", err.Error(), http.StatusUnprocessableEntity)
	}

	var fatal *pipeline.FatalStageError
	if errors.As(err, &fatal) {
		return NewAPIError("PIPELINE_FATAL", err.Error(), http.StatusUnprocessableEntity)
	}

	return NewAPIError("INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
}
