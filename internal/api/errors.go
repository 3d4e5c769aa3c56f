/*-------------------------------------------------------------------------
 *
 * errors.go
 *    Error envelope for the grow HTTP API
 *
 * Every failed request is answered with the same JSON shape carrying the
 * HTTP code and the request id, so clients can correlate with server logs.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/api/errors.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rakshittt/grow/internal/approval"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/workflow"
)

type APIError struct {
	Code      int
	Message   string
	Err       error
	RequestID string
	Endpoint  string
	Method    string
	Resource  string
	ID        string
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      int    `json:"code"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

var (
	ErrBadRequest   = &APIError{Code: http.StatusBadRequest, Message: "bad request"}
	ErrUnauthorized = &APIError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrNotFound     = &APIError{Code: http.StatusNotFound, Message: "resource not found"}
	ErrInternal     = &APIError{Code: http.StatusInternalServerError, Message: "internal server error"}
)

func NewError(code int, message string, err error) *APIError {
	return &APIError{Code: code, Message: message, Err: err}
}

/* NewErrorWithContext builds an error carrying request details for logging */
func NewErrorWithContext(code int, message string, err error, requestID, endpoint, method, resource, id string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Err:       err,
		RequestID: requestID,
		Endpoint:  endpoint,
		Method:    method,
		Resource:  resource,
		ID:        id,
	}
}

/* WrapError copies a canned error and stamps the request id on it */
func WrapError(err *APIError, requestID string) *APIError {
	wrapped := *err
	wrapped.RequestID = requestID
	return &wrapped
}

/*
 * statusFor maps domain errors onto HTTP codes. Anything unrecognised is
 * an internal error.
 */
func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound),
		errors.Is(err, approval.ErrNotFound),
		errors.Is(err, workflow.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrExpired):
		return http.StatusGone
	case errors.Is(err, approval.ErrAlreadyResolved),
		errors.Is(err, approval.ErrInvalidTransition),
		errors.Is(err, db.ErrDuplicate),
		errors.Is(err, workflow.ErrRunNotSuspended),
		errors.Is(err, workflow.ErrCheckpointConflict):
		return http.StatusConflict
	case errors.Is(err, approval.ErrInvalidDecision):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, err *APIError) {
	response := ErrorResponse{
		Error:     err.Message,
		Code:      err.Code,
		RequestID: err.RequestID,
	}
	/* internal causes stay in the logs */
	if err.Err != nil && err.Code < http.StatusInternalServerError {
		response.Message = err.Err.Error()
	}
	if err.RequestID != "" {
		w.Header().Set("X-Request-ID", err.RequestID)
	}
	respondJSON(w, err.Code, response)
}
