// Package http exposes the recurring transaction engine as a JSON API.
//
// This file implements the builder used by every handler to write JSON
// responses and the mapping from domain errors to status codes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/log"
)

// Error codes returned in the "code" field of error bodies.
const (
	codeBadRequest      = "bad_request"
	codeMissingTenant   = "missing_tenant"
	codeValidation      = "validation_failed"
	codeNotFound        = "not_found"
	codeConflict        = "conflict"
	codePrecondition    = "precondition_failed"
	codeAlreadyExecuted = "already_executed"
	codePosting         = "posting_failed"
	codeUnavailable     = "unavailable"
	codeRateLimited     = "rate_limited"
	codeInternal        = "internal_error"
)

// JSONResponseBuilder provides a fluent API for JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

// NewJSONResponse creates a builder with a 200 status and no body.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response. A nil body writes only the status line.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	payload, err := json.Marshal(b.body)
	if err != nil {
		slog.Error("Failed to encode response body", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"internal_error","message":"failed to encode response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(payload, '\n'))
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Errors  []core.FieldError `json:"errors,omitempty"`
	Reasons []string          `json:"reasons,omitempty"`
}

// ErrorResponse builds a standard error body.
func ErrorResponse(statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(errorBody{Code: code, Message: message})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, codeBadRequest, message)
}

// errorStatus maps an error from the service layer to a status and code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, ledger.ErrVersionConflict):
		return http.StatusConflict, codeConflict
	case errors.Is(err, core.ErrAlreadyExecuted):
		return http.StatusConflict, codeAlreadyExecuted
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity, codeValidation
	case errors.Is(err, core.ErrPrecondition):
		return http.StatusConflict, codePrecondition
	case errors.Is(err, core.ErrIntervalOutOfRange), errors.Is(err, core.ErrMissingDate):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, core.ErrPosting):
		return http.StatusInternalServerError, codePosting
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, codeUnavailable
	}
	return http.StatusInternalServerError, codeInternal
}

// ErrorFromDomain builds the error response for err. Validation and
// precondition details are carried in the body; internal errors are not
// echoed to the client.
func ErrorFromDomain(err error) *JSONResponseBuilder {
	status, code := errorStatus(err)
	body := errorBody{Code: code, Message: err.Error()}

	var verr *core.ValidationError
	if errors.As(err, &verr) {
		body.Errors = verr.Result.Errors
	}
	var perr *core.PreconditionError
	if errors.As(err, &perr) {
		body.Reasons = perr.Reasons
	}
	if status >= http.StatusInternalServerError {
		body.Message = http.StatusText(status)
	}
	return NewJSONResponse().Status(status).Body(body)
}

// writeError logs err with the request logger and writes its response.
// Server faults go through the structured error line; client errors are
// logged at Warn.
func writeError(w http.ResponseWriter, r *http.Request, op, msg string, err error) {
	status, _ := errorStatus(err)
	logger := loggerFrom(r)
	if status >= http.StatusInternalServerError {
		log.NewStructuredLogger(logger).LogError(r.Context(), msg, err, logger.Component(), op,
			log.LogFields{log.FieldStatusCode: status})
	} else {
		logger.WarnContext(r.Context(), msg,
			log.FieldOperation, op,
			log.FieldError, err,
			log.FieldStatusCode, status)
	}
	ErrorFromDomain(err).Write(w)
}
