// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling with rich context for the agency service.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorCode classifies agency errors for monitoring, recovery and HTTP mapping.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeCanceled indicates the caller went away before the run finished.
	CodeCanceled ErrorCode = "CANCELED"

	// CodeRateLimit indicates rate limiting was triggered, locally or upstream.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeUnavailable indicates a dependency is temporarily unavailable (open breaker).
	CodeUnavailable ErrorCode = "UNAVAILABLE"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeLLMError indicates an LLM provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeCrewError indicates the crew could not be assembled or produced no result.
	CodeCrewError ErrorCode = "CREW_ERROR"
)

// AgencyError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type AgencyError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *AgencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *AgencyError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *AgencyError) MarshalJSON() ([]byte, error) {
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		StatusCode  int                    `json:"status_code"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Attributes  map[string]string      `json:"attributes,omitempty"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Err:         cause,
		Recoverable: e.Recoverable,
		StatusCode:  e.StatusCode,
		Context:     e.Context,
		Attributes:  e.Attributes,
	})
}

// New creates a new AgencyError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *AgencyError {
	return &AgencyError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: StatusFor(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *AgencyError) WithContext(key string, value interface{}) *AgencyError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *AgencyError) WithAttribute(key, value string) *AgencyError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *AgencyError) WithRecoverable(recoverable bool) *AgencyError {
	e.Recoverable = recoverable
	return e
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *AgencyError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// AsAgencyError returns err as an AgencyError if one is in the chain,
// or wraps it as an internal error otherwise.
func AsAgencyError(err error) *AgencyError {
	if err == nil {
		return nil
	}
	var ae *AgencyError
	if stderrors.As(err, &ae) {
		return ae
	}
	return New(CodeInternal, "wrapped error", err)
}

// HTTPStatusCarrier is implemented by errors that know the upstream HTTP status
// that produced them (for example a provider API error).
type HTTPStatusCarrier interface {
	HTTPStatus() int
}

// Classify maps an arbitrary error onto an AgencyError.
//
// Context errors become TIMEOUT or CANCELED, upstream HTTP statuses are mapped
// onto RATE_LIMITED or LLM_ERROR, and network failures are recoverable
// LLM errors. Anything else is INTERNAL.
func Classify(err error) *AgencyError {
	if err == nil {
		return nil
	}
	var ae *AgencyError
	if stderrors.As(err, &ae) {
		return ae
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return New(CodeTimeout, "operation timed out", err).WithRecoverable(true)
	case stderrors.Is(err, context.Canceled):
		return New(CodeCanceled, "operation canceled", err)
	}

	var carrier HTTPStatusCarrier
	if stderrors.As(err, &carrier) {
		status := carrier.HTTPStatus()
		switch {
		case status == http.StatusTooManyRequests:
			return New(CodeRateLimit, "model provider rate limit", err).
				WithRecoverable(true).
				WithAttribute("upstream.status", fmt.Sprint(status))
		case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
			return New(CodeTimeout, "model provider timed out", err).
				WithRecoverable(true).
				WithAttribute("upstream.status", fmt.Sprint(status))
		case status >= 500:
			return New(CodeLLMError, "model provider failure", err).
				WithRecoverable(true).
				WithAttribute("upstream.status", fmt.Sprint(status))
		case status >= 400:
			return New(CodeLLMError, "model provider rejected the request", err).
				WithAttribute("upstream.status", fmt.Sprint(status))
		}
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return New(CodeTimeout, "model provider timed out", err).WithRecoverable(true)
		}
		return New(CodeLLMError, "model provider unreachable", err).WithRecoverable(true)
	}
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return New(CodeLLMError, "model provider unreachable", err).WithRecoverable(true)
	}

	return New(CodeInternal, "internal error", err)
}

// IsRecoverable reports whether err is worth retrying.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Recoverable
}

// CodeOf returns the classified code of err, or "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return Classify(err).Code
}

// StatusFor maps error codes to HTTP status codes. Codes without a more
// specific status, CodeUnavailable among them, map to 500.
func StatusFor(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
