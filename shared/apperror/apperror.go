// Copyright 2026 Altus4
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apperror defines the service-wide error taxonomy. Every error that
// crosses a component boundary is classified into one of these codes at the
// edge where it occurs (registry, store, cache, AI adapter) and carries an
// HTTP status, a retryable flag, and operator-facing suggestions.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of error in the taxonomy.
type Code string

const (
	// Authentication (401)
	CodeNoToken             Code = "NO_TOKEN"
	CodeNoAPIKey            Code = "NO_API_KEY"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInvalidToken        Code = "INVALID_TOKEN"
	CodeTokenExpired        Code = "TOKEN_EXPIRED"
	CodeInvalidAPIKey       Code = "INVALID_API_KEY"
	CodeInvalidAPIKeyFormat Code = "INVALID_API_KEY_FORMAT"
	CodeInvalidAuthFormat   Code = "INVALID_AUTH_FORMAT"
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"

	// Authorization (403)
	CodeForbidden               Code = "FORBIDDEN"
	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"
	CodePermissionDenied        Code = "PERMISSION_DENIED"

	// Not found (404)
	CodeNotFound           Code = "NOT_FOUND"
	CodeConnectionNotFound Code = "CONNECTION_NOT_FOUND"
	CodeHostNotFound       Code = "HOST_NOT_FOUND"
	CodeDatabaseNotFound   Code = "DATABASE_NOT_FOUND"

	// Validation (400)
	CodeValidationError      Code = "VALIDATION_ERROR"
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeInvalidJSON          Code = "INVALID_JSON"
	CodeInvalidRateLimitTier Code = "INVALID_RATE_LIMIT_TIER"
	CodeInvalidPermissions   Code = "INVALID_PERMISSIONS"
	CodeQueryTooLong         Code = "QUERY_TOO_LONG"
	CodeQueryInvalidChars    Code = "QUERY_INVALID_CHARS"

	// Rate limiting (429)
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"

	// Upstream database failures
	CodeConnectionRefused   Code = "CONNECTION_REFUSED"
	CodeTimeout             Code = "TIMEOUT"
	CodeSSLRequired         Code = "SSL_REQUIRED"
	CodeTooManyConnections  Code = "TOO_MANY_CONNECTIONS"

	// Internal (500)
	CodeSearchFailed  Code = "SEARCH_FAILED"
	CodeInternalError Code = "INTERNAL_ERROR"
)

// statusByCode maps taxonomy codes to HTTP statuses.
var statusByCode = map[Code]int{
	CodeNoToken:             http.StatusUnauthorized,
	CodeNoAPIKey:            http.StatusUnauthorized,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeInvalidToken:        http.StatusUnauthorized,
	CodeTokenExpired:        http.StatusUnauthorized,
	CodeInvalidAPIKey:       http.StatusUnauthorized,
	CodeInvalidAPIKeyFormat: http.StatusUnauthorized,
	CodeInvalidAuthFormat:   http.StatusUnauthorized,
	CodeAuthenticationFailed: http.StatusUnauthorized,

	CodeForbidden:               http.StatusForbidden,
	CodeInsufficientPermissions: http.StatusForbidden,
	CodePermissionDenied:        http.StatusForbidden,

	CodeNotFound:           http.StatusNotFound,
	CodeConnectionNotFound: http.StatusNotFound,
	CodeHostNotFound:       http.StatusNotFound,
	CodeDatabaseNotFound:   http.StatusNotFound,

	CodeValidationError:      http.StatusBadRequest,
	CodeInvalidInput:         http.StatusBadRequest,
	CodeInvalidJSON:          http.StatusBadRequest,
	CodeInvalidRateLimitTier: http.StatusBadRequest,
	CodeInvalidPermissions:   http.StatusBadRequest,
	CodeQueryTooLong:         http.StatusBadRequest,
	CodeQueryInvalidChars:    http.StatusBadRequest,

	CodeRateLimitExceeded: http.StatusTooManyRequests,

	CodeConnectionRefused:  http.StatusBadGateway,
	CodeTimeout:            http.StatusRequestTimeout,
	CodeSSLRequired:        http.StatusBadGateway,
	CodeTooManyConnections: http.StatusServiceUnavailable,

	CodeSearchFailed:  http.StatusInternalServerError,
	CodeInternalError: http.StatusInternalServerError,
}

// retryableCodes are the codes where a client retry can reasonably succeed.
var retryableCodes = map[Code]bool{
	CodeTimeout:            true,
	CodeConnectionRefused:  true,
	CodeTooManyConnections: true,
	CodeRateLimitExceeded:  true,
	CodeSearchFailed:       true,
	CodeInternalError:      true,
}

// Error is the typed error carried across component boundaries.
//
// The Cause chain is preserved for errors.Is/As, but it is never serialized:
// sanitized log records and HTTP responses expose only Code, Message,
// Suggestions, Retryable, and Status. See SanitizedRecord.
type Error struct {
	Code        Code
	Message     string
	Suggestions []string
	Details     map[string]interface{}
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Message + " (cause: " + e.Cause.Error() + ")"
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Status returns the HTTP status for the error's code.
func (e *Error) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable reports whether a client retry can reasonably succeed.
func (e *Error) Retryable() bool {
	return retryableCodes[e.Code]
}

// New creates a taxonomy error.
func New(code Code, message string, suggestions ...string) *Error {
	return &Error{Code: code, Message: message, Suggestions: suggestions}
}

// Wrap creates a taxonomy error that preserves the underlying cause for
// errors.Is/As without leaking its message to clients.
func Wrap(code Code, message string, cause error, suggestions ...string) *Error {
	return &Error{Code: code, Message: message, Suggestions: suggestions, Cause: cause}
}

// WithDetails attaches structured details to the error and returns it.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// As extracts an *Error from an error chain. Returns nil if the chain holds
// no taxonomy error.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// Classify returns the taxonomy error in err's chain, or wraps err as
// INTERNAL_ERROR when it has not been classified at an edge.
func Classify(err error) *Error {
	if ae := As(err); ae != nil {
		return ae
	}
	return Wrap(CodeInternalError, "internal error", err,
		"Retry the request",
		"Contact support if the problem persists")
}

// SanitizedRecord is the loggable projection of an Error. It carries the
// original error's code and type name but never its message, so connection
// strings and credentials cannot leak into logs.
type SanitizedRecord struct {
	Code              Code     `json:"code"`
	Message           string   `json:"message"`
	Suggestions       []string `json:"suggestions"`
	Retryable         bool     `json:"retryable"`
	Status            int      `json:"status"`
	OriginalErrorCode string   `json:"originalErrorCode,omitempty"`
	OriginalErrorName string   `json:"originalErrorName,omitempty"`
}

// Sanitize builds the loggable record for an error.
func Sanitize(err *Error) SanitizedRecord {
	rec := SanitizedRecord{
		Code:        err.Code,
		Message:     err.Message,
		Suggestions: err.Suggestions,
		Retryable:   err.Retryable(),
		Status:      err.Status(),
	}
	if err.Cause != nil {
		if inner := As(err.Cause); inner != nil {
			rec.OriginalErrorCode = string(inner.Code)
		}
		rec.OriginalErrorName = errorTypeName(err.Cause)
	}
	return rec
}

func errorTypeName(err error) string {
	return fmt.Sprintf("%T", err)
}
