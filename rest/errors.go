// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"errors"
	"fmt"
)

// APIError is a structured error response from the sync server.
// Callers can use errors.As to extract the structured information:
//
//	var apiErr *rest.APIError
//	if errors.As(err, &apiErr) {
//	    if apiErr.Code == rest.ErrCodeNotFound { ... }
//	}
type APIError struct {
	// Code is the server's error code (e.g., "NOT_FOUND").
	Code string `json:"code"`
	// Message is the human-readable error description from the server.
	Message string `json:"message"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rest: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Error codes returned by the sync server.
const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInvalidParam  = "INVALID_PARAM"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// IsAPIError checks whether err is an *APIError with the given code.
func IsAPIError(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
