// chatsync - a poll-based chat message synchronization engine.
// Copyright (C) 2025 Convo Labs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatapi

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-readable classification attached to permission
// failures so consumers can render "access denied" distinctly from a
// generic connectivity problem.
type ErrorCode string

const (
	CodeUnauthenticated  ErrorCode = "UNAUTHENTICATED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
)

// PermissionError is permanent for the current session. The poll scheduler
// stops permanently when it sees one; there is no point retrying a 401/403
// with the same credentials.
type PermissionError struct {
	Code       ErrorCode
	StatusCode int
	Message    string
}

func (e *PermissionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Code, e.StatusCode)
}

// TransientError covers everything that is worth retrying: network
// failures, 5xx responses, unexpected 4xx responses and malformed bodies.
// StatusCode is 0 when the request never produced a response.
type TransientError struct {
	Op         string
	StatusCode int
	Cause      error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// IsPermission reports whether err is (or wraps) a PermissionError.
func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// AsPermission returns the wrapped PermissionError, or nil.
func AsPermission(err error) *PermissionError {
	var pe *PermissionError
	if errors.As(err, &pe) {
		return pe
	}
	return nil
}
