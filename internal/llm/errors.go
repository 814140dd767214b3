// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// ErrorKind categorizes backend errors for handling.
type ErrorKind int

const (
	ErrorUnknown ErrorKind = iota
	// ErrorNetwork is a connect or read failure, or a 5xx from the server.
	ErrorNetwork
	// ErrorRateLimited is an explicit throttling response (429).
	ErrorRateLimited
	// ErrorProtocol is a malformed or unexpected response shape.
	ErrorProtocol
	// ErrorAuth is a missing or rejected credential.
	ErrorAuth
	// ErrorCancelled means the user cancelled the request.
	ErrorCancelled
	// ErrorModelUnavailable means the backend does not have the model.
	ErrorModelUnavailable
)

// String returns a short name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorNetwork:
		return "network"
	case ErrorRateLimited:
		return "rate_limited"
	case ErrorProtocol:
		return "protocol"
	case ErrorAuth:
		return "auth"
	case ErrorCancelled:
		return "cancelled"
	case ErrorModelUnavailable:
		return "model_unavailable"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every backend.
type Error struct {
	Kind     ErrorKind
	Provider string // backend name, e.g. "ollama"
	Status   int    // HTTP status, 0 when not applicable
	Message  string
	Cause    error
}

// Sentinel errors, one per kind. Match with errors.Is.
var (
	ErrNetwork          = &Error{Kind: ErrorNetwork, Message: "network error"}
	ErrRateLimited      = &Error{Kind: ErrorRateLimited, Message: "rate limited"}
	ErrProtocol         = &Error{Kind: ErrorProtocol, Message: "unexpected response"}
	ErrAuth             = &Error{Kind: ErrorAuth, Message: "authentication failed"}
	ErrCancelled        = &Error{Kind: ErrorCancelled, Message: "cancelled by user"}
	ErrModelUnavailable = &Error{Kind: ErrorModelUnavailable, Message: "model unavailable"}
)

var sentinels = map[ErrorKind]*Error{
	ErrorNetwork:          ErrNetwork,
	ErrorRateLimited:      ErrRateLimited,
	ErrorProtocol:         ErrProtocol,
	ErrorAuth:             ErrAuth,
	ErrorCancelled:        ErrCancelled,
	ErrorModelUnavailable: ErrModelUnavailable,
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel of the same kind, so errors.Is(err, ErrAuth)
// holds for every auth error regardless of provider or message.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && target == s
}

// NewError builds an Error.
func NewError(kind ErrorKind, provider, message string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Cause: cause}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// StatusError maps a non-2xx HTTP status to an Error. message is the
// provider's own error text when it could be decoded.
func StatusError(provider string, status int, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	kind := ErrorProtocol
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrorAuth
	case status == http.StatusNotFound:
		kind = ErrorModelUnavailable
	case status == http.StatusTooManyRequests:
		kind = ErrorRateLimited
	case status >= 500:
		kind = ErrorNetwork
	}
	return &Error{Kind: kind, Provider: provider, Status: status, Message: message}
}

// Transport classifies an error from the HTTP layer or a body read.
// Errors that are already *Error pass through unchanged.
func Transport(provider string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: ErrorCancelled, Provider: provider, Message: "request cancelled", Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: ErrorNetwork, Provider: provider, Message: "request timed out", Cause: err}
	case errors.Is(err, io.ErrUnexpectedEOF):
		return &Error{Kind: ErrorNetwork, Provider: provider, Message: "connection closed mid-response", Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: ErrorNetwork, Provider: provider, Message: "request timed out", Cause: err}
		}
		return &Error{Kind: ErrorNetwork, Provider: provider, Message: "connection failed", Cause: err}
	}
	return &Error{Kind: ErrorNetwork, Provider: provider, Message: "request failed", Cause: err}
}

// KindOf returns the ErrorKind of err. Bare context cancellation counts as
// ErrorCancelled.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCancelled
	}
	return ErrorUnknown
}

// Retryable reports whether a one-shot completion that failed with err may
// be attempted again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ErrorNetwork, ErrorRateLimited:
		return true
	}
	return false
}

// IsAuth reports whether err is an authentication error.
func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }

// IsModelUnavailable reports whether err says the model does not exist.
func IsModelUnavailable(err error) bool { return errors.Is(err, ErrModelUnavailable) }

// IsCancelled reports whether err is a user cancellation.
func IsCancelled(err error) bool { return KindOf(err) == ErrorCancelled }

// UserMessage renders err as the short line shown (and stored) in place of
// a failed reply.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "Error: " + err.Error()
	}
	name := e.Provider
	if name == "" {
		name = "provider"
	}
	switch e.Kind {
	case ErrorAuth:
		return fmt.Sprintf("Error: authentication failed for %s. Check the API key in your config or environment.", name)
	case ErrorModelUnavailable:
		return fmt.Sprintf("Error: %s does not have this model (%s).", name, e.Message)
	case ErrorRateLimited:
		return fmt.Sprintf("Error: %s is rate limiting requests. Try again shortly.", name)
	case ErrorNetwork:
		return fmt.Sprintf("Error: could not reach %s: %s", name, e.Message)
	case ErrorProtocol:
		return fmt.Sprintf("Error: unexpected response from %s: %s", name, e.Message)
	case ErrorCancelled:
		return "Generation stopped by user"
	}
	return "Error: " + e.Error()
}
