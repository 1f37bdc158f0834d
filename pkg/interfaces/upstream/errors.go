// Package upstream holds the HTTP plumbing and error taxonomy shared by the
// social media platform adapters.
package upstream

import (
	"errors"
	"fmt"
)

// Kind is the closed set of upstream failure categories
type Kind string

const (
	// KindNotFound means the requested account does not exist upstream
	KindNotFound Kind = "not_found"
	// KindCommunication covers non-404 error statuses, rate limits and
	// exchanges that could not be completed
	KindCommunication Kind = "communication"
	// KindConfiguration means required configuration is missing or malformed
	KindConfiguration Kind = "configuration"
	// KindUnknown is anything uncategorized
	KindUnknown Kind = "unknown"
)

// MessageAccountNotFound is the message of a NotFound mapped from a 404
const MessageAccountNotFound = "account does not exist"

// Error is an upstream failure with its category and context
type Error struct {
	Kind       Kind   // Failure category
	Site       string // Site the request was made against, if any
	StatusCode int    // HTTP status, zero when no response was received
	Message    string // Human readable message
	Err        error  // Underlying error if any
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Site != "" {
		msg = fmt.Sprintf("[%s] %s: %s", e.Kind, e.Site, e.Message)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error
func NewError(kind Kind, site string, statusCode int, message string, err error) *Error {
	return &Error{
		Kind:       kind,
		Site:       site,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// NotFound reports an account that does not exist upstream
func NotFound(site, message string) *Error {
	return NewError(KindNotFound, site, 404, message, nil)
}

// Communication reports a failed exchange with the upstream site
func Communication(site string, statusCode int, err error) *Error {
	return NewError(KindCommunication, site, statusCode, "cannot communicate with upstream", err)
}

// Configuration reports missing or malformed configuration
func Configuration(message string) *Error {
	return NewError(KindConfiguration, "", 0, message, nil)
}

// KindOf returns the category of err. Errors that did not come from this
// package are KindUnknown.
func KindOf(err error) Kind {
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is an upstream Error of the given kind
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// StatusCodeOf returns the HTTP status carried by err, or zero
func StatusCodeOf(err error) int {
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr.StatusCode
	}
	return 0
}
