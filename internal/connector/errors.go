// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package connector

import (
	"errors"
	"fmt"
)

// Kind classifies connector failures. Every error crossing the connector
// boundary carries exactly one kind so callers can branch with errors.As
// instead of inspecting transport details.
type Kind int

const (
	// KindUnreachable means the backend could not be reached or returned
	// a server-side failure. Transient; retried.
	KindUnreachable Kind = iota

	// KindUnauthorized means the credentials were rejected. Not retried;
	// fatal for the configured backend instance.
	KindUnauthorized

	// KindNotFound means the requested entity does not exist.
	KindNotFound

	// KindTimeout means the request exceeded its deadline. Transient;
	// retried.
	KindTimeout

	// KindMalformed means the backend response could not be decoded into
	// the normalized shape.
	KindMalformed
)

// String returns the metric/log label for the kind.
func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by every connector operation.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op names the failing operation, e.g. "emby.sessions".
	Op string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connector: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("connector: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the error is worth retrying.
func (e *Error) Transient() bool {
	return e.Kind == KindUnreachable || e.Kind == KindTimeout
}

// newError wraps err as an *Error with the given kind and operation.
func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err. The second return is false when err
// is not a connector error.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// IsTransient reports whether err is a connector error worth retrying.
func IsTransient(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Transient()
}
