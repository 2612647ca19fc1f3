// Package errors provides the tagged error kinds shared by the gatekeeper
// domain packages and the HTTP surface.
package errors

import "net/http"

// Code is a machine-readable error kind.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	// CodeInvalidRequest marks malformed or disallowed input. Never retried.
	CodeInvalidRequest Code = "INVALID_REQUEST"
	// CodeUnauthorized marks a failed permission gate.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeNotFound marks an absent place, room, access row or target.
	CodeNotFound Code = "NOT_FOUND"
	// CodeConflict marks a request that collides with live state, such as
	// a user already connected to another voice chat.
	CodeConflict Code = "CONFLICT"

	// CodeStreamingAccessUnavailable means no streaming access row exists yet.
	// Callers treat it as a signal to take the create path.
	CodeStreamingAccessUnavailable Code = "STREAMING_ACCESS_UNAVAILABLE"
	// CodeServiceUnavailable marks a dependent resource that is transiently absent.
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"

	// CodeFault marks an unexpected downstream failure.
	CodeFault Code = "FAULT"
)

// HTTPStatus maps error kinds to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound, CodeStreamingAccessUnavailable:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
