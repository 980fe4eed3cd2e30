// Package errkind defines the error taxonomy shared across the ingestion
// core. Callers classify with errors.Is against the sentinels and wrap with
// fmt.Errorf("...: %w", ...).
package errkind

import (
	"context"
	"errors"
)

var (
	// ErrInvalidInput marks unparseable URLs, malformed CSV rows and the like.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks a missing video, archive record or index row.
	ErrNotFound = errors.New("not found")
	// ErrTranscriptUnavailable means the upstream has no transcript for the video.
	ErrTranscriptUnavailable = errors.New("transcript unavailable")
	// ErrUpstreamUnavailable marks transient upstream failures worth retrying.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrRateLimited marks an upstream 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrIntegrity marks an invariant violation; never repaired automatically.
	ErrIntegrity = errors.New("integrity violation")
	// ErrCircularDependency is raised during execution-order resolution.
	ErrCircularDependency = errors.New("circular dependency")
	// ErrUnknownStep is raised when a requested step is not registered.
	ErrUnknownStep = errors.New("unknown step")
	// ErrCancelled marks cooperative cancellation.
	ErrCancelled = errors.New("cancelled")
)

// Kind returns the short taxonomy label for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrTranscriptUnavailable):
		return "TranscriptUnavailable"
	case errors.Is(err, ErrRateLimited):
		return "RateLimited"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "UpstreamUnavailable"
	case errors.Is(err, ErrIntegrity):
		return "IntegrityError"
	case errors.Is(err, ErrCircularDependency):
		return "CircularDependency"
	case errors.Is(err, ErrUnknownStep):
		return "UnknownStep"
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Cancelled"
	default:
		return "Internal"
	}
}

// Label renders err as "<kind>: <message>", the form recorded on step results.
func Label(err error) string {
	if err == nil {
		return ""
	}
	return Kind(err) + ": " + err.Error()
}

// Retryable reports whether err is transient per the propagation policy.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrRateLimited)
}

// ExitCode maps err to the CLI exit-code contract:
// 0 success, 1 user/validation error, 2 transient upstream, 3 internal.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownStep):
		return 1
	case Retryable(err):
		return 2
	default:
		return 3
	}
}
