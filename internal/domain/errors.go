package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	// ErrExhausted means the poll window closed with no usable reply. It is
	// an expected outcome, rendered as the apology string, never a crash.
	ErrExhausted = errors.New("domain: no reply within poll window")

	// ErrTimeout wraps a transport timeout. Timeouts consume a poll attempt
	// and the loop continues.
	ErrTimeout = errors.New("domain: request timed out")
)

// Apology is the fixed user-visible string returned when polling exhausts
// without finding a reply.
const Apology = "I apologize, but I couldn't process your message at this time."

// StatusError is a non-2xx response from the remote agent service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("domain: agent returned status %d: %s", e.Code, e.Body)
}

// Retryable reports whether an error is worth retrying at the transport
// level: timeouts always, server-side statuses (5xx and 429) yes, client
// errors no. This is the single retryability predicate shared by the
// transport retry policy and the poll loop.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == 429
	}

	// Network-level failures (refused, DNS, reset) arrive wrapped from
	// net/http without a StatusError; treat them as transient.
	return true
}
