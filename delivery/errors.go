package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureKind names why a delivery failed.
type FailureKind string

const (
	KindTransport     FailureKind = "transport"
	KindStatus        FailureKind = "status"
	KindTimeout       FailureKind = "timeout"
	KindSerialization FailureKind = "serialization"
)

// Error is returned by Client.Deliver for every failed attempt.
type Error struct {
	Kind       FailureKind
	StatusCode int    // set for KindStatus
	Body       string // response body prefix for KindStatus
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("delivery rejected: status %d: %s", e.StatusCode, e.Body)
	default:
		if e.Err == nil {
			return fmt.Sprintf("delivery %s failure", e.Kind)
		}
		return fmt.Sprintf("delivery %s failure: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorClass represents whether a failed delivery is worth another attempt.
type ErrorClass int

const (
	// ErrorClassRetryable indicates the next flush cycle may succeed (transient errors).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates the payload itself is broken; retrying it as-is won't help.
	ErrorClassFatal
	// ErrorClassUnknown indicates there was no error to classify.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify sorts a delivery error. Serialization failures are fatal for the
// payload; network, timeout and non-2xx failures are retryable. Either way the
// scheduler only logs them and tries again next cycle.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if KindOf(err) == KindSerialization {
		return ErrorClassFatal
	}
	return ErrorClassRetryable
}

// KindOf extracts the failure kind from err, inferring it for foreign errors.
func KindOf(err error) FailureKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if isTimeout(err) {
		return KindTimeout
	}
	return KindTransport
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
