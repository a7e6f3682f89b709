package delivery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/globalworming/low-tech-ai-pocs/telemetry"
)

func withCorr(ctx context.Context, id string) context.Context {
	return telemetry.WithCorrelation(ctx, id)
}

func TestErrorClassString(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  string
	}{
		{ErrorClassRetryable, "retryable"},
		{ErrorClassFatal, "fatal"},
		{ErrorClassUnknown, "unknown"},
		{ErrorClass(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.class.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassUnknown},
		{"status", &Error{Kind: KindStatus, StatusCode: 503}, ErrorClassRetryable},
		{"transport", &Error{Kind: KindTransport, Err: errors.New("connection refused")}, ErrorClassRetryable},
		{"timeout", &Error{Kind: KindTimeout, Err: context.DeadlineExceeded}, ErrorClassRetryable},
		{"serialization", &Error{Kind: KindSerialization, Err: errors.New("bad value")}, ErrorClassFatal},
		{"wrapped serialization", fmt.Errorf("cycle: %w", &Error{Kind: KindSerialization}), ErrorClassFatal},
		{"foreign", errors.New("weird"), ErrorClassRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestKindOfForeignDeadline(t *testing.T) {
	if KindOf(fmt.Errorf("wrap: %w", context.DeadlineExceeded)) != KindTimeout {
		t.Error("deadline exceeded should map to timeout")
	}
}

func TestErrorMessage(t *testing.T) {
	e := &Error{Kind: KindStatus, StatusCode: 500, Body: "down"}
	if e.Error() != "delivery rejected: status 500: down" {
		t.Errorf("Error() = %q", e.Error())
	}
	inner := errors.New("dial tcp")
	e = &Error{Kind: KindTransport, Err: inner}
	if !errors.Is(e, inner) {
		t.Error("Unwrap should expose inner error")
	}
}
