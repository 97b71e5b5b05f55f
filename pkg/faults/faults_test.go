package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"patient not found", ErrPatientNotFound, 404},
		{"device not found", ErrDeviceNotFound, 404},
		{"device busy", ErrDeviceBusy, 409},
		{"invalid transition", ErrInvalidTransition, 409},
		{"already extracted", ErrAlreadyExtracted, 409},
		{"user cancelled", ErrUserCancelled, 400},
		{"validation error", ErrValidationError, 422},
		{"protocol error", ErrProtocolError, 422},
		{"extraction timeout", ErrExtractionTimeout, 504},
		{"network error", ErrNetworkError, 502},
		{"processing failed", ErrProcessingFailed, 500},
		{"unclassified", errors.New("boom"), 500},
		{"wrapped device busy", fmt.Errorf("open SIM-ACC-001: %w", ErrDeviceBusy), 409},
		{"double wrapped timeout", fmt.Errorf("extract: %w", fmt.Errorf("%w after 5s", ErrExtractionTimeout)), 504},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(fmt.Errorf("post: %w", ErrNetworkError)) {
		t.Error("wrapped network error must be retryable")
	}
	if Retryable(ErrValidationError) {
		t.Error("validation errors must never be retried")
	}
	if Retryable(ProcessingFailure("remote said no")) {
		t.Error("remote-reported failures must never be retried")
	}
}

func TestProcessingFailure(t *testing.T) {
	err := ProcessingFailure("insufficient wear time")
	if !errors.Is(err, ErrProcessingFailed) {
		t.Error("ProcessingFailure must match ErrProcessingFailed")
	}
	if err.Error() != "processing failed: insufficient wear time" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
