package faults

import (
	"errors"
	"fmt"
)

// Sentinel errors for the acquisition and processing pipeline.
// Callers match with errors.Is; causes are preserved with %w wrapping.
var (
	ErrUserCancelled     = errors.New("authorization cancelled by user")
	ErrDeviceBusy        = errors.New("device already open")
	ErrDeviceNotFound    = errors.New("device not found")
	ErrProtocolError     = errors.New("malformed device record")
	ErrExtractionTimeout = errors.New("no data received before deadline")
	ErrAlreadyExtracted  = errors.New("handle already extracted")
	ErrNetworkError      = errors.New("network failure")
	ErrValidationError   = errors.New("payload rejected by analysis service")
	ErrProcessingFailed  = errors.New("processing failed")
	ErrResultMalformed   = errors.New("malformed analysis response")
	ErrPatientNotFound   = errors.New("patient not found")
	ErrInvalidTransition = errors.New("invalid workflow transition")
)

// ProcessingFailure wraps ErrProcessingFailed with the classified reason the
// job terminated with (exhausted retries, remote error message, ...).
func ProcessingFailure(reason string) error {
	return fmt.Errorf("%w: %s", ErrProcessingFailed, reason)
}

// Retryable reports whether an error may be retried by the processing
// client's bounded policy. Only transport-level failures qualify;
// remote-reported validation failures never do.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetworkError)
}

// HTTPStatus maps a pipeline error to the status code controllers respond
// with. Unclassified errors fall through to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrDeviceNotFound):
		return 404
	case errors.Is(err, ErrDeviceBusy):
		return 409
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyExtracted):
		return 409
	case errors.Is(err, ErrUserCancelled):
		return 400
	case errors.Is(err, ErrValidationError), errors.Is(err, ErrProtocolError):
		return 422
	case errors.Is(err, ErrExtractionTimeout):
		return 504
	case errors.Is(err, ErrNetworkError):
		return 502
	default:
		return 500
	}
}
