package transport

import (
	"context"

	"stepcount-be/internal/model"
)

// Filter narrows RequestAuthorization to matching devices. Empty fields
// match anything.
type Filter struct {
	VendorID  string
	ProductID string
}

// Handle is an open byte channel to one device. ReadChunk returns io.EOF
// when the recording is exhausted and faults.ErrExtractionTimeout when no
// bytes arrive before the context deadline. Close is idempotent and never
// fails the caller.
type Handle interface {
	DeviceID() string
	ReadChunk(ctx context.Context, maxBytes int) ([]byte, error)
	Close()
}

// Transport is the only component allowed to perform physical I/O. The
// serial implementation talks to a real device node; the simulated one
// synthesizes deterministic recordings for tests and bench use. Everything
// above depends on this interface only.
type Transport interface {
	// DiscoverAuthorized lists previously authorized devices without
	// prompting the operator.
	DiscoverAuthorized(ctx context.Context) ([]model.DeviceDescriptor, error)

	// RequestAuthorization performs the explicit, cancellable operator
	// grant for a first-time device. A declined grant yields
	// faults.ErrUserCancelled.
	RequestAuthorization(ctx context.Context, filter Filter) (model.DeviceDescriptor, error)

	// Open acquires the byte channel. Fails with faults.ErrDeviceBusy or
	// an I/O error.
	Open(ctx context.Context, desc model.DeviceDescriptor) (Handle, error)
}
