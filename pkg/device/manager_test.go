package device

import (
	"context"
	"errors"
	"testing"

	"stepcount-be/internal/model"
	"stepcount-be/internal/pkg/logger"
	"stepcount-be/pkg/faults"
	"stepcount-be/pkg/transport"
)

func newTestManager(cfg transport.SimulatedConfig) *Manager {
	return NewManager(transport.NewSimulated(cfg), logger.NewNopLogger())
}

func firstDevice(t *testing.T, m *Manager) model.DeviceDescriptor {
	t.Helper()
	devices, err := m.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected one device, got %d", len(devices))
	}
	if devices[0].State != model.StateDiscovered {
		t.Errorf("discovered state = %s", devices[0].State)
	}
	return devices[0].Descriptor
}

func TestOpenExclusive(t *testing.T) {
	m := newTestManager(transport.DefaultSimulatedConfig())
	desc := firstDevice(t, m)

	sess, err := m.Open(context.Background(), desc)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sess.Device().State != model.StateOpen {
		t.Errorf("session state = %s, want open", sess.Device().State)
	}

	// Second claim on the same id is rejected while the first is live.
	if _, err := m.Open(context.Background(), desc); !errors.Is(err, faults.ErrDeviceBusy) {
		t.Errorf("second open error = %v, want ErrDeviceBusy", err)
	}

	sess.Close()

	// Released: the device can be claimed again.
	sess2, err := m.Open(context.Background(), desc)
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	sess2.Close()
}

func TestCloseIdempotent(t *testing.T) {
	m := newTestManager(transport.DefaultSimulatedConfig())
	sess, err := m.Open(context.Background(), firstDevice(t, m))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	sess.Close()
	sess.Close()
	sess.Close()

	if sess.Handle() != nil {
		t.Error("handle must be nil after close")
	}
	if sess.Device().State != model.StateClosed {
		t.Errorf("state after close = %s", sess.Device().State)
	}
}

func TestErrorStateKeepsClaim(t *testing.T) {
	m := newTestManager(transport.DefaultSimulatedConfig())
	desc := firstDevice(t, m)
	sess, err := m.Open(context.Background(), desc)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// A transport failure marks the session but never releases it
	// implicitly; the device stays busy until an explicit Close.
	sess.MarkError()
	if sess.Device().State != model.StateError {
		t.Errorf("state after MarkError = %s", sess.Device().State)
	}
	if _, err := m.Open(context.Background(), desc); !errors.Is(err, faults.ErrDeviceBusy) {
		t.Errorf("open during error state = %v, want ErrDeviceBusy", err)
	}

	sess.Close()
	sess2, err := m.Open(context.Background(), desc)
	if err != nil {
		t.Fatalf("reopen after error close: %v", err)
	}
	sess2.Close()
}

func TestExtractedFlagPerSession(t *testing.T) {
	m := newTestManager(transport.DefaultSimulatedConfig())
	desc := firstDevice(t, m)

	sess, err := m.Open(context.Background(), desc)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sess.Extracted() {
		t.Error("fresh session must not be extracted")
	}
	sess.MarkExtracted()
	if !sess.Extracted() {
		t.Error("MarkExtracted must stick for the session's lifetime")
	}
	sess.Close()

	// The flag belongs to the session, not the device.
	sess2, err := m.Open(context.Background(), desc)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer sess2.Close()
	if sess2.Extracted() {
		t.Error("reopened session must start unextracted")
	}
}

func TestAuthorizeDeclined(t *testing.T) {
	cfg := transport.DefaultSimulatedConfig()
	cfg.DenyAuthorization = true
	m := newTestManager(cfg)

	_, err := m.Authorize(context.Background(), transport.Filter{})
	if !errors.Is(err, faults.ErrUserCancelled) {
		t.Errorf("declined grant error = %v, want ErrUserCancelled", err)
	}
}

func TestOpenUnknownDevice(t *testing.T) {
	m := newTestManager(transport.DefaultSimulatedConfig())
	desc := firstDevice(t, m)
	desc.ID = "GHOST-01"

	if _, err := m.Open(context.Background(), desc); !errors.Is(err, faults.ErrDeviceNotFound) {
		t.Errorf("open unknown error = %v, want ErrDeviceNotFound", err)
	}

	// The failed open must not leave a stale reservation behind.
	real := firstDevice(t, m)
	sess, err := m.Open(context.Background(), real)
	if err != nil {
		t.Fatalf("open after failed open: %v", err)
	}
	sess.Close()
}
