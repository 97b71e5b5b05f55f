package device

import (
	"context"
	"fmt"
	"sync"

	"stepcount-be/internal/model"
	"stepcount-be/internal/pkg/logger"
	"stepcount-be/pkg/faults"
	"stepcount-be/pkg/transport"
)

// Session is one exclusive claim on a device. It owns the transport handle
// until Close releases both the handle and the per-device lock.
type Session struct {
	device model.Device
	handle transport.Handle
	mgr    *Manager

	mu        sync.Mutex
	closed    bool
	extracted bool
}

func (s *Session) Device() model.Device { return s.device }

func (s *Session) DeviceID() string { return s.device.Descriptor.ID }

// Handle exposes the open byte channel. Nil after Close.
func (s *Session) Handle() transport.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.handle
}

// Extracted reports whether this session has already drained the recording.
// The flag lives on the session, so closing and reopening the device starts
// clean.
func (s *Session) Extracted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extracted
}

// MarkExtracted records a completed extraction on the session.
func (s *Session) MarkExtracted() {
	s.mu.Lock()
	s.extracted = true
	s.mu.Unlock()
}

// MarkError records a transport failure on the session. The handle stays
// claimed until Close; reaching the error state never releases resources
// implicitly.
func (s *Session) MarkError() {
	s.mu.Lock()
	s.device.State = model.StateError
	s.mu.Unlock()
}

// Close releases the handle and the device lock. Safe to call repeatedly
// and from the error state; it never fails the caller.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.device.State = model.StateClosed
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	h.Close()
	s.mgr.release(s.device.Descriptor.ID, s)
}

// IManager owns device discovery and the exclusive open-handle lifecycle.
type IManager interface {
	Discover(ctx context.Context) ([]model.Device, error)
	Authorize(ctx context.Context, filter transport.Filter) (model.DeviceDescriptor, error)
	Open(ctx context.Context, desc model.DeviceDescriptor) (*Session, error)
}

// Manager enforces at most one open handle per device id process-wide and
// maps transport failures into the typed error set.
type Manager struct {
	tr  transport.Transport
	log logger.ILogger

	mu   sync.Mutex
	open map[string]*Session
}

func NewManager(tr transport.Transport, log logger.ILogger) *Manager {
	return &Manager{
		tr:   tr,
		log:  log,
		open: make(map[string]*Session),
	}
}

// Discover lists previously authorized devices; no operator interaction.
func (m *Manager) Discover(ctx context.Context) ([]model.Device, error) {
	descs, err := m.tr.DiscoverAuthorized(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover devices: %w", err)
	}
	devices := make([]model.Device, 0, len(descs))
	for _, d := range descs {
		devices = append(devices, model.Device{Descriptor: d, State: model.StateDiscovered})
	}
	return devices, nil
}

// Authorize runs the first-time grant. A cancelled grant surfaces as
// faults.ErrUserCancelled, which is an operator decision, not a failure.
func (m *Manager) Authorize(ctx context.Context, filter transport.Filter) (model.DeviceDescriptor, error) {
	desc, err := m.tr.RequestAuthorization(ctx, filter)
	if err != nil {
		return model.DeviceDescriptor{}, err
	}
	m.log.Info("Device", "Device authorized", map[string]interface{}{
		"device_id": desc.ID,
		"serial":    desc.Serial,
	})
	return desc, nil
}

// Open claims the device exclusively. A second open for the same id fails
// with faults.ErrDeviceBusy until the first session closes.
func (m *Manager) Open(ctx context.Context, desc model.DeviceDescriptor) (*Session, error) {
	m.mu.Lock()
	if _, held := m.open[desc.ID]; held {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", faults.ErrDeviceBusy, desc.ID)
	}
	// Reserve before the (possibly slow) transport open so concurrent
	// opens on the same id are rejected immediately.
	m.open[desc.ID] = nil
	m.mu.Unlock()

	h, err := m.tr.Open(ctx, desc)
	if err != nil {
		m.mu.Lock()
		delete(m.open, desc.ID)
		m.mu.Unlock()
		return nil, err
	}

	s := &Session{
		device: model.Device{Descriptor: desc, State: model.StateOpen},
		handle: h,
		mgr:    m,
	}
	m.mu.Lock()
	m.open[desc.ID] = s
	m.mu.Unlock()

	m.log.Info("Device", "Session opened", map[string]interface{}{"device_id": desc.ID})
	return s, nil
}

func (m *Manager) release(deviceID string, s *Session) {
	m.mu.Lock()
	if cur, ok := m.open[deviceID]; ok && cur == s {
		delete(m.open, deviceID)
	}
	m.mu.Unlock()
	m.log.Info("Device", "Session closed", map[string]interface{}{"device_id": deviceID})
}
