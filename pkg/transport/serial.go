package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"stepcount-be/internal/model"
	"stepcount-be/pkg/faults"
)

// Serial reads the canonical CSV stream from a character device node.
// Candidate paths come from configuration; a path that exists and is
// readable counts as a previously authorized device.
type Serial struct {
	candidates []string
}

func NewSerial(candidates []string) *Serial {
	return &Serial{candidates: candidates}
}

func descriptorForPath(path string) model.DeviceDescriptor {
	return model.DeviceDescriptor{
		ID:     path,
		Serial: filepath.Base(path),
		Name:   "Serial accelerometer " + filepath.Base(path),
	}
}

func (s *Serial) DiscoverAuthorized(ctx context.Context) ([]model.DeviceDescriptor, error) {
	var found []model.DeviceDescriptor
	for _, p := range s.candidates {
		if _, err := os.Stat(p); err == nil {
			found = append(found, descriptorForPath(p))
		}
	}
	return found, nil
}

// RequestAuthorization probes the candidate list. There is no interactive
// grant on a headless host, so the first matching present device is
// returned; an empty probe is reported as not found rather than cancelled.
func (s *Serial) RequestAuthorization(ctx context.Context, filter Filter) (model.DeviceDescriptor, error) {
	devices, err := s.DiscoverAuthorized(ctx)
	if err != nil {
		return model.DeviceDescriptor{}, err
	}
	if len(devices) == 0 {
		return model.DeviceDescriptor{}, faults.ErrDeviceNotFound
	}
	return devices[0], nil
}

func (s *Serial) Open(ctx context.Context, desc model.DeviceDescriptor) (Handle, error) {
	f, err := os.OpenFile(desc.ID, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, faults.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("open %s: %w", desc.ID, err)
	}
	return &serialHandle{deviceID: desc.ID, f: f}, nil
}

type serialHandle struct {
	deviceID string
	f        *os.File
}

func (h *serialHandle) DeviceID() string { return h.deviceID }

func (h *serialHandle) ReadChunk(ctx context.Context, maxBytes int) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		// Best effort: not every file type supports deadlines.
		_ = h.f.SetReadDeadline(deadline)
	}
	buf := make([]byte, maxBytes)
	n, err := h.f.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case errors.Is(err, os.ErrDeadlineExceeded):
		return nil, faults.ErrExtractionTimeout
	default:
		return nil, fmt.Errorf("read %s: %w", h.deviceID, err)
	}
}

func (h *serialHandle) Close() {
	// Release must never fail the caller; double close is tolerated.
	_ = h.f.SetReadDeadline(time.Time{})
	_ = h.f.Close()
}
