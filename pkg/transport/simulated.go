package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sync"
	"time"

	"stepcount-be/internal/model"
	"stepcount-be/pkg/faults"
)

// SimulatedConfig controls the synthetic recording. The same seed always
// yields the same byte stream.
type SimulatedConfig struct {
	DeviceID    string
	Serial      string
	SampleCount int
	SampleRate  float64
	Seed        int64
	Start       time.Time

	// Failure injection for tests.
	DenyAuthorization bool // operator declines the grant
	StallAfterChunks  int  // block after N chunks until the deadline; 0 disables
	CorruptRecordAt   int  // emit a malformed record at this sample index; -1 disables
}

// DefaultSimulatedConfig is a ten second walk at 100 Hz.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		DeviceID:        "SIM-ACC-001",
		Serial:          "SIM0001",
		SampleCount:     1000,
		SampleRate:      100,
		Seed:            42,
		Start:           time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		CorruptRecordAt: -1,
	}
}

// Simulated synthesizes a walking recording through the Transport interface
// so the extraction path is exercised without hardware.
type Simulated struct {
	cfg SimulatedConfig
}

func NewSimulated(cfg SimulatedConfig) *Simulated {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 100
	}
	if cfg.SampleCount <= 0 {
		cfg.SampleCount = 1000
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	}
	return &Simulated{cfg: cfg}
}

func (s *Simulated) descriptor() model.DeviceDescriptor {
	return model.DeviceDescriptor{
		ID:        s.cfg.DeviceID,
		VendorID:  "0x2717",
		ProductID: "0x5011",
		Serial:    s.cfg.Serial,
		Name:      "Simulated tri-axial accelerometer",
	}
}

func (s *Simulated) DiscoverAuthorized(ctx context.Context) ([]model.DeviceDescriptor, error) {
	return []model.DeviceDescriptor{s.descriptor()}, nil
}

func (s *Simulated) RequestAuthorization(ctx context.Context, filter Filter) (model.DeviceDescriptor, error) {
	if s.cfg.DenyAuthorization {
		return model.DeviceDescriptor{}, faults.ErrUserCancelled
	}
	d := s.descriptor()
	if filter.VendorID != "" && filter.VendorID != d.VendorID {
		return model.DeviceDescriptor{}, faults.ErrDeviceNotFound
	}
	if filter.ProductID != "" && filter.ProductID != d.ProductID {
		return model.DeviceDescriptor{}, faults.ErrDeviceNotFound
	}
	return d, nil
}

func (s *Simulated) Open(ctx context.Context, desc model.DeviceDescriptor) (Handle, error) {
	if desc.ID != s.cfg.DeviceID {
		return nil, faults.ErrDeviceNotFound
	}
	return &simHandle{
		deviceID: desc.ID,
		data:     s.generate(),
		stall:    s.cfg.StallAfterChunks,
	}, nil
}

// generate renders the canonical CSV stream: time,x,y,z header then one
// ISO-8601 millisecond timestamped record per sample. Walking shows up as a
// ~2 Hz sinusoid on the vertical axis over gravity, with seeded noise.
func (s *Simulated) generate() []byte {
	rng := rand.New(rand.NewSource(s.cfg.Seed))
	period := time.Duration(float64(time.Second) / s.cfg.SampleRate)

	var buf bytes.Buffer
	buf.WriteString("time,x,y,z\n")
	for i := 0; i < s.cfg.SampleCount; i++ {
		t := s.cfg.Start.Add(time.Duration(i) * period)
		phase := 2 * math.Pi * 2.0 * float64(i) / s.cfg.SampleRate
		x := 0.05*math.Sin(phase/2) + 0.02*rng.NormFloat64()
		y := -0.98 + 0.25*math.Sin(phase) + 0.03*rng.NormFloat64()
		z := 0.08*math.Cos(phase) + 0.02*rng.NormFloat64()

		if i == s.cfg.CorruptRecordAt {
			buf.WriteString("not-a-timestamp,?,?,?\n")
			continue
		}
		fmt.Fprintf(&buf, "%s,%.4f,%.4f,%.4f\n", t.UTC().Format("2006-01-02T15:04:05.000Z"), x, y, z)
	}
	return buf.Bytes()
}

type simHandle struct {
	deviceID string
	data     []byte

	mu     sync.Mutex
	offset int
	chunks int
	stall  int
	closed bool
}

func (h *simHandle) DeviceID() string { return h.deviceID }

func (h *simHandle) ReadChunk(ctx context.Context, maxBytes int) ([]byte, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, io.EOF
	}
	if h.stall > 0 && h.chunks >= h.stall {
		h.mu.Unlock()
		// Emulate a silent device: nothing arrives until the deadline.
		<-ctx.Done()
		return nil, faults.ErrExtractionTimeout
	}
	if h.offset >= len(h.data) {
		h.mu.Unlock()
		return nil, io.EOF
	}
	end := h.offset + maxBytes
	if end > len(h.data) {
		end = len(h.data)
	}
	chunk := h.data[h.offset:end]
	h.offset = end
	h.chunks++
	h.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, faults.ErrExtractionTimeout
	}
	return chunk, nil
}

func (h *simHandle) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}
