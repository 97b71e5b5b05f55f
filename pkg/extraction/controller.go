package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"stepcount-be/internal/model"
	"stepcount-be/internal/pkg/logger"
	"stepcount-be/pkg/device"
	"stepcount-be/pkg/faults"
	"stepcount-be/pkg/transport"
)

// Timestamp layouts accepted on the wire. The canonical format is ISO-8601
// with millisecond resolution; devices in the field also emit the
// space-separated variant.
var timeLayouts = []string{
	"2006-01-02T15:04:05.000Z07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
}

type Config struct {
	ChunkSize     int           // max bytes per ReadChunk
	ChunkDeadline time.Duration // rolling deadline, reset on every chunk
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:     64 * 1024,
		ChunkDeadline: 5 * time.Second,
	}
}

type IController interface {
	Extract(ctx context.Context, sess *device.Session) (*model.Dataset, error)
	ExtractWithProgress(ctx context.Context, sess *device.Session, progress func(samples int)) (*model.Dataset, error)
}

// Controller drives the chunked read protocol on an open session and
// assembles the validated, ordered dataset. A failed run may be re-invoked
// on the same session; a successful run marks the session consumed, and the
// mark dies with the session on close, so reopening the device starts clean.
type Controller struct {
	cfg Config
	log logger.ILogger
}

func NewController(cfg Config, log logger.ILogger) *Controller {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 64 * 1024
	}
	if cfg.ChunkDeadline <= 0 {
		cfg.ChunkDeadline = 5 * time.Second
	}
	return &Controller{cfg: cfg, log: log}
}

func (c *Controller) Extract(ctx context.Context, sess *device.Session) (*model.Dataset, error) {
	return c.ExtractWithProgress(ctx, sess, nil)
}

func (c *Controller) ExtractWithProgress(ctx context.Context, sess *device.Session, progress func(samples int)) (*model.Dataset, error) {
	h := sess.Handle()
	if h == nil {
		return nil, fmt.Errorf("%w: session is not open", faults.ErrDeviceNotFound)
	}

	if sess.Extracted() {
		return nil, faults.ErrAlreadyExtracted
	}

	samples, err := c.readAll(ctx, h, progress)
	if err != nil {
		// Partial accumulation is discarded; the handle stays usable for
		// a retry, the session decides whether to surface the error.
		return nil, err
	}

	sess.MarkExtracted()

	ds := &model.Dataset{
		ID:             uuid.NewString(),
		SourceDeviceID: h.DeviceID(),
		SampleRate:     inferRate(samples),
		Samples:        samples,
	}
	c.log.Info("Extraction", "Extraction complete", map[string]interface{}{
		"device_id":    ds.SourceDeviceID,
		"sample_count": len(samples),
		"sample_rate":  ds.SampleRate,
	})
	return ds, nil
}

func (c *Controller) readAll(ctx context.Context, h transport.Handle, progress func(int)) ([]model.Sample, error) {
	var (
		samples     []model.Sample
		carry       bytes.Buffer
		sawHeader   bool
		lastInstant time.Time
	)

	appendLine := func(line string) error {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			return nil
		}
		if !sawHeader {
			if !strings.EqualFold(line, "time,x,y,z") {
				return fmt.Errorf("%w: unexpected header %q", faults.ErrProtocolError, line)
			}
			sawHeader = true
			return nil
		}
		s, err := parseRecord(line)
		if err != nil {
			return err
		}
		if !lastInstant.IsZero() && !s.Time.After(lastInstant) {
			return fmt.Errorf("%w: timestamp %s not after %s",
				faults.ErrProtocolError, s.Time.Format(time.RFC3339Nano), lastInstant.Format(time.RFC3339Nano))
		}
		lastInstant = s.Time
		samples = append(samples, s)
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extraction cancelled: %w", err)
		}

		chunkCtx, cancel := context.WithTimeout(ctx, c.cfg.ChunkDeadline)
		chunk, err := h.ReadChunk(chunkCtx, c.cfg.ChunkSize)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			// Flush any trailing record without a newline.
			if carry.Len() > 0 {
				if perr := appendLine(carry.String()); perr != nil {
					return nil, perr
				}
			}
			return samples, nil
		case errors.Is(err, faults.ErrExtractionTimeout), errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w after %s", faults.ErrExtractionTimeout, c.cfg.ChunkDeadline)
		default:
			return nil, fmt.Errorf("read chunk: %w", err)
		}

		carry.Write(chunk)
		for {
			raw := carry.Bytes()
			idx := bytes.IndexByte(raw, '\n')
			if idx < 0 {
				break
			}
			line := string(raw[:idx])
			carry.Next(idx + 1)
			if err := appendLine(line); err != nil {
				return nil, err
			}
		}
		if progress != nil {
			progress(len(samples))
		}
	}
}

func parseRecord(line string) (model.Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return model.Sample{}, fmt.Errorf("%w: want 4 fields, got %d in %q", faults.ErrProtocolError, len(fields), line)
	}

	var (
		t   time.Time
		err error
	)
	for _, layout := range timeLayouts {
		if t, err = time.Parse(layout, fields[0]); err == nil {
			break
		}
	}
	if err != nil {
		return model.Sample{}, fmt.Errorf("%w: bad timestamp %q", faults.ErrProtocolError, fields[0])
	}

	var axes [3]float64
	for i, f := range fields[1:] {
		axes[i], err = strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return model.Sample{}, fmt.Errorf("%w: bad acceleration %q", faults.ErrProtocolError, f)
		}
	}
	return model.Sample{Time: t, X: axes[0], Y: axes[1], Z: axes[2]}, nil
}

// inferRate estimates samples per second from the recording span, the same
// way the analysis service infers it when none is supplied.
func inferRate(samples []model.Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	span := samples[len(samples)-1].Time.Sub(samples[0].Time).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(len(samples)-1) / span
}
