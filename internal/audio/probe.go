package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// ProbeResult summarises a short microphone check.
type ProbeResult struct {
	Device Device
	Bytes  int64
	Peak   float64
}

// Silent reports whether the source delivered no audible signal.
func (r ProbeResult) Silent() bool {
	return r.Bytes == 0 || r.Peak < 0.001
}

// Probe records from device for d and reports the peak level seen.
func Probe(ctx context.Context, device Device, d time.Duration) (ProbeResult, error) {
	client, err := newClient()
	if err != nil {
		return ProbeResult{}, err
	}
	defer client.Close()

	source, err := client.SourceByID(device.ID)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("resolve source %q: %w", device.ID, err)
	}

	meter := &levelMeter{}
	stream, err := client.NewRecord(
		pulse.NewWriter(meter, pulseproto.FormatInt16LE),
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(16000),
		pulse.RecordMediaName("oratoria microphone check"),
	)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("create pulse record stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	stream.Stop()

	bytes, peak := meter.snapshot()
	return ProbeResult{Device: device, Bytes: bytes, Peak: peak}, ctx.Err()
}

// levelMeter tracks the peak of little-endian s16 samples written to it.
type levelMeter struct {
	mu    sync.Mutex
	bytes int64
	peak  float64
	odd   []byte
}

func (m *levelMeter) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bytes += int64(len(b))
	buf := append(m.odd, b...)
	for len(buf) >= 2 {
		sample := int16(binary.LittleEndian.Uint16(buf))
		level := math.Abs(float64(sample)) / 32768
		if level > m.peak {
			m.peak = level
		}
		buf = buf[2:]
	}
	m.odd = append(m.odd[:0], buf...)
	return len(b), nil
}

func (m *levelMeter) snapshot() (int64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes, m.peak
}
