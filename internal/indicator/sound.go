package indicator

import (
	"fmt"
	"math"
	"time"

	"github.com/jfreymuth/pulse"
)

const cueSampleRate = 16000

type tone struct {
	hz     float64
	length time.Duration
}

// cue is a short sequence of tones separated by a brief gap.
type cue []tone

var (
	cueStart    = cue{{880, 70 * time.Millisecond}, {1175, 70 * time.Millisecond}}
	cueStop     = cue{{620, 120 * time.Millisecond}}
	cueComplete = cue{{740, 65 * time.Millisecond}, {988, 90 * time.Millisecond}, {1319, 110 * time.Millisecond}}
	cueFail     = cue{{480, 75 * time.Millisecond}, {360, 140 * time.Millisecond}}
)

const (
	cueVolume = 0.18
	cueGap    = 22 * time.Millisecond
	cueRamp   = 5 * time.Millisecond
)

// pcm renders c as mono signed 16-bit samples.
func (c cue) pcm() []int16 {
	var out []int16
	for i, t := range c {
		if i > 0 {
			out = append(out, make([]int16, sampleCount(cueGap))...)
		}
		out = append(out, t.pcm()...)
	}
	return out
}

func (t tone) pcm() []int16 {
	n := sampleCount(t.length)
	if n <= 0 || t.hz <= 0 {
		return nil
	}
	ramp := min(max(n/10, 1), sampleCount(cueRamp))

	out := make([]int16, n)
	for i := range out {
		envelope := 1.0
		if i < ramp {
			envelope = float64(i) / float64(ramp)
		}
		if tail := n - i - 1; tail < ramp {
			envelope = min(envelope, float64(tail)/float64(ramp))
		}
		phase := 2 * math.Pi * t.hz * float64(i) / cueSampleRate
		out[i] = int16(math.Round(math.Sin(phase) * cueVolume * envelope * math.MaxInt16))
	}
	return out
}

func sampleCount(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}

// playPulse plays samples on the default Pulse sink and waits for the drain.
func playPulse(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("oratoria"),
		pulse.ClientApplicationIconName("camera-video"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("oratoria cue"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue stream: %w", err)
	}
	return nil
}
