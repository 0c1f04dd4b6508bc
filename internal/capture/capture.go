// Package capture drives camera+microphone recording and hands back the result
// as a candidate artifact.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aldaxho/couchoratorariaweb/internal/artifact"
)

var (
	ErrPermissionDenied  = errors.New("camera or microphone permission denied")
	ErrDeviceUnavailable = errors.New("camera or microphone unavailable")
	ErrNotRecording      = errors.New("no recording in progress")
	ErrAlreadyActive     = errors.New("capture already active")
	ErrAborted           = errors.New("capture aborted")
)

type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateRecording  State = "recording"
	StateStopped    State = "stopped"
	StateError      State = "error"
)

// Constraints selects which tracks to request.
type Constraints struct {
	Video bool
	Audio bool
}

// DefaultConstraints requests both camera and microphone.
func DefaultConstraints() Constraints {
	return Constraints{Video: true, Audio: true}
}

// Stream is one acquired set of hardware tracks plus the encoder reading them.
// Chunks must be closed once recording ends or the stream is released.
type Stream interface {
	Chunks() <-chan []byte
	StopRecording() error
	Release() error
	ActiveTracks() int
}

// Host grants access to capture hardware.
type Host interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Format describes the container the host produces.
type Format struct {
	MimeType  string
	Extension string
}

var WebM = Format{MimeType: "video/webm", Extension: "webm"}

// Controller owns at most one acquired stream at a time. The stream is held
// only while the controller is Recording; every exit path releases it once.
type Controller struct {
	host   Host
	format Format
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	stream    Stream
	release   func() error
	buf       *bytes.Buffer
	collected chan struct{}
	stopping  bool
	startedAt time.Time
}

func NewController(host Host, format Format, logger *slog.Logger) *Controller {
	if format.MimeType == "" {
		format = WebM
	}
	return &Controller{
		host:   host,
		format: format,
		logger: logger,
		now:    time.Now,
		state:  StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveTracks reports live hardware tracks held by the controller.
func (c *Controller) ActiveTracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return 0
	}
	return c.stream.ActiveTracks()
}

// StartCapture requests hardware and begins recording. Host failures are
// reported as ErrPermissionDenied or ErrDeviceUnavailable.
func (c *Controller) StartCapture(ctx context.Context, constraints Constraints) error {
	c.mu.Lock()
	if c.state == StateRequesting || c.state == StateRecording {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyActive, state)
	}
	if c.host == nil {
		c.state = StateError
		c.mu.Unlock()
		return fmt.Errorf("%w: no capture host configured", ErrDeviceUnavailable)
	}
	c.state = StateRequesting
	c.mu.Unlock()

	stream, err := c.host.Acquire(ctx, constraints)
	if err != nil {
		err = classify(err)
		c.mu.Lock()
		if c.state == StateRequesting {
			c.state = StateError
		}
		c.mu.Unlock()
		c.logWarn("capture start failed", slog.Any("error", err))
		return err
	}

	c.mu.Lock()
	if c.state != StateRequesting {
		// Aborted while the host was still granting access.
		c.mu.Unlock()
		_ = stream.Release()
		return ErrAborted
	}
	c.stream = stream
	c.release = onceRelease(stream)
	c.buf = &bytes.Buffer{}
	c.collected = make(chan struct{})
	c.stopping = false
	c.startedAt = c.now()
	c.state = StateRecording
	go collect(stream.Chunks(), c.buf, c.collected)
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("capture started", slog.Int("tracks", stream.ActiveTracks()))
	}
	return nil
}

// StopCapture ends recording, waits for the final chunk and releases the
// hardware before returning, on success and on error alike.
func (c *Controller) StopCapture(ctx context.Context) (*artifact.Candidate, error) {
	c.mu.Lock()
	if c.state != StateRecording || c.stopping {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w (state %s)", ErrNotRecording, state)
	}
	c.stopping = true
	stream, release, buf, collected, startedAt := c.stream, c.release, c.buf, c.collected, c.startedAt
	c.mu.Unlock()

	stopErr := stream.StopRecording()
	select {
	case <-collected:
	case <-ctx.Done():
		_ = release()
		<-collected
		stopErr = errors.Join(stopErr, ctx.Err())
	}
	releaseErr := release()

	c.mu.Lock()
	if c.stream != stream {
		c.mu.Unlock()
		return nil, ErrAborted
	}
	c.stream, c.release, c.buf, c.collected = nil, nil, nil, nil
	c.stopping = false
	if stopErr != nil || buf.Len() == 0 {
		c.state = StateError
		c.mu.Unlock()
		if stopErr == nil {
			stopErr = errors.New("recorder produced no data")
		}
		err := fmt.Errorf("%w: %v", ErrDeviceUnavailable, stopErr)
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("stop capture: %w", ctxErr)
		}
		c.logWarn("capture stop failed", slog.Any("error", err))
		return nil, err
	}
	c.state = StateStopped
	c.mu.Unlock()

	if releaseErr != nil {
		c.logWarn("capture release reported error", slog.Any("error", releaseErr))
	}

	stoppedAt := c.now()
	name := fmt.Sprintf("practica-%d.%s", stoppedAt.UnixMilli(), c.format.Extension)
	candidate := artifact.NewRecorded(buf.Bytes(), c.format.MimeType, name)
	if c.logger != nil {
		c.logger.Info("capture stopped",
			slog.Int64("size_bytes", candidate.SizeBytes),
			slog.Int64("duration_ms", stoppedAt.Sub(startedAt).Milliseconds()),
		)
	}
	return candidate, nil
}

// Abort releases any held hardware without producing an artifact.
func (c *Controller) Abort() error {
	c.mu.Lock()
	release := c.release
	switch c.state {
	case StateRecording:
		c.stream, c.release, c.buf = nil, nil, nil
		// collected is left for an in-flight StopCapture to drain.
	case StateRequesting:
	default:
		c.mu.Unlock()
		return nil
	}
	c.state = StateIdle
	c.mu.Unlock()

	if release == nil {
		return nil
	}
	err := release()
	if c.logger != nil {
		c.logger.Info("capture aborted")
	}
	return err
}

// Close is the disposal path; it never leaves tracks running.
func (c *Controller) Close() error {
	return c.Abort()
}

func collect(chunks <-chan []byte, buf *bytes.Buffer, done chan<- struct{}) {
	defer close(done)
	for chunk := range chunks {
		if len(chunk) > 0 {
			buf.Write(chunk)
		}
	}
}

func onceRelease(stream Stream) func() error {
	var (
		once sync.Once
		err  error
	)
	return func() error {
		once.Do(func() { err = stream.Release() })
		return err
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrDeviceUnavailable):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}

func (c *Controller) logWarn(msg string, attrs ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, attrs...)
	}
}
