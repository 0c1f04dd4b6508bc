package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultStartGrace = 250 * time.Millisecond
	stopGrace         = 5 * time.Second
	readChunkBytes    = 32 * 1024
)

// FFmpegConfig selects the devices and encoder ffmpeg records with.
type FFmpegConfig struct {
	Command     []string
	VideoFormat string
	VideoDevice string
	AudioFormat string
	Container   string
	StartGrace  time.Duration
}

// AudioResolver names the Pulse source to record from.
type AudioResolver func(ctx context.Context) (string, error)

// FFmpegHost records camera and microphone through an ffmpeg subprocess
// that writes a WebM stream to stdout.
type FFmpegHost struct {
	cfg          FFmpegConfig
	resolveAudio AudioResolver
	logger       *slog.Logger
}

func NewFFmpegHost(cfg FFmpegConfig, resolveAudio AudioResolver, logger *slog.Logger) *FFmpegHost {
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"ffmpeg"}
	}
	if cfg.VideoFormat == "" {
		cfg.VideoFormat = "v4l2"
	}
	if cfg.VideoDevice == "" {
		cfg.VideoDevice = "/dev/video0"
	}
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "pulse"
	}
	if cfg.Container == "" {
		cfg.Container = "webm"
	}
	if cfg.StartGrace <= 0 {
		cfg.StartGrace = defaultStartGrace
	}
	if resolveAudio == nil {
		resolveAudio = func(context.Context) (string, error) { return "default", nil }
	}
	return &FFmpegHost{cfg: cfg, resolveAudio: resolveAudio, logger: logger}
}

func (h *FFmpegHost) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if !c.Video && !c.Audio {
		return nil, fmt.Errorf("%w: no tracks requested", ErrDeviceUnavailable)
	}
	if c.Video {
		if err := h.checkVideoDevice(); err != nil {
			return nil, err
		}
	}

	audioSource := ""
	if c.Audio {
		source, err := h.resolveAudio(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		audioSource = source
	}

	args := append(append([]string(nil), h.cfg.Command[1:]...), buildArgs(h.cfg, c, audioSource)...)
	cmd := exec.Command(h.cfg.Command[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create ffmpeg pipe: %v", ErrDeviceUnavailable, err)
	}
	cmd.Stdout = writer

	if err := cmd.Start(); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrDeviceUnavailable, err)
	}
	_ = writer.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	grace := time.NewTimer(h.cfg.StartGrace)
	defer grace.Stop()
	select {
	case err := <-waitErr:
		_ = reader.Close()
		return nil, earlyExitError(err, stderr.String())
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		_ = reader.Close()
		return nil, ctx.Err()
	case <-grace.C:
	}

	tracks := 0
	if c.Video {
		tracks++
	}
	if c.Audio {
		tracks++
	}

	s := &ffmpegStream{
		process:  cmd.Process,
		stdout:   reader,
		stderr:   &stderr,
		waitErr:  waitErr,
		chunks:   make(chan []byte, 64),
		released: make(chan struct{}),
		readDone: make(chan struct{}),
		logger:   h.logger,
	}
	s.tracks.Store(int32(tracks))
	go s.readLoop()

	if h.logger != nil {
		h.logger.Debug("ffmpeg capture running",
			slog.String("video_device", h.cfg.VideoDevice),
			slog.String("audio_source", audioSource),
			slog.Int("pid", cmd.Process.Pid),
		)
	}
	return s, nil
}

func (h *FFmpegHost) checkVideoDevice() error {
	if h.cfg.VideoFormat != "v4l2" {
		return nil
	}
	info, err := os.Stat(h.cfg.VideoDevice)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, h.cfg.VideoDevice)
	case err != nil:
		return fmt.Errorf("%w: camera %s: %v", ErrDeviceUnavailable, h.cfg.VideoDevice, err)
	case info.Mode()&fs.ModeDevice == 0:
		return fmt.Errorf("%w: %s is not a device", ErrDeviceUnavailable, h.cfg.VideoDevice)
	}
	file, err := os.OpenFile(h.cfg.VideoDevice, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, h.cfg.VideoDevice)
		}
		return fmt.Errorf("%w: camera %s: %v", ErrDeviceUnavailable, h.cfg.VideoDevice, err)
	}
	return file.Close()
}

func buildArgs(cfg FFmpegConfig, c Constraints, audioSource string) []string {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "warning"}
	if c.Video {
		args = append(args, "-f", cfg.VideoFormat, "-i", cfg.VideoDevice)
	}
	if c.Audio {
		args = append(args, "-f", cfg.AudioFormat, "-i", audioSource)
	}
	if c.Video {
		args = append(args, "-c:v", "libvpx", "-deadline", "realtime", "-b:v", "1M")
	}
	if c.Audio {
		args = append(args, "-c:a", "libopus")
	}
	return append(args, "-f", cfg.Container, "-")
}

func earlyExitError(err error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	if detail == "" && err != nil {
		detail = err.Error()
	}
	if detail == "" {
		detail = "exited without output"
	}
	lower := strings.ToLower(detail)
	if strings.Contains(lower, "permission denied") || strings.Contains(lower, "access denied") {
		return fmt.Errorf("%w: ffmpeg exited before capture started: %s", ErrPermissionDenied, detail)
	}
	return fmt.Errorf("%w: ffmpeg exited before capture started: %s", ErrDeviceUnavailable, detail)
}

type ffmpegStream struct {
	process *os.Process
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	waitErr <-chan error
	logger  *slog.Logger

	chunks   chan []byte
	released chan struct{}
	readDone chan struct{}
	tracks   atomic.Int32

	stopOnce    sync.Once
	stopErr     error
	releaseOnce sync.Once
	releaseErr  error
	exitOnce    sync.Once
	exitErr     error
}

func (s *ffmpegStream) Chunks() <-chan []byte { return s.chunks }

func (s *ffmpegStream) ActiveTracks() int { return int(s.tracks.Load()) }

func (s *ffmpegStream) readLoop() {
	defer close(s.readDone)
	defer close(s.chunks)

	buf := make([]byte, readChunkBytes)
	for {
		n, err := s.stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.released:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// StopRecording asks ffmpeg to finish the container and waits for the tail.
func (s *ffmpegStream) StopRecording() error {
	s.stopOnce.Do(func() {
		_ = s.process.Signal(os.Interrupt)
		timer := time.NewTimer(stopGrace)
		defer timer.Stop()
		select {
		case <-s.readDone:
		case <-timer.C:
			_ = s.process.Kill()
		}
		s.stopErr = s.wait()
	})
	return s.stopErr
}

// Release kills ffmpeg if still running, which frees camera and microphone.
func (s *ffmpegStream) Release() error {
	s.releaseOnce.Do(func() {
		close(s.released)
		_ = s.process.Kill()
		err := s.wait()
		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			err = errors.Join(err, closeErr)
		}
		<-s.readDone
		s.tracks.Store(0)
		if s.logger != nil {
			s.logger.Debug("ffmpeg capture released")
		}
		s.releaseErr = err
	})
	return s.releaseErr
}

// wait collects the process exit once; signal-induced exits are not errors.
func (s *ffmpegStream) wait() error {
	s.exitOnce.Do(func() {
		err, ok := <-s.waitErr
		if !ok || err == nil {
			return
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return
		}
		s.exitErr = fmt.Errorf("%w: %s", err, strings.TrimSpace(s.stderr.String()))
	})
	return s.exitErr
}
