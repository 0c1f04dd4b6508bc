package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning is returned when a live owner already holds the socket.
var ErrAlreadyRunning = errors.New("a practice session is already running")

const socketName = "oratoria.sock"

// RuntimeSocketPath returns the control socket under XDG_RUNTIME_DIR.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, socketName), nil
}

// AcquireOptions tunes stale-socket recovery.
type AcquireOptions struct {
	ProbeTimeout time.Duration
	Retries      int
}

// Owner is the listening side of the control socket.
type Owner struct {
	net.Listener
	path string
}

// Close stops listening and unlinks the socket file.
func (o *Owner) Close() error {
	err := o.Listener.Close()
	if removeErr := os.Remove(o.path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		err = errors.Join(err, removeErr)
	}
	return err
}

// Path is the filesystem path the owner listens on.
func (o *Owner) Path() string {
	return o.path
}

// Acquire claims path for this process. A socket left behind by a dead owner
// is removed; a responsive one yields ErrAlreadyRunning.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (*Owner, error) {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 200 * time.Millisecond
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure socket dir: %w", err)
	}

	for attempt := 0; ; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return &Owner{Listener: listener, path: path}, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}

		alive, probeErr := Probe(ctx, path, opts.ProbeTimeout)
		switch {
		case alive:
			return nil, ErrAlreadyRunning
		case probeErr != nil:
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
		}

		if attempt >= opts.Retries {
			return nil, fmt.Errorf("acquire socket %s: gave up after %d attempts", path, attempt+1)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
		}
	}
}
