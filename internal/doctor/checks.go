package doctor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/aldaxho/couchoratorariaweb/internal/config"
)

func checkConfig(loaded config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("no file at %q; using defaults", loaded.Path)
	}
	if n := len(loaded.Warnings); n > 0 {
		message += fmt.Sprintf(" (%d warnings)", n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

func checkOwner(cfg config.Config) Check {
	if strings.TrimSpace(cfg.OwnerID) == "" {
		return Check{Name: "owner_id", Pass: false, Message: "owner_id is empty; set it in config or ORATORIA_OWNER_ID"}
	}
	return Check{Name: "owner_id", Pass: true, Message: cfg.OwnerID}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

func checkVideoDevice(cfg config.CaptureConfig) Check {
	const name = "capture.video_device"
	if cfg.VideoFormat != "v4l2" {
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s input %q not checked", cfg.VideoFormat, cfg.VideoDevice)}
	}
	info, err := os.Stat(cfg.VideoDevice)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is not a character device", cfg.VideoDevice)}
	}
	f, err := os.Open(cfg.VideoDevice)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("cannot open %s: %v", cfg.VideoDevice, err)}
	}
	_ = f.Close()
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is accessible", cfg.VideoDevice)}
}

// checkAudio runs live source selection and, optionally, a short level probe.
func checkAudio(ctx context.Context, cfg config.CaptureConfig, opts Options) Check {
	const name = "capture.audio_input"
	selection, err := opts.selectDevice(ctx, cfg.AudioInput, cfg.AudioFallback)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message += " (" + selection.Warning + ")"
	}
	if !opts.ProbeMicrophone {
		return Check{Name: name, Pass: true, Message: message}
	}

	result, err := opts.probe(ctx, selection.Device, opts.ProbeDuration)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s; probe failed: %v", message, err)}
	}
	if result.Silent() {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s; no signal in %s", message, opts.ProbeDuration)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s; peak level %.2f", message, result.Peak)}
}

// checkBackendHealth probes the backend HTTP health endpoint.
func checkBackendHealth(ctx context.Context, client *http.Client, cfg config.BackendConfig) Check {
	const name = "backend.health"
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return Check{Name: name, Pass: false, Message: "backend.base_url is empty"}
	}
	path := cfg.HealthPath
	if path == "" {
		path = "/health"
	}

	url := base + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("ready at %s", url)}
}

func checkStorage(ctx context.Context, cfg config.StorageConfig, bucket BucketChecker) Check {
	name := "storage." + cfg.Backend
	switch cfg.Backend {
	case config.StorageLocal:
		if err := os.MkdirAll(cfg.LocalRoot, 0o755); err != nil {
			return Check{Name: name, Pass: false, Message: err.Error()}
		}
		probe, err := os.CreateTemp(cfg.LocalRoot, ".oratoria-doctor-*")
		if err != nil {
			return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is not writable: %v", cfg.LocalRoot, err)}
		}
		_ = probe.Close()
		_ = os.Remove(probe.Name())
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("writing to %s", filepath.Clean(cfg.LocalRoot))}
	default:
		if bucket == nil {
			return Check{Name: name, Pass: false, Message: "storage.url or key not configured"}
		}
		exists, err := bucket.Exists(ctx)
		if err != nil {
			return Check{Name: name, Pass: false, Message: err.Error()}
		}
		if !exists {
			return Check{Name: name, Pass: false, Message: fmt.Sprintf("bucket %q missing; run `oratoria bucket` to create it", cfg.Bucket)}
		}
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("bucket %q exists", cfg.Bucket)}
	}
}

func checkJournal(ctx context.Context, cfg config.JournalConfig, db Pinger) Check {
	name := "journal." + cfg.Driver
	if err := db.Ping(ctx); err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	return Check{Name: name, Pass: true, Message: "reachable"}
}
