// Package doctor runs readiness diagnostics for config, capture devices,
// the practice backend and storage.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aldaxho/couchoratorariaweb/internal/audio"
	"github.com/aldaxho/couchoratorariaweb/internal/config"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// BucketChecker reports whether the configured storage bucket exists.
type BucketChecker interface {
	Exists(ctx context.Context) (bool, error)
}

// Pinger reports whether a database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options supplies the live collaborators checks run against. Nil fields
// skip the corresponding check.
type Options struct {
	HTTP    *http.Client
	Bucket  BucketChecker
	Journal Pinger
	// ProbeMicrophone records briefly from the selected source.
	ProbeMicrophone bool
	ProbeDuration   time.Duration

	selectDevice func(context.Context, string, string) (audio.Selection, error)
	probe        func(context.Context, audio.Device, time.Duration) (audio.ProbeResult, error)
}

// Run executes every check for the loaded config.
func Run(ctx context.Context, loaded config.Loaded, opts Options) Report {
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 3 * time.Second}
	}
	if opts.ProbeDuration <= 0 {
		opts.ProbeDuration = 500 * time.Millisecond
	}
	if opts.selectDevice == nil {
		opts.selectDevice = audio.SelectDevice
	}
	if opts.probe == nil {
		opts.probe = audio.Probe
	}
	cfg := loaded.Config

	checks := []Check{checkConfig(loaded)}
	checks = append(checks, checkOwner(cfg))
	checks = append(checks, checkCommand(cfg.Capture.FFmpeg.Argv, "capture.ffmpeg_cmd"))
	checks = append(checks, checkVideoDevice(cfg.Capture))
	checks = append(checks, checkAudio(ctx, cfg.Capture, opts))
	checks = append(checks, checkBackendHealth(ctx, opts.HTTP, cfg.Backend))
	if strings.TrimSpace(cfg.Backend.GRPCHealth) != "" {
		checks = append(checks, checkGRPCHealth(ctx, cfg.Backend.GRPCHealth, 3*time.Second))
	}
	checks = append(checks, checkStorage(ctx, cfg.Storage, opts.Bucket))
	if cfg.Journal.Enable && opts.Journal != nil {
		checks = append(checks, checkJournal(ctx, cfg.Journal, opts.Journal))
	}
	return Report{Checks: checks}
}
