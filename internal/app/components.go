package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/aldaxho/couchoratorariaweb/internal/artifact"
	"github.com/aldaxho/couchoratorariaweb/internal/backend"
	"github.com/aldaxho/couchoratorariaweb/internal/capture"
	"github.com/aldaxho/couchoratorariaweb/internal/config"
	"github.com/aldaxho/couchoratorariaweb/internal/indicator"
	"github.com/aldaxho/couchoratorariaweb/internal/journal"
	"github.com/aldaxho/couchoratorariaweb/internal/notify"
	"github.com/aldaxho/couchoratorariaweb/internal/practice"
	"github.com/aldaxho/couchoratorariaweb/internal/progress"
	"github.com/aldaxho/couchoratorariaweb/internal/storage"
)

func newBackend(cfg config.BackendConfig, logger *slog.Logger) *backend.Client {
	return backend.NewClient(cfg.BaseURL, cfg.Token, nil, logger)
}

// newBucket returns the configured store. The Supabase bucket is also
// returned on its own for provisioning; it is nil for local storage.
func newBucket(cfg config.StorageConfig) (storage.Bucket, *storage.SupabaseBucket) {
	if cfg.Backend == config.StorageLocal {
		return storage.NewLocalBucket(cfg.LocalRoot, cfg.PublicBaseURL), nil
	}
	supabase := storage.NewSupabaseBucket(cfg.URL, cfg.Key, cfg.Bucket, nil)
	return supabase, supabase
}

func newUploader(cfg config.StorageConfig, logger *slog.Logger) *storage.Uploader {
	bucket, _ := newBucket(cfg)
	uploader := storage.NewUploader(bucket, logger)
	uploader.SetCacheControl(cfg.CacheControl)
	return uploader
}

func journalDSN(cfg config.JournalConfig) (string, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn != "" || cfg.Driver != config.JournalSQLite {
		return dsn, nil
	}
	dir, err := config.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "journal.db"), nil
}

func openJournal(ctx context.Context, cfg config.JournalConfig, logger *slog.Logger) (*journal.Journal, error) {
	if !cfg.Enable {
		return nil, errors.New("journal is disabled (journal.enable = false)")
	}
	dsn, err := journalDSN(cfg)
	if err != nil {
		return nil, err
	}
	return journal.Open(ctx, cfg.Driver, dsn, logger)
}

// practiceStack is everything an owner process holds for one run.
type practiceStack struct {
	orch    *practice.Orchestrator
	closers []func() error
}

func (s *practiceStack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func (r Runner) buildPractice(ctx context.Context, cfg config.Config, logger *slog.Logger) *practiceStack {
	stack := &practiceStack{}

	host := capture.NewFFmpegHost(capture.FFmpegConfig{
		Command:     cfg.Capture.FFmpeg.Argv,
		VideoFormat: cfg.Capture.VideoFormat,
		VideoDevice: cfg.Capture.VideoDevice,
		Container:   cfg.Capture.Container,
		StartGrace:  time.Duration(cfg.Capture.StartGraceMS) * time.Millisecond,
	}, capture.PulseSource(cfg.Capture.AudioInput, cfg.Capture.AudioFallback, logger), logger)
	recorder := capture.NewController(host, capture.WebM, logger)
	stack.closers = append(stack.closers, recorder.Close)

	stack.orch = practice.New(newBackend(cfg.Backend, logger), newUploader(cfg.Storage, logger), recorder, practice.Options{
		OwnerID: cfg.OwnerID,
		Policy: artifact.Policy{
			MaxSizeBytes:        cfg.Policy.MaxSizeBytes,
			AllowedMimePrefixes: cfg.Policy.AllowedMimePrefixes,
		},
		Logger: logger,
	})

	if cfg.Journal.Enable {
		j, err := openJournal(ctx, cfg.Journal, logger)
		if err != nil {
			r.warn(logger, "practice journal unavailable", err)
		} else {
			stack.orch.Subscribe(j)
			stack.closers = append(stack.closers, j.Close)
		}
	}
	if cfg.Notify.Enable {
		pub, err := notify.Dial(cfg.Notify.URL, cfg.Notify.Exchange, cfg.Notify.RoutingKey, logger)
		if err != nil {
			r.warn(logger, "completion notifications unavailable", err)
		} else {
			stack.orch.Subscribe(pub)
			stack.closers = append(stack.closers, pub.Close)
		}
	}
	if cfg.Indicator.Enable {
		stack.orch.Subscribe(indicator.NewDesktop(cfg.Indicator, logger))
	}
	stack.orch.Subscribe(progress.New(r.Stderr))

	return stack
}

func (r Runner) warn(logger *slog.Logger, msg string, err error) {
	fmt.Fprintf(r.Stderr, "warning: %s: %v\n", msg, err)
	if logger != nil {
		logger.Warn(msg, slog.Any("error", err))
	}
}
