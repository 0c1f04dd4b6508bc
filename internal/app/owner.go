package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aldaxho/couchoratorariaweb/internal/cli"
	"github.com/aldaxho/couchoratorariaweb/internal/config"
	"github.com/aldaxho/couchoratorariaweb/internal/ipc"
	"github.com/aldaxho/couchoratorariaweb/internal/practice"
)

// commandPractice makes this process the owner of the control socket and
// runs one record or upload to completion.
func (r Runner) commandPractice(ctx context.Context, inv cli.Invocation, cfg config.Config, logger *slog.Logger) error {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return err
	}
	owner, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{ProbeTimeout: 180 * time.Millisecond, Retries: 8})
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			return fmt.Errorf("%w; see `oratoria status`", err)
		}
		return err
	}
	defer func() { _ = owner.Close() }()

	stack := r.buildPractice(ctx, cfg, logger)
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Warn("practice teardown failed", slog.Any("error", err))
		}
	}()
	driver := practice.NewDriver(stack.orch, logger, inv.HoldOnFailure)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()
	server := &ipc.Server{Handler: driver, Logger: logger, IdleTimeout: 2 * time.Second}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Serve(serverCtx, owner)
	}()

	var result practice.Result
	if inv.Command == cli.CommandRecord {
		fmt.Fprintln(r.Stderr, "recording; run `oratoria stop` to finish or `oratoria reset` to discard")
		result = driver.RunRecording(ctx)
	} else {
		result = driver.RunUpload(ctx, inv.Path)
	}

	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		return fmt.Errorf("control socket failed: %w", serverErr)
	}

	logPracticeResult(logger, result)

	if result.Cancelled {
		fmt.Fprintln(r.Stdout, "reset")
		return nil
	}
	if result.Err != nil {
		return result.Err
	}
	fmt.Fprintln(r.Stdout, result.ResultID)
	return nil
}

func logPracticeResult(logger *slog.Logger, result practice.Result) {
	if logger == nil {
		return
	}
	snap := result.Snapshot
	fields := []any{
		"state", snap.State,
		"cancelled", result.Cancelled,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"session_id", snap.SessionID,
		"attempt_id", snap.AttemptID,
		"source", snap.Source,
		"artifact_bytes", snap.ArtifactSize,
		"storage_path", snap.StoragePath,
		"result_id", result.ResultID,
	}

	if result.Err != nil {
		fields = append(fields, "error", result.Err.Error())
		if stage, ok := practice.StageOf(result.Err); ok {
			fields = append(fields, "stage", stage)
		}
		logger.Error("practice failed", fields...)
		return
	}
	logger.Info("practice complete", fields...)
}
