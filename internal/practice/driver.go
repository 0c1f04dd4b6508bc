package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aldaxho/couchoratorariaweb/internal/fsm"
	"github.com/aldaxho/couchoratorariaweb/internal/ipc"
)

type action int

const (
	actionStop action = iota + 1
	actionRetry
	actionReset
)

// Result is the outcome of one owner-process run.
type Result struct {
	Snapshot   Snapshot
	ResultID   string
	Cancelled  bool
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Driver runs the orchestrator for a CLI owner process and serves the
// control socket commands sent by sibling invocations.
type Driver struct {
	orch          *Orchestrator
	logger        *slog.Logger
	holdOnFailure bool

	actions chan action
}

// NewDriver wraps orch. With holdOnFailure a failed finalize waits for a
// retry or reset command instead of returning.
func NewDriver(orch *Orchestrator, logger *slog.Logger, holdOnFailure bool) *Driver {
	return &Driver{
		orch:          orch,
		logger:        logger,
		holdOnFailure: holdOnFailure,
		actions:       make(chan action, 2),
	}
}

// RunRecording records until a stop command, then finalizes.
// Context cancellation resets the practice.
func (d *Driver) RunRecording(ctx context.Context) Result {
	result := Result{StartedAt: time.Now()}

	if err := d.orch.BeginRecordedCapture(ctx); err != nil {
		return d.finish(result, err)
	}

	select {
	case <-ctx.Done():
		d.orch.Reset()
		return d.finish(result, ctx.Err())
	case a := <-d.actions:
		switch a {
		case actionReset:
			return d.finish(result, ErrReset)
		case actionStop:
			if err := d.orch.StopCapture(ctx); err != nil {
				if errors.Is(err, ErrNotRecording) && d.orch.Snapshot().State == fsm.StateNotStarted {
					err = ErrReset
				}
				return d.finish(result, err)
			}
			return d.finalize(ctx, result)
		default:
			d.orch.Reset()
			return d.finish(result, fmt.Errorf("unknown action %d", a))
		}
	}
}

// RunUpload selects path and finalizes it.
func (d *Driver) RunUpload(ctx context.Context, path string) Result {
	result := Result{StartedAt: time.Now()}
	if err := d.orch.SelectFile(ctx, path); err != nil {
		return d.finish(result, err)
	}
	return d.finalize(ctx, result)
}

func (d *Driver) finalize(ctx context.Context, result Result) Result {
	for {
		id, err := d.orch.Finalize(ctx)
		if err == nil {
			result.ResultID = id
			return d.finish(result, nil)
		}
		if ctx.Err() != nil {
			d.orch.Reset()
			return d.finish(result, ctx.Err())
		}
		if errors.Is(err, ErrReset) || !d.holdOnFailure {
			return d.finish(result, err)
		}

		if d.logger != nil {
			d.logger.Warn("finalize failed; waiting for retry or reset", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			d.orch.Reset()
			return d.finish(result, ctx.Err())
		case a := <-d.actions:
			if a == actionReset {
				return d.finish(result, ErrReset)
			}
		}
	}
}

func (d *Driver) finish(result Result, err error) Result {
	if errors.Is(err, ErrReset) {
		result.Cancelled = true
		err = nil
	}
	result.Err = err
	result.Snapshot = d.orch.Snapshot()
	result.FinishedAt = time.Now()
	return result
}

// Handle serves control socket commands for the running practice.
func (d *Driver) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case "status":
		return d.status("status")
	case "stop":
		snap := d.orch.Snapshot()
		if !snap.Capturing {
			return d.reject(snap, fmt.Sprintf("cannot stop from state %s", snap.State))
		}
		return d.enqueue(actionStop, "stop")
	case "retry":
		snap := d.orch.Snapshot()
		if snap.State != fsm.StateFailed || !d.holdOnFailure {
			return d.reject(snap, fmt.Sprintf("cannot retry from state %s", snap.State))
		}
		return d.enqueue(actionRetry, "retry")
	case "reset":
		d.orch.Reset()
		return d.enqueue(actionReset, "reset")
	default:
		return d.reject(d.orch.Snapshot(), fmt.Sprintf("unknown command: %s", req.Command))
	}
}

func (d *Driver) enqueue(a action, name string) ipc.Response {
	select {
	case d.actions <- a:
		return d.status(name + " requested")
	default:
		return d.status(name + " already requested")
	}
}

func (d *Driver) status(message string) ipc.Response {
	resp := responseFor(d.orch.Snapshot())
	resp.OK = true
	resp.Message = message
	return resp
}

func (d *Driver) reject(snap Snapshot, msg string) ipc.Response {
	resp := responseFor(snap)
	resp.OK = false
	resp.Error = msg
	return resp
}

func responseFor(snap Snapshot) ipc.Response {
	return ipc.Response{
		State:     string(snap.State),
		Progress:  snap.Progress,
		SessionID: snap.SessionID,
		ResultID:  snap.ResultID,
		Capturing: snap.Capturing,
		LastError: snap.LastError,
	}
}
