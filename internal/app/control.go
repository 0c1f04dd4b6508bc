package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aldaxho/couchoratorariaweb/internal/ipc"
)

const forwardTimeout = 500 * time.Millisecond

// commandStatus prints the running practice, or idle when none is running.
func (r Runner) commandStatus(ctx context.Context) error {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return nil
	}

	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: "status"}, forwardTimeout)
	if err != nil {
		if ipc.NotRunning(err) {
			fmt.Fprintln(r.Stdout, "idle")
			return nil
		}
		return fmt.Errorf("forward command %q: %w", "status", err)
	}
	if !resp.OK {
		return errors.New(resp.Error)
	}
	fmt.Fprintln(r.Stdout, statusLine(resp))
	return nil
}

func statusLine(resp ipc.Response) string {
	state := resp.State
	if state == "" {
		return "idle"
	}
	line := fmt.Sprintf("%s %d%%", state, resp.Progress)
	if resp.Capturing {
		line += " (recording)"
	}
	if resp.ResultID != "" {
		line += " result=" + resp.ResultID
	}
	if resp.LastError != "" {
		line += " error: " + resp.LastError
	}
	return line
}

// forward sends a control command to the owner process.
func (r Runner) forward(ctx context.Context, command string) error {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return err
	}

	resp, err := ipc.Command(ctx, socketPath, command, forwardTimeout)
	if err != nil {
		return err
	}
	if !resp.OK {
		return errors.New(resp.Error)
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return nil
}
