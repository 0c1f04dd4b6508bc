// Package app wires parsed commands to the practice components.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/aldaxho/couchoratorariaweb/internal/cli"
	"github.com/aldaxho/couchoratorariaweb/internal/config"
	"github.com/aldaxho/couchoratorariaweb/internal/logging"
	"github.com/aldaxho/couchoratorariaweb/internal/version"
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// exitCode ends a command with a non-zero status after the command has
// already printed its own output.
type exitCode int

func (e exitCode) Error() string { return "exit status " + strconv.Itoa(int(e)) }

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	root := cli.NewRoot(r.run)
	root.SetOut(r.Stdout)
	root.SetErr(r.Stderr)

	err := cli.Execute(ctx, root, args)
	if err == nil {
		return 0
	}

	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	var usage *cli.UsageError
	if errors.As(err, &usage) {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		fmt.Fprintln(r.Stderr, "Run 'oratoria --help' for usage.")
		return 2
	}
	fmt.Fprintf(r.Stderr, "error: %v\n", err)
	return 1
}

func (r Runner) run(ctx context.Context, inv cli.Invocation) error {
	if inv.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return nil
	}

	logRuntime, err := logging.New(logging.Options{Verbose: inv.Verbose})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	loaded, err := config.Load(inv.ConfigPath)
	if err != nil {
		logger.Error("load config failed", "error", err.Error())
		return err
	}
	for _, w := range loaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", inv.Command,
		"config", loaded.Path,
		"log", logRuntime.Path,
	)

	switch inv.Command {
	case cli.CommandRecord, cli.CommandUpload:
		return r.commandPractice(ctx, inv, loaded.Config, logger)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop, cli.CommandRetry, cli.CommandReset:
		return r.forward(ctx, string(inv.Command))
	case cli.CommandDevices:
		return r.commandDevices(ctx, loaded.Config.Capture, inv.Check)
	case cli.CommandDoctor:
		return r.commandDoctor(ctx, loaded, inv.Check, logger)
	case cli.CommandHistory:
		return r.commandHistory(ctx, inv, loaded.Config, logger)
	case cli.CommandAnalysis:
		return r.commandAnalysis(ctx, inv, loaded.Config, logger)
	case cli.CommandVideos:
		return r.commandVideos(ctx, inv.Limit, loaded.Config, logger)
	case cli.CommandBucket:
		return r.commandBucket(ctx, loaded.Config)
	default:
		return fmt.Errorf("unsupported command %q", inv.Command)
	}
}
