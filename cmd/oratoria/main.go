// Package main is the oratoria process entrypoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aldaxho/couchoratorariaweb/internal/app"
)

// main cancels the running practice on SIGINT/SIGTERM; the owner process
// resets it and releases the camera before exiting.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := app.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(exitCode)
}
