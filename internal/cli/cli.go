// Package cli declares the oratoria command tree. Commands only parse; the
// work is done by the RunFunc the caller supplies.
package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aldaxho/couchoratorariaweb/internal/version"
)

const binaryName = "oratoria"

type Command string

const (
	CommandRecord   Command = "record"
	CommandUpload   Command = "upload"
	CommandStop     Command = "stop"
	CommandRetry    Command = "retry"
	CommandReset    Command = "reset"
	CommandStatus   Command = "status"
	CommandDevices  Command = "devices"
	CommandDoctor   Command = "doctor"
	CommandHistory  Command = "history"
	CommandAnalysis Command = "analysis"
	CommandVideos   Command = "videos"
	CommandBucket   Command = "bucket"
	CommandVersion  Command = "version"
)

// Invocation is one parsed command line.
type Invocation struct {
	Command    Command
	ConfigPath string
	Verbose    bool

	// Path is the FILE argument of upload.
	Path string
	// ID is the practice id argument of analysis.
	ID string

	HoldOnFailure bool
	Check         bool
	Format        string
	Remote        bool
	Limit         int
}

// RunFunc executes a parsed invocation.
type RunFunc func(ctx context.Context, inv Invocation) error

// UsageError marks a command line that could not be parsed.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

type runError struct {
	err error
}

func (e *runError) Error() string { return e.err.Error() }

// NewRoot builds the command tree. Each leaf command calls run exactly once.
func NewRoot(run RunFunc) *cobra.Command {
	inv := &Invocation{}
	var (
		historyFormat  string
		analysisFormat string
		historyLimit   int
		videosLimit    int
	)

	root := &cobra.Command{
		Use:   binaryName,
		Short: "Record or upload a speaking practice and send it for analysis",
		Long: `oratoria records a practice from the camera and microphone, or takes an
existing video file, uploads it to the practice video bucket and hands it
to the analysis backend.

While a record or upload runs, other invocations control it:
  oratoria status   show state and progress
  oratoria stop     stop recording and send the video
  oratoria retry    retry a failed send (with --hold-on-failure)
  oratoria reset    abandon the practice and release the camera`,
		Version:       version.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})
	root.PersistentFlags().StringVar(&inv.ConfigPath, "config", "", "config file path (default $XDG_CONFIG_HOME/oratoria/config.jsonc)")
	root.PersistentFlags().BoolVarP(&inv.Verbose, "verbose", "v", false, "debug-level runtime log")

	leaf := func(cmd Command, c *cobra.Command) *cobra.Command {
		if c.Args == nil {
			c.Args = cobra.NoArgs
		}
		c.RunE = func(cc *cobra.Command, args []string) error {
			inv.Command = cmd
			switch cmd {
			case CommandUpload:
				inv.Path = args[0]
			case CommandAnalysis:
				inv.ID = strings.TrimSpace(args[0])
				inv.Format = analysisFormat
			case CommandHistory:
				inv.Format = historyFormat
				inv.Limit = historyLimit
			case CommandVideos:
				inv.Limit = videosLimit
			}
			if err := run(cc.Context(), *inv); err != nil {
				return &runError{err: err}
			}
			return nil
		}
		root.AddCommand(c)
		return c
	}

	record := leaf(CommandRecord, &cobra.Command{
		Use:   "record",
		Short: "Record a practice until `oratoria stop`, then send it",
	})
	record.Flags().BoolVar(&inv.HoldOnFailure, "hold-on-failure", false, "keep the practice after a failed send and wait for retry or reset")

	upload := leaf(CommandUpload, &cobra.Command{
		Use:   "upload FILE",
		Short: "Send an existing video file as a practice",
		Args:  cobra.ExactArgs(1),
	})
	upload.Flags().BoolVar(&inv.HoldOnFailure, "hold-on-failure", false, "keep the practice after a failed send and wait for retry or reset")

	leaf(CommandStop, &cobra.Command{Use: "stop", Short: "Stop the running recording and send it"})
	leaf(CommandRetry, &cobra.Command{Use: "retry", Short: "Retry a failed send"})
	leaf(CommandReset, &cobra.Command{Use: "reset", Short: "Abandon the running practice"})
	leaf(CommandStatus, &cobra.Command{Use: "status", Short: "Print the running practice state"})

	devices := leaf(CommandDevices, &cobra.Command{Use: "devices", Short: "List microphone sources"})
	devices.Flags().BoolVar(&inv.Check, "check", false, "record briefly from the selected source and report its level")

	doctor := leaf(CommandDoctor, &cobra.Command{Use: "doctor", Short: "Check configuration, devices, backend and storage"})
	doctor.Flags().BoolVar(&inv.Check, "probe-mic", false, "include a short microphone level probe")

	history := leaf(CommandHistory, &cobra.Command{
		Use:   "history",
		Short: "List past practices",
		Args:  cobra.MatchAll(cobra.NoArgs, formatArg(&historyFormat, "table", "yaml", "json")),
	})
	history.Flags().StringVar(&historyFormat, "format", "table", "output format: table, yaml or json")
	history.Flags().BoolVar(&inv.Remote, "remote", false, "ask the backend instead of the local journal")
	history.Flags().IntVar(&historyLimit, "limit", 20, "maximum rows")

	analysis := leaf(CommandAnalysis, &cobra.Command{
		Use:   "analysis ID",
		Short: "Print the backend analysis of a practice",
		Args:  cobra.MatchAll(cobra.ExactArgs(1), formatArg(&analysisFormat, "yaml", "json")),
	})
	analysis.Flags().StringVar(&analysisFormat, "format", "yaml", "output format: yaml or json")

	videos := leaf(CommandVideos, &cobra.Command{Use: "videos", Short: "List stored practice videos"})
	videos.Flags().IntVar(&videosLimit, "limit", 100, "maximum rows")

	leaf(CommandBucket, &cobra.Command{Use: "bucket", Short: "Create the practice video bucket when missing"})
	leaf(CommandVersion, &cobra.Command{Use: "version", Short: "Print version information"})

	return root
}

func formatArg(format *string, allowed ...string) cobra.PositionalArgs {
	return func(_ *cobra.Command, _ []string) error {
		if slices.Contains(allowed, *format) {
			return nil
		}
		return fmt.Errorf("invalid --format %q (want %s)", *format, strings.Join(allowed, ", "))
	}
}

// Execute parses args and runs the matching command. Errors from the command
// body are returned as-is; anything cobra rejects comes back as *UsageError.
func Execute(ctx context.Context, root *cobra.Command, args []string) error {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var re *runError
	if errors.As(err, &re) {
		return re.err
	}
	var ue *UsageError
	if errors.As(err, &ue) {
		return ue
	}
	return &UsageError{Err: err}
}
