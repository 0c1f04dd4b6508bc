package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (Invocation, bool, string, error) {
	t.Helper()
	var (
		got    Invocation
		called bool
		out    bytes.Buffer
	)
	root := NewRoot(func(_ context.Context, inv Invocation) error {
		got = inv
		called = true
		return nil
	})
	root.SetOut(&out)
	root.SetErr(&out)
	err := Execute(context.Background(), root, args)
	return got, called, out.String(), err
}

func TestParseCommands(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Invocation
	}{
		{
			name: "record with globals",
			args: []string{"--config", "/tmp/o.jsonc", "-v", "record", "--hold-on-failure"},
			want: Invocation{Command: CommandRecord, ConfigPath: "/tmp/o.jsonc", Verbose: true, HoldOnFailure: true},
		},
		{
			name: "upload file",
			args: []string{"upload", "/videos/talk.mp4"},
			want: Invocation{Command: CommandUpload, Path: "/videos/talk.mp4"},
		},
		{name: "stop", args: []string{"stop"}, want: Invocation{Command: CommandStop}},
		{name: "retry", args: []string{"retry"}, want: Invocation{Command: CommandRetry}},
		{name: "reset", args: []string{"reset"}, want: Invocation{Command: CommandReset}},
		{name: "status", args: []string{"status"}, want: Invocation{Command: CommandStatus}},
		{name: "devices check", args: []string{"devices", "--check"}, want: Invocation{Command: CommandDevices, Check: true}},
		{name: "doctor probe", args: []string{"doctor", "--probe-mic"}, want: Invocation{Command: CommandDoctor, Check: true}},
		{
			name: "history defaults",
			args: []string{"history"},
			want: Invocation{Command: CommandHistory, Format: "table", Limit: 20},
		},
		{
			name: "history remote yaml",
			args: []string{"history", "--remote", "--format", "yaml", "--limit", "5"},
			want: Invocation{Command: CommandHistory, Format: "yaml", Remote: true, Limit: 5},
		},
		{
			name: "analysis",
			args: []string{"analysis", " 42 ", "--format", "json"},
			want: Invocation{Command: CommandAnalysis, ID: "42", Format: "json"},
		},
		{name: "videos", args: []string{"videos"}, want: Invocation{Command: CommandVideos, Limit: 100}},
		{name: "bucket", args: []string{"bucket"}, want: Invocation{Command: CommandBucket}},
		{name: "version", args: []string{"version"}, want: Invocation{Command: CommandVersion}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, called, _, err := parse(t, tc.args...)
			require.NoError(t, err)
			require.True(t, called)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown command", args: []string{"dance"}},
		{name: "unknown flag", args: []string{"record", "--loud"}},
		{name: "upload without file", args: []string{"upload"}},
		{name: "stop with extra arg", args: []string{"stop", "now"}},
		{name: "bad history format", args: []string{"history", "--format", "csv"}},
		{name: "table is not an analysis format", args: []string{"analysis", "1", "--format", "table"}},
		{name: "config without value", args: []string{"status", "--config"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, called, _, err := parse(t, tc.args...)
			require.False(t, called)
			var usage *UsageError
			require.ErrorAs(t, err, &usage)
		})
	}
}

func TestRunErrorIsNotUsage(t *testing.T) {
	boom := errors.New("backend unavailable")
	root := NewRoot(func(context.Context, Invocation) error { return boom })
	root.SetOut(&bytes.Buffer{})

	err := Execute(context.Background(), root, []string{"status"})
	require.ErrorIs(t, err, boom)
	var usage *UsageError
	require.False(t, errors.As(err, &usage))
}

func TestHelpAndVersionFlags(t *testing.T) {
	_, called, out, err := parse(t)
	require.NoError(t, err)
	require.False(t, called)
	require.Contains(t, out, "oratoria stop")
	require.Contains(t, out, "record")

	_, called, out, err = parse(t, "--version")
	require.NoError(t, err)
	require.False(t, called)
	require.Contains(t, out, "oratoria dev")
}
