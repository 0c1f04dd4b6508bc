package progress

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aldaxho/couchoratorariaweb/internal/fsm"
	"github.com/aldaxho/couchoratorariaweb/internal/practice"
)

func TestLabel(t *testing.T) {
	tests := map[int]string{
		0:   "preparing video",
		10:  "preparing video",
		19:  "preparing video",
		20:  "uploading to storage",
		59:  "uploading to storage",
		60:  "sending to server",
		99:  "sending to server",
		100: "completed",
	}
	for progress, want := range tests {
		require.Equal(t, want, Label(progress), progress)
	}
}

func TestViewPrintsOnlyChanges(t *testing.T) {
	var out bytes.Buffer
	v := New(&out)
	ctx := context.Background()

	uploading := practice.Snapshot{SessionID: "s-1", State: fsm.StateUploading, Progress: 20}
	v.Observe(ctx, uploading)
	v.Observe(ctx, uploading)
	v.Observe(ctx, practice.Snapshot{SessionID: "s-1", State: fsm.StateCompleted, Progress: 100, ResultID: "p-3"})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], " 20% uploading to storage")
	require.Contains(t, lines[0], strings.Repeat("█", 4)+strings.Repeat("░", 20))
	require.Contains(t, lines[1], "100% completed practice p-3")
}

func TestRenderStates(t *testing.T) {
	v := New(&bytes.Buffer{})

	require.Contains(t, v.Render(practice.Snapshot{State: fsm.StateNotStarted}), "idle")
	require.Contains(t, v.Render(practice.Snapshot{State: fsm.StateAwaitingArtifact, SessionID: "s-1", Capturing: true}), "recording")
	require.Contains(t, v.Render(practice.Snapshot{State: fsm.StateValidated, ArtifactName: "take.mp4", ArtifactSize: 3 << 20}), "take.mp4 ready (3.0 MiB)")

	failed := v.Render(practice.Snapshot{State: fsm.StateFailed, SessionID: "s-1", LastError: "finalize: HTTP 500: boom"})
	require.Contains(t, failed, "session s-1")
	require.Contains(t, failed, "error: finalize: HTTP 500: boom")
}
