package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aldaxho/couchoratorariaweb/internal/artifact"
	"github.com/aldaxho/couchoratorariaweb/internal/fsm"
	"github.com/aldaxho/couchoratorariaweb/internal/practice"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "state", "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestObserveTracksSessionLifecycle(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	j.Observe(ctx, practice.Snapshot{State: fsm.StateNotStarted, At: base})
	j.Observe(ctx, practice.Snapshot{
		SessionID: "s-1", OwnerID: "user-1", State: fsm.StateValidated,
		Source: artifact.SourceUploaded, ArtifactName: "take.mp4", ArtifactSize: 2048,
		At: base.Add(time.Second),
	})
	j.Observe(ctx, practice.Snapshot{
		SessionID: "s-1", OwnerID: "user-1", State: fsm.StateCompleted, Progress: 100,
		ResultID: "p-9", StoragePath: "user-1/1.mp4", PublicURL: "https://cdn/user-1/1.mp4",
		At: base.Add(2 * time.Second),
	})

	entries, err := j.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	require.Equal(t, fsm.StateCompleted, e.State)
	require.Equal(t, "p-9", e.ResultID)
	require.Equal(t, "take.mp4", e.ArtifactName)
	require.Equal(t, int64(2048), e.ArtifactSize)
	require.Equal(t, "uploaded", e.Source)
	require.False(t, e.Orphaned())
	require.Equal(t, base.Add(time.Second).UnixMilli(), e.CreatedAt.UnixMilli())
	require.Equal(t, base.Add(2*time.Second).UnixMilli(), e.UpdatedAt.UnixMilli())
}

func TestListFiltersOwnerAndOrdersByUpdate(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, j.Record(ctx, Entry{SessionID: "a", OwnerID: "user-1", State: fsm.StateFailed, LastError: "finalize: HTTP 500", UpdatedAt: base}))
	require.NoError(t, j.Record(ctx, Entry{SessionID: "b", OwnerID: "user-1", State: fsm.StateAwaitingArtifact, UpdatedAt: base.Add(time.Minute)}))
	require.NoError(t, j.Record(ctx, Entry{SessionID: "c", OwnerID: "user-2", State: fsm.StateCompleted, UpdatedAt: base.Add(2 * time.Minute)}))

	entries, err := j.List(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "b", entries[0].SessionID)
	require.Equal(t, "a", entries[1].SessionID)
	require.True(t, entries[0].Orphaned())
	require.Equal(t, "finalize: HTTP 500", entries[1].LastError)

	entries, err = j.List(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "c", entries[0].SessionID)
}

func TestGet(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	_, err := j.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, j.Record(ctx, Entry{SessionID: "s-2", OwnerID: "user-1", State: fsm.StateUploading, Progress: 20}))
	e, err := j.Get(ctx, "s-2")
	require.NoError(t, err)
	require.Equal(t, 20, e.Progress)
	require.False(t, e.CreatedAt.IsZero())
}

func TestRecordRequiresSession(t *testing.T) {
	j := openTemp(t)
	require.Error(t, j.Record(context.Background(), Entry{OwnerID: "user-1"}))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x", nil)
	require.ErrorContains(t, err, "unsupported journal driver")
}

func TestRebindForPostgres(t *testing.T) {
	j := &Journal{driver: DriverPostgres}
	require.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", j.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	j.driver = DriverSQLite
	require.Equal(t, "x = ?", j.rebind("x = ?"))
}
