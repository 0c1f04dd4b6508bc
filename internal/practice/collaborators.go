package practice

import (
	"context"

	"github.com/aldaxho/couchoratorariaweb/internal/artifact"
	"github.com/aldaxho/couchoratorariaweb/internal/capture"
	"github.com/aldaxho/couchoratorariaweb/internal/storage"
)

// SessionClient opens and closes practice sessions on the backend.
type SessionClient interface {
	OpenSession(ctx context.Context) (string, error)
	FinalizeSession(ctx context.Context, sessionID string, artifactURL string) (string, error)
}

// Uploader stores validated artifacts.
type Uploader interface {
	Upload(ctx context.Context, c *artifact.Candidate, ownerID string) (storage.Ref, error)
	Remove(ctx context.Context, storagePath string)
}

// Capturer is the recording surface the orchestrator drives.
type Capturer interface {
	StartCapture(ctx context.Context, c capture.Constraints) error
	StopCapture(ctx context.Context) (*artifact.Candidate, error)
	Abort() error
}

// Loader turns a user-selected path into a candidate.
type Loader func(path string) (*artifact.Candidate, error)

// Observer receives a snapshot after every committed change.
type Observer interface {
	Observe(ctx context.Context, snap Snapshot)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(context.Context, Snapshot)

func (f ObserverFunc) Observe(ctx context.Context, snap Snapshot) {
	f(ctx, snap)
}
