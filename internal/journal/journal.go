// Package journal keeps a local record of practice sessions so sessions that
// were opened on the backend but never finalized remain visible.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/aldaxho/couchoratorariaweb/internal/fsm"
	"github.com/aldaxho/couchoratorariaweb/internal/practice"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrNotFound = errors.New("practice session not found in journal")

// Entry is the last known state of one practice session.
type Entry struct {
	SessionID    string    `json:"session_id" yaml:"session_id"`
	OwnerID      string    `json:"owner_id" yaml:"owner_id"`
	State        fsm.State `json:"state" yaml:"state"`
	Progress     int       `json:"progress" yaml:"progress"`
	Source       string    `json:"source,omitempty" yaml:"source,omitempty"`
	ArtifactName string    `json:"artifact_name,omitempty" yaml:"artifact_name,omitempty"`
	ArtifactSize int64     `json:"artifact_size,omitempty" yaml:"artifact_size,omitempty"`
	StoragePath  string    `json:"storage_path,omitempty" yaml:"storage_path,omitempty"`
	PublicURL    string    `json:"public_url,omitempty" yaml:"public_url,omitempty"`
	ResultID     string    `json:"result_id,omitempty" yaml:"result_id,omitempty"`
	LastError    string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	ErrorStage   string    `json:"error_stage,omitempty" yaml:"error_stage,omitempty"`
	AttemptID    string    `json:"attempt_id,omitempty" yaml:"attempt_id,omitempty"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
}

// Orphaned reports a session the backend opened but never saw finalized.
// No abort endpoint exists, so these stay open server-side.
func (e Entry) Orphaned() bool {
	return e.State != fsm.StateCompleted
}

// Journal persists Entries in sqlite or postgres.
type Journal struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to the journal database and applies migrations.
// For sqlite, dsn is a file path whose directory is created when missing.
func Open(ctx context.Context, driver string, dsn string, logger *slog.Logger) (*Journal, error) {
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			return nil, errors.New("sqlite journal path is empty")
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported journal driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal ping failed: %w", err)
	}

	j := &Journal{db: db, driver: driver, logger: logger, now: time.Now}
	if driver == DriverSQLite {
		// The owner process and history readers share the file.
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure journal: %w", err)
		}
	}
	if err := j.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Ping checks the database is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

func (j *Journal) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS practice_sessions (
			session_id    TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			state         TEXT NOT NULL,
			progress      INTEGER NOT NULL DEFAULT 0,
			source        TEXT NOT NULL DEFAULT '',
			artifact_name TEXT NOT NULL DEFAULT '',
			artifact_size BIGINT NOT NULL DEFAULT 0,
			storage_path  TEXT NOT NULL DEFAULT '',
			public_url    TEXT NOT NULL DEFAULT '',
			result_id     TEXT NOT NULL DEFAULT '',
			last_error    TEXT NOT NULL DEFAULT '',
			error_stage   TEXT NOT NULL DEFAULT '',
			attempt_id    TEXT NOT NULL DEFAULT '',
			created_at    BIGINT NOT NULL,
			updated_at    BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_practice_sessions_owner ON practice_sessions(owner_id, updated_at DESC)`,
	}
	for _, stmt := range migrations {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

const upsertSQL = `INSERT INTO practice_sessions (
	session_id, owner_id, state, progress, source, artifact_name, artifact_size,
	storage_path, public_url, result_id, last_error, error_stage, attempt_id,
	created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (session_id) DO UPDATE SET
	state = excluded.state,
	progress = excluded.progress,
	source = CASE WHEN excluded.source <> '' THEN excluded.source ELSE practice_sessions.source END,
	artifact_name = CASE WHEN excluded.artifact_name <> '' THEN excluded.artifact_name ELSE practice_sessions.artifact_name END,
	artifact_size = CASE WHEN excluded.artifact_size > 0 THEN excluded.artifact_size ELSE practice_sessions.artifact_size END,
	storage_path = excluded.storage_path,
	public_url = excluded.public_url,
	result_id = excluded.result_id,
	last_error = excluded.last_error,
	error_stage = excluded.error_stage,
	attempt_id = excluded.attempt_id,
	updated_at = excluded.updated_at`

// Record inserts or updates the row for e.SessionID. The artifact columns
// keep their earlier values when e carries none.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.SessionID == "" {
		return errors.New("journal entry has no session id")
	}
	ts := e.UpdatedAt
	if ts.IsZero() {
		ts = j.now()
	}
	millis := ts.UnixMilli()
	_, err := j.db.ExecContext(ctx, j.rebind(upsertSQL),
		e.SessionID, e.OwnerID, string(e.State), e.Progress, e.Source, e.ArtifactName, e.ArtifactSize,
		e.StoragePath, e.PublicURL, e.ResultID, e.LastError, e.ErrorStage, e.AttemptID,
		millis, millis,
	)
	if err != nil {
		return fmt.Errorf("record practice session %s: %w", e.SessionID, err)
	}
	return nil
}

// Observe records each snapshot that belongs to a session.
func (j *Journal) Observe(ctx context.Context, snap practice.Snapshot) {
	if snap.SessionID == "" {
		return
	}
	if err := j.Record(ctx, FromSnapshot(snap)); err != nil && j.logger != nil {
		j.logger.Error("journal write failed", slog.String("session_id", snap.SessionID), slog.Any("error", err))
	}
}

// FromSnapshot converts an orchestrator snapshot into a journal row.
func FromSnapshot(snap practice.Snapshot) Entry {
	return Entry{
		SessionID:    snap.SessionID,
		OwnerID:      snap.OwnerID,
		State:        snap.State,
		Progress:     snap.Progress,
		Source:       string(snap.Source),
		ArtifactName: snap.ArtifactName,
		ArtifactSize: snap.ArtifactSize,
		StoragePath:  snap.StoragePath,
		PublicURL:    snap.PublicURL,
		ResultID:     snap.ResultID,
		LastError:    snap.LastError,
		ErrorStage:   string(snap.ErrorStage),
		AttemptID:    snap.AttemptID,
		UpdatedAt:    snap.At,
	}
}

const selectColumns = `session_id, owner_id, state, progress, source, artifact_name, artifact_size,
	storage_path, public_url, result_id, last_error, error_stage, attempt_id, created_at, updated_at`

// List returns the owner's sessions, most recently updated first. An empty
// owner lists every session.
func (j *Journal) List(ctx context.Context, ownerID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + selectColumns + ` FROM practice_sessions`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY updated_at DESC, session_id LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, j.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list practice sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list practice sessions: %w", err)
	}
	return entries, nil
}

// Get returns the row for sessionID.
func (j *Journal) Get(ctx context.Context, sessionID string) (Entry, error) {
	row := j.db.QueryRowContext(ctx, j.rebind(`SELECT `+selectColumns+` FROM practice_sessions WHERE session_id = ?`), sessionID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e                Entry
		state            string
		created, updated int64
	)
	err := s.Scan(
		&e.SessionID, &e.OwnerID, &state, &e.Progress, &e.Source, &e.ArtifactName, &e.ArtifactSize,
		&e.StoragePath, &e.PublicURL, &e.ResultID, &e.LastError, &e.ErrorStage, &e.AttemptID,
		&created, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan practice session: %w", err)
	}
	e.State = fsm.State(state)
	e.CreatedAt = time.UnixMilli(created)
	e.UpdatedAt = time.UnixMilli(updated)
	return e, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (j *Journal) rebind(query string) string {
	if j.driver != DriverPostgres {
		return query
	}
	var out strings.Builder
	out.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(n))
			continue
		}
		out.WriteByte(query[i])
	}
	return out.String()
}
