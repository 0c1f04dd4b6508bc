// Package practice coordinates one practice session from capture or file
// selection through storage upload to backend finalization.
package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aldaxho/couchoratorariaweb/internal/artifact"
	"github.com/aldaxho/couchoratorariaweb/internal/capture"
	"github.com/aldaxho/couchoratorariaweb/internal/fsm"
	"github.com/aldaxho/couchoratorariaweb/internal/storage"
)

// Progress checkpoints reported during one finalize attempt.
const (
	ProgressStaged    = 10
	ProgressUploading = 20
	ProgressUploaded  = 60
	ProgressDone      = 100
)

// Snapshot is a consistent copy of the orchestrator's observable state.
type Snapshot struct {
	SessionID    string
	OwnerID      string
	State        fsm.State
	Progress     int
	LastError    string
	ErrorStage   Stage
	ResultID     string
	AttemptID    string
	StoragePath  string
	PublicURL    string
	Source       artifact.Source
	ArtifactName string
	ArtifactSize int64
	Capturing    bool
	At           time.Time
}

// Options configures an Orchestrator.
type Options struct {
	OwnerID     string
	Policy      artifact.Policy
	Constraints capture.Constraints
	Loader      Loader
	Logger      *slog.Logger
}

// Orchestrator owns the practice session, its candidate artifact and the
// finalize pipeline. User commands are serialized; Reset and Snapshot are
// always available. The state lock is never held across collaborator calls.
type Orchestrator struct {
	sessions    SessionClient
	uploader    Uploader
	capturer    Capturer
	ownerID     string
	policy      artifact.Policy
	constraints capture.Constraints
	loader      Loader
	logger      *slog.Logger
	now         func() time.Time

	op        sync.Mutex
	notifyMu  sync.Mutex
	delivered uint64

	mu        sync.Mutex
	observers []Observer
	state     fsm.State
	sessionID string
	candidate *artifact.Candidate
	progress  int
	lastErr   error
	resultID  string
	attemptID string
	ref       storage.Ref
	capturing bool
	inflight  bool
	epoch     uint64
	seq       uint64
	cancel    context.CancelFunc
}

func New(sessions SessionClient, uploader Uploader, capturer Capturer, opts Options) *Orchestrator {
	if opts.Policy.MaxSizeBytes <= 0 || len(opts.Policy.AllowedMimePrefixes) == 0 {
		opts.Policy = artifact.DefaultPolicy()
	}
	if !opts.Constraints.Video && !opts.Constraints.Audio {
		opts.Constraints = capture.DefaultConstraints()
	}
	if opts.Loader == nil {
		opts.Loader = artifact.OpenFile
	}
	return &Orchestrator{
		sessions:    sessions,
		uploader:    uploader,
		capturer:    capturer,
		ownerID:     opts.OwnerID,
		policy:      opts.Policy,
		constraints: opts.Constraints,
		loader:      opts.Loader,
		logger:      opts.Logger,
		now:         time.Now,
		state:       fsm.StateNotStarted,
	}
}

// Subscribe registers observers in call order.
func (o *Orchestrator) Subscribe(observers ...Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, obs := range observers {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// BeginRecordedCapture opens a session when needed and starts recording.
// A previously produced artifact is discarded.
func (o *Orchestrator) BeginRecordedCapture(ctx context.Context) error {
	if !o.op.TryLock() {
		return o.busyErr()
	}
	defer o.op.Unlock()

	if o.capturer == nil {
		return o.precondition(ctx, fmt.Errorf("%w: no capture device configured", capture.ErrDeviceUnavailable))
	}
	o.mu.Lock()
	capturing := o.capturing
	o.mu.Unlock()
	if capturing {
		return o.precondition(ctx, ErrCaptureInProgress)
	}

	if _, err := o.ensureSession(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	o.discardLocked()
	o.capturing = true
	epoch := o.epoch
	o.mu.Unlock()

	err := o.capturer.StartCapture(ctx, o.constraints)

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		if err == nil {
			_ = o.capturer.Abort()
		}
		return ErrReset
	}
	if err != nil {
		o.capturing = false
		failure := o.failLocked(StageCapture, err)
		o.commitLocked(ctx)
		return failure
	}
	o.commitLocked(ctx)
	return nil
}

// StopCapture ends the recording and validates the result.
func (o *Orchestrator) StopCapture(ctx context.Context) error {
	if !o.op.TryLock() {
		return o.busyErr()
	}
	defer o.op.Unlock()

	o.mu.Lock()
	if !o.capturing || o.capturer == nil {
		o.mu.Unlock()
		return o.precondition(ctx, ErrNotRecording)
	}
	epoch := o.epoch
	o.mu.Unlock()

	candidate, err := o.capturer.StopCapture(ctx)

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		_ = candidate.Release()
		return ErrReset
	}
	o.capturing = false
	if err != nil {
		failure := o.failLocked(StageCapture, err)
		o.commitLocked(ctx)
		return failure
	}
	err = o.acceptLocked(candidate)
	o.commitLocked(ctx)
	return err
}

// SelectFile loads path and validates it, opening a session when needed.
// Without a session the file is checked first, so a rejected pick never
// opens one. A recording in progress is aborted and any earlier artifact
// discarded.
func (o *Orchestrator) SelectFile(ctx context.Context, path string) error {
	if !o.op.TryLock() {
		return o.busyErr()
	}
	defer o.op.Unlock()

	o.mu.Lock()
	open := o.sessionID != "" && o.state != fsm.StateCompleted
	epoch := o.epoch
	o.mu.Unlock()

	var preloaded *artifact.Candidate
	if !open {
		candidate, err := o.loadValidated(path)
		if err != nil {
			return o.rejectUnopened(ctx, epoch, err)
		}
		preloaded = candidate
	}

	if _, err := o.ensureSession(ctx); err != nil {
		_ = preloaded.Release()
		return err
	}

	o.mu.Lock()
	wasCapturing := o.capturing
	o.capturing = false
	o.discardLocked()
	epoch = o.epoch
	o.mu.Unlock()

	if wasCapturing && o.capturer != nil {
		_ = o.capturer.Abort()
	}

	candidate, err := preloaded, error(nil)
	if candidate == nil {
		candidate, err = o.loader(path)
	}

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		_ = candidate.Release()
		return ErrReset
	}
	if err != nil {
		failure := &StageError{Stage: StageValidate, Err: err}
		o.lastErr = failure
		_ = o.transitionLocked(fsm.EventReject)
		o.commitLocked(ctx)
		return failure
	}
	err = o.acceptLocked(candidate)
	o.commitLocked(ctx)
	return err
}

// loadValidated loads path and checks it against the policy, releasing it
// on rejection.
func (o *Orchestrator) loadValidated(path string) (*artifact.Candidate, error) {
	candidate, err := o.loader(path)
	if err != nil {
		return nil, err
	}
	if _, err := o.policy.Validate(candidate); err != nil {
		_ = candidate.Release()
		return nil, err
	}
	return candidate, nil
}

// rejectUnopened records a file refused before any session was opened.
// The state is left where it was.
func (o *Orchestrator) rejectUnopened(ctx context.Context, epoch uint64, err error) error {
	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		return ErrReset
	}
	failure := &StageError{Stage: StageValidate, Err: err}
	o.lastErr = failure
	o.logWarn("practice video rejected",
		slog.String("owner_id", o.ownerID),
		slog.Any("error", err),
	)
	o.commitLocked(ctx)
	return failure
}

// Finalize uploads the validated artifact and closes the session on the
// backend, returning the practice result id.
func (o *Orchestrator) Finalize(ctx context.Context) (string, error) {
	o.mu.Lock()
	inflight := o.inflight || o.state.Busy()
	o.mu.Unlock()
	if inflight {
		return "", ErrFinalizeInFlight
	}
	if !o.op.TryLock() {
		return "", o.busyErr()
	}
	defer o.op.Unlock()

	o.mu.Lock()
	if err := o.finalizePreconditionLocked(); err != nil {
		o.lastErr = err
		o.commitLocked(ctx)
		return "", err
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.cancel = cancel
	o.inflight = true
	o.attemptID = uuid.NewString()
	o.progress = 0
	o.lastErr = nil
	o.ref = storage.Ref{}
	_ = o.transitionLocked(fsm.EventUpload)
	o.advanceLocked(ProgressStaged)
	epoch := o.epoch
	candidate, sessionID, ownerID := o.candidate, o.sessionID, o.ownerID
	o.commitLocked(ctx)

	if !o.advance(ctx, epoch, ProgressUploading) {
		return "", o.abandon(candidate)
	}

	ref, err := o.uploader.Upload(attemptCtx, candidate, ownerID)

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		if err == nil {
			o.uploader.Remove(context.WithoutCancel(ctx), ref.StoragePath)
		}
		return "", o.abandon(candidate)
	}
	if err != nil {
		failure := o.failLocked(StageUpload, err)
		o.endAttemptLocked()
		o.commitLocked(ctx)
		return "", failure
	}
	o.ref = ref
	_ = o.transitionLocked(fsm.EventUploaded)
	o.advanceLocked(ProgressUploaded)
	o.commitLocked(ctx)

	resultID, err := o.sessions.FinalizeSession(attemptCtx, sessionID, ref.PublicURL)

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		if err != nil {
			o.uploader.Remove(context.WithoutCancel(ctx), ref.StoragePath)
		}
		return "", o.abandon(candidate)
	}
	if err != nil {
		failure := o.failLocked(StageFinalize, err)
		o.ref = storage.Ref{}
		o.endAttemptLocked()
		o.commitLocked(ctx)
		// The backend never recorded the object; a retry uploads a fresh copy.
		o.uploader.Remove(context.WithoutCancel(ctx), ref.StoragePath)
		return "", failure
	}
	o.resultID = resultID
	_ = o.transitionLocked(fsm.EventFinalized)
	o.advanceLocked(ProgressDone)
	o.candidate = nil
	o.endAttemptLocked()
	o.commitLocked(ctx)

	_ = candidate.Release()
	return resultID, nil
}

// Reset returns to NotStarted from any state. Hardware is released before
// Reset returns; an in-flight finalize is cancelled and its outcome discarded.
// The backend session, if any, is left open.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.epoch++
	cancel := o.cancel
	o.cancel = nil
	var release *artifact.Candidate
	if !o.inflight {
		release = o.candidate
	}
	abandoned := ""
	if o.state != fsm.StateCompleted {
		abandoned = o.sessionID
	}
	o.candidate = nil
	o.capturing = false
	o.sessionID = ""
	o.resultID = ""
	o.attemptID = ""
	o.ref = storage.Ref{}
	o.progress = 0
	o.lastErr = nil
	_ = o.transitionLocked(fsm.EventReset)
	n := o.noticeLocked()
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if o.capturer != nil {
		if err := o.capturer.Abort(); err != nil {
			o.logWarn("capture release on reset failed", slog.Any("error", err))
		}
	}
	_ = release.Release()

	if abandoned != "" {
		o.logWarn("practice session abandoned without finalize", slog.String("session_id", abandoned))
	}
	o.emit(context.Background(), n)
}

func (o *Orchestrator) ensureSession(ctx context.Context) (string, error) {
	o.mu.Lock()
	if o.state == fsm.StateCompleted {
		o.clearLocked()
	}
	if o.sessionID != "" {
		id := o.sessionID
		o.mu.Unlock()
		return id, nil
	}
	epoch := o.epoch
	o.mu.Unlock()

	if o.sessions == nil {
		return "", o.precondition(ctx, fmt.Errorf("%w: no backend configured", ErrNoActiveSession))
	}
	id, err := o.sessions.OpenSession(ctx)

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		if err == nil {
			o.logWarn("practice session abandoned without finalize", slog.String("session_id", id))
		}
		return "", ErrReset
	}
	if err != nil {
		failure := o.failLocked(StageSession, err)
		o.commitLocked(ctx)
		return "", failure
	}
	o.sessionID = id
	o.lastErr = nil
	_ = o.transitionLocked(fsm.EventOpen)
	o.commitLocked(ctx)
	return id, nil
}

func (o *Orchestrator) finalizePreconditionLocked() error {
	switch {
	case o.sessionID == "" || o.state == fsm.StateCompleted:
		return ErrNoActiveSession
	case o.capturing:
		return ErrCaptureInProgress
	case o.candidate == nil:
		return ErrNoArtifact
	case o.state != fsm.StateValidated && o.state != fsm.StateFailed:
		return fmt.Errorf("cannot finalize from state %s", o.state)
	}
	return nil
}

func (o *Orchestrator) acceptLocked(candidate *artifact.Candidate) error {
	if _, err := o.policy.Validate(candidate); err != nil {
		_ = candidate.Release()
		failure := &StageError{Stage: StageValidate, Err: err}
		o.lastErr = failure
		_ = o.transitionLocked(fsm.EventReject)
		o.logWarn("practice video rejected", slog.String("session_id", o.sessionID), slog.Any("error", err))
		return failure
	}
	o.candidate = candidate
	o.lastErr = nil
	return o.transitionLocked(fsm.EventAccept)
}

// discardLocked drops the current artifact ahead of producing a new one.
func (o *Orchestrator) discardLocked() {
	_ = o.candidate.Release()
	o.candidate = nil
	o.ref = storage.Ref{}
	o.progress = 0
	o.lastErr = nil
	o.attemptID = ""
	_ = o.transitionLocked(fsm.EventDiscard)
}

// clearLocked forgets a completed session so a new one can open.
func (o *Orchestrator) clearLocked() {
	o.sessionID = ""
	o.resultID = ""
	o.attemptID = ""
	o.ref = storage.Ref{}
	o.progress = 0
	o.lastErr = nil
	_ = o.transitionLocked(fsm.EventReset)
}

func (o *Orchestrator) failLocked(stage Stage, err error) error {
	failure := &StageError{Stage: stage, Err: err}
	o.lastErr = failure
	_ = o.transitionLocked(fsm.EventFail)
	o.logWarn("practice stage failed",
		slog.String("session_id", o.sessionID),
		slog.String("stage", string(stage)),
		slog.String("attempt_id", o.attemptID),
		slog.Any("error", err),
	)
	return failure
}

func (o *Orchestrator) endAttemptLocked() {
	o.inflight = false
	o.cancel = nil
}

// abandon finishes an attempt superseded by Reset, which left the candidate to us.
func (o *Orchestrator) abandon(candidate *artifact.Candidate) error {
	o.mu.Lock()
	o.inflight = false
	o.mu.Unlock()
	_ = candidate.Release()
	return ErrReset
}

// advance moves progress forward unless a reset superseded the attempt.
func (o *Orchestrator) advance(ctx context.Context, epoch uint64, progress int) bool {
	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		return false
	}
	o.advanceLocked(progress)
	o.commitLocked(ctx)
	return true
}

func (o *Orchestrator) advanceLocked(progress int) {
	if progress > o.progress {
		o.progress = progress
	}
}

// precondition records a rejected command without changing state.
func (o *Orchestrator) precondition(ctx context.Context, err error) error {
	o.mu.Lock()
	o.lastErr = err
	o.commitLocked(ctx)
	return err
}

func (o *Orchestrator) busyErr() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight || o.state.Busy() {
		return ErrFinalizeInFlight
	}
	return ErrBusy
}

func (o *Orchestrator) transitionLocked(event fsm.Event) error {
	next, err := fsm.Transition(o.state, event)
	if err != nil {
		if o.logger != nil {
			o.logger.Debug("practice transition rejected", slog.String("state", string(o.state)), slog.String("event", string(event)))
		}
		return err
	}
	o.state = next
	if o.logger != nil {
		stage := ""
		if s, ok := StageOf(o.lastErr); ok {
			stage = string(s)
		}
		o.logger.Info("practice transition",
			slog.String("session_id", o.sessionID),
			slog.String("event", string(event)),
			slog.String("state", string(next)),
			slog.Int("progress", o.progress),
			slog.String("stage", stage),
			slog.String("attempt_id", o.attemptID),
		)
	}
	return nil
}

// commitLocked snapshots, unlocks and notifies observers.
func (o *Orchestrator) commitLocked(ctx context.Context) {
	n := o.noticeLocked()
	o.mu.Unlock()
	o.emit(ctx, n)
}

// notice is a snapshot stamped in commit order, with the observers to tell.
type notice struct {
	seq       uint64
	snap      Snapshot
	observers []Observer
}

func (o *Orchestrator) noticeLocked() notice {
	o.seq++
	return notice{
		seq:       o.seq,
		snap:      o.snapshotLocked(),
		observers: append([]Observer(nil), o.observers...),
	}
}

// emit delivers n unless a later snapshot already went out.
func (o *Orchestrator) emit(ctx context.Context, n notice) {
	if len(n.observers) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	if n.seq <= o.delivered {
		return
	}
	o.delivered = n.seq
	for _, obs := range n.observers {
		obs.Observe(ctx, n.snap)
	}
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:   o.sessionID,
		OwnerID:     o.ownerID,
		State:       o.state,
		Progress:    o.progress,
		ResultID:    o.resultID,
		AttemptID:   o.attemptID,
		StoragePath: o.ref.StoragePath,
		PublicURL:   o.ref.PublicURL,
		Capturing:   o.capturing,
		At:          o.now(),
	}
	if o.lastErr != nil {
		snap.LastError = o.lastErr.Error()
		if stage, ok := StageOf(o.lastErr); ok {
			snap.ErrorStage = stage
		}
	}
	if o.candidate != nil {
		snap.Source = o.candidate.Source
		snap.ArtifactName = o.candidate.SuggestedName
		snap.ArtifactSize = o.candidate.SizeBytes
	}
	return snap
}

func (o *Orchestrator) logWarn(msg string, attrs ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, attrs...)
	}
}

// IsStage reports whether err failed in stage.
func IsStage(err error, stage Stage) bool {
	got, ok := StageOf(err)
	return ok && got == stage && !errors.Is(err, ErrReset)
}
