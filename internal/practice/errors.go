package practice

import (
	"errors"
	"fmt"
)

var (
	ErrNoActiveSession   = errors.New("no active practice session")
	ErrNoArtifact        = errors.New("no video to process")
	ErrFinalizeInFlight  = errors.New("finalize already in progress")
	ErrCaptureInProgress = errors.New("recording in progress")
	ErrNotRecording      = errors.New("not recording")
	ErrBusy              = errors.New("another practice operation is in progress")
	ErrReset             = errors.New("practice was reset")
)

// Stage names the step of the flow an error came from.
type Stage string

const (
	StageSession  Stage = "session"
	StageCapture  Stage = "capture"
	StageValidate Stage = "validate"
	StageUpload   Stage = "upload"
	StageFinalize Stage = "finalize"
)

// StageError attributes a failure to the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage recorded on err, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
