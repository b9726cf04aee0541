package orchestrator

import (
	"errors"
	"fmt"
)

// ErrWriteFailed means the captured image could not be stored.
var ErrWriteFailed = errors.New("failed to write screenshot")

// Stage names the pipeline step a failure happened in.
type Stage string

const (
	StagePermission Stage = "permission"
	StageCapture    Stage = "capture"
	StageWrite      Stage = "write"
	StagePreview    Stage = "preview"
)

// Error is a failed capture request.
type Error struct {
	Stage   Stage
	Request string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
