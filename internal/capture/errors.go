package capture

import "errors"

var (
	// ErrNoDisplay means the main display could not be resolved or read.
	ErrNoDisplay = errors.New("no display available")

	// ErrCaptureFailed means a backend returned no usable image.
	ErrCaptureFailed = errors.New("capture failed")

	// ErrProcessLaunch means the interactive capture tool could not be started.
	ErrProcessLaunch = errors.New("failed to launch capture tool")
)
