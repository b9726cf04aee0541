package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bryanchriswhite/ScreenCap/internal/config"
	"github.com/bryanchriswhite/ScreenCap/internal/imageio"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
	"github.com/google/uuid"
)

// ToolFunc returns the interactive tool settings in effect for one capture.
type ToolFunc func() config.InteractiveTool

// Interactive delegates selection and window captures to an external
// program. The program writes the image to a temp path and exits; exiting
// without writing means the user cancelled.
type Interactive struct {
	kind Kind
	tool ToolFunc

	// TempDir holds the per-request output files. Defaults to os.TempDir().
	TempDir string
}

// NewSelection creates the region selection strategy.
func NewSelection(tool ToolFunc) *Interactive {
	return &Interactive{kind: KindSelection, tool: tool}
}

// NewWindow creates the single window strategy.
func NewWindow(tool ToolFunc) *Interactive {
	return &Interactive{kind: KindWindow, tool: tool}
}

// TempPath returns the output path for a request. Every request gets its
// own file so concurrent captures never clean up each other's output.
func (s *Interactive) TempPath(req Request) string {
	dir := s.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	return filepath.Join(dir, "screencap-"+id+".png")
}

// argv builds the command line, substituting the output placeholder. The
// output path is appended when no argument carries the placeholder.
func (s *Interactive) argv(output string) (string, []string, error) {
	tool := s.tool()
	if strings.TrimSpace(tool.Command) == "" {
		return "", nil, fmt.Errorf("%w: no interactive tool configured", ErrProcessLaunch)
	}

	template := tool.RegionArgs
	if s.kind == KindWindow {
		template = tool.WindowArgs
	}

	args := make([]string, 0, len(template)+1)
	substituted := false
	for _, arg := range template {
		if strings.Contains(arg, config.OutputPlaceholder) {
			arg = strings.ReplaceAll(arg, config.OutputPlaceholder, output)
			substituted = true
		}
		args = append(args, arg)
	}
	if !substituted {
		args = append(args, output)
	}
	return tool.Command, args, nil
}

func (s *Interactive) Capture(ctx context.Context, req Request) Outcome {
	log := logger.WithComponent("capture").With().
		Str("request", req.ID).
		Str("kind", s.kind.String()).
		Logger()

	if err := ctx.Err(); err != nil {
		return Failed(err)
	}

	output := s.TempPath(req)
	name, args, err := s.argv(output)
	if err != nil {
		return Failed(err)
	}

	var stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stderr = &stderr

	log.Debug().Str("command", name).Strs("args", args).Msg("Starting interactive capture tool")

	if err := cmd.Start(); err != nil {
		return Failed(fmt.Errorf("%w: %s: %v", ErrProcessLaunch, name, err))
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-exited:
	case <-ctx.Done():
		if err := cmd.Process.Kill(); err != nil {
			log.Warn().Err(err).Msg("Failed to kill interactive capture tool")
		}
		<-exited
		s.cleanup(output)
		return Failed(ctx.Err())
	}

	if _, err := os.Stat(output); err != nil {
		// most tools exit non-zero when the user presses escape
		ev := log.Debug()
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			ev = ev.Int("exit_code", exitErr.ExitCode()).Str("stderr", strings.TrimSpace(stderr.String()))
		}
		ev.Msg("Interactive capture cancelled")
		return Cancelled()
	}

	if waitErr != nil {
		log.Debug().Err(waitErr).Msg("Capture tool exited with an error but produced an image")
	}

	img, err := imageio.Load(output)
	s.cleanup(output)
	if err != nil {
		return Failed(fmt.Errorf("%w: %v", ErrCaptureFailed, err))
	}
	// the tools do not report where the selection was on screen
	return Captured(img, image.Rectangle{})
}

func (s *Interactive) cleanup(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WithComponent("capture").Warn().
			Err(err).
			Str("path", path).
			Msg("Failed to remove temporary capture file")
	}
}
