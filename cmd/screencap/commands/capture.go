package commands

import (
	"fmt"

	"github.com/bryanchriswhite/ScreenCap/internal/capture"
	"github.com/bryanchriswhite/ScreenCap/internal/orchestrator"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var captureCmd = &cobra.Command{
	Use:   "capture full|selection|window",
	Short: "Take one screenshot",
	Long: `Take one screenshot and exit.

The preview stays open until it closes itself or you close it; pass
--no-preview to exit as soon as the file is written.`,
	Example: `  # Capture the whole main display
  screencap capture full

  # Select a region, skip the preview
  screencap capture selection --no-preview`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"full", "selection", "window"},
	RunE:      runCapture,
}

var noPreview bool

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().BoolVar(&noPreview, "no-preview", false, "do not show the floating preview")
}

func runCapture(cmd *cobra.Command, args []string) error {
	kind, err := capture.ParseKind(args[0])
	if err != nil {
		return err
	}

	configMgr, err := loadConfig(true)
	if err != nil {
		return err
	}

	a := newApp(configMgr, !noPreview)
	defer a.Close()

	results := make(chan orchestrator.Result, 1)
	unsubscribe := a.orch.Subscribe(func(r orchestrator.Result) {
		results <- r
	})
	defer unsubscribe()

	a.orch.Capture(kind)
	a.orch.Wait()
	a.loop.Flush()

	res := <-results
	switch res.Status {
	case orchestrator.StatusSaved:
		fmt.Printf("Saved %s (%s)\n", res.Saved.Path, humanize.Bytes(uint64(res.Saved.Bytes)))
	case orchestrator.StatusCancelled:
		fmt.Println("Capture cancelled")
		return nil
	default:
		return res.Err
	}

	if res.PreviewID == "" || a.previews == nil {
		return nil
	}
	if s, err := a.previews.Get(res.PreviewID); err == nil {
		fmt.Println("Close the preview to exit")
		<-s.Done()
	}
	return nil
}
