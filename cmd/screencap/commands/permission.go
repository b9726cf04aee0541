package commands

import (
	"context"
	"fmt"

	"github.com/bryanchriswhite/ScreenCap/internal/clock"
	"github.com/bryanchriswhite/ScreenCap/internal/permission"
	"github.com/spf13/cobra"
)

var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Check whether the screen can be captured",
	Long: `Run the same permission check a capture runs and print the result.

Exits with an error and prints remediation steps when capture is denied
or the check takes longer than permission_timeout_ms.`,
	RunE: runPermission,
}

func init() {
	rootCmd.AddCommand(permissionCmd)
}

func runPermission(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig(true)
	if err != nil {
		return err
	}

	probe := permission.DefaultProbe()
	gate := permission.NewGate(probe, clock.Real{})
	state := gate.Check(context.Background(), configMgr.Get().PermissionWait())

	fmt.Printf("Probe: %s\n", probe.Name())
	fmt.Printf("State: %s\n", state)
	if state.Granted() {
		return nil
	}

	fmt.Println()
	fmt.Println(permission.Instructions(state))
	return permission.ErrDenied
}
