package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/bryanchriswhite/ScreenCap/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage ScreenCap configuration",
	Long:  `View and manage ScreenCap configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current ScreenCap configuration.`,
	Example: `  # Show configuration as YAML (default)
  screencap config show

  # Show configuration as JSON
  screencap config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long: `Set a specific configuration value. A running daemon picks the change
up from the file.`,
	Example: `  # Name files Capture_1.png, Capture_2.png, ...
  screencap config set prefix Capture

  # Add a timestamp and save as JPEG
  screencap config set include_timestamp true
  screencap config set image_format jpg

  # Keep previews open until closed
  screencap config set preview_seconds 0`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Long:  `Get a specific configuration value.`,
	Example: `  # Get the save directory
  screencap config get save_directory`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")

	keys := "Valid keys: " + strings.Join(config.Keys(), ", ")
	configSetCmd.Long += "\n\n" + keys
	configGetCmd.Long += "\n\n" + keys
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig(true)
	if err != nil {
		return err
	}

	cfg := configMgr.Get()

	switch formatFlag {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	configMgr, err := loadConfig(true)
	if err != nil {
		return err
	}

	if err := configMgr.Set(key, value); err != nil {
		return err
	}

	stored, _ := configMgr.Value(key)
	fmt.Printf("✓ Set %s = %s\n", key, stored)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig(true)
	if err != nil {
		return err
	}

	value, err := configMgr.Value(args[0])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig(true)
	if err != nil {
		return err
	}
	fmt.Println(configMgr.GetConfigPath())
	return nil
}
