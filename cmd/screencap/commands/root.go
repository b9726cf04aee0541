package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/ScreenCap/internal/config"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "screencap",
		Short: "ScreenCap - screenshots with a floating preview",
		Long: `ScreenCap captures the full screen, a selected region or a single window,
saves it with a predictable file name and shows a small floating preview
that can be dragged into other applications.

Features:
  • Global hotkeys for the three capture kinds
  • Numbered or timestamped file names, PNG or JPEG
  • Preview that closes itself after a configurable delay
  • Desktop notifications for saved and failed captures
  • REST and websocket control API`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/screencap/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "control API port (default is 7878)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "log JSON instead of console output")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("json_logs", rootCmd.PersistentFlags().Lookup("json-logs"))

	viper.SetEnvPrefix("screencap")
	viper.AutomaticEnv()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the settings file, applies flag overrides for this
// process and initializes logging from the result. Quiet commands log
// warnings and errors only unless --log-level is given.
func loadConfig(quiet bool) (*config.Manager, error) {
	pretty := !viper.GetBool("json_logs")
	flagLevel := viper.GetString("log_level")
	if quiet && flagLevel == "" {
		logger.Init("warn", pretty)
	} else {
		logger.Init(flagLevel, pretty)
	}

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}
	if flagLevel != "" {
		if !logger.ValidLevel(flagLevel) {
			return nil, fmt.Errorf("invalid log level: %s (use: trace, debug, info, warn, error)", flagLevel)
		}
		configMgr.SetLogLevel(flagLevel)
	}

	if !quiet || flagLevel != "" {
		logger.Init(configMgr.Get().LogLevel, pretty)
	}
	return configMgr, nil
}
