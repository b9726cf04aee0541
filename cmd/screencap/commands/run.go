package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/ScreenCap/internal/api"
	"github.com/bryanchriswhite/ScreenCap/internal/config"
	"github.com/bryanchriswhite/ScreenCap/internal/hotkey"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the ScreenCap daemon",
	Long: `Start ScreenCap in the background with global hotkeys, previews and the
control API.

Changes to the config file are picked up while running: hotkeys are
rebound and the next capture uses the new naming settings.`,
	Example: `  # Start with the default hotkeys and API port (7878)
  screencap run

  # Start the API on a custom port
  screencap run --port 9090

  # Start with debug logging
  screencap run --log-level debug`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig(false)
	if err != nil {
		return err
	}
	log := logger.WithComponent("run")

	cfg := configMgr.Get()
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	a := newApp(configMgr, true)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hotkeys, err := hotkey.NewManager()
	if err != nil {
		log.Warn().Err(err).Msg("Global hotkeys unavailable, use the control API or the capture command")
	} else {
		defer hotkeys.Stop()
		if err := hotkeys.Apply(a.bindings(cfg)); err != nil {
			log.Warn().Err(err).Msg("Some hotkeys could not be bound")
		}
		hotkeys.Start()
	}

	unsubscribe := configMgr.Subscribe(func(s config.Settings) {
		logger.Init(s.LogLevel, !viper.GetBool("json_logs"))
		if hotkeys == nil {
			return
		}
		if err := hotkeys.Apply(a.bindings(s)); err != nil {
			log.Warn().Err(err).Msg("Some hotkeys could not be rebound")
		}
	})
	defer unsubscribe()

	if err := configMgr.Watch(ctx); err != nil {
		log.Warn().Err(err).Msg("Config file changes will not be picked up")
	}

	var server *api.Server
	if cfg.ServerPort > 0 {
		server = api.NewServer(api.Options{
			Capturer:   a.orch,
			Settings:   configMgr,
			Previews:   a.previews,
			Permission: a.gate,
			Messages:   a.recorder,
		})
		go func() {
			if err := server.Start(cfg.ServerPort); err != nil {
				log.Error().Err(err).Msg("Control API stopped")
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	fmt.Println("ScreenCap is running")
	fmt.Printf("   - Full screen: %s\n", orNone(cfg.Hotkeys.FullScreen))
	fmt.Printf("   - Selection:   %s\n", orNone(cfg.Hotkeys.Selection))
	fmt.Printf("   - Window:      %s\n", orNone(cfg.Hotkeys.Window))
	if server != nil {
		fmt.Printf("   - API: http://localhost:%d/api\n", cfg.ServerPort)
	}
	fmt.Println("   - Press Ctrl+C to stop")

	<-sigChan

	log.Info().Msg("Shutting down gracefully")
	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Control API shutdown")
		}
	}
	return nil
}

// bindings maps the configured combos to capture triggers.
func (a *app) bindings(s config.Settings) map[string]func() {
	return map[string]func(){
		s.Hotkeys.FullScreen: func() { a.orch.CaptureFullScreen() },
		s.Hotkeys.Selection:  func() { a.orch.CaptureSelection() },
		s.Hotkeys.Window:     func() { a.orch.CaptureWindow() },
	}
}

func orNone(combo string) string {
	if combo == "" {
		return "(none)"
	}
	return combo
}
