package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/bryanchriswhite/ScreenCap/internal/naming"
)

// Placeholder replaced with the temporary output path in tool arguments.
const OutputPlaceholder = "{output}"

// InteractiveTool describes the external program used for selection and
// window captures. It must write the image to the {output} path and exit,
// or exit without writing when the user cancels.
type InteractiveTool struct {
	Command    string   `json:"command" yaml:"command"`
	RegionArgs []string `json:"region_args" yaml:"region_args"`
	WindowArgs []string `json:"window_args" yaml:"window_args"`
}

// Hotkeys maps capture kinds to key combinations such as "ctrl+alt+1".
// An empty combination disables that hotkey.
type Hotkeys struct {
	FullScreen string `json:"full_screen" yaml:"full_screen"`
	Selection  string `json:"selection" yaml:"selection"`
	Window     string `json:"window" yaml:"window"`
}

// Settings is the persisted configuration.
type Settings struct {
	Prefix            string          `json:"prefix" yaml:"prefix"`
	SaveDirectory     string          `json:"save_directory" yaml:"save_directory"`
	IncludeTimestamp  bool            `json:"include_timestamp" yaml:"include_timestamp"`
	ImageFormat       string          `json:"image_format" yaml:"image_format"`
	PreviewSeconds    float64         `json:"preview_seconds" yaml:"preview_seconds"` // 0 keeps the preview open until closed
	PermissionTimeout int             `json:"permission_timeout_ms" yaml:"permission_timeout_ms"`
	InteractiveTool   InteractiveTool `json:"interactive_tool" yaml:"interactive_tool"`
	Hotkeys           Hotkeys         `json:"hotkeys" yaml:"hotkeys"`
	ServerPort        int             `json:"server_port" yaml:"server_port"` // 0 disables the control API
	LogLevel          string          `json:"log_level" yaml:"log_level"`
}

// PreviewDuration converts PreviewSeconds, clamping negatives to zero.
func (s Settings) PreviewDuration() time.Duration {
	if s.PreviewSeconds <= 0 {
		return 0
	}
	return time.Duration(s.PreviewSeconds * float64(time.Second))
}

// PermissionWait is the bounded wait for the permission probe.
func (s Settings) PermissionWait() time.Duration {
	return time.Duration(s.PermissionTimeout) * time.Millisecond
}

// NamingPolicy snapshots the filename-related settings.
func (s Settings) NamingPolicy() naming.Policy {
	format, _ := naming.ParseFormat(s.ImageFormat)
	return naming.Policy{
		Prefix:      s.Prefix,
		Format:      format,
		Timestamped: s.IncludeTimestamp,
	}
}

// Validate reports settings that cannot be used for a capture.
func (s Settings) Validate() error {
	if s.Prefix == "" {
		return fmt.Errorf("prefix must not be empty")
	}
	if filepath.Base(s.Prefix) != s.Prefix {
		return fmt.Errorf("prefix %q must not contain path separators", s.Prefix)
	}
	if s.SaveDirectory == "" {
		return fmt.Errorf("save_directory must not be empty")
	}
	if _, ok := naming.ParseFormat(s.ImageFormat); !ok {
		return fmt.Errorf("image_format %q must be one of png, jpg, jpeg", s.ImageFormat)
	}
	if s.PreviewSeconds < 0 {
		return fmt.Errorf("preview_seconds must be >= 0")
	}
	if s.PermissionTimeout <= 0 {
		return fmt.Errorf("permission_timeout_ms must be positive")
	}
	if s.ServerPort < 0 || s.ServerPort > 65535 {
		return fmt.Errorf("server_port %d out of range", s.ServerPort)
	}
	return nil
}

// DefaultSaveDirectory prefers the XDG pictures directory, then the
// desktop, then the home directory.
func DefaultSaveDirectory() string {
	for _, dir := range []string{xdg.UserDirs.Pictures, xdg.UserDirs.Desktop} {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return os.TempDir()
}

// Defaults returns the settings written on first start.
func Defaults() Settings {
	return Settings{
		Prefix:            "Screenshot",
		SaveDirectory:     DefaultSaveDirectory(),
		IncludeTimestamp:  false,
		ImageFormat:       "png",
		PreviewSeconds:    10,
		PermissionTimeout: 2000,
		InteractiveTool: InteractiveTool{
			Command:    "maim",
			RegionArgs: []string{"--select", "--hidecursor", OutputPlaceholder},
			WindowArgs: []string{"--select", "--tolerance=9999999", "--hidecursor", OutputPlaceholder},
		},
		Hotkeys: Hotkeys{
			FullScreen: "ctrl+alt+1",
			Selection:  "ctrl+alt+2",
			Window:     "ctrl+alt+3",
		},
		ServerPort: 7878,
		LogLevel:   "info",
	}
}
