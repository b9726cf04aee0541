package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
	"github.com/bryanchriswhite/ScreenCap/internal/naming"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Manager owns the settings file. Readers get copies; every capture
// takes its own Snapshot so later edits never affect an in-flight save.
type Manager struct {
	configPath string
	settings   Settings
	mu         sync.RWMutex

	subMu     sync.Mutex
	nextSub   int
	listeners map[int]func(Settings)
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/screencap/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "screencap", "config.yaml")
}

// NewManager loads configFile (or the default path), creating it with
// defaults if it does not exist yet.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		path = DefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: path,
		listeners:  make(map[int]func(Settings)),
	}

	settings, err := m.read()
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		settings = Defaults()
		m.settings = settings
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}
	m.settings = settings

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("save_directory", settings.SaveDirectory).
		Str("format", settings.ImageFormat).
		Msg("Config loaded")

	return m, nil
}

// read parses the file on top of the defaults so keys missing from
// older files keep their default values.
func (m *Manager) read() (Settings, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return Settings{}, err
	}

	s := Defaults()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config: %w", err)
	}
	s.SaveDirectory = expandHome(s.SaveDirectory)
	return s, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Snapshot returns a copy of the current settings.
func (m *Manager) Snapshot() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.settings)
}

// Get is an alias of Snapshot kept for call sites that read like the API.
func (m *Manager) Get() Settings {
	return m.Snapshot()
}

func clone(s Settings) Settings {
	s.InteractiveTool.RegionArgs = append([]string(nil), s.InteractiveTool.RegionArgs...)
	s.InteractiveTool.WindowArgs = append([]string(nil), s.InteractiveTool.WindowArgs...)
	return s
}

// Save writes the current settings to disk.
func (m *Manager) Save() error {
	s := m.Snapshot()

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := m.configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, m.configPath); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// Update validates and stores s, persists it and notifies subscribers.
func (m *Manager) Update(s Settings) error {
	s.SaveDirectory = expandHome(s.SaveDirectory)
	if err := s.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	changed := !reflect.DeepEqual(m.settings, s)
	m.settings = clone(s)
	m.mu.Unlock()

	if err := m.Save(); err != nil {
		return err
	}
	if changed {
		m.notify(s)
	}
	return nil
}

// Keys lists the names accepted by Value and Set.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var setters = map[string]func(*Settings, string) error{
	"prefix": func(s *Settings, v string) error {
		s.Prefix = v
		return nil
	},
	"save_directory": func(s *Settings, v string) error {
		s.SaveDirectory = v
		return nil
	},
	"include_timestamp": func(s *Settings, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("include_timestamp must be true or false")
		}
		s.IncludeTimestamp = b
		return nil
	},
	"image_format": func(s *Settings, v string) error {
		if _, ok := naming.ParseFormat(v); !ok {
			return fmt.Errorf("image_format must be one of png, jpg, jpeg")
		}
		s.ImageFormat = strings.ToLower(v)
		return nil
	},
	"preview_seconds": func(s *Settings, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("preview_seconds must be a number")
		}
		s.PreviewSeconds = f
		return nil
	},
	"permission_timeout_ms": func(s *Settings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("permission_timeout_ms must be an integer")
		}
		s.PermissionTimeout = n
		return nil
	},
	"server_port": func(s *Settings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("server_port must be an integer")
		}
		s.ServerPort = n
		return nil
	},
	"log_level": func(s *Settings, v string) error {
		if !logger.ValidLevel(v) {
			return fmt.Errorf("log_level must be one of trace, debug, info, warn, error")
		}
		s.LogLevel = strings.ToLower(v)
		return nil
	},
	"interactive_tool.command": func(s *Settings, v string) error {
		s.InteractiveTool.Command = v
		return nil
	},
	"hotkeys.full_screen": func(s *Settings, v string) error {
		s.Hotkeys.FullScreen = v
		return nil
	},
	"hotkeys.selection": func(s *Settings, v string) error {
		s.Hotkeys.Selection = v
		return nil
	},
	"hotkeys.window": func(s *Settings, v string) error {
		s.Hotkeys.Window = v
		return nil
	},
}

// Set changes a single key from its string form.
func (m *Manager) Set(key, value string) error {
	setter, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown config key: %s (valid keys: %s)", key, strings.Join(Keys(), ", "))
	}
	s := m.Snapshot()
	if err := setter(&s, value); err != nil {
		return err
	}
	return m.Update(s)
}

// Value returns a single key in string form.
func (m *Manager) Value(key string) (string, error) {
	s := m.Snapshot()
	switch key {
	case "prefix":
		return s.Prefix, nil
	case "save_directory":
		return s.SaveDirectory, nil
	case "include_timestamp":
		return strconv.FormatBool(s.IncludeTimestamp), nil
	case "image_format":
		return s.ImageFormat, nil
	case "preview_seconds":
		return strconv.FormatFloat(s.PreviewSeconds, 'f', -1, 64), nil
	case "permission_timeout_ms":
		return strconv.Itoa(s.PermissionTimeout), nil
	case "server_port":
		return strconv.Itoa(s.ServerPort), nil
	case "log_level":
		return s.LogLevel, nil
	case "interactive_tool.command":
		return s.InteractiveTool.Command, nil
	case "hotkeys.full_screen":
		return s.Hotkeys.FullScreen, nil
	case "hotkeys.selection":
		return s.Hotkeys.Selection, nil
	case "hotkeys.window":
		return s.Hotkeys.Window, nil
	}
	return "", fmt.Errorf("unknown config key: %s (valid keys: %s)", key, strings.Join(Keys(), ", "))
}

// SetPort overrides the control API port for this process only.
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	m.settings.ServerPort = port
	m.mu.Unlock()
}

// SetLogLevel overrides the log level for this process only.
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	m.settings.LogLevel = level
	m.mu.Unlock()
}

// GetConfigPath returns the path of the settings file.
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Subscribe registers fn to be called with the new settings after every
// change. The returned function removes the subscription.
func (m *Manager) Subscribe(fn func(Settings)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.listeners[id] = fn
	return func() {
		m.subMu.Lock()
		delete(m.listeners, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) notify(s Settings) {
	m.subMu.Lock()
	fns := make([]func(Settings), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(clone(s))
	}
}

// Reload re-reads the file and notifies subscribers if anything changed.
func (m *Manager) Reload() error {
	s, err := m.read()
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m.mu.Lock()
	changed := !reflect.DeepEqual(m.settings, s)
	m.settings = s
	m.mu.Unlock()

	if changed {
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config reloaded")
		m.notify(s)
	}
	return nil
}

// Watch reloads the settings whenever the file changes on disk, until
// ctx is cancelled. The directory is watched because editors and Save
// replace the file by rename.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.configPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	log := logger.WithComponent("config")
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(m.configPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := m.Reload(); err != nil && !os.IsNotExist(err) {
					log.Warn().Err(err).Msg("Failed to reload config")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Config watcher error")
			}
		}
	}()
	return nil
}
