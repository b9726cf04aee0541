package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/ScreenCap/internal/logger"
	"github.com/bryanchriswhite/ScreenCap/internal/naming"
)

func TestMain(m *testing.M) {
	logger.Discard()
	m.Run()
}

func TestNewManagerWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screencap", "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be created: %v", err)
	}

	s := m.Snapshot()
	if s.Prefix != "Screenshot" || s.ImageFormat != "png" || s.IncludeTimestamp {
		t.Fatalf("unexpected defaults: %+v", s)
	}
	if s.PreviewDuration() != 10*time.Second {
		t.Fatalf("expected 10s preview, got %v", s.PreviewDuration())
	}
}

func TestMissingKeysKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("prefix: Shot\npreview_seconds: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	s := m.Snapshot()
	if s.Prefix != "Shot" {
		t.Fatalf("expected prefix from file, got %q", s.Prefix)
	}
	if s.ImageFormat != "png" {
		t.Fatalf("expected default format, got %q", s.ImageFormat)
	}
	// explicit zero means never auto-close and must survive loading
	if s.PreviewDuration() != 0 {
		t.Fatalf("expected preview duration 0, got %v", s.PreviewDuration())
	}
}

func TestNewManagerRejectsInvalidFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"prefix escapes save directory", "prefix: ../x\n", "path separators"},
		{"zero permission timeout", "permission_timeout_ms: 0\n", "permission_timeout_ms"},
		{"unknown format", "image_format: gif\n", "image_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			_, err := NewManager(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("NewManager() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	snap := m.Snapshot()
	snap.InteractiveTool.RegionArgs[0] = "mutated"
	if err := m.Set("prefix", "Later"); err != nil {
		t.Fatal(err)
	}

	if snap.Prefix != "Screenshot" {
		t.Fatalf("snapshot changed after Set: %q", snap.Prefix)
	}
	if m.Snapshot().InteractiveTool.RegionArgs[0] == "mutated" {
		t.Fatalf("snapshot shares slices with the manager")
	}
}

func TestSetPersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}

	var got []Settings
	unsubscribe := m.Subscribe(func(s Settings) { got = append(got, s) })

	if err := m.Set("image_format", "JPG"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ImageFormat != "jpg" {
		t.Fatalf("expected one notification with jpg, got %+v", got)
	}
	if got[0].NamingPolicy().Format != naming.JPG {
		t.Fatalf("unexpected naming format %+v", got[0].NamingPolicy().Format)
	}

	// no-op update does not notify
	if err := m.Set("image_format", "jpg"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected no notification for unchanged value, got %d", len(got))
	}

	unsubscribe()
	if err := m.Set("prefix", "Other"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected no notification after unsubscribe")
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := reloaded.Value("image_format"); v != "jpg" {
		t.Fatalf("expected persisted jpg, got %q", v)
	}
	if v, _ := reloaded.Value("prefix"); v != "Other" {
		t.Fatalf("expected persisted prefix, got %q", v)
	}
}

func TestSetRejectsInvalidValues(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string]string{
		"image_format":          "gif",
		"include_timestamp":     "maybe",
		"preview_seconds":       "-1",
		"prefix":                "a/b",
		"permission_timeout_ms": "0",
		"log_level":             "loud",
		"nope":                  "x",
	}
	for key, value := range cases {
		if err := m.Set(key, value); err == nil {
			t.Fatalf("expected error for %s=%s", key, value)
		}
	}
}

func TestValueUnknownKey(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Value("bogus")
	if err == nil || !strings.Contains(err.Error(), "valid keys") {
		t.Fatalf("expected unknown key error listing valid keys, got %v", err)
	}
}

func TestReloadPicksUpExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}

	notified := make(chan Settings, 1)
	m.Subscribe(func(s Settings) { notified <- s })

	if err := os.WriteFile(path, []byte("prefix: Edited\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(); err != nil {
		t.Fatal(err)
	}

	select {
	case s := <-notified:
		if s.Prefix != "Edited" {
			t.Fatalf("expected Edited, got %q", s.Prefix)
		}
	default:
		t.Fatalf("expected a change notification")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandHome("~/Pictures"); got != filepath.Join(home, "Pictures") {
		t.Fatalf("unexpected expansion %q", got)
	}
	if got := expandHome("/abs"); got != "/abs" {
		t.Fatalf("absolute path changed: %q", got)
	}
}
