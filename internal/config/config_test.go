package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/julianstephens/wayfare/internal/constants"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(constants.EnvAPIKey, "")
	t.Setenv(constants.EnvAPIKeyFallback, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pipeline.Filter.MaxPerHour != constants.DefaultMaxPerHour {
		t.Errorf("MaxPerHour = %d, want %d", cfg.Pipeline.Filter.MaxPerHour, constants.DefaultMaxPerHour)
	}
	if cfg.Constraints.IdealActivitiesPerDay != constants.DefaultIdealActivitiesPerDay {
		t.Errorf("IdealActivitiesPerDay = %d", cfg.Constraints.IdealActivitiesPerDay)
	}
	if cfg.Recommender.APIKey != "" {
		t.Errorf("expected no API key, got %q", cfg.Recommender.APIKey)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
engine:
  multiplier: 60
  timezone: Asia/Tokyo
constraints:
  ideal_activities_per_day: 4
pipeline:
  filter:
    min_gap: 5m
    quiet_start: "23:00"
    quiet_end: "06:30"
  timeout: 3s
  monitor:
    start_offset: 15m
recommender:
  model: gpt-4.1-mini
storage:
  path: /tmp/trip.db
`)
	t.Setenv(constants.EnvAPIKey, "sk-test")
	t.Setenv(constants.EnvDBConnection, "postgresql://traveller@localhost/wayfare")
	t.Setenv(constants.EnvDebug, "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.Multiplier != 60 || cfg.Engine.Timezone != "Asia/Tokyo" {
		t.Errorf("engine section not applied: %+v", cfg.Engine)
	}
	if cfg.Constraints.IdealActivitiesPerDay != 4 {
		t.Errorf("IdealActivitiesPerDay = %d, want 4", cfg.Constraints.IdealActivitiesPerDay)
	}
	// unset keys keep their defaults
	if cfg.Constraints.AutoAdjustMaxMin != constants.DefaultAutoAdjustMaxMin {
		t.Errorf("AutoAdjustMaxMin = %d", cfg.Constraints.AutoAdjustMaxMin)
	}
	if cfg.Pipeline.Filter.MinGap != 5*time.Minute || cfg.Pipeline.Filter.QuietStart != "23:00" {
		t.Errorf("filter section not applied: %+v", cfg.Pipeline.Filter)
	}
	if cfg.Pipeline.Timeout != 3*time.Second {
		t.Errorf("Timeout = %s, want 3s", cfg.Pipeline.Timeout)
	}
	if cfg.Pipeline.Monitor.StartOffset != 15*time.Minute {
		t.Errorf("StartOffset = %s", cfg.Pipeline.Monitor.StartOffset)
	}
	if cfg.Recommender.APIKey != "sk-test" || cfg.Recommender.Model != "gpt-4.1-mini" {
		t.Errorf("recommender section: %+v", cfg.Recommender)
	}
	if !strings.HasPrefix(cfg.Storage.Path, "postgresql://") {
		t.Errorf("env should override storage path, got %q", cfg.Storage.Path)
	}
	if !cfg.Log.Debug {
		t.Error("expected debug from environment")
	}

	ec, err := cfg.ExecutionConfig()
	if err != nil {
		t.Fatalf("ExecutionConfig failed: %v", err)
	}
	if ec.Location.String() != "Asia/Tokyo" || ec.Multiplier != 60 {
		t.Errorf("execution config: %v %v", ec.Location, ec.Multiplier)
	}
	if rc := cfg.RecommenderClientConfig(); rc.Timeout != 3*time.Second || rc.APIKey != "sk-test" {
		t.Errorf("recommender client config: %+v", rc)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "engine: [1, 2"},
		{"bad timezone", "engine:\n  timezone: Mars/Olympus"},
		{"bad multiplier", "engine:\n  multiplier: -1"},
		{"bad quiet hours", "pipeline:\n  filter:\n    quiet_start: \"10pm\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := ExpandHome("~/.config/wayfare/config.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, ".config/wayfare/config.yaml"); got != want {
		t.Errorf("ExpandHome = %q, want %q", got, want)
	}
	if got, _ := ExpandHome("/etc/wayfare.yaml"); got != "/etc/wayfare.yaml" {
		t.Errorf("absolute path changed: %q", got)
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "pipeline:\n  filter:\n    max_per_hour: 3\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c Config) { got <- c }) }()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "pipeline:\n  filter:\n    max_per_hour: 12\n")

	select {
	case cfg := <-got:
		if cfg.Pipeline.Filter.MaxPerHour != 12 {
			t.Errorf("MaxPerHour = %d, want 12", cfg.Pipeline.Filter.MaxPerHour)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Watch returned %v", err)
	}
}
