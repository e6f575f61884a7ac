package kernel

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autopoiesis.yaml")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Empty(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workers != 8 || cfg.MaxAgents != 50 {
		t.Fatalf("expected defaults, got workers=%d max_agents=%d", cfg.Workers, cfg.MaxAgents)
	}
	if len(cfg.Startup) != 2 {
		t.Fatalf("expected 2 default startup agents, got %d", len(cfg.Startup))
	}
}

func TestLoadConfig_Overlay(t *testing.T) {
	path := writeConfig(t, `
schedule_interval: 50ms
max_agents: 3
high_load: 90
journal: /tmp/journal.db
startup:
  - task: explore
    count: 2
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ScheduleInterval != 50*time.Millisecond {
		t.Errorf("ScheduleInterval = %s, want 50ms", cfg.ScheduleInterval)
	}
	if cfg.MaxAgents != 3 {
		t.Errorf("MaxAgents = %d, want 3", cfg.MaxAgents)
	}
	if cfg.HighLoad != 90 || cfg.LowLoad != 20 {
		t.Errorf("loads = %v/%v, want 20/90", cfg.LowLoad, cfg.HighLoad)
	}
	if cfg.JournalPath != "/tmp/journal.db" {
		t.Errorf("JournalPath = %q", cfg.JournalPath)
	}
	// Untouched keys keep their defaults.
	if cfg.PreservationInterval != 10*time.Second {
		t.Errorf("PreservationInterval = %s, want 10s", cfg.PreservationInterval)
	}
	if len(cfg.Startup) != 1 || cfg.Startup[0].Task != "explore" || cfg.Startup[0].Count != 2 {
		t.Errorf("Startup = %+v", cfg.Startup)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"inverted loads", "low_load: 90\nhigh_load: 10\n", "load thresholds"},
		{"zero interval", "monitor_interval: 0s\n", "monitor_interval"},
		{"no workers", "workers: 0\n", "workers"},
		{"empty startup task", "startup:\n  - count: 1\n", "startup[0]"},
		{"bad yaml", "max_agents: [\n", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestConfigPopulation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialPool = 42
	pop := cfg.Population()
	if pop.InitialPool != 42 || pop.DefaultEnergy != 100 || pop.InsightCapacity != 100 {
		t.Fatalf("Population() = %+v", pop)
	}
}
