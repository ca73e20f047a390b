package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalYAML = `
phantomflow:
  name: phantomflow
  version: 0.1.0
feed:
  url: wss://socket.massive.com/stocks
  symbol: SPY
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Detection.WarmupTrades != 100 {
		t.Fatalf("expected default warmup 100, got %d", cfg.Detection.WarmupTrades)
	}
	if cfg.Detection.Velocity.WindowDuration != 30*time.Second {
		t.Fatalf("expected default window 30s, got %v", cfg.Detection.Velocity.WindowDuration)
	}
	if cfg.Detection.DarkPool.Venue != 4 {
		t.Fatalf("expected default dark pool venue 4, got %d", cfg.Detection.DarkPool.Venue)
	}
	if cfg.Sessions.Timezone != "America/New_York" {
		t.Fatalf("expected default timezone, got %s", cfg.Sessions.Timezone)
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "feed:\n  url: wss://x\n  symbol: SPY\n"))
	if err == nil {
		t.Fatalf("expected validation error for missing name")
	}
}

func TestLoadConfigBadVelocity(t *testing.T) {
	yml := minimalYAML + `
detection:
  velocity:
    enabled: true
    window_duration: 30s
    confirmation_windows: 3
    history_size: 2
    drop_threshold: 0.5
`
	if _, err := LoadConfig(writeConfig(t, yml)); err == nil {
		t.Fatalf("expected error when history_size <= confirmation_windows")
	}
}

func TestManualRangeEnvOverride(t *testing.T) {
	t.Setenv("MANUAL_PREV_LOW", "688.50")
	t.Setenv("MANUAL_PREV_HIGH", "693.25")
	cfg, err := LoadConfig(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Refdata.ManualLow == nil || *cfg.Refdata.ManualLow != 688.50 {
		t.Fatalf("manual low not applied: %v", cfg.Refdata.ManualLow)
	}
	if cfg.Refdata.ManualHigh == nil || *cfg.Refdata.ManualHigh != 693.25 {
		t.Fatalf("manual high not applied: %v", cfg.Refdata.ManualHigh)
	}
}

func TestManualRangeEnvInvalidIgnored(t *testing.T) {
	t.Setenv("MANUAL_PREV_LOW", "not-a-number")
	cfg, err := LoadConfig(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Refdata.ManualLow != nil {
		t.Fatalf("invalid manual low should be ignored, got %v", *cfg.Refdata.ManualLow)
	}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"04:00", 4 * 3600, true},
		{"09:30", 9*3600 + 30*60, true},
		{"16:00", 16 * 3600, true},
		{"24:00", 0, false},
		{"0930", 0, false},
	}
	for _, c := range cases {
		got, err := ParseClock(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Fatalf("ParseClock(%q) = %d, %v; want %d", c.in, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Fatalf("ParseClock(%q) expected error", c.in)
		}
	}
}
