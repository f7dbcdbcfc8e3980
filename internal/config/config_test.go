package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
feed:
  url: wss://feed.example.com/stream
  ping_interval: 15s
api:
  base_url: https://api.example.com/v1
  timeout: 10s
series:
  default_window: week
quote:
  quiet_period: 250ms
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Feed.URL != "wss://feed.example.com/stream" {
		t.Errorf("Feed.URL = %q, want %q", cfg.Feed.URL, "wss://feed.example.com/stream")
	}
	if cfg.Feed.PingInterval != 15*time.Second {
		t.Errorf("Feed.PingInterval = %v, want 15s", cfg.Feed.PingInterval)
	}
	if cfg.API.BaseURL != "https://api.example.com/v1" {
		t.Errorf("API.BaseURL = %q, want %q", cfg.API.BaseURL, "https://api.example.com/v1")
	}
	if cfg.Series.DefaultWindow != "week" {
		t.Errorf("Series.DefaultWindow = %q, want %q", cfg.Series.DefaultWindow, "week")
	}
	if cfg.Quote.QuietPeriod != 250*time.Millisecond {
		t.Errorf("Quote.QuietPeriod = %v, want 250ms", cfg.Quote.QuietPeriod)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_FEED_TOKEN", "secret123")

	yaml := `
feed:
  url: wss://feed.example.com/stream
  auth_token: ${TEST_FEED_TOKEN}
api:
  base_url: https://api.example.com/v1
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Feed.AuthToken != "secret123" {
		t.Errorf("Feed.AuthToken = %q, want %q", cfg.Feed.AuthToken, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
feed:
  url: wss://feed.example.com/stream
api:
  base_url: https://api.example.com/v1
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Feed.PingInterval != DefaultPingInterval {
		t.Errorf("Feed.PingInterval = %v, want default %v", cfg.Feed.PingInterval, DefaultPingInterval)
	}
	if cfg.Feed.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("Feed.MaxReconnectAttempts = %d, want default %d", cfg.Feed.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Series.DefaultWindow != DefaultWindow {
		t.Errorf("Series.DefaultWindow = %q, want default %q", cfg.Series.DefaultWindow, DefaultWindow)
	}
	if cfg.Quote.QuietPeriod != DefaultQuietPeriod {
		t.Errorf("Quote.QuietPeriod = %v, want default %v", cfg.Quote.QuietPeriod, DefaultQuietPeriod)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Feed.URL = "wss://feed.example.com/stream"
		cfg.API.BaseURL = "https://api.example.com/v1"
		cfg.applyDefaults()
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config failed validation: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing feed url", func(c *Config) { c.Feed.URL = "" }},
		{"missing api base url", func(c *Config) { c.API.BaseURL = "" }},
		{"negative reconnect attempts", func(c *Config) { c.Feed.MaxReconnectAttempts = -1 }},
		{"unknown window", func(c *Config) { c.Series.DefaultWindow = "decade" }},
		{"ping timeout below interval", func(c *Config) { c.Feed.PingTimeout = c.Feed.PingInterval / 2 }},
		{"negative quiet period", func(c *Config) { c.Quote.QuietPeriod = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
