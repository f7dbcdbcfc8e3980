package config

import "time"

// Config is the root configuration for the price sync engine.
type Config struct {
	Feed   FeedConfig   `yaml:"feed"`
	API    APIConfig    `yaml:"api"`
	Series SeriesConfig `yaml:"series"`
	Quote  QuoteConfig  `yaml:"quote"`
}

// FeedConfig holds WebSocket feed settings.
type FeedConfig struct {
	URL                  string        `yaml:"url"`
	AuthToken            string        `yaml:"auth_token"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"` // 0 disables staleness detection
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	BufferSize           int           `yaml:"buffer_size"`
}

// APIConfig holds REST collaborator settings (history and quote endpoints).
type APIConfig struct {
	BaseURL      string        `yaml:"base_url"`
	AuthToken    string        `yaml:"auth_token"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// SeriesConfig holds Series Reconciler settings.
type SeriesConfig struct {
	DefaultWindow    string `yaml:"default_window"`
	UpdateBufferSize int    `yaml:"update_buffer_size"`
}

// QuoteConfig holds Debounced Request Coordinator settings.
type QuoteConfig struct {
	QuietPeriod time.Duration `yaml:"quiet_period"`
}
