package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultFeedBufferSize       = 1000
	DefaultAPITimeout           = 30 * time.Second
	DefaultAPIMaxRetries        = 3
	DefaultAPIRetryBackoff      = 1 * time.Second
	DefaultWindow               = "day"
	DefaultUpdateBufferSize     = 64
	DefaultQuietPeriod          = 500 * time.Millisecond
)

func (c *Config) applyDefaults() {
	// Feed defaults
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.MaxReconnectAttempts == 0 {
		c.Feed.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}

	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultAPIMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultAPIRetryBackoff
	}

	// Series defaults
	if c.Series.DefaultWindow == "" {
		c.Series.DefaultWindow = DefaultWindow
	}
	if c.Series.UpdateBufferSize == 0 {
		c.Series.UpdateBufferSize = DefaultUpdateBufferSize
	}

	// Quote defaults
	if c.Quote.QuietPeriod == 0 {
		c.Quote.QuietPeriod = DefaultQuietPeriod
	}
}
