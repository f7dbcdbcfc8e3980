package config

import (
	"errors"
	"fmt"

	"pricesync/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Feed.URL == "" {
		return errors.New("feed.url is required")
	}
	if c.Feed.ReconnectBaseDelay < 0 {
		return errors.New("feed.reconnect_base_delay must be >= 0")
	}
	if c.Feed.MaxReconnectAttempts < 1 {
		return errors.New("feed.max_reconnect_attempts must be >= 1")
	}
	if c.Feed.BufferSize < 1 {
		return errors.New("feed.buffer_size must be >= 1")
	}
	if c.Feed.PingTimeout != 0 && c.Feed.PingTimeout < c.Feed.PingInterval {
		return errors.New("feed.ping_timeout must be 0 (disabled) or >= feed.ping_interval")
	}

	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if !model.Window(c.Series.DefaultWindow).Valid() {
		return fmt.Errorf("series.default_window must be one of %v, got %q", model.Windows, c.Series.DefaultWindow)
	}
	if c.Series.UpdateBufferSize < 1 {
		return errors.New("series.update_buffer_size must be >= 1")
	}

	if c.Quote.QuietPeriod <= 0 {
		return errors.New("quote.quiet_period must be > 0")
	}

	return nil
}
