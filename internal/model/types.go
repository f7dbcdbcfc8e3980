package model

import "time"

// -----------------------------------------------------------------------------
// Price Data
// -----------------------------------------------------------------------------

// PricePoint is a single (timestamp, price) observation for one instrument.
type PricePoint struct {
	Timestamp int64   `json:"timestamp"` // ms since epoch
	Price     float64 `json:"price"`
}

// -----------------------------------------------------------------------------
// Windows
// -----------------------------------------------------------------------------

// Window is an enumerated look-back duration for historical data.
type Window string

const (
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
)

// Windows lists all valid windows, shortest look-back first.
var Windows = []Window{WindowDay, WindowWeek, WindowMonth}

// Valid reports whether w is a known window.
func (w Window) Valid() bool {
	switch w {
	case WindowDay, WindowWeek, WindowMonth:
		return true
	}
	return false
}

// Lookback returns the duration covered by the window.
func (w Window) Lookback() time.Duration {
	switch w {
	case WindowDay:
		return 24 * time.Hour
	case WindowWeek:
		return 7 * 24 * time.Hour
	case WindowMonth:
		return 30 * 24 * time.Hour
	}
	return 0
}

// -----------------------------------------------------------------------------
// Quoting
// -----------------------------------------------------------------------------

// Side is the direction of a quote request.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Quote is the response from the quoting collaborator.
type Quote struct {
	OutputAmount   float64 `json:"outputAmount"`
	EffectivePrice float64 `json:"effectivePrice"`
	SpreadBps      float64 `json:"spreadBps"`
	Fee            float64 `json:"fee"`
}
