package feed

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no traffic)")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrRetriesExhausted = errors.New("reconnect retries exhausted")
)

// State is the transport lifecycle state of the Manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosing      State = "closing"
	StateBackoff      State = "backoff"
)

// Envelope message types.
const (
	// Outbound
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"

	// Inbound
	TypePriceUpdate  = "priceUpdate"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypePong         = "pong"
	TypeError        = "error"
)

// Envelope is the wire format shared by inbound and outbound messages.
// One physical connection carries envelopes for all instruments.
type Envelope struct {
	Type         string          `json:"type"`
	InstrumentID string          `json:"instrumentId,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Message      string          `json:"message,omitempty"`
	Timestamp    int64           `json:"timestamp"` // ms since epoch
}

// PriceUpdate is the payload of a priceUpdate envelope.
type PriceUpdate struct {
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // ms since epoch
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL (e.g., wss://feed.example.com/stream)
	AuthToken    string        // Bearer token (empty = no auth)
	PingTimeout  time.Duration // Max time without inbound traffic before the connection is stale (0 = disabled)
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL                  string        // WebSocket URL
	AuthToken            string        // Bearer token (empty = no auth)
	PingInterval         time.Duration // Keepalive ping interval while open
	PingTimeout          time.Duration // Staleness threshold passed to the client (0 = disabled)
	WriteTimeout         time.Duration // Write deadline for sends
	ReconnectBaseDelay   time.Duration // Base delay for exponential backoff
	MaxReconnectAttempts int           // Attempt budget per failure episode
	BufferSize           int           // Client message channel buffer size
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PingInterval:         30 * time.Second,
		PingTimeout:          60 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		MaxReconnectAttempts: 5,
		BufferSize:           1000,
	}
}

// Stats provides statistics about the connection manager.
type Stats struct {
	State        State
	Instruments  int // Distinct instruments in the desired set
	ConsumerRefs int // Total reference count across instruments
	Attempt      int // Reconnect attempts in the current failure episode
}
