package quote

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pricesync/internal/model"
)

// ErrClosed is returned when the coordinator has been shut down.
var ErrClosed = errors.New("coordinator closed")

// Status is the observable state of the coordinator.
type Status string

const (
	StatusIdle    Status = "idle"    // no valid input
	StatusPending Status = "pending" // input received, request scheduled or in flight
	StatusDone    Status = "done"    // result available for the current input
	StatusFailed  Status = "failed"  // request for the current input failed
)

// Request is the input signature a quote is issued for.
type Request struct {
	InstrumentID string
	Side         model.Side
	Amount       float64
}

// Valid reports whether the input should trigger a request at all.
func (r Request) Valid() bool {
	return r.InstrumentID != "" && r.Side.Valid() && r.Amount > 0
}

// QuoteFunc is the external quoting collaborator.
type QuoteFunc func(ctx context.Context, req Request) (model.Quote, error)

// Snapshot is one observable state of the coordinator.
type Snapshot struct {
	Status Status
	Input  Request
	Result *model.Quote
	Err    error
}

// Coordinator debounces quote requests.
//
// The pending operation is a single slot carrying the request ID it was
// issued for; every input change replaces the slot, so a resolving call can
// always tell whether it is still current.
type Coordinator struct {
	quote  QuoteFunc
	quiet  time.Duration
	logger *slog.Logger

	updates chan Snapshot

	mu        sync.Mutex
	timer     *time.Timer
	currentID uuid.UUID
	input     Request
	status    Status
	result    *model.Quote
	err       error
	closed    bool
}

// NewCoordinator creates a coordinator with the given quiet period.
func NewCoordinator(quote QuoteFunc, quiet time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		quote:   quote,
		quiet:   quiet,
		logger:  logger,
		updates: make(chan Snapshot, 16),
		status:  StatusIdle,
	}
}

// SetInput records a new input. Any previously scheduled-but-unsent request
// is cancelled outright; any in-flight request is superseded and its eventual
// result will be discarded. Invalid input clears to the idle state without
// scheduling anything.
func (c *Coordinator) SetInput(ctx context.Context, req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	// Cancel the scheduled request, if any, before it is ever sent
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	// New identity supersedes whatever is in flight
	id := uuid.New()
	c.currentID = id
	c.input = req
	c.result = nil
	c.err = nil

	if !req.Valid() {
		c.status = StatusIdle
		c.emitLocked()
		return nil
	}

	c.status = StatusPending
	c.timer = time.AfterFunc(c.quiet, func() { c.fire(ctx, id, req) })
	c.emitLocked()
	return nil
}

// Snapshot returns the current observable state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Updates returns the state change stream. Best-effort: when the consumer
// lags, intermediate states are dropped.
func (c *Coordinator) Updates() <-chan Snapshot {
	return c.updates
}

// Close cancels any scheduled request and shuts the coordinator down.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.currentID = uuid.New() // orphan anything in flight
	close(c.updates)
	return nil
}

// fire runs after the quiet period elapsed uninterrupted.
func (c *Coordinator) fire(ctx context.Context, id uuid.UUID, req Request) {
	c.mu.Lock()
	if c.closed || id != c.currentID {
		// Superseded before the request was ever sent
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	result, err := c.quote(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if id != c.currentID {
		// Input changed while the call was in flight: success or failure,
		// the result no longer belongs to the displayed state.
		c.logger.Debug("stale quote result discarded",
			"instrument", req.InstrumentID,
			"side", string(req.Side),
			"amount", req.Amount,
		)
		return
	}

	if err != nil {
		c.logger.Warn("quote request failed",
			"instrument", req.InstrumentID,
			"error", err,
		)
		c.status = StatusFailed
		c.err = err
		c.result = nil
	} else {
		c.status = StatusDone
		c.result = &result
		c.err = nil
	}
	c.emitLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status: c.status,
		Input:  c.input,
		Err:    c.err,
	}
	if c.result != nil {
		result := *c.result
		snap.Result = &result
	}
	return snap
}

func (c *Coordinator) emitLocked() {
	select {
	case c.updates <- c.snapshotLocked():
	default:
		c.logger.Debug("update buffer full, dropping state change")
	}
}
