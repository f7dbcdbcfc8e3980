package series

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"pricesync/internal/feed"
	"pricesync/internal/model"
)

// Errors
var (
	ErrNoInstrument = errors.New("no instrument selected")
	ErrBadWindow    = errors.New("unknown window")
	ErrClosed       = errors.New("reconciler closed")
)

// Feed is the slice of the Connection Manager the reconciler depends on.
type Feed interface {
	Subscribe(instrumentID string) error
	Unsubscribe(instrumentID string) error
	OnMessage(fn func(feed.Envelope)) func()
}

// FetchFunc fetches the historical segment for one (instrument, window) pair.
// The returned points must be ordered by timestamp ascending.
type FetchFunc func(ctx context.Context, instrumentID string, window model.Window) ([]model.PricePoint, error)

// Snapshot is one emitted view of the merged series.
type Snapshot struct {
	InstrumentID string
	Window       model.Window
	Points       []model.PricePoint // historical ++ filtered live tail
	Latest       *model.PricePoint  // most recent point seen on the push stream
	Err          error              // historical fetch error state, nil when healthy
}

// Reconciler merges a historical fetch with live push updates.
//
// Live points only enter the merged series when their timestamp is strictly
// greater than the last historical timestamp at merge time; equal timestamps
// within the live tail are resolved last-value-wins. Consecutive pushes with
// an identical price are discarded before they reach any state.
type Reconciler struct {
	mgr     Feed
	fetch   FetchFunc
	logger  *slog.Logger
	updates chan Snapshot

	removeMsg func()

	mu           sync.Mutex
	epoch        int // bumped on every Select; stale fetch results are discarded
	instrumentID string
	window       model.Window
	active       bool
	closed       bool

	historical   []model.PricePoint
	haveHistory  bool
	lastHistTime int64
	live         []model.PricePoint
	latest       *model.PricePoint
	fetchErr     error

	lastPrice    float64
	haveLastTick bool
}

// NewReconciler creates a reconciler on top of a Connection Manager and a
// historical fetch collaborator. updateBuffer sizes the Updates channel.
func NewReconciler(mgr Feed, fetch FetchFunc, updateBuffer int, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if updateBuffer < 1 {
		updateBuffer = 1
	}

	r := &Reconciler{
		mgr:     mgr,
		fetch:   fetch,
		logger:  logger,
		updates: make(chan Snapshot, updateBuffer),
	}
	r.removeMsg = mgr.OnMessage(r.onMessage)
	return r
}

// Select switches the reconciler to an (instrument, window) pair. All state
// buffered for the previous selection is discarded before any new data
// arrives. Re-selecting the current pair refetches the historical segment,
// which is also the recovery path after a fetch failure.
func (r *Reconciler) Select(ctx context.Context, instrumentID string, window model.Window) error {
	if instrumentID == "" {
		return ErrNoInstrument
	}
	if !window.Valid() {
		return ErrBadWindow
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.epoch++
	epoch := r.epoch
	prev := r.instrumentID
	r.instrumentID = instrumentID
	r.window = window
	r.active = true
	r.resetLocked()
	r.mu.Unlock()

	if prev != "" && prev != instrumentID {
		r.mgr.Unsubscribe(prev)
	}
	if prev != instrumentID {
		r.mgr.Subscribe(instrumentID)
	}

	go r.runFetch(ctx, epoch, instrumentID, window)
	return nil
}

// Refetch re-runs the historical fetch for the current selection without
// touching the live buffer. Used by consumers to recover from a fetch error.
func (r *Reconciler) Refetch(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if !r.active {
		r.mu.Unlock()
		return ErrNoInstrument
	}
	instrumentID, window, epoch := r.instrumentID, r.window, r.epoch
	r.fetchErr = nil
	r.mu.Unlock()

	go r.runFetch(ctx, epoch, instrumentID, window)
	return nil
}

// Updates returns the emitted snapshot stream. Emission is best-effort: when
// the consumer lags, intermediate snapshots are dropped and the next emit
// carries the full current state.
func (r *Reconciler) Updates() <-chan Snapshot {
	return r.updates
}

// Snapshot returns the current merged view synchronously.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Close detaches from the feed and releases the current subscription.
func (r *Reconciler) Close() error {
	r.removeMsg()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.active = false
	r.epoch++ // invalidate in-flight fetches
	instrumentID := r.instrumentID
	r.mu.Unlock()

	if instrumentID != "" {
		r.mgr.Unsubscribe(instrumentID)
	}
	close(r.updates)
	return nil
}

// resetLocked clears all per-selection state.
func (r *Reconciler) resetLocked() {
	r.historical = nil
	r.haveHistory = false
	r.lastHistTime = 0
	r.live = nil
	r.latest = nil
	r.fetchErr = nil
	r.lastPrice = 0
	r.haveLastTick = false
}

// runFetch performs one historical fetch and applies the result unless the
// selection changed while it was in flight.
func (r *Reconciler) runFetch(ctx context.Context, epoch int, instrumentID string, window model.Window) {
	points, err := r.fetch(ctx, instrumentID, window)

	r.mu.Lock()
	defer r.mu.Unlock()

	if epoch != r.epoch {
		// Selection changed while the fetch was in flight
		r.logger.Debug("stale history fetch discarded",
			"instrument", instrumentID,
			"window", string(window),
		)
		return
	}

	if err != nil {
		// Live buffering continues; a Refetch can still produce a clean merge
		r.logger.Warn("history fetch failed",
			"instrument", instrumentID,
			"window", string(window),
			"error", err,
		)
		r.fetchErr = err
		r.emitLocked()
		return
	}

	r.historical = points
	r.haveHistory = true
	r.fetchErr = nil
	if len(points) > 0 {
		r.lastHistTime = points[len(points)-1].Timestamp
	} else {
		r.lastHistTime = 0
	}

	r.logger.Debug("history loaded",
		"instrument", instrumentID,
		"window", string(window),
		"points", len(points),
		"buffered_live", len(r.live),
	)
	r.emitLocked()
}

// onMessage consumes push updates from the Connection Manager.
func (r *Reconciler) onMessage(env feed.Envelope) {
	if env.Type != feed.TypePriceUpdate {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active || r.closed || env.InstrumentID != r.instrumentID {
		return
	}

	var upd feed.PriceUpdate
	if err := json.Unmarshal(env.Data, &upd); err != nil {
		r.logger.Warn("bad price update payload", "instrument", env.InstrumentID, "error", err)
		return
	}
	ts := upd.Timestamp
	if ts == 0 {
		ts = env.Timestamp
	}

	// Equal consecutive prices are noise, not activity
	if r.haveLastTick && upd.Price == r.lastPrice {
		return
	}
	r.lastPrice = upd.Price
	r.haveLastTick = true

	pt := model.PricePoint{Timestamp: ts, Price: upd.Price}
	r.latest = &pt

	// Once the historical segment is fixed, points at or before its end can
	// never enter the merge; they still tick the latest point above.
	if !r.haveHistory || len(r.historical) == 0 || ts > r.lastHistTime {
		r.live = append(r.live, pt)
	}
	r.emitLocked()
}

// mergedLocked derives historical ++ live tail. The historical segment is
// never reordered; live points pass only when strictly newer than the last
// historical point, and an equal-timestamp live point replaces the previous
// live tail entry.
func (r *Reconciler) mergedLocked() []model.PricePoint {
	if !r.haveHistory {
		return nil
	}

	out := make([]model.PricePoint, len(r.historical), len(r.historical)+len(r.live))
	copy(out, r.historical)

	histLen := len(out)
	lastTS := r.lastHistTime
	empty := histLen == 0

	for _, pt := range r.live {
		switch {
		case empty || pt.Timestamp > lastTS:
			out = append(out, pt)
			lastTS = pt.Timestamp
			empty = false
		case pt.Timestamp == lastTS && len(out) > histLen:
			// Duplicate timestamp inside the live tail: last value wins
			out[len(out)-1] = pt
		}
	}

	return out
}

func (r *Reconciler) snapshotLocked() Snapshot {
	snap := Snapshot{
		InstrumentID: r.instrumentID,
		Window:       r.window,
		Points:       r.mergedLocked(),
		Err:          r.fetchErr,
	}
	if r.latest != nil {
		latest := *r.latest
		snap.Latest = &latest
	}
	return snap
}

// emitLocked publishes the current snapshot without blocking.
func (r *Reconciler) emitLocked() {
	if r.closed {
		return
	}
	select {
	case r.updates <- r.snapshotLocked():
	default:
		r.logger.Debug("update buffer full, dropping snapshot")
	}
}
