package quote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pricesync/internal/model"
)

// countingQuoter records every issued request and returns scripted results.
type countingQuoter struct {
	mu      sync.Mutex
	calls   []Request
	results map[float64]model.Quote // keyed by amount for terse scripting
	block   chan struct{}           // when set, calls wait here
	err     error
}

func (q *countingQuoter) quote(_ context.Context, req Request) (model.Quote, error) {
	q.mu.Lock()
	q.calls = append(q.calls, req)
	block := q.block
	err := q.err
	result := q.results[req.Amount]
	q.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return model.Quote{}, err
	}
	return result, nil
}

func (q *countingQuoter) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

func waitForStatus(t *testing.T, c *Coordinator, want Status) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := c.Snapshot()
		if snap.Status == want {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %q (have %q)", want, c.Snapshot().Status)
	return Snapshot{}
}

func validRequest(amount float64) Request {
	return Request{InstrumentID: "ETH-USD", Side: model.SideBuy, Amount: amount}
}

func TestCoordinatorDebouncesRapidInput(t *testing.T) {
	q := &countingQuoter{results: map[float64]model.Quote{
		3: {OutputAmount: 300, EffectivePrice: 100},
	}}
	c := NewCoordinator(q.quote, 100*time.Millisecond, nil)
	defer c.Close()

	// Three changes inside/around one quiet period: only the last survives
	c.SetInput(context.Background(), validRequest(1))
	time.Sleep(20 * time.Millisecond)
	c.SetInput(context.Background(), validRequest(2))
	time.Sleep(120 * time.Millisecond)
	c.SetInput(context.Background(), validRequest(3))

	snap := waitForStatus(t, c, StatusDone)

	q.mu.Lock()
	calls := append([]Request(nil), q.calls...)
	q.mu.Unlock()

	// Input 1 was cancelled before its quiet period elapsed. Input 2's quiet
	// period did elapse, but its result was superseded; allow either one or
	// two issued calls depending on timing, never one for input 1.
	for _, call := range calls {
		if call.Amount == 1 {
			t.Errorf("request issued for cancelled input: %+v", call)
		}
	}
	if snap.Result == nil || snap.Result.OutputAmount != 300 {
		t.Errorf("Result = %+v, want output 300 for the final input", snap.Result)
	}
}

func TestCoordinatorIssuesExactlyOneAfterQuiet(t *testing.T) {
	q := &countingQuoter{results: map[float64]model.Quote{
		5: {OutputAmount: 500},
	}}
	c := NewCoordinator(q.quote, 50*time.Millisecond, nil)
	defer c.Close()

	c.SetInput(context.Background(), validRequest(5))

	if got := c.Snapshot().Status; got != StatusPending {
		t.Errorf("status immediately after input = %q, want pending", got)
	}
	if got := q.callCount(); got != 0 {
		t.Errorf("calls before quiet period = %d, want 0", got)
	}

	waitForStatus(t, c, StatusDone)
	time.Sleep(100 * time.Millisecond)
	if got := q.callCount(); got != 1 {
		t.Errorf("calls = %d, want exactly 1", got)
	}
}

func TestCoordinatorStaleResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	q := &countingQuoter{
		results: map[float64]model.Quote{
			1: {OutputAmount: 111},
			2: {OutputAmount: 222},
		},
		block: release,
	}
	c := NewCoordinator(q.quote, 10*time.Millisecond, nil)
	defer c.Close()

	// First request goes in flight and stalls
	c.SetInput(context.Background(), validRequest(1))
	deadline := time.Now().Add(2 * time.Second)
	for q.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if q.callCount() != 1 {
		t.Fatal("first request never issued")
	}

	// Input changes while request 1 is still in flight
	q.mu.Lock()
	q.block = nil
	q.mu.Unlock()
	c.SetInput(context.Background(), validRequest(2))

	snap := waitForStatus(t, c, StatusDone)
	if snap.Result == nil || snap.Result.OutputAmount != 222 {
		t.Fatalf("Result = %+v, want output 222", snap.Result)
	}

	// Now request 1 resolves late; it must not overwrite input 2's result
	close(release)
	time.Sleep(50 * time.Millisecond)

	snap = c.Snapshot()
	if snap.Result == nil || snap.Result.OutputAmount != 222 {
		t.Errorf("stale result overwrote state: %+v", snap.Result)
	}
}

func TestCoordinatorStaleFailureDiscarded(t *testing.T) {
	release := make(chan struct{})
	q := &countingQuoter{
		results: map[float64]model.Quote{2: {OutputAmount: 222}},
		block:   release,
		err:     errors.New("liquidity gone"),
	}
	c := NewCoordinator(q.quote, 10*time.Millisecond, nil)
	defer c.Close()

	c.SetInput(context.Background(), validRequest(1))
	deadline := time.Now().Add(2 * time.Second)
	for q.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	// Second input; its request succeeds
	q.mu.Lock()
	q.block = nil
	q.err = nil
	q.mu.Unlock()
	c.SetInput(context.Background(), validRequest(2))
	waitForStatus(t, c, StatusDone)

	// The stale failure resolves late and must not surface
	close(release)
	time.Sleep(50 * time.Millisecond)

	snap := c.Snapshot()
	if snap.Status != StatusDone || snap.Err != nil {
		t.Errorf("stale failure surfaced: status=%q err=%v", snap.Status, snap.Err)
	}
}

func TestCoordinatorInvalidInputClears(t *testing.T) {
	q := &countingQuoter{results: map[float64]model.Quote{1: {OutputAmount: 111}}}
	c := NewCoordinator(q.quote, 10*time.Millisecond, nil)
	defer c.Close()

	c.SetInput(context.Background(), validRequest(1))
	waitForStatus(t, c, StatusDone)

	tests := []Request{
		{InstrumentID: "", Side: model.SideBuy, Amount: 1},
		{InstrumentID: "ETH-USD", Side: model.SideBuy, Amount: 0},
		{InstrumentID: "ETH-USD", Side: model.SideBuy, Amount: -3},
		{InstrumentID: "ETH-USD", Side: model.Side("hold"), Amount: 1},
	}
	for _, req := range tests {
		c.SetInput(context.Background(), req)
		snap := c.Snapshot()
		if snap.Status != StatusIdle || snap.Result != nil || snap.Err != nil {
			t.Errorf("invalid input %+v left state %+v, want cleared idle", req, snap)
		}
	}

	time.Sleep(50 * time.Millisecond)
	if got := q.callCount(); got != 1 {
		t.Errorf("calls = %d, want 1 (none for invalid inputs)", got)
	}
}

func TestCoordinatorFailureSurfacesForCurrentInput(t *testing.T) {
	q := &countingQuoter{err: errors.New("venue offline")}
	c := NewCoordinator(q.quote, 10*time.Millisecond, nil)
	defer c.Close()

	c.SetInput(context.Background(), validRequest(1))
	snap := waitForStatus(t, c, StatusFailed)
	if snap.Err == nil || snap.Result != nil {
		t.Errorf("failed state = %+v, want error and no result", snap)
	}

	// A new input clears the previous error immediately
	c.SetInput(context.Background(), validRequest(2))
	snap = c.Snapshot()
	if snap.Status != StatusPending || snap.Err != nil {
		t.Errorf("state after new input = %+v, want pending with cleared error", snap)
	}
}

func TestCoordinatorSetInputAfterClose(t *testing.T) {
	q := &countingQuoter{}
	c := NewCoordinator(q.quote, 10*time.Millisecond, nil)
	c.Close()

	if err := c.SetInput(context.Background(), validRequest(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("SetInput after Close = %v, want ErrClosed", err)
	}
}
