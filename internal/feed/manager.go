package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Manager owns the transport lifecycle, the desired-subscription set, and the
// backoff policy for one logical price feed connection.
//
// The desired-subscription set is authoritative: a transport drop never clears
// it, only explicit Unsubscribe calls do. On every successful (re)connect the
// manager replays one subscribe message per distinct instrument in the set.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	ctx        context.Context // supplied at Connect, reused for redials
	client     Client
	stopCh     chan struct{} // stops pump and keepalive for the current transport
	subs       map[string]int
	attempt    int
	retryTimer *time.Timer
	closed     bool

	// Handler registries. Dispatch snapshots the registry first, so
	// deregistering a handler from inside a callback never affects the
	// current pass.
	handlerMu     sync.Mutex
	nextHandlerID int
	openHandlers  map[int]func()
	closeHandlers map[int]func(error)
	msgHandlers   map[int]func(Envelope)
	errHandlers   map[int]func(error)

	wg sync.WaitGroup
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:           cfg,
		logger:        logger,
		state:         StateDisconnected,
		subs:          make(map[string]int),
		openHandlers:  make(map[int]func()),
		closeHandlers: make(map[int]func(error)),
		msgHandlers:   make(map[int]func(Envelope)),
		errHandlers:   make(map[int]func(error)),
	}
}

// Connect opens the transport. It is a no-op when already open or connecting.
// A dial failure starts the backoff loop; the error is also returned so the
// caller knows the first attempt did not succeed.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	switch m.state {
	case StateOpen, StateConnecting:
		m.mu.Unlock()
		return nil
	case StateBackoff:
		if m.retryTimer != nil {
			m.retryTimer.Stop()
			m.retryTimer = nil
		}
	}
	m.ctx = ctx
	m.state = StateConnecting
	m.mu.Unlock()

	return m.dial(ctx)
}

// Disconnect stops keepalive and closes the transport. The
// desired-subscription set is retained for the next Connect.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosing
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	c := m.client
	m.client = nil
	m.mu.Unlock()

	var err error
	if c != nil {
		err = c.Close()
	}

	m.mu.Lock()
	m.state = StateDisconnected
	m.attempt = 0
	m.mu.Unlock()

	m.notifyClose(nil)
	return err
}

// Close disconnects and permanently shuts down the manager.
func (m *Manager) Close() error {
	err := m.Disconnect()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.wg.Wait()
	return err
}

// Subscribe adds a consumer reference for an instrument. The first reference
// sends a subscribe message when the transport is open; otherwise the
// membership is retained and replayed on the next successful connect.
func (m *Manager) Subscribe(instrumentID string) error {
	if instrumentID == "" {
		return nil
	}

	m.mu.Lock()
	m.subs[instrumentID]++
	first := m.subs[instrumentID] == 1
	c, open := m.client, m.state == StateOpen
	m.mu.Unlock()

	if first && open && c != nil {
		return m.sendEnvelope(c, Envelope{Type: TypeSubscribe, InstrumentID: instrumentID})
	}
	return nil
}

// Unsubscribe removes a consumer reference. Dropping the last reference sends
// an unsubscribe message only when the transport is open.
func (m *Manager) Unsubscribe(instrumentID string) error {
	m.mu.Lock()
	count, ok := m.subs[instrumentID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	count--
	last := count == 0
	if last {
		delete(m.subs, instrumentID)
	} else {
		m.subs[instrumentID] = count
	}
	c, open := m.client, m.state == StateOpen
	m.mu.Unlock()

	if last && open && c != nil {
		return m.sendEnvelope(c, Envelope{Type: TypeUnsubscribe, InstrumentID: instrumentID})
	}
	return nil
}

// State returns the current transport state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	refs := 0
	for _, n := range m.subs {
		refs += n
	}
	return Stats{
		State:        m.state,
		Instruments:  len(m.subs),
		ConsumerRefs: refs,
		Attempt:      m.attempt,
	}
}

// -----------------------------------------------------------------------------
// Handler registration
// -----------------------------------------------------------------------------

// OnOpen registers a handler invoked after every successful connect.
// The returned func removes the handler; calling it more than once is safe.
func (m *Manager) OnOpen(fn func()) func() {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	id := m.nextHandlerID
	m.nextHandlerID++
	m.openHandlers[id] = fn
	return removeHandler(&m.handlerMu, m.openHandlers, id)
}

// OnClose registers a handler invoked when the transport closes. The error is
// the drop cause, or nil for an explicit Disconnect.
func (m *Manager) OnClose(fn func(error)) func() {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	id := m.nextHandlerID
	m.nextHandlerID++
	m.closeHandlers[id] = fn
	return removeHandler(&m.handlerMu, m.closeHandlers, id)
}

// OnMessage registers a handler invoked for every parsed inbound envelope.
func (m *Manager) OnMessage(fn func(Envelope)) func() {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	id := m.nextHandlerID
	m.nextHandlerID++
	m.msgHandlers[id] = fn
	return removeHandler(&m.handlerMu, m.msgHandlers, id)
}

// OnError registers a handler invoked for transport errors, parse failures,
// server error envelopes, and ErrRetriesExhausted.
func (m *Manager) OnError(fn func(error)) func() {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	id := m.nextHandlerID
	m.nextHandlerID++
	m.errHandlers[id] = fn
	return removeHandler(&m.handlerMu, m.errHandlers, id)
}

// removeHandler builds an idempotent deregistration func for a handler map.
func removeHandler[T any](mu *sync.Mutex, handlers map[int]T, id int) func() {
	return func() {
		mu.Lock()
		delete(handlers, id)
		mu.Unlock()
	}
}

func (m *Manager) notifyOpen() {
	m.handlerMu.Lock()
	fns := make([]func(), 0, len(m.openHandlers))
	for _, fn := range m.openHandlers {
		fns = append(fns, fn)
	}
	m.handlerMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (m *Manager) notifyClose(err error) {
	m.handlerMu.Lock()
	fns := make([]func(error), 0, len(m.closeHandlers))
	for _, fn := range m.closeHandlers {
		fns = append(fns, fn)
	}
	m.handlerMu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

func (m *Manager) notifyMessage(env Envelope) {
	m.handlerMu.Lock()
	fns := make([]func(Envelope), 0, len(m.msgHandlers))
	for _, fn := range m.msgHandlers {
		fns = append(fns, fn)
	}
	m.handlerMu.Unlock()

	for _, fn := range fns {
		fn(env)
	}
}

func (m *Manager) notifyError(err error) {
	m.handlerMu.Lock()
	fns := make([]func(error), 0, len(m.errHandlers))
	for _, fn := range m.errHandlers {
		fns = append(fns, fn)
	}
	m.handlerMu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

// -----------------------------------------------------------------------------
// Transport lifecycle
// -----------------------------------------------------------------------------

func (m *Manager) clientConfig() ClientConfig {
	return ClientConfig{
		URL:          m.cfg.URL,
		AuthToken:    m.cfg.AuthToken,
		PingTimeout:  m.cfg.PingTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		BufferSize:   m.cfg.BufferSize,
	}
}

// dial opens a new transport. On failure it reports the error and schedules
// the next backoff attempt.
func (m *Manager) dial(ctx context.Context) error {
	c := NewClient(m.clientConfig(), m.logger)
	if err := c.Connect(ctx); err != nil {
		m.logger.Warn("feed dial failed", "url", m.cfg.URL, "error", err)
		m.notifyError(err)
		m.scheduleRetry()
		return err
	}

	m.finishOpen(c)
	return nil
}

// finishOpen transitions to Open, resets the failure episode, starts the pump
// and keepalive loops, and replays the desired-subscription set.
func (m *Manager) finishOpen(c Client) {
	m.mu.Lock()
	if m.closed || m.state != StateConnecting {
		// Disconnected or closed while the dial was in flight
		m.mu.Unlock()
		c.Close()
		return
	}
	m.client = c
	m.state = StateOpen
	m.attempt = 0
	stop := make(chan struct{})
	m.stopCh = stop
	instruments := make([]string, 0, len(m.subs))
	for id := range m.subs {
		instruments = append(instruments, id)
	}
	m.mu.Unlock()

	m.wg.Add(2)
	go m.pump(c, stop)
	go m.keepalive(c, stop)

	// Replay: exactly one subscribe per distinct instrument
	sort.Strings(instruments)
	for _, id := range instruments {
		if err := m.sendEnvelope(c, Envelope{Type: TypeSubscribe, InstrumentID: id}); err != nil {
			m.logger.Warn("subscribe replay failed", "instrument", id, "error", err)
		}
	}

	m.logger.Info("feed connected", "url", m.cfg.URL, "instruments", len(instruments))
	m.notifyOpen()
}

// pump routes messages and errors from the transport until it stops.
func (m *Manager) pump(c Client, stop <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-stop:
			return
		case err := <-c.Errors():
			m.handleDrop(err)
			return
		case msg, ok := <-c.Messages():
			if !ok {
				m.handleDrop(ErrNotConnected)
				return
			}
			m.dispatch(msg)
		}
	}
}

// keepalive sends a ping envelope on a fixed interval while the transport is
// open. Liveness is inferred from inbound traffic by the client.
func (m *Manager) keepalive(c Client, stop <-chan struct{}) {
	defer m.wg.Done()

	if m.cfg.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.sendEnvelope(c, Envelope{Type: TypePing}); err != nil {
				m.logger.Debug("keepalive ping failed", "error", err)
			}
		}
	}
}

// dispatch parses a raw message and fans it out to handlers. Parse failures
// go to error handlers only; the connection stays up.
func (m *Manager) dispatch(msg TimestampedMessage) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		m.logger.Warn("unparseable feed message", "error", err)
		m.notifyError(fmt.Errorf("parse message: %w", err))
		return
	}

	if env.Type == TypeError {
		m.notifyError(fmt.Errorf("feed server error: %s", env.Message))
	}

	m.notifyMessage(env)
}

// handleDrop reacts to a transport failure while open.
func (m *Manager) handleDrop(cause error) {
	m.mu.Lock()
	if m.closed || m.state == StateClosing || m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	c := m.client
	m.client = nil
	m.mu.Unlock()

	if c != nil {
		c.Close()
	}

	m.logger.Warn("feed connection lost", "error", cause)
	m.notifyClose(cause)
	m.scheduleRetry()
}

// scheduleRetry advances the failure episode and arms the backoff timer, or
// gives up once the attempt budget is exhausted.
func (m *Manager) scheduleRetry() {
	m.mu.Lock()
	if m.closed || m.state == StateClosing || m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}

	m.attempt++
	if m.attempt > m.cfg.MaxReconnectAttempts {
		attempts := m.attempt - 1
		m.state = StateDisconnected
		m.attempt = 0
		m.mu.Unlock()

		m.logger.Error("feed reconnect budget exhausted", "attempts", attempts)
		m.notifyError(ErrRetriesExhausted)
		return
	}

	delay := backoffDelay(m.cfg.ReconnectBaseDelay, m.attempt)
	m.state = StateBackoff
	ctx := m.ctx
	attempt := m.attempt
	m.retryTimer = time.AfterFunc(delay, func() { m.retry(ctx) })
	m.mu.Unlock()

	m.logger.Info("feed reconnecting", "attempt", attempt, "delay", delay)
}

// retry is invoked by the backoff timer.
func (m *Manager) retry(ctx context.Context) {
	m.mu.Lock()
	if m.closed || m.state != StateBackoff {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.retryTimer = nil
	m.mu.Unlock()

	m.dial(ctx)
}

// sendEnvelope marshals and writes one envelope to the transport.
func (m *Manager) sendEnvelope(c Client, env Envelope) error {
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// backoffDelay computes the delay before reconnect attempt n (1-based):
// base * 2^(n-1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}
