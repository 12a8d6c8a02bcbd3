package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/logger"
)

var (
	ErrClosed         = errors.New("feed: manager closed")
	ErrAlreadyStarted = errors.New("feed: manager already started")
)

// PushConn is an open push transport. ReadMessage blocks until the next frame
// and returns an error once the transport is gone.
type PushConn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

type PushDialer interface {
	Dial(ctx context.Context) (PushConn, error)
}

// SnapshotFetcher pulls the current replay cache from the snapshot endpoint.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context) ([]models.QuoteUpdate, error)
}

type Option func(*Manager)

func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.reconnectDelay = d
		}
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.fetchTimeout = d
		}
	}
}

// WithStateListener registers a callback run on the manager goroutine after every transition.
func WithStateListener(fn func(from, to State)) Option {
	return func(m *Manager) { m.onState = fn }
}

func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

type eventKind int

const (
	evDialed eventKind = iota
	evFrame
	evPushDown
	evPolled
)

type event struct {
	kind      eventKind
	gen       uint64
	conn      PushConn
	update    models.QuoteUpdate
	updates   []models.QuoteUpdate
	issuedSeq uint64
	err       error
}

// Manager keeps one viewer's feed alive. It prefers the push transport and falls back to
// polling the snapshot endpoint while push is down. All state is owned by a single goroutine;
// transport readers, dials and polls only post events to it.
type Manager struct {
	dialer   PushDialer
	fetcher  SnapshotFetcher
	onUpdate func(models.QuoteUpdate)
	onState  func(from, to State)
	log      *logger.Logger

	pollInterval   time.Duration
	reconnectDelay time.Duration
	fetchTimeout   time.Duration

	state  atomic.Int32
	events chan event
	done   chan struct{}

	mu        sync.Mutex
	cancel    context.CancelFunc
	closeOnce sync.Once

	// owned by run
	conn       PushConn
	connGen    uint64
	dialing    bool
	polling    bool
	pollGen    uint64
	pollCancel context.CancelFunc
	pollTicker *time.Ticker
	reconnect  *time.Timer
	pushSeq    uint64
	lastPush   map[string]uint64
	lastSeen   map[string]time.Time
}

// New creates a manager in the Connecting state. onUpdate is only ever called from the
// manager goroutine and must not call Close.
func New(dialer PushDialer, fetcher SnapshotFetcher, onUpdate func(models.QuoteUpdate), opts ...Option) *Manager {
	m := &Manager{
		dialer:         dialer,
		fetcher:        fetcher,
		onUpdate:       onUpdate,
		log:            logger.Nop(),
		pollInterval:   30 * time.Second,
		reconnectDelay: 5 * time.Second,
		fetchTimeout:   10 * time.Second,
		events:         make(chan event),
		done:           make(chan struct{}),
		lastPush:       make(map[string]uint64),
		lastSeen:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state.Store(int32(Connecting))
	return m
}

func (m *Manager) State() State { return State(m.state.Load()) }

// Done is closed once the manager has reached Closed and released its transport.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Start opens the push transport in the background. Cancelling ctx has the same effect as Close.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() == Closed {
		return ErrClosed
	}
	if m.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
	return nil
}

// Close tears the manager down and waits until no further onUpdate call can happen.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		cancel := m.cancel
		if cancel == nil {
			m.state.Store(int32(Closed))
			close(m.done)
		}
		m.mu.Unlock()
		if cancel != nil {
			cancel()
			<-m.done
		}
	})
	return nil
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer m.shutdown()

	m.dial(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.handle(ctx, ev)
		case <-m.pollC():
			m.poll(ctx)
		case <-m.reconnectC():
			m.reconnect = nil
			m.dial(ctx)
		}
	}
}

func (m *Manager) handle(ctx context.Context, ev event) {
	if ctx.Err() != nil {
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
		return
	}

	switch ev.kind {
	case evDialed:
		m.onDialed(ctx, ev)
	case evFrame:
		if ev.gen == m.connGen && m.conn != nil {
			m.deliverPush(ev.update)
		}
	case evPushDown:
		if ev.gen != m.connGen || m.conn == nil {
			return
		}
		m.log.Warn("push transport closed", logger.Error(ev.err))
		_ = m.conn.Close()
		m.conn = nil
		m.degrade(ctx)
	case evPolled:
		if ev.gen != m.pollGen {
			return
		}
		m.polling = false
		m.pollCancel = nil
		if ev.err != nil {
			m.log.Warn("snapshot poll failed", logger.Error(ev.err))
			return
		}
		m.deliverSnapshot(ev.updates, ev.issuedSeq)
	}
}

func (m *Manager) onDialed(ctx context.Context, ev event) {
	m.dialing = false
	if ev.gen != m.connGen {
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
		return
	}
	if ev.err != nil {
		m.log.Warn("push transport unavailable", logger.Error(ev.err))
		m.degrade(ctx)
		return
	}

	m.conn = ev.conn
	m.stopPolling()
	m.stopReconnect()
	m.setState(Live)
	go m.readLoop(ctx, ev.gen, ev.conn)
}

// degrade enters Degraded (pulling once immediately and arming the poll ticker) and
// schedules the next push re-open attempt. A pull still running from an earlier Degraded
// period is replaced, since it predates everything pushed while Live.
func (m *Manager) degrade(ctx context.Context) {
	if m.State() != Degraded {
		m.setState(Degraded)
		m.abandonPoll()
		m.poll(ctx)
		m.pollTicker = time.NewTicker(m.pollInterval)
	}
	if m.reconnect == nil && !m.dialing {
		m.reconnect = time.NewTimer(m.reconnectDelay)
	}
}

func (m *Manager) dial(ctx context.Context) {
	if m.dialing {
		return
	}
	m.dialing = true
	m.connGen++
	gen := m.connGen
	go func() {
		conn, err := m.dialer.Dial(ctx)
		if !m.post(ctx, event{kind: evDialed, gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (m *Manager) poll(ctx context.Context) {
	if m.polling {
		return
	}
	m.polling = true
	m.pollGen++
	gen, issued := m.pollGen, m.pushSeq
	pctx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	m.pollCancel = cancel
	go func() {
		defer cancel()
		updates, err := m.fetcher.FetchSnapshot(pctx)
		m.post(ctx, event{kind: evPolled, gen: gen, updates: updates, issuedSeq: issued, err: err})
	}()
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn PushConn) {
	for {
		b, err := conn.ReadMessage()
		if err != nil {
			m.post(ctx, event{kind: evPushDown, gen: gen, err: err})
			return
		}
		u, err := models.ParseStreamMessage(b)
		if err != nil {
			m.log.Warn("dropping malformed push message", logger.Error(err))
			continue
		}
		if !m.post(ctx, event{kind: evFrame, gen: gen, update: u}) {
			return
		}
	}
}

// post hands ev to the manager goroutine. It fails once the manager is shutting down.
func (m *Manager) post(ctx context.Context, ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) deliverPush(u models.QuoteUpdate) {
	if m.deliver(u) {
		m.pushSeq++
		m.lastPush[u.Symbol] = m.pushSeq
	}
}

// deliverSnapshot skips symbols a push delivery has superseded since the poll was issued.
func (m *Manager) deliverSnapshot(updates []models.QuoteUpdate, issued uint64) {
	for _, u := range updates {
		if m.lastPush[u.Symbol] > issued {
			continue
		}
		m.deliver(u)
	}
}

// deliver enforces a strictly increasing observedAt per symbol.
func (m *Manager) deliver(u models.QuoteUpdate) bool {
	if last, ok := m.lastSeen[u.Symbol]; ok && !u.ObservedAt.After(last) {
		return false
	}
	m.lastSeen[u.Symbol] = u.ObservedAt
	if m.onUpdate != nil {
		m.onUpdate(u)
	}
	return true
}

func (m *Manager) setState(to State) {
	from := m.State()
	if from == to {
		return
	}
	if !canTransition(from, to) {
		m.log.Warn("ignoring feed transition", logger.String("from", from.String()), logger.String("to", to.String()))
		return
	}
	m.state.Store(int32(to))
	m.log.Info("feed state changed", logger.String("from", from.String()), logger.String("to", to.String()))
	if m.onState != nil {
		m.onState(from, to)
	}
}

func (m *Manager) shutdown() {
	m.stopPolling()
	m.stopReconnect()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.setState(Closed)
}

func (m *Manager) stopPolling() {
	if m.pollTicker != nil {
		m.pollTicker.Stop()
		m.pollTicker = nil
	}
}

// abandonPoll cancels an in-flight pull. Its response no longer matches pollGen and is dropped.
func (m *Manager) abandonPoll() {
	if m.pollCancel != nil {
		m.pollCancel()
		m.pollCancel = nil
	}
	m.polling = false
}

func (m *Manager) stopReconnect() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) pollC() <-chan time.Time {
	if m.pollTicker == nil {
		return nil
	}
	return m.pollTicker.C
}

func (m *Manager) reconnectC() <-chan time.Time {
	if m.reconnect == nil {
		return nil
	}
	return m.reconnect.C
}
