package broadcast

import (
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/logger"
)

const defaultBufferSize = 64

// Subscription is the hub-owned delivery handle for one viewer.
// Updates arrive on C; the channel is closed on Unsubscribe.
type Subscription struct {
	ID string
	C  <-chan models.QuoteUpdate

	mu      sync.Mutex
	ch      chan models.QuoteUpdate
	closed  bool
	dropped uint64
}

// Dropped returns how many updates were discarded because the subscriber fell behind.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// deliver never blocks. A full buffer loses its oldest entry.
func (s *Subscription) deliver(u models.QuoteUpdate) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.ch <- u:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
			dropped = true
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Hub owns the replay cache and the subscriber registry. Ingest is the only write path.
type Hub struct {
	mu      sync.RWMutex
	cache   map[string]models.QuoteUpdate
	subs    map[string]*Subscription
	bufSize int

	log     *logger.Logger
	metrics drepo.Metrics
}

type Option func(*Hub)

// WithBufferSize sets the live buffer of each subscription.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufSize = n
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

func WithMetrics(m drepo.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

func New(opts ...Option) *Hub {
	h := &Hub{
		cache:   make(map[string]models.QuoteUpdate),
		subs:    make(map[string]*Subscription),
		bufSize: defaultBufferSize,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Ingest upserts u into the replay cache and fans it out to every subscriber.
// It returns false when u is older than the cached entry for its symbol.
func (h *Hub) Ingest(u models.QuoteUpdate) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.cache[u.Symbol]; ok && cur.NewerThan(u) {
		h.log.Debug("stale update rejected",
			logger.String("symbol", u.Symbol),
			logger.Time("observed_at", u.ObservedAt),
			logger.Time("cached_at", cur.ObservedAt),
		)
		return false
	}
	h.cache[u.Symbol] = u

	drops := 0
	for _, s := range h.subs {
		if s.deliver(u) {
			drops++
		}
	}
	if drops > 0 && h.metrics != nil {
		h.metrics.RecordDropped(drops)
	}
	return true
}

// Subscribe registers a new subscription and replays the cache into it. The replay
// completes under the write lock, so no live update can overtake it.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.QuoteUpdate, h.bufSize+len(h.cache))
	s := &Subscription{ID: ulid.Make().String(), C: ch, ch: ch}
	for _, u := range h.cache {
		ch <- u
	}
	h.subs[s.ID] = s
	h.log.Debug("subscriber added",
		logger.String("id", s.ID),
		logger.Int("replayed", len(h.cache)),
		logger.Int("subscribers", len(h.subs)),
	)
	if h.metrics != nil {
		h.metrics.SetSubscribers(len(h.subs))
	}
	return s
}

// Unsubscribe removes s and closes its channel. Unknown or nil subscriptions are ignored.
func (h *Hub) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	h.mu.Lock()
	cur, ok := h.subs[s.ID]
	if ok && cur == s {
		delete(h.subs, s.ID)
	}
	n := len(h.subs)
	h.mu.Unlock()

	if !ok || cur != s {
		return
	}
	s.close()
	h.log.Debug("subscriber removed", logger.String("id", s.ID), logger.Int("subscribers", n))
	if h.metrics != nil {
		h.metrics.SetSubscribers(n)
	}
}

// Snapshot returns a copy of the replay cache ordered by symbol.
func (h *Hub) Snapshot() []models.QuoteUpdate {
	h.mu.RLock()
	out := make([]models.QuoteUpdate, 0, len(h.cache))
	for _, u := range h.cache {
		out = append(out, u)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Get returns the cached update for symbol.
func (h *Hub) Get(symbol string) (models.QuoteUpdate, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	u, ok := h.cache[symbol]
	return u, ok
}

// Len is the number of cached symbols.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.cache)
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
