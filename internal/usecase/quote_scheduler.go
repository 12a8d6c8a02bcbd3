package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/ratelimit"
	"MarketPulse/pkg/logger"
)

// ErrInitFailed is returned by Init and Start when the canary fetch fails.
var ErrInitFailed = errors.New("upstream canary failed")

const upstreamKey = "upstream"

// Ingester is the write side of the broadcast hub.
type Ingester interface {
	Ingest(u models.QuoteUpdate) bool
}

// UpdateSink receives every accepted update. It must not block.
type UpdateSink interface {
	Enqueue(u models.QuoteUpdate) bool
}

type SchedulerConfig struct {
	Symbols        []string
	Interval       time.Duration
	Spacing        time.Duration
	FetchTimeout   time.Duration
	CanarySymbol   string
	CanaryTimeout  time.Duration
	CanaryAttempts int
}

// CycleResult summarises one pass over the symbol set.
type CycleResult struct {
	Fetched  int
	Skipped  int
	Failed   int
	Duration time.Duration
}

type SchedulerOption func(*QuoteScheduler)

func WithSink(s UpdateSink) SchedulerOption {
	return func(q *QuoteScheduler) { q.sink = s }
}

func WithSchedulerLogger(l *logger.Logger) SchedulerOption {
	return func(q *QuoteScheduler) {
		if l != nil {
			q.log = l
		}
	}
}

func WithClock(now func() time.Time) SchedulerOption {
	return func(q *QuoteScheduler) {
		if now != nil {
			q.now = now
		}
	}
}

func WithLimiter(l *ratelimit.Limiter) SchedulerOption {
	return func(q *QuoteScheduler) {
		if l != nil {
			q.limiter = l
		}
	}
}

// QuoteScheduler polls the upstream for every tracked symbol on a fixed cadence
// and ingests each usable quote into the hub.
type QuoteScheduler struct {
	cfg      SchedulerConfig
	provider drepo.QuoteProvider
	hub      Ingester
	sink     UpdateSink
	metrics  drepo.Metrics
	limiter  *ratelimit.Limiter
	log      *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQuoteScheduler creates a scheduler. Zero durations in cfg fall back to defaults.
func NewQuoteScheduler(cfg SchedulerConfig, provider drepo.QuoteProvider, hub Ingester, metrics drepo.Metrics, opts ...SchedulerOption) *QuoteScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Spacing <= 0 {
		cfg.Spacing = 250 * time.Millisecond
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.CanaryTimeout <= 0 {
		cfg.CanaryTimeout = 15 * time.Second
	}
	if cfg.CanaryAttempts < 1 {
		cfg.CanaryAttempts = 1
	}
	if cfg.CanarySymbol == "" && len(cfg.Symbols) > 0 {
		cfg.CanarySymbol = cfg.Symbols[0]
	}

	s := &QuoteScheduler{
		cfg:      cfg,
		provider: provider,
		hub:      hub,
		metrics:  metrics,
		limiter:  ratelimit.New(),
		log:      logger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init performs the canary fetch. Any failure is fatal for the hosting process.
func (s *QuoteScheduler) Init(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.CanaryAttempts; attempt++ {
		if err := s.pace(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrInitFailed, err)
		}

		cctx, cancel := context.WithTimeout(ctx, s.cfg.CanaryTimeout)
		q, err := s.provider.FetchQuote(cctx, s.cfg.CanarySymbol)
		cancel()

		switch {
		case err != nil:
			lastErr = err
		case !q.HasPrice():
			lastErr = fmt.Errorf("no price for %s", s.cfg.CanarySymbol)
		default:
			s.log.Info("upstream canary ok",
				logger.String("symbol", s.cfg.CanarySymbol),
				logger.Float64("price", q.Price),
				logger.Int("attempt", attempt),
			)
			return nil
		}

		s.metrics.RecordError("canary")
		s.log.Warn("upstream canary failed",
			logger.String("symbol", s.cfg.CanarySymbol),
			logger.Int("attempt", attempt),
			logger.Int("attempts", s.cfg.CanaryAttempts),
			logger.Error(lastErr),
		)
	}
	return fmt.Errorf("%w: %s: %v", ErrInitFailed, s.cfg.CanarySymbol, lastErr)
}

// RunCycle fetches every symbol once, paced by the configured spacing. A failed or
// empty symbol never aborts the cycle; only ctx cancellation does.
func (s *QuoteScheduler) RunCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	var res CycleResult

	for _, sym := range s.cfg.Symbols {
		if err := s.pace(ctx); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}

		fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		fetchStart := time.Now()
		q, err := s.provider.FetchQuote(fctx, sym)
		cancel()
		s.metrics.RecordLatency("fetch", time.Since(fetchStart).Seconds())

		if err != nil {
			res.Failed++
			s.metrics.RecordError("fetch")
			s.log.Warn("quote fetch failed", logger.String("symbol", sym), logger.Error(err))
			continue
		}
		if !q.HasPrice() {
			res.Skipped++
			s.log.Debug("no price this cycle", logger.String("symbol", sym))
			continue
		}

		u := models.QuoteUpdate{Symbol: sym, Quote: *q, ObservedAt: s.now()}
		if s.hub.Ingest(u) {
			s.metrics.RecordUpdate(upstreamKey, sym)
			s.metrics.RecordLastPrice(sym, q.Price)
			if s.sink != nil {
				s.sink.Enqueue(u)
			}
		}
		res.Fetched++
	}

	res.Duration = time.Since(start)
	s.metrics.RecordLatency("cycle", res.Duration.Seconds())
	return res, nil
}

// Start runs Init and one full cycle before returning, then keeps cycling on the
// configured interval until Stop or ctx cancellation.
func (s *QuoteScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.Init(runCtx); err != nil {
		return err
	}

	res, err := s.RunCycle(runCtx)
	if err != nil {
		return fmt.Errorf("initial cycle: %w", err)
	}
	s.logCycle("initial cycle complete", res)

	s.wg.Add(1)
	go s.loop(runCtx)
	return nil
}

// Stop cancels the cycle loop and waits for it to exit. Safe to call more than once.
func (s *QuoteScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Symbols returns the tracked symbol set.
func (s *QuoteScheduler) Symbols() []string {
	return append([]string(nil), s.cfg.Symbols...)
}

func (s *QuoteScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.RunCycle(ctx)
			if err != nil {
				return
			}
			s.logCycle("cycle complete", res)
		}
	}
}

func (s *QuoteScheduler) pace(ctx context.Context) error {
	capacity, rate := ratelimit.Spacing(s.cfg.Spacing)
	return s.limiter.Wait(ctx, upstreamKey, capacity, rate)
}

func (s *QuoteScheduler) logCycle(msg string, res CycleResult) {
	s.log.Info(msg,
		logger.Int("fetched", res.Fetched),
		logger.Int("skipped", res.Skipped),
		logger.Int("failed", res.Failed),
		logger.Duration("took", res.Duration),
	)
}
