package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/broadcast"
)

type stubMetrics struct {
	mu      sync.Mutex
	errors  map[string]int
	updates map[string]int
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{errors: map[string]int{}, updates: map[string]int{}}
}

func (m *stubMetrics) RecordUpdate(source, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[source]++
}

func (m *stubMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *stubMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func (m *stubMetrics) RecordLastPrice(string, float64) {}
func (m *stubMetrics) RecordLatency(string, float64)   {}
func (m *stubMetrics) SetSubscribers(int)              {}
func (m *stubMetrics) RecordDropped(int)               {}

type result struct {
	q   *models.Quote
	err error
}

// scriptedProvider answers FetchQuote from per-symbol queues; the last entry repeats.
type scriptedProvider struct {
	mu     sync.Mutex
	script map[string][]result
	calls  []string
	times  []time.Time
}

func (p *scriptedProvider) FetchQuote(_ context.Context, symbol string) (*models.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, symbol)
	p.times = append(p.times, time.Now())
	rs := p.script[symbol]
	if len(rs) == 0 {
		return nil, errors.New("unknown symbol")
	}
	r := rs[0]
	if len(rs) > 1 {
		p.script[symbol] = rs[1:]
	}
	return r.q, r.err
}

func (p *scriptedProvider) set(symbol string, rs ...result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script[symbol] = rs
}

func (p *scriptedProvider) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func ok(price, change float64) result {
	return result{q: &models.Quote{Price: price, ChangePercent: change}}
}

func fail(msg string) result { return result{err: errors.New(msg)} }

type recordingUpdateSink struct {
	mu  sync.Mutex
	got []string
}

func (s *recordingUpdateSink) Enqueue(u models.QuoteUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, u.Symbol)
	return true
}

func newScheduler(t *testing.T, p *scriptedProvider, hub Ingester, cfg SchedulerConfig, opts ...SchedulerOption) *QuoteScheduler {
	t.Helper()
	if cfg.Spacing == 0 {
		cfg.Spacing = time.Millisecond
	}
	if cfg.CanarySymbol == "" {
		cfg.CanarySymbol = "AAPL"
	}
	return NewQuoteScheduler(cfg, p, hub, newStubMetrics(), opts...)
}

func drain(sub *broadcast.Subscription) []models.QuoteUpdate {
	var out []models.QuoteUpdate
	for {
		select {
		case u := <-sub.C:
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestRunCycleIsolatesFailures(t *testing.T) {
	p := &scriptedProvider{script: map[string][]result{
		"A": {ok(10, 1)},
		"B": {fail("boom")},
		"C": {ok(30, -1)},
	}}
	hub := broadcast.New()
	sink := &recordingUpdateSink{}
	s := newScheduler(t, p, hub, SchedulerConfig{Symbols: []string{"A", "B", "C"}}, WithSink(sink))

	res, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleResult{Fetched: 2, Failed: 1}, CycleResult{Fetched: res.Fetched, Skipped: res.Skipped, Failed: res.Failed})

	_, okA := hub.Get("A")
	_, okB := hub.Get("B")
	_, okC := hub.Get("C")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
	assert.Equal(t, []string{"A", "B", "C"}, p.callLog())
	assert.Equal(t, []string{"A", "C"}, sink.got)
}

func TestRunCycleSkipsMissingPrice(t *testing.T) {
	p := &scriptedProvider{script: map[string][]result{
		"A": {{q: nil}},
		"B": {ok(0, 0)},
		"C": {ok(5, 0)},
	}}
	hub := broadcast.New()
	m := newStubMetrics()
	s := NewQuoteScheduler(SchedulerConfig{Symbols: []string{"A", "B", "C"}, Spacing: time.Millisecond}, p, hub, m)

	res, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, res.Failed)
	assert.Zero(t, m.errorCount("fetch"), "missing price is not an error")
	assert.Equal(t, 1, hub.Len())
}

func TestRunCycleIsPaced(t *testing.T) {
	p := &scriptedProvider{script: map[string][]result{"A": {ok(1, 0)}, "B": {ok(1, 0)}, "C": {ok(1, 0)}, "D": {ok(1, 0)}}}
	s := newScheduler(t, p, broadcast.New(), SchedulerConfig{Symbols: []string{"A", "B", "C", "D"}, Spacing: 20 * time.Millisecond})

	_, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	for i := 1; i < len(p.times); i++ {
		assert.GreaterOrEqual(t, p.times[i].Sub(p.times[i-1]), 15*time.Millisecond)
	}
}

func TestRunCycleStopsOnCancel(t *testing.T) {
	p := &scriptedProvider{script: map[string][]result{"A": {ok(1, 0)}, "B": {ok(1, 0)}}}
	s := newScheduler(t, p, broadcast.New(), SchedulerConfig{Symbols: []string{"A", "B"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.callLog())
}

func TestInitFailsOnCanaryError(t *testing.T) {
	p := &scriptedProvider{script: map[string][]result{"AAPL": {fail("dns: no such host")}}}
	s := newScheduler(t, p, broadcast.New(), SchedulerConfig{Symbols: []string{"TCS.NS"}})

	err := s.Init(context.Background())
	assert.ErrorIs(t, err, ErrInitFailed)
	assert.Equal(t, []string{"AAPL"}, p.callLog(), "a single canary attempt by default")
}

func TestInitFailsWhenCanaryHasNoPrice(t *testing.T) {
	p := &scriptedProvider{script: map[string][]result{"AAPL": {{q: nil}}}}
	s := newScheduler(t, p, broadcast.New(), SchedulerConfig{Symbols: []string{"TCS.NS"}})

	assert.ErrorIs(t, s.Init(context.Background()), ErrInitFailed)
}

func TestInitRetriesWhenConfigured(t *testing.T) {
	p := &scriptedProvider{script: map[string][]result{"AAPL": {fail("timeout"), ok(230, 0.4)}}}
	s := newScheduler(t, p, broadcast.New(), SchedulerConfig{Symbols: []string{"TCS.NS"}, CanaryAttempts: 2})

	require.NoError(t, s.Init(context.Background()))
	assert.Equal(t, []string{"AAPL", "AAPL"}, p.callLog())
}

func TestStartFailsWithoutRunningCycle(t *testing.T) {
	p := &scriptedProvider{script: map[string][]result{"AAPL": {fail("unreachable")}, "TCS.NS": {ok(1, 0)}}}
	hub := broadcast.New()
	s := newScheduler(t, p, hub, SchedulerConfig{Symbols: []string{"TCS.NS"}})

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrInitFailed)
	assert.Zero(t, hub.Len())
	s.Stop()
}

func TestStartPopulatesCacheBeforeReturning(t *testing.T) {
	p := &scriptedProvider{script: map[string][]result{
		"AAPL":    {ok(230, 0.4)},
		"TCS.NS":  {ok(3500, 1.2)},
		"INFY.NS": {ok(1500, -0.3)},
	}}
	hub := broadcast.New()
	s := newScheduler(t, p, hub, SchedulerConfig{Symbols: []string{"TCS.NS", "INFY.NS"}, Interval: time.Hour})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, 2, hub.Len())
	assert.Error(t, s.Start(context.Background()), "second start is rejected")
}

func TestStartKeepsCyclingAndStopIsIdempotent(t *testing.T) {
	p := &scriptedProvider{script: map[string][]result{"AAPL": {ok(230, 0)}, "TCS.NS": {ok(3500, 1.2)}}}
	s := newScheduler(t, p, broadcast.New(), SchedulerConfig{Symbols: []string{"TCS.NS"}, Interval: 10 * time.Millisecond})

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(p.callLog()) >= 4 }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	n := len(p.callLog())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(p.callLog()), "no fetches after Stop")
}

// Two-cycle walkthrough over TCS.NS and INFY.NS with one subscriber joining in between.
func TestTwoCycleReplayThenLive(t *testing.T) {
	p := &scriptedProvider{script: map[string][]result{
		"TCS.NS":  {ok(3500.0, 1.2)},
		"INFY.NS": {fail("HTTP 500")},
	}}
	hub := broadcast.New()
	clock := time.Date(2024, 10, 10, 9, 15, 0, 0, time.UTC)
	s := newScheduler(t, p, hub, SchedulerConfig{Symbols: []string{"TCS.NS", "INFY.NS"}},
		WithClock(func() time.Time { return clock }))

	_, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	snap := hub.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "TCS.NS", snap[0].Symbol)
	assert.Equal(t, 3500.0, snap[0].Quote.Price)

	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)
	replayed := drain(sub)
	require.Len(t, replayed, 1)
	assert.Equal(t, "TCS.NS", replayed[0].Symbol)

	// cycle 2: TCS.NS has nothing new, INFY.NS recovers
	clock = clock.Add(time.Minute)
	p.set("TCS.NS", result{q: nil})
	p.set("INFY.NS", ok(1500.0, -0.3))
	_, err = s.RunCycle(context.Background())
	require.NoError(t, err)

	live := drain(sub)
	require.Len(t, live, 1)
	assert.Equal(t, "INFY.NS", live[0].Symbol)
	assert.Equal(t, 1500.0, live[0].Quote.Price)
	assert.Equal(t, -0.3, live[0].Quote.ChangePercent)
	assert.Equal(t, 2, hub.Len())
}
