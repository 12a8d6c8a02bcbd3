package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/cache"
)

var (
	ErrNoQuote         = errors.New("no quote for symbol")
	ErrHistoryDisabled = errors.New("quote history storage is not configured")
	ErrInvalidRange    = errors.New("invalid time range")
)

type MarketDataTTL struct {
	Quote   time.Duration
	History time.Duration
	Search  time.Duration
}

// MarketData serves the on-demand quote, history and search lookups through the response cache.
type MarketData struct {
	provider drepo.MarketDataProvider
	cache    cache.Service
	store    drepo.Storage
	metrics  drepo.Metrics
	ttl      MarketDataTTL
	now      func() time.Time
}

// NewMarketData creates the usecase. store may be nil when no history backend is configured.
func NewMarketData(provider drepo.MarketDataProvider, c cache.Service, store drepo.Storage, metrics drepo.Metrics, ttl MarketDataTTL) *MarketData {
	return &MarketData{provider: provider, cache: c, store: store, metrics: metrics, ttl: ttl, now: time.Now}
}

// Quote returns the current quote fields for symbol.
func (m *MarketData) Quote(ctx context.Context, symbol string) (map[string]any, error) {
	key := cache.GenerateKeyWithParams("quote", symbol)
	return loadCached(ctx, m, "quote", key, m.ttl.Quote, func(ctx context.Context) (map[string]any, error) {
		q, err := m.provider.FetchQuote(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if !q.HasPrice() {
			return nil, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
		}
		out := make(map[string]any, len(q.Extra)+3)
		for k, v := range q.Extra {
			out[k] = v
		}
		out["symbol"] = symbol
		out["regularMarketPrice"] = q.Price
		out["regularMarketChangePercent"] = q.ChangePercent
		return out, nil
	})
}

// Summary returns the extended quote fields for symbol.
func (m *MarketData) Summary(ctx context.Context, symbol string) (map[string]any, error) {
	key := cache.GenerateKeyWithParams("summary", symbol)
	return loadCached(ctx, m, "summary", key, m.ttl.Quote, func(ctx context.Context) (map[string]any, error) {
		s, err := m.provider.Summary(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
		}
		return s, nil
	})
}

// History returns daily bars for the named range. Unknown ranges fall back to one month.
func (m *MarketData) History(ctx context.Context, symbol, rng string) ([]models.Bar, error) {
	r := drepo.NormalizeRange(rng)
	key := cache.GenerateKeyWithParams("history", symbol, r)
	return loadCached(ctx, m, "history", key, m.ttl.History, func(ctx context.Context) ([]models.Bar, error) {
		now := m.now()
		return m.provider.History(ctx, symbol, r.Start(now), now)
	})
}

// Search returns NSE and BSE equities matching q.
func (m *MarketData) Search(ctx context.Context, q string) ([]models.SearchResult, error) {
	q = strings.TrimSpace(q)
	key := cache.GenerateKeyWithParams("search", cache.HashKey(strings.ToLower(q)))
	return loadCached(ctx, m, "search", key, m.ttl.Search, func(ctx context.Context) ([]models.SearchResult, error) {
		all, err := m.provider.Search(ctx, q)
		if err != nil {
			return nil, err
		}
		out := make([]models.SearchResult, 0, len(all))
		for _, r := range all {
			if isDomesticEquity(r) {
				out = append(out, r)
			}
		}
		return out, nil
	})
}

// StoredHistory reads previously ingested updates from the history store.
func (m *MarketData) StoredHistory(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.QuoteUpdate, error) {
	if m.store == nil {
		return nil, ErrHistoryDisabled
	}
	if to.IsZero() {
		to = m.now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidRange, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return m.store.Query(ctx, symbol, from, to, limit)
}

func loadCached[T any](ctx context.Context, m *MarketData, op, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, hit, err := cache.GetOrLoad(ctx, m.cache, key, ttl, fn)
	if err != nil {
		m.metrics.RecordError("api_" + op)
		return v, err
	}
	if !hit {
		m.metrics.RecordLatency("upstream_"+op, time.Since(start).Seconds())
	}
	return v, nil
}

func isDomesticEquity(r models.SearchResult) bool {
	if r.QuoteType != "EQUITY" {
		return false
	}
	return strings.HasSuffix(r.Symbol, ".NS") || strings.HasSuffix(r.Symbol, ".BO")
}
