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
	"MarketPulse/pkg/cache"
)

type fakeMarket struct {
	mu       sync.Mutex
	quote    *models.Quote
	bars     []models.Bar
	results  []models.SearchResult
	err      error
	calls    map[string]int
	lastFrom time.Time
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{calls: map[string]int{}}
}

func (f *fakeMarket) hit(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

func (f *fakeMarket) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeMarket) FetchQuote(context.Context, string) (*models.Quote, error) {
	f.hit("quote")
	return f.quote, f.err
}

func (f *fakeMarket) Summary(_ context.Context, symbol string) (map[string]any, error) {
	f.hit("summary")
	if f.err != nil || f.quote == nil {
		return nil, f.err
	}
	return map[string]any{"symbol": symbol, "regularMarketPrice": f.quote.Price}, nil
}

func (f *fakeMarket) History(_ context.Context, _ string, from, _ time.Time) ([]models.Bar, error) {
	f.hit("history")
	f.mu.Lock()
	f.lastFrom = from
	f.mu.Unlock()
	return f.bars, f.err
}

func (f *fakeMarket) Search(context.Context, string) ([]models.SearchResult, error) {
	f.hit("search")
	return f.results, f.err
}

func newMarketData(t *testing.T, p *fakeMarket) *MarketData {
	t.Helper()
	c := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = c.Close() })
	return NewMarketData(p, c, nil, newStubMetrics(), MarketDataTTL{
		Quote:   time.Minute,
		History: time.Hour,
		Search:  time.Hour,
	})
}

func TestMarketDataQuoteIsCached(t *testing.T) {
	p := newFakeMarket()
	p.quote = &models.Quote{Price: 3912.5, ChangePercent: 1.25, Extra: map[string]any{"shortName": "TCS"}}
	md := newMarketData(t, p)

	first, err := md.Quote(context.Background(), "TCS.NS")
	require.NoError(t, err)
	assert.Equal(t, "TCS.NS", first["symbol"])
	assert.Equal(t, 3912.5, first["regularMarketPrice"])
	assert.Equal(t, "TCS", first["shortName"])

	second, err := md.Quote(context.Background(), "TCS.NS")
	require.NoError(t, err)
	assert.Equal(t, 3912.5, second["regularMarketPrice"])
	assert.Equal(t, 1, p.count("quote"))
}

func TestMarketDataQuoteWithoutPrice(t *testing.T) {
	p := newFakeMarket()
	md := newMarketData(t, p)

	_, err := md.Quote(context.Background(), "NOPE.NS")
	assert.ErrorIs(t, err, ErrNoQuote)

	_, err = md.Summary(context.Background(), "NOPE.NS")
	assert.ErrorIs(t, err, ErrNoQuote)
}

func TestMarketDataErrorsAreNotCached(t *testing.T) {
	p := newFakeMarket()
	p.err = errors.New("upstream down")
	md := newMarketData(t, p)

	_, err := md.Quote(context.Background(), "TCS.NS")
	require.Error(t, err)

	p.err = nil
	p.quote = &models.Quote{Price: 3900}
	got, err := md.Quote(context.Background(), "TCS.NS")
	require.NoError(t, err)
	assert.Equal(t, 3900.0, got["regularMarketPrice"])
	assert.Equal(t, 2, p.count("quote"))
}

func TestMarketDataHistoryNormalizesRange(t *testing.T) {
	p := newFakeMarket()
	p.bars = []models.Bar{{Close: 3900}}
	md := newMarketData(t, p)
	now := time.Date(2024, 10, 10, 9, 0, 0, 0, time.UTC)
	md.now = func() time.Time { return now }

	bars, err := md.History(context.Background(), "TCS.NS", "bogus")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, now.AddDate(0, -1, 0), p.lastFrom)

	// "bogus" and "1mo" share a cache entry
	_, err = md.History(context.Background(), "TCS.NS", "1mo")
	require.NoError(t, err)
	assert.Equal(t, 1, p.count("history"))

	_, err = md.History(context.Background(), "TCS.NS", "5d")
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -5), p.lastFrom)
	assert.Equal(t, 2, p.count("history"))
}

func TestMarketDataSearchFiltersDomesticEquities(t *testing.T) {
	p := newFakeMarket()
	p.results = []models.SearchResult{
		{Symbol: "INFY.NS", QuoteType: "EQUITY"},
		{Symbol: "INFY.BO", QuoteType: "EQUITY"},
		{Symbol: "INFY", QuoteType: "EQUITY"},
		{Symbol: "NIFTYBEES.NS", QuoteType: "ETF"},
	}
	md := newMarketData(t, p)

	got, err := md.Search(context.Background(), "  Infosys ")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "INFY.NS", got[0].Symbol)
	assert.Equal(t, "INFY.BO", got[1].Symbol)

	_, err = md.Search(context.Background(), "infosys")
	require.NoError(t, err)
	assert.Equal(t, 1, p.count("search"))
}

func TestMarketDataStoredHistory(t *testing.T) {
	md := newMarketData(t, newFakeMarket())

	_, err := md.StoredHistory(context.Background(), "TCS.NS", time.Time{}, time.Time{}, 10)
	assert.ErrorIs(t, err, ErrHistoryDisabled)
}
