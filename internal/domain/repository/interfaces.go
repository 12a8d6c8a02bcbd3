package repository

import (
	"context"
	"time"

	"MarketPulse/internal/domain/models"
)

// QuoteProvider is the upstream quote source. Implementations are assumed rate-limited
// and unreliable; a nil quote with a nil error means "no data for this symbol".
type QuoteProvider interface {
	FetchQuote(ctx context.Context, symbol string) (*models.Quote, error)
}

// MarketDataProvider adds the request/response lookups behind the on-demand API.
type MarketDataProvider interface {
	QuoteProvider
	Summary(ctx context.Context, symbol string) (map[string]any, error)
	History(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error)
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

type Publisher interface {
	Publish(ctx context.Context, u models.QuoteUpdate) error
	PublishBatch(ctx context.Context, updates []models.QuoteUpdate) error
	Close() error
}

type Storage interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, u models.QuoteUpdate) error
	StoreBatch(ctx context.Context, updates []models.QuoteUpdate) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.QuoteUpdate, error)
	Health(ctx context.Context) error
	Close() error
}

type Metrics interface {
	RecordUpdate(source, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	SetSubscribers(n int)
	RecordDropped(n int)
}
