package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketPulse/internal/domain/models"
)

type recordingSink struct {
	batches [][]models.QuoteUpdate
	err     error
	closed  int
}

func (s *recordingSink) Publish(ctx context.Context, u models.QuoteUpdate) error {
	return s.PublishBatch(ctx, []models.QuoteUpdate{u})
}

func (s *recordingSink) PublishBatch(_ context.Context, updates []models.QuoteUpdate) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, updates)
	return nil
}

func (s *recordingSink) Init(context.Context) error { return nil }
func (s *recordingSink) Store(ctx context.Context, u models.QuoteUpdate) error {
	return s.PublishBatch(ctx, []models.QuoteUpdate{u})
}
func (s *recordingSink) StoreBatch(ctx context.Context, updates []models.QuoteUpdate) error {
	return s.PublishBatch(ctx, updates)
}
func (s *recordingSink) Query(context.Context, string, time.Time, time.Time, int) ([]models.QuoteUpdate, error) {
	return nil, nil
}
func (s *recordingSink) Health(context.Context) error { return nil }
func (s *recordingSink) Close() error                 { s.closed++; return nil }

func updatesFor(symbols ...string) []models.QuoteUpdate {
	out := make([]models.QuoteUpdate, 0, len(symbols))
	for i, s := range symbols {
		out = append(out, models.QuoteUpdate{Symbol: s, Quote: models.Quote{Price: 100 + float64(i)}, ObservedAt: time.UnixMilli(int64(i + 1))})
	}
	return out
}

func TestQuoteProcessorRoutesByBackend(t *testing.T) {
	ctx := context.Background()

	pub, store := &recordingSink{}, &recordingSink{}
	m := newStubMetrics()
	p := NewQuoteProcessor(pub, store, m, BackendKafka)
	require.True(t, p.Enabled())
	require.NoError(t, p.ProcessBatch(ctx, updatesFor("TCS.NS", "INFY.NS")))
	assert.Len(t, pub.batches, 1)
	assert.Empty(t, store.batches)
	assert.Equal(t, 2, m.updates["sink_kafka"])

	pub, store = &recordingSink{}, &recordingSink{}
	p = NewQuoteProcessor(pub, store, newStubMetrics(), BackendClickHouse)
	require.NoError(t, p.Process(ctx, updatesFor("^NSEI")[0]))
	assert.Empty(t, pub.batches)
	assert.Len(t, store.batches, 1)
}

func TestQuoteProcessorNoneIsDisabled(t *testing.T) {
	p := NewQuoteProcessor(nil, nil, newStubMetrics(), BackendNone)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.ProcessBatch(context.Background(), updatesFor("TCS.NS")))
	p.Close()
}

func TestQuoteProcessorCountsSinkErrors(t *testing.T) {
	boom := errors.New("broker unreachable")
	m := newStubMetrics()
	pub := &recordingSink{err: boom}
	p := NewQuoteProcessor(pub, nil, m, BackendKafka)

	err := p.ProcessBatch(context.Background(), updatesFor("TCS.NS"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, m.errorCount("sink_kafka"))

	p.Close()
	assert.Equal(t, 1, pub.closed)
}
