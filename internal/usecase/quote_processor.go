package usecase

import (
	"context"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
)

const (
	BackendNone       = "none"
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
)

// QuoteProcessor routes ingested updates to the configured external sink.
type QuoteProcessor struct {
	pub     drepo.Publisher
	store   drepo.Storage
	metrics drepo.Metrics
	backend string
}

// NewQuoteProcessor creates a new QuoteProcessor instance.
func NewQuoteProcessor(pub drepo.Publisher, store drepo.Storage, metrics drepo.Metrics, backend string) *QuoteProcessor {
	return &QuoteProcessor{pub: pub, store: store, metrics: metrics, backend: backend}
}

// Enabled reports whether updates leave the process at all.
func (p *QuoteProcessor) Enabled() bool {
	return p.backend == BackendKafka || p.backend == BackendClickHouse
}

// Process routes a single update.
func (p *QuoteProcessor) Process(ctx context.Context, u models.QuoteUpdate) error {
	return p.ProcessBatch(ctx, []models.QuoteUpdate{u})
}

// ProcessBatch routes a batch of updates.
func (p *QuoteProcessor) ProcessBatch(ctx context.Context, updates []models.QuoteUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	start := time.Now()
	var err error

	switch p.backend {
	case BackendKafka:
		err = p.pub.PublishBatch(ctx, updates)
	case BackendClickHouse:
		err = p.store.StoreBatch(ctx, updates)
	case BackendNone, "":
		return nil
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("sink_" + p.backend)
		return fmt.Errorf("process batch: %w", err)
	}

	for _, u := range updates {
		p.metrics.RecordUpdate("sink_"+p.backend, u.Symbol)
	}
	p.metrics.RecordLatency("sink_"+p.backend, time.Since(start).Seconds())
	return nil
}

// Close closes underlying resources if available.
func (p *QuoteProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
