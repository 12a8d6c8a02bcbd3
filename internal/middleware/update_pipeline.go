package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/logger"
)

// BatchProc is the downstream the pipeline drains into.
type BatchProc interface {
	ProcessBatch(ctx context.Context, updates []models.QuoteUpdate) error
}

// UpdatePipeline decouples the hub from the external sink. Enqueue never blocks;
// a single worker drains the buffer in batches and retries failed batches with backoff.
type UpdatePipeline struct {
	proc    BatchProc
	metrics domrepo.Metrics
	log     *logger.Logger

	bufSize      int
	batchSize    int
	batchTimeout time.Duration
	backoffMin   time.Duration
	backoffMax   time.Duration
	maxRetries   int

	bufCh  chan models.QuoteUpdate
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

type PipelineOption func(*UpdatePipeline)

// WithBufferSize sets how many updates may wait for the sink.
func WithBufferSize(n int) PipelineOption {
	return func(p *UpdatePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

func WithBatch(size int, timeout time.Duration) PipelineOption {
	return func(p *UpdatePipeline) {
		if size > 0 {
			p.batchSize = size
		}
		if timeout > 0 {
			p.batchTimeout = timeout
		}
	}
}

func WithBackoff(min, max time.Duration, retries int) PipelineOption {
	return func(p *UpdatePipeline) {
		if min > 0 {
			p.backoffMin = min
		}
		if max >= p.backoffMin {
			p.backoffMax = max
		}
		if retries >= 0 {
			p.maxRetries = retries
		}
	}
}

func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(p *UpdatePipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// NewUpdatePipeline creates a new pipeline.
func NewUpdatePipeline(proc BatchProc, metrics domrepo.Metrics, opts ...PipelineOption) *UpdatePipeline {
	p := &UpdatePipeline{
		proc:         proc,
		metrics:      metrics,
		log:          logger.Nop(),
		bufSize:      1000,
		batchSize:    100,
		batchTimeout: time.Second,
		backoffMin:   50 * time.Millisecond,
		backoffMax:   2 * time.Second,
		maxRetries:   3,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan models.QuoteUpdate, p.bufSize)
	return p
}

// Enqueue hands u to the sink. It returns false when the buffer is full and u was dropped.
func (p *UpdatePipeline) Enqueue(u models.QuoteUpdate) bool {
	if err := validateUpdate(u); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return false
	}
	select {
	case p.bufCh <- u:
		return true
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		return false
	}
}

// Start launches the background worker. Calling it twice is a no-op.
func (p *UpdatePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop flushes what is buffered and waits for the worker to exit.
func (p *UpdatePipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	close(p.stopCh)
	if started {
		<-p.doneCh
	}
}

// Depth is the number of updates waiting for the sink.
func (p *UpdatePipeline) Depth() int { return len(p.bufCh) }

func (p *UpdatePipeline) run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.batchTimeout)
	defer ticker.Stop()

	batch := make([]models.QuoteUpdate, 0, p.batchSize)
	flush := func(fctx context.Context) {
		if len(batch) == 0 {
			return
		}
		p.flush(fctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background())
			return
		case <-p.stopCh:
			for drained := false; !drained; {
				select {
				case u := <-p.bufCh:
					batch = append(batch, u)
					if len(batch) >= p.batchSize {
						flush(context.Background())
					}
				default:
					drained = true
				}
			}
			flush(context.Background())
			return
		case u := <-p.bufCh:
			batch = append(batch, u)
			if len(batch) >= p.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

func (p *UpdatePipeline) flush(ctx context.Context, batch []models.QuoteUpdate) {
	start := time.Now()
	backoff := p.backoffMin
	var err error
retry:
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err = p.proc.ProcessBatch(ctx, batch); err == nil {
			p.metrics.RecordLatency("pipeline_flush", time.Since(start).Seconds())
			return
		}
		p.metrics.RecordError("pipeline_flush")
		if attempt == p.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			break retry
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > p.backoffMax {
			backoff = p.backoffMax
		}
	}
	p.metrics.RecordDropped(len(batch))
	p.log.Warn("sink batch dropped",
		logger.Int("size", len(batch)),
		logger.Error(err),
	)
}

func validateUpdate(u models.QuoteUpdate) error {
	if u.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if u.ObservedAt.IsZero() {
		return fmt.Errorf("observed_at missing")
	}
	if !u.Quote.HasPrice() {
		return fmt.Errorf("price invalid")
	}
	return nil
}
