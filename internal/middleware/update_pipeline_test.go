package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketPulse/internal/domain/models"
)

type nopMetrics struct {
	mu      sync.Mutex
	errors  map[string]int
	dropped int
}

func newNopMetrics() *nopMetrics { return &nopMetrics{errors: map[string]int{}} }

func (m *nopMetrics) RecordUpdate(string, string)     {}
func (m *nopMetrics) RecordLastPrice(string, float64) {}
func (m *nopMetrics) RecordLatency(string, float64)   {}
func (m *nopMetrics) SetSubscribers(int)              {}
func (m *nopMetrics) RecordError(kind string)         { m.mu.Lock(); m.errors[kind]++; m.mu.Unlock() }
func (m *nopMetrics) RecordDropped(n int)             { m.mu.Lock(); m.dropped += n; m.mu.Unlock() }
func (m *nopMetrics) count(kind string) int           { m.mu.Lock(); defer m.mu.Unlock(); return m.errors[kind] }
func (m *nopMetrics) droppedTotal() int               { m.mu.Lock(); defer m.mu.Unlock(); return m.dropped }

type recordingProc struct {
	mu       sync.Mutex
	got      []models.QuoteUpdate
	failures int
}

func (p *recordingProc) ProcessBatch(_ context.Context, updates []models.QuoteUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.got = append(p.got, updates...)
	return nil
}

func (p *recordingProc) symbols() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.got))
	for _, u := range p.got {
		out = append(out, u.Symbol)
	}
	return out
}

func upd(sym string) models.QuoteUpdate {
	return models.QuoteUpdate{Symbol: sym, Quote: models.Quote{Price: 100}, ObservedAt: time.Now()}
}

func TestPipelineFlushesOnStop(t *testing.T) {
	proc := &recordingProc{}
	p := NewUpdatePipeline(proc, newNopMetrics(), WithBatch(10, time.Hour))
	p.Start(context.Background())

	require.True(t, p.Enqueue(upd("TCS.NS")))
	require.True(t, p.Enqueue(upd("INFY.NS")))
	p.Stop()
	p.Stop()

	assert.ElementsMatch(t, []string{"TCS.NS", "INFY.NS"}, proc.symbols())
}

func TestPipelineFlushesFullBatch(t *testing.T) {
	proc := &recordingProc{}
	p := NewUpdatePipeline(proc, newNopMetrics(), WithBatch(2, time.Hour))
	p.Start(context.Background())
	defer p.Stop()

	p.Enqueue(upd("TCS.NS"))
	p.Enqueue(upd("INFY.NS"))

	assert.Eventually(t, func() bool { return len(proc.symbols()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestPipelineRetriesFailedBatch(t *testing.T) {
	proc := &recordingProc{failures: 2}
	m := newNopMetrics()
	p := NewUpdatePipeline(proc, m, WithBatch(1, time.Hour), WithBackoff(time.Millisecond, 5*time.Millisecond, 3))
	p.Start(context.Background())
	defer p.Stop()

	p.Enqueue(upd("TCS.NS"))

	assert.Eventually(t, func() bool { return len(proc.symbols()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, m.count("pipeline_flush"))
	assert.Zero(t, m.droppedTotal())
}

func TestPipelineDropsAfterRetries(t *testing.T) {
	proc := &recordingProc{failures: 10}
	m := newNopMetrics()
	p := NewUpdatePipeline(proc, m, WithBatch(1, time.Hour), WithBackoff(time.Millisecond, time.Millisecond, 1))
	p.Start(context.Background())
	defer p.Stop()

	p.Enqueue(upd("TCS.NS"))

	assert.Eventually(t, func() bool { return m.droppedTotal() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEnqueueNeverBlocks(t *testing.T) {
	m := newNopMetrics()
	// not started, so nothing drains the buffer
	p := NewUpdatePipeline(&recordingProc{}, m, WithBufferSize(1))

	assert.True(t, p.Enqueue(upd("TCS.NS")))
	assert.False(t, p.Enqueue(upd("INFY.NS")))
	assert.Equal(t, 1, m.count("pipeline_buffer_full"))
	assert.Equal(t, 1, p.Depth())
}

func TestEnqueueRejectsInvalid(t *testing.T) {
	m := newNopMetrics()
	p := NewUpdatePipeline(&recordingProc{}, m)

	assert.False(t, p.Enqueue(models.QuoteUpdate{Symbol: "TCS.NS", ObservedAt: time.Now()}))
	assert.False(t, p.Enqueue(models.QuoteUpdate{Quote: models.Quote{Price: 1}, ObservedAt: time.Now()}))
	assert.Equal(t, 2, m.count("pipeline_validate"))
}
