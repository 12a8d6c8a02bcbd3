package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketPulse/pkg/logger"
)

type fakeHandler struct {
	topic string
	fails int
	calls int
}

func (h *fakeHandler) Topic() string { return h.topic }

func (h *fakeHandler) Handle(_ context.Context, _ []byte) error {
	h.calls++
	if h.calls <= h.fails {
		return errors.New("transient")
	}
	return nil
}

type fakeReader struct {
	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeDLQ struct{ msgs []kafka.Message }

func (d *fakeDLQ) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	d.msgs = append(d.msgs, msgs...)
	return nil
}

func (d *fakeDLQ) Close() error { return nil }

func newTestConsumer(t *testing.T, h MessageHandler, opts ...ConsumerOption) (*Consumer, *fakeReader) {
	t.Helper()
	opts = append([]ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
		WithConsumerLogger(logger.Nop()),
	}, opts...)
	c, err := NewConsumer(opts...)
	require.NoError(t, err)
	c.RegisterHandler(h)
	r := &fakeReader{}
	c.readers[h.Topic()] = r
	return c, r
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer()
	assert.Error(t, err)
}

func TestProcessRetriesThenCommits(t *testing.T) {
	h := &fakeHandler{topic: "quotes", fails: 2}
	c, r := newTestConsumer(t, h)

	c.process(kafka.Message{Topic: "quotes", Offset: 7, Value: []byte(`{}`)})

	assert.Equal(t, 3, h.calls)
	assert.Equal(t, []int64{7}, r.committed)
}

func TestProcessDeadLettersAfterRetries(t *testing.T) {
	h := &fakeHandler{topic: "quotes", fails: 100}
	c, r := newTestConsumer(t, h, WithConsumerDLQ("quotes.dlq"))
	dlq := &fakeDLQ{}
	c.dlq = dlq

	c.process(kafka.Message{Topic: "quotes", Offset: 9, Value: []byte(`bad`)})

	assert.Equal(t, 3, h.calls)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "quotes.dlq", dlq.msgs[0].Topic)
	assert.Equal(t, []byte(`bad`), dlq.msgs[0].Value)
	assert.Equal(t, []int64{9}, r.committed)
}

func TestProcessWithoutDLQLeavesOffset(t *testing.T) {
	h := &fakeHandler{topic: "quotes", fails: 100}
	c, r := newTestConsumer(t, h)

	c.process(kafka.Message{Topic: "quotes", Offset: 3, Value: []byte(`bad`)})

	assert.Empty(t, r.committed)
}

func TestLoggingHookRejectsEmptyPayload(t *testing.T) {
	h := &fakeHandler{topic: "quotes"}
	c, _ := newTestConsumer(t, h)
	c.WithConsumerHook(LoggingHook(logger.Nop()))

	err := c.handleWithRetry(h, kafka.Message{Topic: "quotes"})

	var herr *HandleError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "ERR_VALIDATION", herr.Code)
	assert.Zero(t, h.calls)
}

func TestStopIsIdempotent(t *testing.T) {
	h := &fakeHandler{topic: "quotes"}
	c, _ := newTestConsumer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt < 10; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 80*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 80*time.Millisecond)
	}
}
