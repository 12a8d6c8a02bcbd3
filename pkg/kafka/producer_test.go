package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
}

func TestNewProducerBuildsWriter(t *testing.T) {
	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithHashByKey(true), WithCompression("lz4"))
	require.NoError(t, err)
	defer p.Close()

	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer)
	assert.Equal(t, kafka.Lz4, p.writer.Compression)
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	b, err = encodeValue(map[string]any{"symbol": "TCS.NS"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"symbol":"TCS.NS"}`, string(b))

	_, err = encodeValue(make(chan int))
	assert.Error(t, err)
}

func TestProducerStaticHeadersAndClose(t *testing.T) {
	p, err := NewProducer(
		WithBrokers([]string{"localhost:9092"}),
		WithAutoCreateTopics(true),
		WithHeaders(map[string]string{"source": "marketpulse", "content-type": "application/json"}),
	)
	require.NoError(t, err)

	assert.True(t, p.writer.AllowAutoTopicCreation)
	require.Len(t, p.headers, 2)
	assert.Equal(t, "content-type", p.headers[0].Key)
	assert.Equal(t, "marketpulse", string(p.headers[1].Value))

	require.NoError(t, p.Close())
	assert.NoError(t, p.Close())
}
