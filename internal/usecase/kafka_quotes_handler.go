package usecase

import (
	"context"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	pkgkafka "MarketPulse/pkg/kafka"
	"MarketPulse/pkg/logger"
)

const relaySource = "relay"

// KafkaQuotesHandler feeds updates published by another instance into the local hub.
type KafkaQuotesHandler struct {
	topic   string
	hub     Ingester
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewKafkaQuotesHandler(topic string, hub Ingester, metrics domrepo.Metrics, log *logger.Logger) *KafkaQuotesHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &KafkaQuotesHandler{topic: topic, hub: hub, metrics: metrics, log: log}
}

func (h *KafkaQuotesHandler) Topic() string { return h.topic }

// Handle decodes one push frame. Malformed frames are dropped, not retried.
func (h *KafkaQuotesHandler) Handle(_ context.Context, b []byte) error {
	u, err := models.ParseStreamMessage(b)
	if err != nil {
		h.metrics.RecordError("relay_decode")
		h.log.Warn("dropping malformed relay message", logger.Error(err))
		return nil
	}

	// publish-to-ingest latency
	h.metrics.RecordLatency("relay_lag", time.Since(u.ObservedAt).Seconds())

	if h.hub.Ingest(u) {
		h.metrics.RecordUpdate(relaySource, u.Symbol)
		h.metrics.RecordLastPrice(u.Symbol, u.Quote.Price)
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaQuotesHandler)(nil)
