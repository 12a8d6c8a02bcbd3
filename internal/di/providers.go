package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/handler/api"
	mid "MarketPulse/internal/middleware"
	internalrepo "MarketPulse/internal/repository"
	"MarketPulse/internal/service/broadcast"
	"MarketPulse/internal/service/ratelimit"
	"MarketPulse/internal/service/yahoo"
	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/cache"
	pkgch "MarketPulse/pkg/clickhouse"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	pkgkafka "MarketPulse/pkg/kafka"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
	"MarketPulse/pkg/server"
)

// ProvideLogger creates the root logger from the logging section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Logging.Config)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder on the default registry.
func ProvideMetrics() drepo.Metrics {
	return metrics.New(nil)
}

func ProvideHub(cfg *config.Config, l *applogger.Logger, m drepo.Metrics) *broadcast.Hub {
	return broadcast.New(
		broadcast.WithBufferSize(cfg.Hub.SubscriberBuffer),
		broadcast.WithLogger(l.With(applogger.String("component", "hub"))),
		broadcast.WithMetrics(m),
	)
}

func ProvideLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideYahooClient creates the upstream quote client.
func ProvideYahooClient(cfg *config.Config, l *applogger.Logger) *yahoo.Client {
	return yahoo.New(
		yahoo.WithSearchURL(cfg.Upstream.QuoteSearchURL),
		yahoo.WithTimeout(cfg.Upstream.Timeout),
		yahoo.WithLogger(l.With(applogger.String("component", "yahoo"))),
	)
}

// ProvideCache creates the lookup cache: in-memory, or memory in front of Redis when enabled.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	rc := cfg.Cache.Redis
	if !rc.Enabled {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize)), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	redisCache, err := cache.NewRedisCache(ctx,
		cache.WithRedisAddr(net.JoinHostPort(rc.Host, strconv.Itoa(rc.Port))),
		cache.WithRedisAuth(rc.Password, rc.DB),
		cache.WithRedisPrefix(rc.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(redisCache,
		cache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
		cache.WithLayeredMemoryTTL(cfg.Cache.QuoteTTL),
	), nil
}

// ProvideClickHouseClient creates a ClickHouse client. It is nil unless the
// clickhouse backend is selected.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Backend.Type != usecase.BackendClickHouse {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithEndpoint(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideStorage creates the quote table and returns its repository, or nil
// when no ClickHouse client is configured.
func ProvideStorage(cfg *config.Config, ch *pkgch.Client) (drepo.Storage, error) {
	if ch == nil {
		return nil, nil
	}

	store := internalrepo.NewClickHouseStorage(ch.DB(), ch.Database(), cfg.ClickHouse.Table, "marketpulse")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer. It is nil unless the kafka backend is selected.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Backend.Type != usecase.BackendKafka {
		return nil, nil
	}

	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Producer.MaxAttempts, cfg.Kafka.Producer.Async),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithAutoCreateTopics(cfg.Kafka.Producer.AutoCreateTopics),
		pkgkafka.WithHeaders(map[string]string{
			"content-type": "application/json",
			"source":       "marketpulse",
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher wraps the producer, or returns nil without one.
func ProvidePublisher(cfg *config.Config, producer *pkgkafka.Producer) drepo.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
}

func ProvideQuoteProcessor(cfg *config.Config, pub drepo.Publisher, store drepo.Storage, m drepo.Metrics) *usecase.QuoteProcessor {
	return usecase.NewQuoteProcessor(pub, store, m, cfg.Backend.Type)
}

func ProvideUpdatePipeline(cfg *config.Config, proc *usecase.QuoteProcessor, m drepo.Metrics, l *applogger.Logger) *mid.UpdatePipeline {
	return mid.NewUpdatePipeline(proc, m,
		mid.WithBufferSize(cfg.Backend.BufferSize),
		mid.WithBatch(cfg.Backend.BatchSize, cfg.Backend.BatchTimeout),
		mid.WithPipelineLogger(l.With(applogger.String("component", "pipeline"))),
	)
}

// ProvideScheduler creates the poll scheduler. Accepted updates go to the sink
// pipeline only when a backend is enabled.
func ProvideScheduler(
	cfg *config.Config,
	provider *yahoo.Client,
	hub *broadcast.Hub,
	m drepo.Metrics,
	proc *usecase.QuoteProcessor,
	pipe *mid.UpdatePipeline,
	limiter *ratelimit.Limiter,
	l *applogger.Logger,
) *usecase.QuoteScheduler {
	sc := cfg.Scheduler
	opts := []usecase.SchedulerOption{
		usecase.WithLimiter(limiter),
		usecase.WithSchedulerLogger(l.With(applogger.String("component", "scheduler"))),
	}
	if proc.Enabled() {
		opts = append(opts, usecase.WithSink(pipe))
	}
	return usecase.NewQuoteScheduler(usecase.SchedulerConfig{
		Symbols:        sc.Symbols,
		Interval:       sc.Interval,
		Spacing:        sc.Spacing,
		FetchTimeout:   sc.FetchTimeout,
		CanarySymbol:   sc.CanarySymbol,
		CanaryTimeout:  sc.CanaryTimeout,
		CanaryAttempts: sc.CanaryAttempts,
	}, provider, hub, m, opts...)
}

func ProvideMarketData(cfg *config.Config, provider *yahoo.Client, c cache.Service, store drepo.Storage, m drepo.Metrics) *usecase.MarketData {
	return usecase.NewMarketData(provider, c, store, m, usecase.MarketDataTTL{
		Quote:   cfg.Cache.QuoteTTL,
		History: cfg.Cache.HistoryTTL,
		Search:  cfg.Cache.SearchTTL,
	})
}

// ProvideKafkaConsumer creates the relay consumer. It is nil unless the kafka source is selected.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Source.Mode != "kafka" {
		return nil, nil
	}

	kc := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(kc.GroupID),
		pkgkafka.WithConsumerWorkers(kc.Workers),
		pkgkafka.WithConsumerBufferSize(kc.BufferSize),
		pkgkafka.WithConsumerRetry(kc.RetryMax, kc.BackoffMin, kc.BackoffMax),
		pkgkafka.WithConsumerDLQ(kc.DLQTopic),
		pkgkafka.WithConsumerFetch(kc.MinBytes, kc.MaxBytes),
		pkgkafka.WithConsumerLogger(l.With(applogger.String("component", "relay"))),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.LoggingHook(l))
	return consumer, nil
}

func ProvideRelayHandler(cfg *config.Config, hub *broadcast.Hub, m drepo.Metrics, l *applogger.Logger) *usecase.KafkaQuotesHandler {
	return usecase.NewKafkaQuotesHandler(cfg.Kafka.Topic, hub, m, l.With(applogger.String("component", "relay")))
}

func ProvideStreamHandler(cfg *config.Config, l *applogger.Logger, hub *broadcast.Hub) *api.StreamEchoHandler {
	return api.NewStreamEchoHandler(l.With(applogger.String("component", "stream")), hub, api.StreamConfig{
		Path:         cfg.Stream.Path,
		WriteTimeout: cfg.Stream.WriteTimeout,
		PongWait:     cfg.Stream.PongWait,
		PingPeriod:   cfg.Stream.PingPeriod,
	})
}

func ProvideMarketHandler(cfg *config.Config, l *applogger.Logger, hub *broadcast.Hub, market *usecase.MarketData, limiter *ratelimit.Limiter) *api.MarketEchoHandler {
	return api.NewMarketEchoHandler(l.With(applogger.String("component", "api")), hub, market, limiter, api.RateLimit{
		Capacity:     cfg.Upstream.RateCapacity,
		RefillPerSec: cfg.Upstream.RatePerSecond,
	})
}

// ProvideHTTPServer builds the echo server with the stream and market routes.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, stream *api.StreamEchoHandler, market *api.MarketEchoHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{stream, market},
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithServerLogger(l.With(applogger.String("component", "http"))),
	)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	scheduler *usecase.QuoteScheduler,
	pipe *mid.UpdatePipeline,
	proc *usecase.QuoteProcessor,
	consumer *pkgkafka.Consumer,
	relay *usecase.KafkaQuotesHandler,
	stream *api.StreamEchoHandler,
	httpServer *xhttp.Server,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	c cache.Service,
) *server.App {
	opts := []server.Option{
		server.WithScheduler(scheduler),
		server.WithPipeline(pipe, proc),
		server.WithHTTP(httpServer, stream),
		server.WithClosers(c),
	}
	if consumer != nil {
		opts = append(opts, server.WithRelay(consumer, relay))
	}
	if producer != nil {
		opts = append(opts, server.WithLogPublisher(producer))
	}
	if ch != nil {
		opts = append(opts, server.WithClosers(ch))
	}
	return server.New(cfg, l, opts...)
}
