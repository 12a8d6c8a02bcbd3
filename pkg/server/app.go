package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MarketPulse/internal/handler/api"
	mid "MarketPulse/internal/middleware"
	svcmetrics "MarketPulse/internal/service/metrics"
	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	pkgkafka "MarketPulse/pkg/kafka"
	applogger "MarketPulse/pkg/logger"
)

// Option attaches a component to App.
type Option func(*App)

func WithScheduler(s *usecase.QuoteScheduler) Option {
	return func(a *App) { a.scheduler = s }
}

func WithPipeline(p *mid.UpdatePipeline, proc *usecase.QuoteProcessor) Option {
	return func(a *App) {
		a.pipeline = p
		a.proc = proc
	}
}

// WithRelay sets the consumer that feeds the hub in kafka source mode.
func WithRelay(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = c
		a.relay = h
	}
}

func WithHTTP(s *xhttp.Server, stream *api.StreamEchoHandler) Option {
	return func(a *App) {
		a.httpServer = s
		a.stream = stream
	}
}

// WithLogPublisher ships aggregated error logs through p when a collect topic is set.
func WithLogPublisher(p applogger.Publisher) Option {
	return func(a *App) { a.logPublisher = p }
}

// WithClosers registers resources closed last on shutdown.
func WithClosers(c ...io.Closer) Option {
	return func(a *App) { a.closers = append(a.closers, c...) }
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	log *applogger.Logger

	scheduler    *usecase.QuoteScheduler
	pipeline     *mid.UpdatePipeline
	proc         *usecase.QuoteProcessor
	consumer     *pkgkafka.Consumer
	relay        pkgkafka.MessageHandler
	httpServer   *xhttp.Server
	stream       *api.StreamEchoHandler
	logPublisher applogger.Publisher
	closers      []io.Closer

	collecting bool
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, log *applogger.Logger, opts ...Option) *App {
	if log == nil {
		log = applogger.Nop()
	}
	a := &App{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start brings every component up. The scheduler's canary and first cycle run
// before the HTTP server binds, so a dead upstream fails startup.
func (a *App) Start(ctx context.Context) error {
	svcmetrics.Register()

	if a.logPublisher != nil && a.cfg.Logging.CollectTopic != "" {
		a.log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   a.cfg.Logging.CollectInterval,
			CountThreshold: a.cfg.Logging.CollectThreshold,
			Topic:          a.cfg.Logging.CollectTopic,
			Publisher:      a.logPublisher,
		})
		a.collecting = true
	}

	if a.pipeline != nil && a.proc != nil && a.proc.Enabled() {
		a.pipeline.Start(ctx)
		a.log.Info("sink pipeline started", applogger.String("backend", a.cfg.Backend.Type))
	}

	switch a.cfg.Source.Mode {
	case "kafka":
		if a.consumer == nil || a.relay == nil {
			return errors.New("kafka source selected without a consumer")
		}
		a.consumer.RegisterHandler(a.relay)
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("relay consumer: %w", err)
		}
		a.log.Info("relay consumer started", applogger.String("topic", a.relay.Topic()))
	default:
		if a.scheduler == nil {
			return errors.New("upstream source selected without a scheduler")
		}
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		a.log.Info("scheduler started",
			applogger.Strings("symbols", a.scheduler.Symbols()),
			applogger.Duration("interval", a.cfg.Scheduler.Interval),
		)
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	return nil
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		a.log.Error("startup failed", applogger.Error(err))
		_ = a.Shutdown(context.Background())
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)

	a.log.Info("shutdown signal received", applogger.String("signal", sig.String()))

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer stop()
	return a.Shutdown(shutdownCtx)
}

// Shutdown stops producers before consumers: no new polls, then viewers, then
// the listener, then the sink drains. Safe on a partially started App.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down...")
	var errs []error

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if a.stream != nil {
		a.stream.Close()
	}
	if a.httpServer != nil && a.httpServer.Addr() != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	if a.pipeline != nil {
		a.pipeline.Stop()
	}
	if a.collecting {
		a.log.RemoveCollector()
	}
	if a.proc != nil {
		a.proc.Close()
	}

	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
