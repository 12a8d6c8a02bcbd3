package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/broadcast"
	svcmetrics "MarketPulse/internal/service/metrics"
	xlogger "MarketPulse/pkg/logger"
)

type StreamConfig struct {
	Path         string
	WriteTimeout time.Duration
	PongWait     time.Duration
	PingPeriod   time.Duration
}

// StreamEchoHandler serves the push transport: one hub subscription per websocket.
type StreamEchoHandler struct {
	logger   *xlogger.Logger
	hub      *broadcast.Hub
	cfg      StreamConfig
	upgrader websocket.Upgrader

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

func NewStreamEchoHandler(logger *xlogger.Logger, hub *broadcast.Hub, cfg StreamConfig) *StreamEchoHandler {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamEchoHandler{
		logger: logger,
		hub:    hub,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// viewers are served from any origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (h *StreamEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET(h.cfg.Path, h.Stream)
}

// Close disconnects every viewer and waits for their goroutines to finish.
func (h *StreamEchoHandler) Close() {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
	h.cancel()
	h.wg.Wait()
}

// track registers a viewer goroutine unless Close has begun.
func (h *StreamEchoHandler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.wg.Add(1)
	return true
}

func (h *StreamEchoHandler) Stream(c echo.Context) error {
	if !h.track() {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	defer h.wg.Done()

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already replied
		svcmetrics.StreamConnections.WithLabelValues("rejected").Inc()
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	svcmetrics.StreamConnections.WithLabelValues("accepted").Inc()

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	log := h.logger.With(xlogger.String("sub", sub.ID), xlogger.String("remote", c.RealIP()))
	log.Info("viewer connected", xlogger.Int("subscribers", h.hub.Subscribers()))

	done := make(chan struct{})
	go h.readPump(conn, done)

	reason := h.writePump(conn, sub, done)
	_ = conn.Close()
	log.Info("viewer disconnected", xlogger.String("reason", reason), xlogger.Uint64("dropped", sub.Dropped()))
	return nil
}

// readPump discards client frames and keeps the read deadline moving on pongs.
func (h *StreamEchoHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamEchoHandler) writePump(conn *websocket.Conn, sub *broadcast.Subscription, done <-chan struct{}) string {
	ping := time.NewTicker(h.cfg.PingPeriod)
	defer ping.Stop()

	for {
		select {
		case u, ok := <-sub.C:
			if !ok {
				return "unsubscribed"
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteJSON(models.NewStreamMessage(u)); err != nil {
				return "write: " + err.Error()
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return "ping: " + err.Error()
			}
		case <-done:
			return "remote closed"
		case <-h.ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteTimeout))
			return "shutdown"
		}
	}
}
