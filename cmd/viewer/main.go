package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"MarketPulse/internal/feed"
	applogger "MarketPulse/pkg/logger"
)

type options struct {
	server         string
	streamPath     string
	snapshotPath   string
	pollInterval   time.Duration
	reconnectDelay time.Duration
	timeout        time.Duration
	logLevel       string
	clear          bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:          "viewer",
		Short:        "Live quote board fed by a MarketPulse gateway",
		Long:         "viewer subscribes to the gateway's push stream and falls back to polling the snapshot endpoint while the stream is down.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.server, "server", "http://localhost:4000", "gateway base URL")
	f.StringVar(&o.streamPath, "stream-path", "/ws", "push stream path")
	f.StringVar(&o.snapshotPath, "snapshot-path", "/api/stocks/realtime", "snapshot endpoint path")
	f.DurationVar(&o.pollInterval, "poll-interval", 30*time.Second, "snapshot poll interval while degraded")
	f.DurationVar(&o.reconnectDelay, "reconnect-delay", 5*time.Second, "delay between push reconnect attempts")
	f.DurationVar(&o.timeout, "timeout", 10*time.Second, "handshake and snapshot request timeout")
	f.StringVar(&o.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	f.BoolVar(&o.clear, "clear", true, "redraw the board in place")
	return cmd
}

func run(ctx context.Context, o *options) error {
	log, err := applogger.New(&applogger.Config{Level: o.logLevel, Format: "console", Output: "stderr"})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	streamURL, snapshotURL, err := endpoints(o.server, o.streamPath, o.snapshotPath)
	if err != nil {
		return err
	}

	b := newBoard(os.Stdout, o.clear)
	m := feed.New(
		feed.NewWSDialer(streamURL, o.timeout),
		feed.NewHTTPSnapshotFetcher(snapshotURL, o.timeout),
		b.update,
		feed.WithPollInterval(o.pollInterval),
		feed.WithReconnectDelay(o.reconnectDelay),
		feed.WithFetchTimeout(o.timeout),
		feed.WithStateListener(b.setState),
		feed.WithLogger(log.With(applogger.String("component", "feed"))),
	)
	if err := m.Start(ctx); err != nil {
		return err
	}
	log.Info("viewer started", applogger.String("stream", streamURL), applogger.String("snapshot", snapshotURL))

	select {
	case <-ctx.Done():
	case <-m.Done():
	}
	return m.Close()
}

// endpoints derives the websocket and snapshot URLs from the gateway base URL.
func endpoints(base, streamPath, snapshotPath string) (string, string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", "", fmt.Errorf("server url: %w", err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("server url %q has no host", base)
	}

	snap := *u
	snap.Path = strings.TrimRight(u.Path, "/") + snapshotPath

	ws := *u
	ws.Path = strings.TrimRight(u.Path, "/") + streamPath
	switch u.Scheme {
	case "https", "wss":
		ws.Scheme = "wss"
		snap.Scheme = "https"
	default:
		ws.Scheme = "ws"
		snap.Scheme = "http"
	}
	return ws.String(), snap.String(), nil
}
