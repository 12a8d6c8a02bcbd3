package logger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	entries []AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.entries = append(p.entries, payload.(*LogDigest).Entries...)
	return nil
}

func (p *capturePublisher) snapshot() (string, []AggregatedLogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.topic, append([]AggregatedLogEntry(nil), p.entries...)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stderr"})
	assert.Error(t, err)
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)
	l.Info("hub ready", Int("symbols", 19))
	assert.FileExists(t, path)
}

func TestCollectorSeesChildLoggersAttachedEarlier(t *testing.T) {
	root := Nop()
	child := root.With(String("component", "scheduler"))

	pub := &capturePublisher{}
	root.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "marketpulse.logs", Publisher: pub})

	boom := errors.New("upstream timeout")
	for range 2 {
		child.Error("fetch failed", String("symbol", "TCS.NS"), Error(boom))
	}
	child.Warn("dropping malformed relay message")
	child.Info("cycle complete")

	root.RemoveCollector()

	topic, entries := pub.snapshot()
	require.Len(t, entries, 2, "pending entries are published on remove")
	assert.Equal(t, "marketpulse.logs", topic)
	counts := map[string]int{}
	for _, e := range entries {
		counts[e.Level+":"+e.Message] = e.Count
		assert.Contains(t, e.Caller, "logger/logger_test.go")
	}
	assert.Equal(t, 2, counts["error:fetch failed"])
	assert.Equal(t, 1, counts["warn:dropping malformed relay message"])
}

func TestStringsJoinsValues(t *testing.T) {
	assert.Equal(t, String("symbols", "TCS.NS, INFY.NS"), Strings("symbols", []string{"TCS.NS", "INFY.NS"}))
	assert.Equal(t, String("symbols", ""), Strings("symbols", nil))
}

func TestRemoveCollectorWithoutOneIsNoop(t *testing.T) {
	l := Nop()
	l.RemoveCollector()
	l.Error("still fine")
}

func TestCollectorPublishesEarlyAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "logs", Publisher: pub})
	defer c.Close()

	c.AddLog("error", "fetch failed", map[string]interface{}{"symbol": "TCS.NS"}, "usecase/quote_scheduler.go:90")
	c.AddLog("error", "fetch failed", map[string]interface{}{"symbol": "INFY.NS"}, "usecase/quote_scheduler.go:90")

	require.Eventually(t, func() bool {
		_, entries := pub.snapshot()
		return len(entries) == 2
	}, time.Second, 5*time.Millisecond, "distinct field values are distinct entries")
}

func TestEventKeyIgnoresFieldOrder(t *testing.T) {
	a := eventKey("warn", "m", map[string]interface{}{"a": 1, "b": "x"}, "c")
	b := eventKey("warn", "m", map[string]interface{}{"b": "x", "a": 1}, "c")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, eventKey("error", "m", map[string]interface{}{"a": 1, "b": "x"}, "c"))
}

func TestEventKeySeparatesCallSites(t *testing.T) {
	fields := map[string]interface{}{"symbol": "TCS.NS"}
	a := eventKey("error", "fetch failed", fields, "usecase/quote_scheduler.go:90")
	assert.Equal(t, a, eventKey("error", "fetch failed", fields, "usecase/quote_scheduler.go:90"))
	assert.NotEqual(t, a, eventKey("error", "fetch failed", fields, "usecase/quote_scheduler.go:131"))
}
