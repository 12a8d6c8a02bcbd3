package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher ships a digest to a topic. The kafka producer satisfies it.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

// CollectionConfig controls how warn and error events are folded into digests.
type CollectionConfig struct {
	// TimeInterval is the longest an event waits before its digest is published.
	TimeInterval time.Duration
	// CountThreshold publishes early once this many distinct events are pending.
	CountThreshold int
	Topic          string
	Publisher      Publisher
}

// AggregatedLogEntry is one distinct event and how often it repeated in the window.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogDigest is the payload published per window.
type LogDigest struct {
	WindowStart time.Time            `json:"window_start"`
	WindowEnd   time.Time            `json:"window_end"`
	Entries     []AggregatedLogEntry `json:"entries"`
}

// LogCollector deduplicates warn and error events so a failing upstream that
// logs the same error per symbol per cycle becomes one counted entry.
type LogCollector struct {
	cfg CollectionConfig
	now func() time.Time

	mu      sync.Mutex
	pending map[uint64]*AggregatedLogEntry
	since   time.Time

	stop chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := &LogCollector{
		cfg:     *cfg,
		now:     time.Now,
		pending: make(map[uint64]*AggregatedLogEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if c.cfg.TimeInterval <= 0 {
		c.cfg.TimeInterval = 30 * time.Second
	}
	if c.cfg.CountThreshold <= 0 {
		c.cfg.CountThreshold = 100
	}
	go c.loop()
	return c
}

// AddLog records one event. Events with equal level, caller, message and fields share an entry.
func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	key := eventKey(level, message, fields, caller)
	now := c.now()

	c.mu.Lock()
	if len(c.pending) == 0 {
		c.since = now
	}
	if e, ok := c.pending[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.pending[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	var d *LogDigest
	if len(c.pending) >= c.cfg.CountThreshold {
		d = c.takeLocked(now)
	}
	c.mu.Unlock()

	if d != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.publish(d)
		}()
	}
}

func (c *LogCollector) loop() {
	defer close(c.done)
	t := time.NewTicker(c.cfg.TimeInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.flush()
		case <-c.stop:
			c.flush()
			return
		}
	}
}

func (c *LogCollector) flush() {
	c.mu.Lock()
	d := c.takeLocked(c.now())
	c.mu.Unlock()
	if d != nil {
		c.publish(d)
	}
}

func (c *LogCollector) takeLocked(now time.Time) *LogDigest {
	if len(c.pending) == 0 {
		return nil
	}
	d := &LogDigest{WindowStart: c.since, WindowEnd: now, Entries: make([]AggregatedLogEntry, 0, len(c.pending))}
	for _, e := range c.pending {
		d.Entries = append(d.Entries, *e)
	}
	sort.Slice(d.Entries, func(i, j int) bool { return d.Entries[i].FirstSeen.Before(d.Entries[j].FirstSeen) })
	c.pending = make(map[uint64]*AggregatedLogEntry)
	return d
}

func (c *LogCollector) publish(d *LogDigest) {
	if c.cfg.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, d); err != nil {
		// the logger cannot log its own shipping failure
		fmt.Fprintf(os.Stderr, "logger: publish %d entries to %s: %v\n", len(d.Entries), c.cfg.Topic, err)
	}
}

// Close publishes what is pending and waits for in-flight publishes.
func (c *LogCollector) Close() {
	close(c.stop)
	<-c.done
	c.wg.Wait()
}

func eventKey(level, message string, fields map[string]interface{}, caller string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%s", level, caller, message)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "\x00%s=%v", k, fields[k])
	}
	return h.Sum64()
}
