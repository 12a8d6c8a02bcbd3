package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SnapshotSource tags snapshot responses served from the hub's replay cache.
const SnapshotSource = "replay-cache"

var (
	ErrMalformedMessage = errors.New("malformed quote message")
	ErrMissingPrice     = errors.New("quote message has no price")
)

// StockData is the per-symbol payload shared by the push and snapshot formats.
type StockData struct {
	RegularMarketPrice         float64 `json:"regularMarketPrice"`
	RegularMarketChangePercent float64 `json:"regularMarketChangePercent"`
	TS                         int64   `json:"ts,omitempty"`
}

// StreamMessage is the push transport frame.
type StreamMessage struct {
	Symbol string    `json:"symbol"`
	Data   StockData `json:"data"`
	TS     int64     `json:"ts"` // unix ms
}

// SnapshotResponse is the body of the snapshot pull endpoint.
type SnapshotResponse struct {
	Stocks    map[string]StockData `json:"stocks"`
	Timestamp int64                `json:"timestamp"`
	Source    string               `json:"source,omitempty"`
}

// NewStreamMessage encodes an update into its push frame.
func NewStreamMessage(u QuoteUpdate) StreamMessage {
	return StreamMessage{
		Symbol: u.Symbol,
		Data: StockData{
			RegularMarketPrice:         u.Quote.Price,
			RegularMarketChangePercent: u.Quote.ChangePercent,
		},
		TS: u.ObservedAt.UnixMilli(),
	}
}

// NewSnapshotResponse builds the snapshot body from the cache contents.
func NewSnapshotResponse(updates []QuoteUpdate, now time.Time) SnapshotResponse {
	stocks := make(map[string]StockData, len(updates))
	for _, u := range updates {
		stocks[u.Symbol] = StockData{
			RegularMarketPrice:         u.Quote.Price,
			RegularMarketChangePercent: u.Quote.ChangePercent,
			TS:                         u.ObservedAt.UnixMilli(),
		}
	}
	return SnapshotResponse{Stocks: stocks, Timestamp: now.UnixMilli(), Source: SnapshotSource}
}

// HistoryRow is one stored quote as served by the history endpoint.
type HistoryRow struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"changePercent"`
	ObservedAt    int64   `json:"observedAt"` // unix ms
}

func NewHistoryRows(updates []QuoteUpdate) []HistoryRow {
	rows := make([]HistoryRow, 0, len(updates))
	for _, u := range updates {
		rows = append(rows, HistoryRow{
			Symbol:        u.Symbol,
			Price:         u.Quote.Price,
			ChangePercent: u.Quote.ChangePercent,
			ObservedAt:    u.ObservedAt.UnixMilli(),
		})
	}
	return rows
}

type stockDataWire struct {
	Price  *float64 `json:"regularMarketPrice"`
	Change *float64 `json:"regularMarketChangePercent"`
	TS     int64    `json:"ts"`
}

type streamMessageWire struct {
	Symbol string         `json:"symbol"`
	Data   *stockDataWire `json:"data"`
	TS     int64          `json:"ts"`
}

type snapshotWire struct {
	Stocks    map[string]stockDataWire `json:"stocks"`
	Timestamp int64                    `json:"timestamp"`
}

func (w *stockDataWire) quote() (Quote, error) {
	if w == nil || w.Price == nil {
		return Quote{}, ErrMissingPrice
	}
	q := Quote{Price: *w.Price}
	if w.Change != nil {
		q.ChangePercent = *w.Change
	}
	if !q.HasPrice() {
		return Quote{}, ErrMissingPrice
	}
	return q, nil
}

// ParseStreamMessage decodes one push frame into a QuoteUpdate.
func ParseStreamMessage(b []byte) (QuoteUpdate, error) {
	var m streamMessageWire
	if err := json.Unmarshal(b, &m); err != nil {
		return QuoteUpdate{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Symbol == "" {
		return QuoteUpdate{}, fmt.Errorf("%w: empty symbol", ErrMalformedMessage)
	}
	if m.TS <= 0 {
		return QuoteUpdate{}, fmt.Errorf("%w: invalid ts %d", ErrMalformedMessage, m.TS)
	}
	q, err := m.Data.quote()
	if err != nil {
		return QuoteUpdate{}, fmt.Errorf("%s: %w", m.Symbol, err)
	}
	return QuoteUpdate{Symbol: m.Symbol, Quote: q, ObservedAt: time.UnixMilli(m.TS)}, nil
}

// ParseSnapshot decodes a snapshot body. Entries without a usable price are skipped;
// entries without their own ts take the response timestamp.
func ParseSnapshot(b []byte) ([]QuoteUpdate, error) {
	var s snapshotWire
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	out := make([]QuoteUpdate, 0, len(s.Stocks))
	for sym, entry := range s.Stocks {
		q, err := entry.quote()
		if err != nil || sym == "" {
			continue
		}
		ts := entry.TS
		if ts <= 0 {
			ts = s.Timestamp
		}
		if ts <= 0 {
			continue
		}
		out = append(out, QuoteUpdate{Symbol: sym, Quote: q, ObservedAt: time.UnixMilli(ts)})
	}
	return out, nil
}
