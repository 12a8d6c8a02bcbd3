package models

import (
	"math"
	"time"
)

// Quote is a point-in-time price snapshot for one symbol.
// Extra carries provider fields the distribution path treats as opaque.
type Quote struct {
	Price         float64
	ChangePercent float64
	Extra         map[string]any
}

// HasPrice reports whether the quote carries a usable primary price.
func (q *Quote) HasPrice() bool {
	if q == nil {
		return false
	}
	return q.Price > 0 && !math.IsNaN(q.Price) && !math.IsInf(q.Price, 0)
}

// QuoteUpdate is produced once per successful fetch and never mutated afterwards.
type QuoteUpdate struct {
	Symbol     string
	Quote      Quote
	ObservedAt time.Time
}

// NewerThan reports whether u was observed strictly after other.
func (u QuoteUpdate) NewerThan(other QuoteUpdate) bool {
	return u.ObservedAt.After(other.ObservedAt)
}

// Bar is one OHLCV bucket of a historical chart.
type Bar struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adjClose"`
	Volume   int64     `json:"volume"`
}

// SearchResult is one instrument match from the upstream search.
type SearchResult struct {
	Symbol    string `json:"symbol"`
	ShortName string `json:"shortname,omitempty"`
	LongName  string `json:"longname,omitempty"`
	Exchange  string `json:"exchange,omitempty"`
	QuoteType string `json:"quoteType"`
}
