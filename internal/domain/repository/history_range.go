package repository

import "time"

// HistoryRange is a lookback window for historical charts.
type HistoryRange string

const (
	Range1d  HistoryRange = "1d"
	Range5d  HistoryRange = "5d"
	Range1mo HistoryRange = "1mo"
	Range6mo HistoryRange = "6mo"
	Range1y  HistoryRange = "1y"
	Range5y  HistoryRange = "5y"
)

// IsValidRange returns true if r is a supported range.
func IsValidRange(r HistoryRange) bool {
	switch r {
	case Range1d, Range5d, Range1mo, Range6mo, Range1y, Range5y:
		return true
	default:
		return false
	}
}

// DefaultRange returns the default range.
func DefaultRange() HistoryRange { return Range1mo }

// NormalizeRange converts raw string to a valid range (or default).
func NormalizeRange(s string) HistoryRange {
	r := HistoryRange(s)
	if IsValidRange(r) {
		return r
	}
	return DefaultRange()
}

// Start returns the beginning of the window ending at now.
func (r HistoryRange) Start(now time.Time) time.Time {
	switch r {
	case Range1d:
		return now.AddDate(0, 0, -1)
	case Range5d:
		return now.AddDate(0, 0, -5)
	case Range6mo:
		return now.AddDate(0, -6, 0)
	case Range1y:
		return now.AddDate(-1, 0, 0)
	case Range5y:
		return now.AddDate(-5, 0, 0)
	default:
		return now.AddDate(0, -1, 0)
	}
}
