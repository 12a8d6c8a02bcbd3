package http

import (
	"time"

	xutil "MarketPulse/pkg/util"
)

// ParseTime accepts RFC3339, date-only and unix seconds or milliseconds.
func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }
