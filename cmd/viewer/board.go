package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/feed"
)

// board is the viewer's latest-quote table. It is only touched from the feed
// manager goroutine.
type board struct {
	out   io.Writer
	rows  map[string]models.QuoteUpdate
	state feed.State
	clear bool
}

func newBoard(out io.Writer, clear bool) *board {
	return &board{out: out, rows: make(map[string]models.QuoteUpdate), state: feed.Connecting, clear: clear}
}

func (b *board) update(u models.QuoteUpdate) {
	b.rows[u.Symbol] = u
	b.render()
}

func (b *board) setState(_, to feed.State) {
	b.state = to
	b.render()
}

// connection is the dashboard indicator: push live or not.
func (b *board) connection() string {
	if b.state == feed.Live {
		return "Connected"
	}
	return "Disconnected"
}

func (b *board) render() {
	if b.clear {
		fmt.Fprint(b.out, "\033[H\033[2J")
	}
	fmt.Fprintf(b.out, "WebSocket: %s (%s)\n\n", b.connection(), b.state)

	symbols := make([]string, 0, len(b.rows))
	for s := range b.rows {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	tw := tabwriter.NewWriter(b.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SYMBOL\tPRICE\tCHANGE\tAS OF\t")
	for _, s := range symbols {
		u := b.rows[s]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n",
			s,
			decimal.NewFromFloat(u.Quote.Price).StringFixed(2),
			formatChange(u.Quote.ChangePercent),
			u.ObservedAt.Local().Format("15:04:05"),
		)
	}
	_ = tw.Flush()
}

func formatChange(pct float64) string {
	d := decimal.NewFromFloat(pct).Round(2)
	if d.IsPositive() {
		return "+" + d.StringFixed(2) + "%"
	}
	return d.StringFixed(2) + "%"
}
