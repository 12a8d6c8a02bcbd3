package yahoo

import (
	"context"
	"fmt"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	xhttp "MarketPulse/pkg/http"
	"MarketPulse/pkg/logger"
)

const (
	DefaultSearchURL = "https://query2.finance.yahoo.com/v1/finance/search"
	defaultTimeout   = 10 * time.Second
	defaultInFlight  = 4
	userAgent        = "Mozilla/5.0 (compatible; MarketPulse/1.0)"
)

// Client implements MarketDataProvider on top of the Yahoo Finance endpoints.
type Client struct {
	searchURL string
	timeout   time.Duration
	http      *xhttp.Client
	log       *logger.Logger
	// one slot per library call still running, including calls whose caller gave up
	slots       chan struct{}
	maxInFlight int

	// overridable for tests
	getQuote func(symbol string) (*finance.Quote, error)
	getBars  func(symbol string, from, to time.Time) ([]finance.ChartBar, error)
}

type Option func(*Client)

func WithSearchURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.searchURL = u
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxInFlight caps concurrent upstream library calls.
func WithMaxInFlight(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxInFlight = n
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a Yahoo Finance client.
func New(opts ...Option) *Client {
	c := &Client{
		searchURL:   DefaultSearchURL,
		timeout:     defaultTimeout,
		maxInFlight: defaultInFlight,
		log:         logger.Nop(),
		getQuote:    quote.Get,
		getBars:     chartBars,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = xhttp.NewClient(xhttp.WithTimeout(c.timeout))
	c.slots = make(chan struct{}, c.maxInFlight)
	return c
}

var _ drepo.MarketDataProvider = (*Client)(nil)

// FetchQuote returns the current quote for symbol, or nil when the upstream has none.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	fq, err := c.rawQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if fq == nil {
		return nil, nil
	}
	return toQuote(fq), nil
}

// Summary returns the extended quote fields for symbol.
func (c *Client) Summary(ctx context.Context, symbol string) (map[string]any, error) {
	fq, err := c.rawQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if fq == nil {
		return nil, nil
	}
	return summaryFields(fq), nil
}

// History returns daily bars for symbol between from and to.
func (c *Client) History(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	bars, err := call(ctx, c.slots, func() ([]finance.ChartBar, error) {
		return c.getBars(symbol, from, to)
	})
	if err != nil {
		return nil, fmt.Errorf("yahoo chart %s: %w", symbol, err)
	}
	out := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, toBar(b))
	}
	return out, nil
}

type searchResponse struct {
	Quotes []models.SearchResult `json:"quotes"`
}

// Search queries the instrument search endpoint.
func (c *Client) Search(ctx context.Context, q string) ([]models.SearchResult, error) {
	var resp searchResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.searchURL,
		Headers:     map[string]string{"User-Agent": userAgent, "Accept": "application/json"},
		QueryParams: map[string][]string{"q": {q}},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("yahoo search %q: %w", q, err)
	}
	return resp.Quotes, nil
}

func (c *Client) rawQuote(ctx context.Context, symbol string) (*finance.Quote, error) {
	q, err := call(ctx, c.slots, func() (*finance.Quote, error) { return c.getQuote(symbol) })
	if err != nil {
		return nil, fmt.Errorf("yahoo quote %s: %w", symbol, err)
	}
	return q, nil
}

// call runs a blocking library call under ctx. The library takes no context, so a call
// outlives a cancelled caller; it keeps its slot until it really returns, which bounds
// how many requests a hung upstream can pile up.
func call[T any](ctx context.Context, slots chan struct{}, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() { <-slots }()
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

func chartBars(symbol string, from, to time.Time) ([]finance.ChartBar, error) {
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Interval: datetime.OneDay,
		Start:    datetime.New(&from),
		End:      datetime.New(&to),
	})
	var bars []finance.ChartBar
	for iter.Next() {
		if b := iter.Bar(); b != nil {
			bars = append(bars, *b)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return bars, nil
}

func toQuote(fq *finance.Quote) *models.Quote {
	return &models.Quote{
		Price:         fq.RegularMarketPrice,
		ChangePercent: fq.RegularMarketChangePercent,
		Extra: map[string]any{
			"regularMarketChange":        fq.RegularMarketChange,
			"regularMarketPreviousClose": fq.RegularMarketPreviousClose,
			"regularMarketVolume":        fq.RegularMarketVolume,
			"regularMarketTime":          fq.RegularMarketTime,
			"shortName":                  fq.ShortName,
			"currency":                   fq.CurrencyID,
			"fullExchangeName":           fq.FullExchangeName,
			"marketState":                string(fq.MarketState),
		},
	}
}

func summaryFields(fq *finance.Quote) map[string]any {
	return map[string]any{
		"symbol":                     fq.Symbol,
		"shortName":                  fq.ShortName,
		"quoteType":                  string(fq.QuoteType),
		"currency":                   fq.CurrencyID,
		"exchange":                   fq.FullExchangeName,
		"marketState":                string(fq.MarketState),
		"regularMarketPrice":         fq.RegularMarketPrice,
		"regularMarketChange":        fq.RegularMarketChange,
		"regularMarketChangePercent": fq.RegularMarketChangePercent,
		"regularMarketPreviousClose": fq.RegularMarketPreviousClose,
		"regularMarketOpen":          fq.RegularMarketOpen,
		"regularMarketDayHigh":       fq.RegularMarketDayHigh,
		"regularMarketDayLow":        fq.RegularMarketDayLow,
		"regularMarketVolume":        fq.RegularMarketVolume,
		"fiftyTwoWeekHigh":           fq.FiftyTwoWeekHigh,
		"fiftyTwoWeekLow":            fq.FiftyTwoWeekLow,
		"fiftyDayAverage":            fq.FiftyDayAverage,
		"twoHundredDayAverage":       fq.TwoHundredDayAverage,
	}
}

func toBar(b finance.ChartBar) models.Bar {
	return models.Bar{
		Date:     time.Unix(int64(b.Timestamp), 0).UTC(),
		Open:     price(b.Open),
		High:     price(b.High),
		Low:      price(b.Low),
		Close:    price(b.Close),
		AdjClose: price(b.AdjClose),
		Volume:   int64(b.Volume),
	}
}

func price(d decimal.Decimal) float64 {
	f, _ := d.Round(4).Float64()
	return f
}
