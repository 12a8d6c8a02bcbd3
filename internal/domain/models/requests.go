package models

// Requests for the on-demand market data endpoints.

type QuoteRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,symbol"`
	// Type selects historical or summary; anything else is a plain quote.
	Type  string `query:"type" json:"type" default:"quote"`
	Range string `query:"range" json:"range" default:"1mo"`
}

type SearchRequest struct {
	Q string `query:"q" json:"q" validate:"required,max=64"`
}

type HistoryRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,symbol"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Limit  int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=10000"`
}
