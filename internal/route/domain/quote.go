package domain

import (
	"context"
	"errors"
)

// QuoteRequest asks the external quoter for a route between two chains.
type QuoteRequest struct {
	FromChainID int64
	ToChainID   int64
	FromToken   string
	ToToken     string
	Amount      float64
	Decimals    int
	FromAddress string
	Slippage    float64
}

// Quote carries what the external quoter returned. Nil fields were not provided.
type Quote struct {
	ToAmount         *float64
	GasCostUSD       *float64
	FeeCostUSD       *float64
	ExecutionSeconds *int
	Tool             string
}

// Quoter is the external route quoting capability.
type Quoter interface {
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
}

var ErrQuoteUnavailable = errors.New("quote_unavailable")
