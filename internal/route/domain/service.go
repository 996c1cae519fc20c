package domain

import (
	"context"
	"errors"
)

type CompareRequest struct {
	Amount   float64
	Payer    string
	Balances Balances
}

type Service interface {
	// Compare returns one route per eligible candidate chain, cheapest first.
	Compare(ctx context.Context, req CompareRequest) ([]UnifiedRoute, error)
	// QuoteExternal never fails: an unavailable quote yields false.
	QuoteExternal(ctx context.Context, from, to Chain, amount float64, payer string) (UnifiedRoute, bool)

	SettlementChain() Chain
	Candidates() []Chain
	Chain(id int64) (Chain, bool)
}

var (
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrUnknownChain  = errors.New("unknown_chain")
)
