// Package domain holds the settlement transaction ledger model.
package domain

import "time"

// Namespace is the storage key the ledger snapshot lives under.
const Namespace = "chainstream_transactions"

const DefaultCap = 50

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a record in s may move to next.
// confirmed and failed are final.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	return s == StatusPending && (next == StatusConfirmed || next == StatusFailed)
}

// TransactionRecord is one settlement attempt.
type TransactionRecord struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	FromChain     int64     `json:"from_chain"`
	FromChainName string    `json:"from_chain_name"`
	ToChain       int64     `json:"to_chain"`
	ToChainName   string    `json:"to_chain_name"`
	Amount        float64   `json:"amount"`
	GasCost       float64   `json:"gas_cost"`
	BridgeFee     float64   `json:"bridge_fee"`
	TotalCost     float64   `json:"total_cost"`
	Status        Status    `json:"status"`
	Hash          string    `json:"hash,omitempty"`
	ExplorerURL   string    `json:"explorer_url,omitempty"`
	Savings       float64   `json:"savings"`
	Tool          string    `json:"tool,omitempty"`
}
