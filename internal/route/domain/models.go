// Package domain holds the payment route model shared by the comparator and the agent.
package domain

// Chain describes a network a payment can leave from or settle on.
type Chain struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	ExplorerURL  string  `json:"explorer_url,omitempty"`
	GasCostUSD   float64 `json:"gas_cost_usd"`
	TokenAddress string  `json:"token_address,omitempty"`
	QuoteChainID int64   `json:"-"`
	QuoteToken   string  `json:"-"`
}

// TxURL links a transaction hash on the chain explorer.
func (c Chain) TxURL(hash string) string {
	if c.ExplorerURL == "" || hash == "" {
		return ""
	}
	return c.ExplorerURL + "/tx/" + hash
}

// Balance is the payer's balance on one chain. Known is false when no reading is available.
type Balance struct {
	Known  bool    `json:"known"`
	Amount float64 `json:"amount"`
}

func KnownBalance(amount float64) Balance {
	return Balance{Known: true, Amount: amount}
}

func UnknownBalance() Balance {
	return Balance{}
}

// Insufficient reports whether the balance is known to be short of amount.
func (b Balance) Insufficient(amount float64) bool {
	return b.Known && b.Amount < amount
}

// Balances maps chain id to balance. Missing chains are unknown.
type Balances map[int64]Balance

func (b Balances) For(chainID int64) Balance {
	if b == nil {
		return UnknownBalance()
	}
	balance, ok := b[chainID]
	if !ok {
		return UnknownBalance()
	}
	return balance
}

// UnifiedRoute is one candidate way to move the payment amount to the settlement chain.
// Routes are only built through NewRoute so TotalCostUSD always equals
// FromAmount + GasCostUSD + BridgeFeeUSD.
type UnifiedRoute struct {
	ID            string  `json:"id"`
	FromChain     int64   `json:"from_chain"`
	FromChainName string  `json:"from_chain_name"`
	ToChain       int64   `json:"to_chain"`
	ToChainName   string  `json:"to_chain_name"`
	FromAmount    float64 `json:"from_amount"`
	ToAmount      float64 `json:"to_amount"`
	GasCostUSD    float64 `json:"gas_cost_usd"`
	BridgeFeeUSD  float64 `json:"bridge_fee_usd"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	ExecutionTime int     `json:"execution_time_seconds"`
	IsSimulated   bool    `json:"is_simulated"`
	Tool          string  `json:"tool,omitempty"`
}

type RouteParams struct {
	ID            string
	From          Chain
	To            Chain
	FromAmount    float64
	ToAmount      float64
	GasCostUSD    float64
	BridgeFeeUSD  float64
	ExecutionTime int
	IsSimulated   bool
	Tool          string
}

func NewRoute(p RouteParams) UnifiedRoute {
	return UnifiedRoute{
		ID:            p.ID,
		FromChain:     p.From.ID,
		FromChainName: p.From.Name,
		ToChain:       p.To.ID,
		ToChainName:   p.To.Name,
		FromAmount:    p.FromAmount,
		ToAmount:      p.ToAmount,
		GasCostUSD:    p.GasCostUSD,
		BridgeFeeUSD:  p.BridgeFeeUSD,
		TotalCostUSD:  p.FromAmount + p.GasCostUSD + p.BridgeFeeUSD,
		ExecutionTime: p.ExecutionTime,
		IsSimulated:   p.IsSimulated,
		Tool:          p.Tool,
	}
}

// IsNative reports whether the route starts on the settlement chain.
func (r UnifiedRoute) IsNative() bool {
	return r.FromChain == r.ToChain
}
