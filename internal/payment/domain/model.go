// Package domain holds the payment agent state machine model and the send capability it drives.
package domain

import (
	"context"
	"errors"
	"time"

	ledgerdomain "github.com/smallbiznis/chainstream/internal/ledger/domain"
	routedomain "github.com/smallbiznis/chainstream/internal/route/domain"
)

type State string

const (
	StateIdle          State = "idle"
	StateAwaitingPayer State = "awaiting_payer"
	StateFindingRoutes State = "finding_routes"
	StateRouteSelected State = "route_selected"
	StateExecuting     State = "executing"
	StateSettled       State = "settled"
	StateFailed        State = "failed"
)

// Snapshot is a read-only view of the agent.
type Snapshot struct {
	State           State                           `json:"state"`
	Payer           string                          `json:"payer,omitempty"`
	Routes          []routedomain.UnifiedRoute      `json:"routes"`
	SelectedRouteID string                          `json:"selected_route_id,omitempty"`
	ActiveTxID      string                          `json:"active_tx_id,omitempty"`
	LastTransaction *ledgerdomain.TransactionRecord `json:"last_transaction,omitempty"`
	LastError       string                          `json:"last_error,omitempty"`
	Dismissed       bool                            `json:"dismissed"`
	UpdatedAt       time.Time                       `json:"updated_at"`
}

// SelectedRoute returns the route the next execution would use.
func (s Snapshot) SelectedRoute() (routedomain.UnifiedRoute, bool) {
	for _, route := range s.Routes {
		if route.ID == s.SelectedRouteID {
			return route, true
		}
	}
	return routedomain.UnifiedRoute{}, false
}

type Service interface {
	// Evaluate is the automatic trigger run after each accrual tick.
	Evaluate(ctx context.Context) (Snapshot, error)
	FindRoutes(ctx context.Context) (Snapshot, error)
	SetPayer(ctx context.Context, address string, balances routedomain.Balances) (Snapshot, error)
	SelectRoute(ctx context.Context, routeID string) (Snapshot, error)
	// Execute blocks until the send settles or fails.
	Execute(ctx context.Context) (ledgerdomain.TransactionRecord, error)
	// ExecuteAsync returns the pending record and resolves it in the background.
	ExecuteAsync(ctx context.Context) (ledgerdomain.TransactionRecord, error)
	Cancel(ctx context.Context) error
	Abandon(ctx context.Context) (Snapshot, error)
	// Reprice drops compared routes after a manual liability change and
	// evaluates again. An executing payment is left alone.
	Reprice(ctx context.Context) (Snapshot, error)
	Snapshot() Snapshot
}

// SendRequest moves Amount of the settlement chain's native token from From to To.
type SendRequest struct {
	ChainID  int64
	From     string
	To       string
	Amount   float64
	Decimals int
}

type SendReference struct {
	Hash string
}

// Sender broadcasts a value transfer and waits for its inclusion. Signing stays with the node.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendReference, error)
	WaitConfirmed(ctx context.Context, ref SendReference) error
}

type SenderConfig struct {
	RPCURL       string
	PollInterval time.Duration
	Delay        time.Duration
}

type SenderFactory interface {
	Mode() string
	NewSender(cfg SenderConfig) (Sender, error)
}

var (
	ErrPayerRequired       = errors.New("payer_required")
	ErrInvalidPayer        = errors.New("invalid_payer")
	ErrThresholdNotReached = errors.New("threshold_not_reached")
	ErrInvalidTransition   = errors.New("invalid_state_transition")
	ErrNoRouteSelected     = errors.New("no_route_selected")
	ErrUnknownRoute        = errors.New("unknown_route")
	ErrExecutionInProgress = errors.New("execution_in_progress")
	ErrNotExecuting        = errors.New("not_executing")
	ErrSenderNotFound      = errors.New("sender_not_found")
	ErrInvalidSenderConfig = errors.New("invalid_sender_config")
	ErrTransactionReverted = errors.New("transaction_reverted")
	ErrSendFailed          = errors.New("send_failed")
)
