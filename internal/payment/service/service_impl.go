package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/ethereum/go-ethereum/common"
	"github.com/smallbiznis/chainstream/internal/clock"
	"github.com/smallbiznis/chainstream/internal/config"
	"github.com/smallbiznis/chainstream/internal/events"
	ledgerdomain "github.com/smallbiznis/chainstream/internal/ledger/domain"
	liabilitydomain "github.com/smallbiznis/chainstream/internal/liability/domain"
	obsmetrics "github.com/smallbiznis/chainstream/internal/observability/metrics"
	"github.com/smallbiznis/chainstream/internal/payment/domain"
	routedomain "github.com/smallbiznis/chainstream/internal/route/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Config      config.Config
	Treasury    *config.TreasuryConfigHolder
	Clock       clock.Clock
	GenID       *snowflake.Node
	Liabilities liabilitydomain.Service
	Routes      routedomain.Service
	Ledger      ledgerdomain.Service
	Sender      domain.Sender

	Events           *events.Hub                  `optional:"true"`
	Metrics          *obsmetrics.Metrics          `optional:"true"`
	SchedulerMetrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

// Service is the payment agent. It holds executing as its own re-entrancy
// guard while quotes and sends run with mu released.
type Service struct {
	mu sync.Mutex

	log         *zap.Logger
	cfg         config.Config
	treasury    *config.TreasuryConfigHolder
	clock       clock.Clock
	genID       *snowflake.Node
	liabilities liabilitydomain.Service
	routes      routedomain.Service
	ledger      ledgerdomain.Service
	sender      domain.Sender
	events      *events.Hub
	metrics     *obsmetrics.Metrics
	schedMetric *obsmetrics.SchedulerMetrics

	state      domain.State
	payer      string
	balances   routedomain.Balances
	candidates []routedomain.UnifiedRoute
	selectedID string
	activeTxID string
	cancel     context.CancelFunc
	lastTx     *ledgerdomain.TransactionRecord
	lastErr    string
	dismissed  bool
	updatedAt  time.Time
}

type execution struct {
	ctx    context.Context
	base   context.Context
	cancel context.CancelFunc
	record ledgerdomain.TransactionRecord
	route  routedomain.UnifiedRoute
	payer  string
}

func NewService(p Params) domain.Service {
	svc := &Service{
		log:         p.Log.Named("payment.agent"),
		cfg:         p.Config,
		treasury:    p.Treasury,
		clock:       p.Clock,
		genID:       p.GenID,
		liabilities: p.Liabilities,
		routes:      p.Routes,
		ledger:      p.Ledger,
		sender:      p.Sender,
		events:      p.Events,
		metrics:     p.Metrics,
		schedMetric: p.SchedulerMetrics,
		state:       domain.StateIdle,
		updatedAt:   p.Clock.Now(),
	}
	svc.schedMetric.SetAgentState(string(domain.StateIdle))

	if payer := strings.TrimSpace(p.Config.PayerAddress); payer != "" {
		if common.IsHexAddress(payer) {
			svc.payer = common.HexToAddress(payer).Hex()
		} else {
			svc.log.Warn("ignoring invalid payer address from config", zap.String("payer", payer))
		}
	}
	return svc
}

func (s *Service) Evaluate(ctx context.Context) (domain.Snapshot, error) {
	reached := s.liabilities.IsThresholdReached()

	s.mu.Lock()
	if s.state != domain.StateIdle && s.state != domain.StateAwaitingPayer {
		defer s.mu.Unlock()
		return s.snapshotLocked(), nil
	}
	if !reached {
		s.dismissed = false
		if s.state == domain.StateAwaitingPayer {
			s.transitionLocked(domain.StateIdle)
		}
		defer s.mu.Unlock()
		return s.snapshotLocked(), nil
	}
	if s.payer == "" {
		if s.state != domain.StateAwaitingPayer {
			s.log.Info("threshold reached, awaiting payer")
			s.transitionLocked(domain.StateAwaitingPayer)
		}
		defer s.mu.Unlock()
		return s.snapshotLocked(), nil
	}
	if s.dismissed {
		defer s.mu.Unlock()
		return s.snapshotLocked(), nil
	}
	s.mu.Unlock()

	return s.FindRoutes(ctx)
}

func (s *Service) FindRoutes(ctx context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	switch s.state {
	case domain.StateIdle, domain.StateAwaitingPayer, domain.StateRouteSelected:
	case domain.StateExecuting:
		defer s.mu.Unlock()
		return s.snapshotLocked(), domain.ErrExecutionInProgress
	default:
		defer s.mu.Unlock()
		return s.snapshotLocked(), domain.ErrInvalidTransition
	}
	if s.payer == "" {
		defer s.mu.Unlock()
		return s.snapshotLocked(), domain.ErrPayerRequired
	}
	if !s.liabilities.IsThresholdReached() {
		defer s.mu.Unlock()
		return s.snapshotLocked(), domain.ErrThresholdNotReached
	}

	previous := s.state
	amount := s.liabilities.State().TotalCost
	req := routedomain.CompareRequest{
		Amount:   amount,
		Payer:    s.payer,
		Balances: copyBalances(s.balances),
	}
	s.dismissed = false
	s.transitionLocked(domain.StateFindingRoutes)
	s.mu.Unlock()

	routes, err := s.routes.Compare(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err.Error()
		s.log.Warn("route comparison failed", zap.Float64("amount", amount), zap.Error(err))
		s.transitionLocked(previous)
		return s.snapshotLocked(), err
	}

	s.candidates = routes
	s.selectedID = ""
	if len(routes) > 0 {
		s.selectedID = routes[0].ID
	}
	s.lastErr = ""
	s.transitionLocked(domain.StateRouteSelected)

	fields := []zap.Field{zap.Float64("amount", amount), zap.Int("routes", len(routes))}
	if len(routes) > 0 {
		fields = append(fields,
			zap.Int64("recommended_chain", routes[0].FromChain),
			zap.Float64("recommended_total", routes[0].TotalCostUSD),
		)
	}
	s.log.Info("routes found", fields...)
	s.publishLocked(events.TypeRoutesFound, map[string]any{
		"amount":            amount,
		"routes":            len(routes),
		"selected_route_id": s.selectedID,
	})
	return s.snapshotLocked(), nil
}

func (s *Service) SetPayer(ctx context.Context, address string, balances routedomain.Balances) (domain.Snapshot, error) {
	address = strings.TrimSpace(address)
	if address != "" {
		if !common.IsHexAddress(address) {
			return domain.Snapshot{}, domain.ErrInvalidPayer
		}
		address = common.HexToAddress(address).Hex()
	}
	reached := s.liabilities.IsThresholdReached()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == domain.StateExecuting || s.state == domain.StateFindingRoutes {
		return s.snapshotLocked(), domain.ErrExecutionInProgress
	}

	changed := address != s.payer || !maps.Equal(balances, s.balances)
	s.payer = address
	s.balances = copyBalances(balances)

	switch {
	case address == "":
		s.candidates = nil
		s.selectedID = ""
		if reached {
			s.transitionLocked(domain.StateAwaitingPayer)
		} else {
			s.transitionLocked(domain.StateIdle)
		}
	case s.state == domain.StateAwaitingPayer:
		s.transitionLocked(domain.StateIdle)
	case s.state == domain.StateRouteSelected && changed:
		// routes were filtered and priced for the previous payer
		s.discardRoutesLocked("payer changed")
	}

	s.log.Info("payer updated", zap.String("payer", address), zap.Int("balances", len(balances)))
	return s.snapshotLocked(), nil
}

func (s *Service) SelectRoute(ctx context.Context, routeID string) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateRouteSelected {
		return s.snapshotLocked(), domain.ErrInvalidTransition
	}
	for _, route := range s.candidates {
		if route.ID == routeID {
			s.selectedID = route.ID
			s.updatedAt = s.clock.Now()
			s.publishLocked(events.TypeAgentState, map[string]any{
				"state":             s.state,
				"selected_route_id": route.ID,
			})
			return s.snapshotLocked(), nil
		}
	}
	return s.snapshotLocked(), domain.ErrUnknownRoute
}

func (s *Service) Execute(ctx context.Context) (ledgerdomain.TransactionRecord, error) {
	exec, err := s.begin(ctx, ctx)
	if err != nil {
		return ledgerdomain.TransactionRecord{}, err
	}
	return s.finish(exec)
}

func (s *Service) ExecuteAsync(ctx context.Context) (ledgerdomain.TransactionRecord, error) {
	exec, err := s.begin(ctx, context.WithoutCancel(ctx))
	if err != nil {
		return ledgerdomain.TransactionRecord{}, err
	}
	go func() {
		_, _ = s.finish(exec)
	}()
	return exec.record, nil
}

func (s *Service) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateExecuting || s.cancel == nil {
		return domain.ErrNotExecuting
	}
	s.log.Info("payment cancellation requested", zap.String("tx_id", s.activeTxID))
	s.cancel()
	return nil
}

func (s *Service) Abandon(ctx context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateRouteSelected {
		return s.snapshotLocked(), domain.ErrInvalidTransition
	}
	s.candidates = nil
	s.selectedID = ""
	s.dismissed = true
	s.transitionLocked(domain.StateIdle)
	s.log.Info("routes abandoned")
	return s.snapshotLocked(), nil
}

func (s *Service) Reprice(ctx context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	if s.state == domain.StateRouteSelected {
		s.discardRoutesLocked("liabilities changed")
	}
	s.mu.Unlock()
	return s.Evaluate(ctx)
}

func (s *Service) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// begin moves route_selected to executing and records the pending transaction
// before anything is sent. parent scopes the send; ctx scopes the ledger append.
func (s *Service) begin(ctx, parent context.Context) (*execution, error) {
	s.mu.Lock()
	if s.state == domain.StateExecuting {
		s.mu.Unlock()
		return nil, domain.ErrExecutionInProgress
	}
	if s.state != domain.StateRouteSelected {
		s.mu.Unlock()
		return nil, domain.ErrInvalidTransition
	}
	route, ok := s.selectedLocked()
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrNoRouteSelected
	}
	if s.payer == "" {
		s.mu.Unlock()
		return nil, domain.ErrPayerRequired
	}

	record := ledgerdomain.TransactionRecord{
		ID:            "tx-" + s.genID.Generate().String(),
		Timestamp:     s.clock.Now(),
		FromChain:     route.FromChain,
		FromChainName: route.FromChainName,
		ToChain:       route.ToChain,
		ToChainName:   route.ToChainName,
		Amount:        route.FromAmount,
		GasCost:       route.GasCostUSD,
		BridgeFee:     route.BridgeFeeUSD,
		TotalCost:     route.TotalCostUSD,
		Status:        ledgerdomain.StatusPending,
		Savings:       Savings(s.candidates, route),
		Tool:          route.Tool,
	}

	execCtx, cancel := context.WithCancel(parent)
	exec := &execution{
		ctx:    execCtx,
		base:   context.WithoutCancel(parent),
		cancel: cancel,
		record: record,
		route:  route,
		payer:  s.payer,
	}
	s.cancel = cancel
	s.activeTxID = record.ID
	s.lastErr = ""
	s.transitionLocked(domain.StateExecuting)
	s.mu.Unlock()

	if err := s.ledger.Append(ctx, record); err != nil {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.activeTxID = ""
		s.lastErr = err.Error()
		s.transitionLocked(domain.StateRouteSelected)
		s.mu.Unlock()

		s.log.Error("payment aborted, ledger append failed", zap.String("tx_id", record.ID), zap.Error(err))
		s.metrics.RecordPaymentOutcome(ctx, "aborted", record.TotalCost)
		return nil, fmt.Errorf("record transaction: %w", err)
	}

	s.log.Info("payment initiated",
		zap.String("tx_id", record.ID),
		zap.Int64("from_chain", record.FromChain),
		zap.Float64("total_cost", record.TotalCost),
		zap.Float64("savings", record.Savings),
	)
	s.publish(events.TypePaymentInitiated, record)
	return exec, nil
}

func (s *Service) finish(exec *execution) (ledgerdomain.TransactionRecord, error) {
	defer exec.cancel()

	settlement := s.routes.SettlementChain()
	req := domain.SendRequest{
		ChainID:  settlement.ID,
		From:     exec.payer,
		To:       s.recipient(exec.payer),
		Amount:   exec.route.FromAmount,
		Decimals: s.treasury.Get().Routing.NativeDecimals,
	}

	ref, err := s.sender.Send(exec.ctx, req)
	if err != nil {
		return s.fail(exec, ref, err)
	}

	explorerURL := settlement.TxURL(ref.Hash)
	if err := s.ledger.UpdateStatus(exec.base, exec.record.ID, ledgerdomain.StatusUpdate{
		Status:      ledgerdomain.StatusPending,
		Hash:        ref.Hash,
		ExplorerURL: explorerURL,
	}); err != nil {
		s.log.Warn("failed to record transaction hash", zap.String("tx_id", exec.record.ID), zap.Error(err))
	}

	if err := s.sender.WaitConfirmed(exec.ctx, ref); err != nil {
		return s.fail(exec, ref, err)
	}
	return s.settle(exec, ref)
}

func (s *Service) settle(exec *execution, ref domain.SendReference) (ledgerdomain.TransactionRecord, error) {
	explorerURL := s.routes.SettlementChain().TxURL(ref.Hash)
	if err := s.ledger.UpdateStatus(exec.base, exec.record.ID, ledgerdomain.StatusUpdate{
		Status:      ledgerdomain.StatusConfirmed,
		Hash:        ref.Hash,
		ExplorerURL: explorerURL,
	}); err != nil {
		s.log.Warn("failed to confirm transaction in ledger", zap.String("tx_id", exec.record.ID), zap.Error(err))
	}

	s.liabilities.Reset(exec.base)

	record := s.resolveRecord(exec, ledgerdomain.StatusConfirmed, ref.Hash, explorerURL)

	s.mu.Lock()
	s.lastTx = &record
	s.transitionLocked(domain.StateSettled)
	s.publishLocked(events.TypePaymentSettled, record)
	s.candidates = nil
	s.selectedID = ""
	s.activeTxID = ""
	s.cancel = nil
	s.dismissed = false
	s.transitionLocked(domain.StateIdle)
	s.mu.Unlock()

	s.metrics.RecordPaymentOutcome(exec.base, string(ledgerdomain.StatusConfirmed), record.TotalCost)
	s.log.Info("payment settled",
		zap.String("tx_id", record.ID),
		zap.String("hash", record.Hash),
		zap.Float64("total_cost", record.TotalCost),
	)
	return record, nil
}

func (s *Service) fail(exec *execution, ref domain.SendReference, cause error) (ledgerdomain.TransactionRecord, error) {
	explorerURL := s.routes.SettlementChain().TxURL(ref.Hash)
	if err := s.ledger.UpdateStatus(exec.base, exec.record.ID, ledgerdomain.StatusUpdate{
		Status:      ledgerdomain.StatusFailed,
		Hash:        ref.Hash,
		ExplorerURL: explorerURL,
	}); err != nil {
		s.log.Warn("failed to mark transaction failed in ledger", zap.String("tx_id", exec.record.ID), zap.Error(err))
	}

	record := s.resolveRecord(exec, ledgerdomain.StatusFailed, ref.Hash, explorerURL)

	s.mu.Lock()
	s.lastTx = &record
	s.lastErr = cause.Error()
	s.transitionLocked(domain.StateFailed)
	s.publishLocked(events.TypePaymentFailed, map[string]any{
		"transaction": record,
		"error":       cause.Error(),
	})
	s.activeTxID = ""
	s.cancel = nil
	s.transitionLocked(domain.StateRouteSelected)
	s.mu.Unlock()

	s.metrics.RecordPaymentOutcome(exec.base, string(ledgerdomain.StatusFailed), record.TotalCost)
	s.log.Warn("payment failed", zap.String("tx_id", record.ID), zap.Error(cause))

	if errors.Is(cause, domain.ErrSendFailed) {
		return record, cause
	}
	return record, fmt.Errorf("%w: %w", domain.ErrSendFailed, cause)
}

// resolveRecord prefers the ledger's copy and falls back to the in-flight one.
func (s *Service) resolveRecord(exec *execution, status ledgerdomain.Status, hash, explorerURL string) ledgerdomain.TransactionRecord {
	if record, ok := s.ledger.Get(exec.base, exec.record.ID); ok {
		return record
	}
	record := exec.record
	record.Status = status
	if hash != "" {
		record.Hash = hash
	}
	if explorerURL != "" {
		record.ExplorerURL = explorerURL
	}
	return record
}

func (s *Service) recipient(payer string) string {
	if addr := strings.TrimSpace(s.cfg.Sender.RecipientAddress); common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return payer
}

// discardRoutesLocked returns route_selected to idle without dismissing, so the
// next Evaluate compares again.
func (s *Service) discardRoutesLocked(reason string) {
	s.log.Info("discarding compared routes", zap.String("reason", reason), zap.Int("routes", len(s.candidates)))
	s.candidates = nil
	s.selectedID = ""
	s.transitionLocked(domain.StateIdle)
}

func (s *Service) selectedLocked() (routedomain.UnifiedRoute, bool) {
	for _, route := range s.candidates {
		if route.ID == s.selectedID {
			return route, true
		}
	}
	return routedomain.UnifiedRoute{}, false
}

func (s *Service) transitionLocked(next domain.State) {
	previous := s.state
	s.state = next
	s.updatedAt = s.clock.Now()
	s.schedMetric.SetAgentState(string(next))
	if previous != next {
		s.publishLocked(events.TypeAgentState, map[string]any{
			"from": previous,
			"to":   next,
		})
	}
}

func (s *Service) snapshotLocked() domain.Snapshot {
	routes := make([]routedomain.UnifiedRoute, len(s.candidates))
	copy(routes, s.candidates)
	snapshot := domain.Snapshot{
		State:           s.state,
		Payer:           s.payer,
		Routes:          routes,
		SelectedRouteID: s.selectedID,
		ActiveTxID:      s.activeTxID,
		LastError:       s.lastErr,
		Dismissed:       s.dismissed,
		UpdatedAt:       s.updatedAt,
	}
	if s.lastTx != nil {
		last := *s.lastTx
		snapshot.LastTransaction = &last
	}
	return snapshot
}

// publishLocked is safe under mu: the hub never blocks.
func (s *Service) publishLocked(eventType string, data any) {
	s.publish(eventType, data)
}

func (s *Service) publish(eventType string, data any) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.TopicTreasury, eventType, data)
}

// Savings is the gap between the most expensive compared route and the selected one.
func Savings(routes []routedomain.UnifiedRoute, selected routedomain.UnifiedRoute) float64 {
	if len(routes) <= 1 {
		return 0
	}
	highest := routes[0].TotalCostUSD
	for _, route := range routes[1:] {
		if route.TotalCostUSD > highest {
			highest = route.TotalCostUSD
		}
	}
	return highest - selected.TotalCostUSD
}

func copyBalances(in routedomain.Balances) routedomain.Balances {
	if in == nil {
		return nil
	}
	out := make(routedomain.Balances, len(in))
	for id, balance := range in {
		out[id] = balance
	}
	return out
}
