package service

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/smallbiznis/chainstream/internal/config"
	obsmetrics "github.com/smallbiznis/chainstream/internal/observability/metrics"
	"github.com/smallbiznis/chainstream/internal/route/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ToolDirect    = "Direct"
	ToolSimulated = "Simulated Bridge"
	ToolExternal  = "LI.FI"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Treasury *config.TreasuryConfigHolder
	Quoter   domain.Quoter       `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	treasury *config.TreasuryConfigHolder
	quoter   domain.Quoter
	metrics  *obsmetrics.Metrics
	newID    func() string
}

func NewService(p Params) domain.Service {
	quoter := p.Quoter
	if !p.Config.Quote.Enabled {
		quoter = nil
	}
	return &Service{
		log:      p.Log.Named("route.service"),
		treasury: p.Treasury,
		quoter:   quoter,
		metrics:  p.Metrics,
		newID:    uuid.NewString,
	}
}

func (s *Service) Compare(ctx context.Context, req domain.CompareRequest) ([]domain.UnifiedRoute, error) {
	if req.Amount <= 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return nil, domain.ErrInvalidAmount
	}

	routing := s.treasury.Get().Routing
	settlement := chainFromConfig(routing.SettlementChain)
	candidates := candidatesFromConfig(routing)

	// one slot per candidate keeps enumeration order for the stable sort
	slots := make([]*domain.UnifiedRoute, len(candidates))
	var wg sync.WaitGroup
	for i, chain := range candidates {
		if routing.RequireSufficientBalance && req.Balances.For(chain.ID).Insufficient(req.Amount) {
			s.log.Debug("chain skipped for insufficient balance",
				zap.Int64("chain_id", chain.ID),
				zap.Float64("balance", req.Balances.For(chain.ID).Amount),
				zap.Float64("amount", req.Amount),
			)
			continue
		}

		if chain.ID == settlement.ID {
			route := s.nativeRoute(routing, settlement, req.Amount)
			slots[i] = &route
			continue
		}

		if s.quoter == nil {
			route := s.simulatedRoute(routing, chain, settlement, req.Amount)
			slots[i] = &route
			continue
		}

		wg.Add(1)
		go func(i int, chain domain.Chain) {
			defer wg.Done()
			route, ok := s.QuoteExternal(ctx, chain, quoteTarget(routing, settlement), req.Amount, req.Payer)
			if !ok {
				if !routing.FallsBackToSimulated() {
					return
				}
				route = s.simulatedRoute(routing, chain, settlement, req.Amount)
			}
			slots[i] = &route
		}(i, chain)
	}
	wg.Wait()

	routes := make([]domain.UnifiedRoute, 0, len(slots))
	for _, slot := range slots {
		if slot != nil {
			routes = append(routes, *slot)
		}
	}
	SortRoutes(routes)

	s.log.Debug("routes compared",
		zap.Float64("amount", req.Amount),
		zap.Int("candidates", len(candidates)),
		zap.Int("routes", len(routes)),
	)
	return routes, nil
}

// SortRoutes orders routes by total cost; equal totals keep their order.
func SortRoutes(routes []domain.UnifiedRoute) {
	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].TotalCostUSD < routes[j].TotalCostUSD
	})
}

func (s *Service) QuoteExternal(ctx context.Context, from, to domain.Chain, amount float64, payer string) (domain.UnifiedRoute, bool) {
	if s.quoter == nil {
		return domain.UnifiedRoute{}, false
	}
	routing := s.treasury.Get().Routing

	req := domain.QuoteRequest{
		FromChainID: quoteChainID(from),
		ToChainID:   quoteChainID(to),
		FromToken:   quoteToken(from),
		ToToken:     quoteToken(to),
		Amount:      amount,
		Decimals:    routing.NativeDecimals,
		FromAddress: payer,
		Slippage:    routing.Slippage,
	}

	quote, err := s.quoter.Quote(ctx, req)
	if err != nil {
		s.metrics.RecordRouteQuote(ctx, "external", "unavailable")
		s.log.Warn("external quote unavailable",
			zap.Int64("from_chain", from.ID),
			zap.Int64("to_chain", to.ID),
			zap.Error(err),
		)
		return domain.UnifiedRoute{}, false
	}
	s.metrics.RecordRouteQuote(ctx, "external", "ok")

	// fields the quoter left out fall back to the local model
	toAmount := amount
	if quote.ToAmount != nil {
		toAmount = *quote.ToAmount
	}
	gas := from.GasCostUSD
	if quote.GasCostUSD != nil {
		gas = *quote.GasCostUSD
	}
	fee := routing.BridgeFeeUSD
	if quote.FeeCostUSD != nil {
		fee = *quote.FeeCostUSD
	}
	execution := routing.BridgeExecutionSeconds
	if quote.ExecutionSeconds != nil {
		execution = *quote.ExecutionSeconds
	}
	tool := quote.Tool
	if tool == "" {
		tool = ToolExternal
	}

	return domain.NewRoute(domain.RouteParams{
		ID:            s.newID(),
		From:          from,
		To:            to,
		FromAmount:    amount,
		ToAmount:      toAmount,
		GasCostUSD:    gas,
		BridgeFeeUSD:  fee,
		ExecutionTime: execution,
		IsSimulated:   false,
		Tool:          tool,
	}), true
}

func (s *Service) nativeRoute(routing config.RoutingConfig, settlement domain.Chain, amount float64) domain.UnifiedRoute {
	return domain.NewRoute(domain.RouteParams{
		ID:            s.newID(),
		From:          settlement,
		To:            settlement,
		FromAmount:    amount,
		ToAmount:      amount,
		GasCostUSD:    settlement.GasCostUSD,
		BridgeFeeUSD:  0,
		ExecutionTime: routing.NativeExecutionSeconds,
		IsSimulated:   false,
		Tool:          ToolDirect,
	})
}

func (s *Service) simulatedRoute(routing config.RoutingConfig, from, settlement domain.Chain, amount float64) domain.UnifiedRoute {
	return domain.NewRoute(domain.RouteParams{
		ID:            s.newID(),
		From:          from,
		To:            settlement,
		FromAmount:    amount,
		ToAmount:      amount,
		GasCostUSD:    from.GasCostUSD,
		BridgeFeeUSD:  routing.BridgeFeeUSD,
		ExecutionTime: routing.BridgeExecutionSeconds,
		IsSimulated:   true,
		Tool:          ToolSimulated,
	})
}

func (s *Service) SettlementChain() domain.Chain {
	return chainFromConfig(s.treasury.Get().Routing.SettlementChain)
}

func (s *Service) Candidates() []domain.Chain {
	return candidatesFromConfig(s.treasury.Get().Routing)
}

func (s *Service) Chain(id int64) (domain.Chain, bool) {
	routing := s.treasury.Get().Routing
	if routing.SettlementChain.ID == id {
		return chainFromConfig(routing.SettlementChain), true
	}
	for _, chain := range routing.Candidates {
		if chain.ID == id {
			return chainFromConfig(chain), true
		}
	}
	return domain.Chain{}, false
}

func chainFromConfig(c config.ChainConfig) domain.Chain {
	return domain.Chain{
		ID:           c.ID,
		Name:         c.Name,
		ExplorerURL:  c.ExplorerURL,
		GasCostUSD:   c.GasCostUSD,
		TokenAddress: c.TokenAddress,
		QuoteChainID: c.QuoteChainID,
		QuoteToken:   c.QuoteToken,
	}
}

func candidatesFromConfig(routing config.RoutingConfig) []domain.Chain {
	chains := make([]domain.Chain, 0, len(routing.Candidates))
	for _, c := range routing.Candidates {
		chains = append(chains, chainFromConfig(c))
	}
	return chains
}

// quoteTarget points quotes at a quotable stand-in when the settlement chain has none.
func quoteTarget(routing config.RoutingConfig, settlement domain.Chain) domain.Chain {
	target := settlement
	if target.QuoteChainID == 0 {
		target.QuoteChainID = routing.QuoteDestination.QuoteChainID
		target.QuoteToken = routing.QuoteDestination.QuoteToken
	}
	return target
}

func quoteChainID(c domain.Chain) int64 {
	if c.QuoteChainID != 0 {
		return c.QuoteChainID
	}
	return c.ID
}

func quoteToken(c domain.Chain) string {
	if c.QuoteToken != "" {
		return c.QuoteToken
	}
	return c.TokenAddress
}
