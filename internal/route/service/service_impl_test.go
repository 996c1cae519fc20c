package service

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/chainstream/internal/config"
	"github.com/smallbiznis/chainstream/internal/route/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockQuoter struct {
	mock.Mock
}

func (m *mockQuoter) Quote(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.Quote), args.Error(1)
}

func fromQuoteChain(id int64) interface{} {
	return mock.MatchedBy(func(req domain.QuoteRequest) bool {
		return req.FromChainID == id
	})
}

func newComparator(cfg config.TreasuryConfig, quoter domain.Quoter) domain.Service {
	return NewService(Params{
		Log:      zap.NewNop(),
		Config:   config.Config{Quote: config.QuoteConfig{Enabled: quoter != nil}},
		Treasury: config.NewStaticTreasuryConfigHolder(cfg),
		Quoter:   quoter,
	})
}

func assertCostIdentity(t *testing.T, routes []domain.UnifiedRoute) {
	t.Helper()
	for i, route := range routes {
		assert.Equal(t, route.FromAmount+route.GasCostUSD+route.BridgeFeeUSD, route.TotalCostUSD, "route %d", i)
		if i > 0 {
			assert.LessOrEqual(t, routes[i-1].TotalCostUSD, route.TotalCostUSD, "route %d out of order", i)
		}
	}
}

func TestCompareRanksSettlementChainFirst(t *testing.T) {
	comparator := newComparator(config.DefaultTreasuryConfig(), nil)

	routes, err := comparator.Compare(context.Background(), domain.CompareRequest{Amount: 20})
	require.NoError(t, err)
	require.Len(t, routes, 4)
	assertCostIdentity(t, routes)

	native := routes[0]
	assert.Equal(t, config.ChainIDArcTestnet, native.FromChain)
	assert.Equal(t, config.ChainIDArcTestnet, native.ToChain)
	assert.InDelta(t, 20.01, native.TotalCostUSD, 1e-9)
	assert.Equal(t, 0.0, native.BridgeFeeUSD)
	assert.Equal(t, 1, native.ExecutionTime)
	assert.False(t, native.IsSimulated)
	assert.Equal(t, ToolDirect, native.Tool)
	assert.True(t, native.IsNative())

	assert.Equal(t, config.ChainIDBaseSepolia, routes[1].FromChain)
	assert.InDelta(t, 20.55, routes[1].TotalCostUSD, 1e-9)
	assert.Equal(t, config.ChainIDArbitrumSepolia, routes[2].FromChain)
	assert.InDelta(t, 20.60, routes[2].TotalCostUSD, 1e-9)
	assert.Equal(t, config.ChainIDSepolia, routes[3].FromChain)
	assert.InDelta(t, 23.00, routes[3].TotalCostUSD, 1e-9)

	for _, route := range routes[1:] {
		assert.True(t, route.IsSimulated)
		assert.Equal(t, 0.5, route.BridgeFeeUSD)
		assert.Equal(t, 8, route.ExecutionTime)
		assert.Equal(t, config.ChainIDArcTestnet, route.ToChain)
		assert.Equal(t, 20.0, route.FromAmount)
		assert.Equal(t, 20.0, route.ToAmount)
	}
}

func TestCompareIsIdempotentExceptIDs(t *testing.T) {
	comparator := newComparator(config.DefaultTreasuryConfig(), nil)
	req := domain.CompareRequest{Amount: 42.5, Balances: domain.Balances{config.ChainIDBaseSepolia: domain.KnownBalance(100)}}

	first, err := comparator.Compare(context.Background(), req)
	require.NoError(t, err)
	second, err := comparator.Compare(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.NotEqual(t, first[i].ID, second[i].ID)
		a, b := first[i], second[i]
		a.ID, b.ID = "", ""
		assert.Equal(t, a, b)
	}
}

func TestCompareKeepsEnumerationOrderOnTies(t *testing.T) {
	cfg := config.DefaultTreasuryConfig()
	cfg.Routing.Candidates = []config.ChainConfig{
		{ID: 1, Name: "first", GasCostUSD: 0.2},
		{ID: 2, Name: "second", GasCostUSD: 0.2},
		{ID: 3, Name: "third", GasCostUSD: 0.2},
	}
	comparator := newComparator(cfg, nil)

	routes, err := comparator.Compare(context.Background(), domain.CompareRequest{Amount: 10})
	require.NoError(t, err)
	require.Len(t, routes, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{routes[0].FromChain, routes[1].FromChain, routes[2].FromChain})
}

func TestCompareRejectsInvalidAmount(t *testing.T) {
	comparator := newComparator(config.DefaultTreasuryConfig(), nil)

	for _, amount := range []float64{0, -1} {
		_, err := comparator.Compare(context.Background(), domain.CompareRequest{Amount: amount})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	}
}

func TestCompareUsesExternalQuotesAndFallsBack(t *testing.T) {
	gas, fee, seconds, toAmount := 0.02, 0.1, 30, 19.9
	quoter := &mockQuoter{}
	quoter.On("Quote", mock.Anything, fromQuoteChain(8453)).Return(domain.Quote{
		ToAmount:         &toAmount,
		GasCostUSD:       &gas,
		FeeCostUSD:       &fee,
		ExecutionSeconds: &seconds,
		Tool:             "StargateV2",
	}, nil)
	quoter.On("Quote", mock.Anything, fromQuoteChain(42161)).Return(domain.Quote{}, errors.New("timeout"))
	quoter.On("Quote", mock.Anything, fromQuoteChain(1)).Return(domain.Quote{}, domain.ErrQuoteUnavailable)

	comparator := newComparator(config.DefaultTreasuryConfig(), quoter)
	routes, err := comparator.Compare(context.Background(), domain.CompareRequest{Amount: 20, Payer: "0xabc"})
	require.NoError(t, err)
	require.Len(t, routes, 4)
	assertCostIdentity(t, routes)

	var base domain.UnifiedRoute
	for _, route := range routes {
		if route.FromChain == config.ChainIDBaseSepolia {
			base = route
		}
	}
	assert.False(t, base.IsSimulated)
	assert.Equal(t, "StargateV2", base.Tool)
	assert.InDelta(t, 20.12, base.TotalCostUSD, 1e-9)
	assert.Equal(t, 19.9, base.ToAmount)
	assert.Equal(t, 30, base.ExecutionTime)
	assert.Equal(t, config.ChainIDArcTestnet, base.ToChain)

	quoter.AssertNumberOfCalls(t, "Quote", 3)
	quoter.AssertCalled(t, "Quote", mock.Anything, mock.MatchedBy(func(req domain.QuoteRequest) bool {
		return req.FromChainID == 8453 && req.ToChainID == 10 && req.Slippage == 0.03 && req.FromAddress == "0xabc"
	}))
}

func TestCompareWithoutFallbackDropsUnquotedChains(t *testing.T) {
	cfg := config.DefaultTreasuryConfig()
	fallback := false
	cfg.Routing.FallbackToSimulated = &fallback

	quoter := &mockQuoter{}
	quoter.On("Quote", mock.Anything, fromQuoteChain(8453)).Return(domain.Quote{}, nil)
	quoter.On("Quote", mock.Anything, mock.Anything).Return(domain.Quote{}, errors.New("no route"))

	comparator := newComparator(cfg, quoter)
	routes, err := comparator.Compare(context.Background(), domain.CompareRequest{Amount: 20})
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assertCostIdentity(t, routes)

	assert.Equal(t, config.ChainIDArcTestnet, routes[0].FromChain)
	assert.Equal(t, config.ChainIDBaseSepolia, routes[1].FromChain)
	// missing quote fields fall back to the local model
	assert.InDelta(t, 20.55, routes[1].TotalCostUSD, 1e-9)
	assert.Equal(t, 8, routes[1].ExecutionTime)
	assert.Equal(t, ToolExternal, routes[1].Tool)
}

func TestCompareBalancePolicy(t *testing.T) {
	balances := domain.Balances{
		config.ChainIDSepolia:    domain.KnownBalance(5),
		config.ChainIDArcTestnet: domain.KnownBalance(20),
	}

	lenient := newComparator(config.DefaultTreasuryConfig(), nil)
	routes, err := lenient.Compare(context.Background(), domain.CompareRequest{Amount: 20, Balances: balances})
	require.NoError(t, err)
	assert.Len(t, routes, 4, "balances do not filter unless the policy asks for it")

	cfg := config.DefaultTreasuryConfig()
	cfg.Routing.RequireSufficientBalance = true
	strict := newComparator(cfg, nil)
	routes, err = strict.Compare(context.Background(), domain.CompareRequest{Amount: 20, Balances: balances})
	require.NoError(t, err)
	require.Len(t, routes, 3)
	for _, route := range routes {
		assert.NotEqual(t, config.ChainIDSepolia, route.FromChain)
	}
	assert.Equal(t, config.ChainIDArcTestnet, routes[0].FromChain, "an exactly sufficient balance is kept")
}

func TestCompareZeroEligibleChains(t *testing.T) {
	cfg := config.DefaultTreasuryConfig()
	cfg.Routing.RequireSufficientBalance = true
	comparator := newComparator(cfg, nil)

	balances := domain.Balances{}
	for _, chain := range comparator.Candidates() {
		balances[chain.ID] = domain.KnownBalance(0)
	}
	routes, err := comparator.Compare(context.Background(), domain.CompareRequest{Amount: 20, Balances: balances})
	require.NoError(t, err)
	assert.Empty(t, routes)
}

func TestQuoteExternalWithoutQuoter(t *testing.T) {
	comparator := newComparator(config.DefaultTreasuryConfig(), nil)
	base, ok := comparator.Chain(config.ChainIDBaseSepolia)
	require.True(t, ok)

	_, ok = comparator.QuoteExternal(context.Background(), base, comparator.SettlementChain(), 20, "")
	assert.False(t, ok)
}

func TestChainLookup(t *testing.T) {
	comparator := newComparator(config.DefaultTreasuryConfig(), nil)

	arc, ok := comparator.Chain(config.ChainIDArcTestnet)
	require.True(t, ok)
	assert.Equal(t, "https://testnet.arcscan.app/tx/0xabc", arc.TxURL("0xabc"))

	_, ok = comparator.Chain(999)
	assert.False(t, ok)
}
