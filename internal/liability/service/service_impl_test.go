package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/chainstream/internal/clock"
	"github.com/smallbiznis/chainstream/internal/config"
	"github.com/smallbiznis/chainstream/internal/events"
	"github.com/smallbiznis/chainstream/internal/liability/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (domain.Service, *clock.FakeClock, *events.Hub) {
	t.Helper()
	clk := clock.NewFakeClock(testNow)
	hub := events.NewHub(clk)
	svc := NewService(Params{
		Log:      zap.NewNop(),
		Treasury: config.NewStaticTreasuryConfigHolder(config.DefaultTreasuryConfig()),
		Clock:    clk,
		Events:   hub,
	})
	return svc, clk, hub
}

func TestNewServiceSeedsDefaultScenario(t *testing.T) {
	svc, _, _ := newTestService(t)

	state := svc.State()
	assert.Equal(t, "MEDIUM_DAO", state.Scenario)
	assert.InDelta(t, 0.1*49+1000*0.0001, state.TotalCost, 1e-9)
	assert.False(t, svc.IsThresholdReached())
}

func TestServiceTickReachesThreshold(t *testing.T) {
	svc, clk, hub := newTestService(t)
	ctx := context.Background()

	ticks := 0
	for !svc.IsThresholdReached() {
		clk.Advance(3 * time.Second)
		svc.Tick(ctx)
		ticks++
		require.Less(t, ticks, 10000, "threshold never reached")
	}

	snapshot := svc.Snapshot()
	assert.True(t, snapshot.ThresholdReached)
	assert.GreaterOrEqual(t, snapshot.State.TotalCost, 20.0)
	assert.Equal(t, 100.0, snapshot.Progress)
	assert.Equal(t, clk.Now(), snapshot.State.LastUpdate)

	sub, backlog, err := hub.Subscribe(events.TopicTreasury)
	require.NoError(t, err)
	defer sub.Close()
	require.NotEmpty(t, backlog)
	assert.Equal(t, events.TypeLiabilitiesAccrued, backlog[len(backlog)-1].Type)
}

func TestServiceApplyValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Apply(ctx, "unknown.service", 1)
	assert.ErrorIs(t, err, domain.ErrUnknownService)

	_, err = svc.Apply(ctx, "audit.services", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = svc.Apply(ctx, "audit.services", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	state, err := svc.Apply(ctx, "audit.services", 1)
	require.NoError(t, err)
	assert.InDelta(t, 15005, state.TotalCost, 1e-9)
	assert.True(t, svc.IsThresholdReached())
}

func TestServiceResetZeroesUsage(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Apply(ctx, "grant.program", 1)
	require.NoError(t, err)

	state := svc.Reset(ctx)

	assert.Equal(t, 0.0, state.TotalCost)
	assert.Equal(t, "MEDIUM_DAO", state.Scenario)
	assert.Empty(t, svc.Snapshot().Details)
}

func TestServiceLoadScenario(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	state, err := svc.LoadScenario(ctx, "small_dao")
	require.NoError(t, err)
	assert.Equal(t, "SMALL_DAO", state.Scenario)
	assert.InDelta(t, 0.5*49+50000*0.0001+0.3*80, state.TotalCost, 1e-9)

	_, err = svc.LoadScenario(ctx, "HUGE_DAO")
	assert.ErrorIs(t, err, domain.ErrUnknownScenario)
}

func TestServiceStateIsACopy(t *testing.T) {
	svc, _, _ := newTestService(t)

	state := svc.State()
	state.Usage["alchemy.eth"] = 1000

	assert.InDelta(t, 0.1, svc.State().Usage["alchemy.eth"], 1e-12)
}

func TestServiceExportYAML(t *testing.T) {
	svc, _, _ := newTestService(t)

	out, err := svc.ExportYAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "total_cost:")
	assert.Contains(t, string(out), "scenario: MEDIUM_DAO")
	assert.Contains(t, string(out), "threshold: 20")
}
