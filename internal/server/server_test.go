package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/chainstream/internal/clock"
	"github.com/smallbiznis/chainstream/internal/config"
	"github.com/smallbiznis/chainstream/internal/events"
	ledgerdomain "github.com/smallbiznis/chainstream/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/chainstream/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/chainstream/internal/ledger/service"
	liabilitydomain "github.com/smallbiznis/chainstream/internal/liability/domain"
	liabilityservice "github.com/smallbiznis/chainstream/internal/liability/service"
	"github.com/smallbiznis/chainstream/internal/observability"
	"github.com/smallbiznis/chainstream/internal/payment/adapters/simulated"
	paymentdomain "github.com/smallbiznis/chainstream/internal/payment/domain"
	paymentservice "github.com/smallbiznis/chainstream/internal/payment/service"
	routeservice "github.com/smallbiznis/chainstream/internal/route/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPayer = "0x1111111111111111111111111111111111111111"

type testEnv struct {
	server *Server
	hub    *events.Hub
	ledger ledgerdomain.Service
}

func testTreasury() config.TreasuryConfig {
	cfg := config.DefaultTreasuryConfig()
	cfg.Services = []config.ServiceConfig{{
		ID:           "svc.metered",
		Name:         "Metered API",
		Category:     "Infrastructure",
		CostPerUnit:  1,
		Unit:         "calls",
		BillingCycle: config.BillingCycleMetered,
	}}
	cfg.Scenarios = []config.ScenarioConfig{{
		Name:  "TEST",
		Label: "Test",
		Usage: []config.UsageConfig{{Service: "svc.metered", Quantity: 20}},
	}}
	cfg.DefaultScenario = "TEST"
	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	hub := events.NewHub(clk)
	treasury := config.NewStaticTreasuryConfigHolder(testTreasury())
	cfg := config.Config{LedgerStore: config.LedgerStoreMemory, PayerAddress: testPayer}
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	liabilities := liabilityservice.NewService(liabilityservice.Params{
		Log: log, Treasury: treasury, Clock: clk, Events: hub,
	})
	routes := routeservice.NewService(routeservice.Params{
		Log: log, Config: cfg, Treasury: treasury,
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		Log: log, Config: cfg, Treasury: treasury, Store: ledgerrepo.NewMemoryStore(), Events: hub,
	})
	agent := paymentservice.NewService(paymentservice.Params{
		Log:         log,
		Config:      cfg,
		Treasury:    treasury,
		Clock:       clk,
		GenID:       node,
		Liabilities: liabilities,
		Routes:      routes,
		Ledger:      ledger,
		Sender:      simulated.NewSender(0),
		Events:      hub,
	})

	srv := NewServer(ServerParams{
		Gin:         NewEngine(observability.Config{Environment: "test", LogLevel: "info"}),
		Cfg:         cfg,
		Log:         log,
		Liabilities: liabilities,
		Agent:       agent,
		Routes:      routes,
		Ledger:      ledger,
		Events:      hub,
	})
	return &testEnv{server: srv, hub: hub, ledger: ledger}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}

func TestGetLiabilities(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/liabilities", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	snapshot := decodeData[liabilitydomain.Snapshot](t, rec)
	assert.InDelta(t, 20.0, snapshot.State.TotalCost, 1e-9)
	assert.True(t, snapshot.ThresholdReached)
	assert.Equal(t, 100.0, snapshot.Progress)
}

func TestApplyUsage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/liabilities/svc.metered/apply", map[string]any{"quantity": 5})
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := decodeData[liabilitydomain.Snapshot](t, rec)
	assert.InDelta(t, 25.0, snapshot.State.TotalCost, 1e-9)

	rec = env.do(t, http.MethodPost, "/v1/liabilities/svc.unknown/apply", map[string]any{"quantity": 5})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/liabilities/svc.metered/apply", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "quantity", payload.Errors[0].Field)
}

func TestResetAndScenario(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/liabilities/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeData[liabilitydomain.Snapshot](t, rec).State.TotalCost)

	rec = env.do(t, http.MethodPost, "/v1/liabilities/scenario", map[string]any{"name": "TEST"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 20.0, decodeData[liabilitydomain.Snapshot](t, rec).State.TotalCost, 1e-9)

	rec = env.do(t, http.MethodPost, "/v1/liabilities/scenario", map[string]any{"name": "HUGE_DAO"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLiabilityChangeRepricesRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/agent/routes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.InDelta(t, 20.0, decodeData[agentResponse](t, rec).Routes[0].FromAmount, 1e-9)

	rec = env.do(t, http.MethodPost, "/v1/liabilities/svc.metered/apply", map[string]any{"quantity": 5})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/agent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	agent := decodeData[agentResponse](t, rec)
	assert.Equal(t, paymentdomain.StateRouteSelected, agent.State)
	require.NotEmpty(t, agent.Routes)
	assert.InDelta(t, 25.0, agent.Routes[0].FromAmount, 1e-9)

	rec = env.do(t, http.MethodPost, "/v1/liabilities/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/agent", nil)
	agent = decodeData[agentResponse](t, rec)
	assert.Equal(t, paymentdomain.StateIdle, agent.State)
	assert.Empty(t, agent.Routes)
}

func TestExportLiabilitiesYAML(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/liabilities/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "total_cost")
}

func TestAgentPaymentFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/agent/routes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	agent := decodeData[agentResponse](t, rec)
	require.Equal(t, paymentdomain.StateRouteSelected, agent.State)
	require.Len(t, agent.Routes, 4)
	assert.Equal(t, agent.Routes[0].ID, agent.SelectedRouteID)
	assert.InDelta(t, 23.00-20.01, agent.SavingsUSD, 1e-9)

	rec = env.do(t, http.MethodPost, "/v1/agent/select", map[string]any{"route_id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/agent/execute", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	record := decodeData[ledgerdomain.TransactionRecord](t, rec)
	assert.Equal(t, ledgerdomain.StatusPending, record.Status)

	require.Eventually(t, func() bool {
		stored, ok := env.ledger.Get(context.Background(), record.ID)
		return ok && stored.Status == ledgerdomain.StatusConfirmed
	}, 2*time.Second, 5*time.Millisecond)

	rec = env.do(t, http.MethodGet, "/v1/transactions/"+record.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stored := decodeData[ledgerdomain.TransactionRecord](t, rec)
	assert.NotEmpty(t, stored.Hash)

	rec = env.do(t, http.MethodGet, "/v1/agent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, paymentdomain.StateIdle, decodeData[agentResponse](t, rec).State)
}

func TestExecuteWithoutRouteConflicts(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/agent/execute", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeError(t, rec).Type)

	rec = env.do(t, http.MethodPost, "/v1/agent/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAbandonRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/agent/routes", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/agent/abandon", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	agent := decodeData[agentResponse](t, rec)
	assert.Equal(t, paymentdomain.StateIdle, agent.State)
	assert.Empty(t, agent.Routes)
	assert.Empty(t, env.ledger.List(context.Background()))
}

func TestSetPayerValidatesAddress(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/v1/agent/payer", map[string]any{"address": "not-an-address"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "payer", payload.Errors[0].Field)
}

func TestSetPayerEvaluates(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/v1/agent/payer", map[string]any{
		"address":  testPayer,
		"balances": map[string]any{"5042002": map[string]any{"known": true, "amount": 100}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	agent := decodeData[agentResponse](t, rec)
	assert.Equal(t, paymentdomain.StateRouteSelected, agent.State)
	assert.NotEmpty(t, agent.Routes)
}

func TestQuoteRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/routes/quote?amount=20", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Amount float64 `json:"amount"`
			Routes []struct {
				TotalCostUSD float64 `json:"total_cost_usd"`
			} `json:"routes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 20.0, body.Data.Amount)
	require.Len(t, body.Data.Routes, 4)
	for i := 1; i < len(body.Data.Routes); i++ {
		assert.LessOrEqual(t, body.Data.Routes[i-1].TotalCostUSD, body.Data.Routes[i].TotalCostUSD)
	}

	rec = env.do(t, http.MethodGet, "/v1/routes/quote?amount=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/routes/quote?amount=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/routes/quote?payer=0x12", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAndClearTransactions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, env.ledger.Append(ctx, ledgerdomain.TransactionRecord{ID: fmt.Sprintf("tx-%d", i)}))
	}

	rec := env.do(t, http.MethodGet, "/v1/transactions?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decodeData[[]ledgerdomain.TransactionRecord](t, rec)
	require.Len(t, records, 2)
	assert.Equal(t, "tx-2", records[0].ID)

	rec = env.do(t, http.MethodGet, "/v1/transactions?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/transactions", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, env.ledger.List(ctx))

	rec = env.do(t, http.MethodGet, "/v1/transactions/tx-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamEventsWritesBacklog(t *testing.T) {
	env := newTestEnv(t)
	env.hub.Publish(events.TopicTreasury, events.TypeLiabilitiesReset, map[string]any{"total_cost": 0})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.server.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "retry: 2000\n\n"))
	assert.Contains(t, body, "event: "+events.TypeLiabilitiesReset+"\n")
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"validation", liabilitydomain.ErrInvalidQuantity, http.StatusBadRequest, "validation_error"},
		{"wrapped_not_found", fmt.Errorf("select: %w", paymentdomain.ErrUnknownRoute), http.StatusNotFound, "not_found"},
		{"in_flight", paymentdomain.ErrExecutionInProgress, http.StatusConflict, "conflict"},
		{"send_failed", fmt.Errorf("%w: %w", paymentdomain.ErrSendFailed, errors.New("rpc down")), http.StatusBadGateway, "send_failed"},
		{"persist", fmt.Errorf("record transaction: %w", ledgerdomain.ErrPersist), http.StatusServiceUnavailable, "service_unavailable"},
		{"rate_limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.typ, payload.Type)
		})
	}
}

func TestClassifyErrorForLog(t *testing.T) {
	typ, code := classifyErrorForLog(fmt.Errorf("select: %w", paymentdomain.ErrUnknownRoute))
	assert.Equal(t, "not_found", typ)
	assert.Equal(t, "unknown_route", code)

	typ, code = classifyErrorForLog(paymentdomain.ErrInvalidPayer)
	assert.Equal(t, "validation", typ)
	assert.Equal(t, "invalid_payer", code)
}
