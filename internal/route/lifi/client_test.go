package lifi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/chainstream/internal/route/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleQuote = `{
  "tool": "stargate",
  "toolDetails": {"key": "stargate", "name": "StargateV2"},
  "action": {"toToken": {"decimals": 6}},
  "estimate": {
    "toAmount": "19950000",
    "executionDuration": 31.5,
    "gasCosts": [{"amountUSD": "0.04"}, {"amountUSD": "0.01"}],
    "feeCosts": [{"amountUSD": "0.12"}]
  }
}`

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:           2,
		InitialInterval:      time.Millisecond,
		MaxInterval:          5 * time.Millisecond,
		MaxElapsedTime:       time.Second,
		RetryableStatusCodes: []int{503},
	}
}

func testRequest() domain.QuoteRequest {
	return domain.QuoteRequest{
		FromChainID: 8453,
		ToChainID:   10,
		FromToken:   "0xfrom",
		ToToken:     "0xto",
		Amount:      20,
		Decimals:    6,
		FromAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
		Slippage:    0.03,
	}
}

func TestQuoteParsesEstimate(t *testing.T) {
	var query http.Header
	var rawQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quote", r.URL.Path)
		query = r.Header
		rawQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleQuote))
	}))
	defer server.Close()

	client := New(server.URL, WithAPIKey("secret"), WithIntegrator("chainstream"), WithRetryConfig(fastRetry()))
	quote, err := client.Quote(context.Background(), testRequest())
	require.NoError(t, err)

	require.NotNil(t, quote.ToAmount)
	assert.InDelta(t, 19.95, *quote.ToAmount, 1e-9)
	require.NotNil(t, quote.GasCostUSD)
	assert.InDelta(t, 0.05, *quote.GasCostUSD, 1e-9)
	require.NotNil(t, quote.FeeCostUSD)
	assert.InDelta(t, 0.12, *quote.FeeCostUSD, 1e-9)
	require.NotNil(t, quote.ExecutionSeconds)
	assert.Equal(t, 32, *quote.ExecutionSeconds)
	assert.Equal(t, "StargateV2", quote.Tool)

	assert.Equal(t, "secret", query.Get("x-lifi-api-key"))
	assert.Contains(t, rawQuery, "fromAmount=20000000")
	assert.Contains(t, rawQuery, "slippage=0.03")
	assert.Contains(t, rawQuery, "integrator=chainstream")
	assert.Contains(t, rawQuery, "fromChain=8453")
}

func TestQuoteMissingFieldsStayNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tool":"across","estimate":{"toAmount":"1000000"}}`))
	}))
	defer server.Close()

	quote, err := New(server.URL, WithRetryConfig(fastRetry())).Quote(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Nil(t, quote.GasCostUSD)
	assert.Nil(t, quote.FeeCostUSD)
	assert.Nil(t, quote.ExecutionSeconds)
	require.NotNil(t, quote.ToAmount)
	assert.InDelta(t, 1.0, *quote.ToAmount, 1e-9)
	assert.Equal(t, "across", quote.Tool)
}

func TestQuoteRetriesRetryableStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(sampleQuote))
	}))
	defer server.Close()

	_, err := New(server.URL, WithRetryConfig(fastRetry())).Quote(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQuoteDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"No available quotes for the requested transfer"}`))
	}))
	defer server.Close()

	_, err := New(server.URL, WithRetryConfig(fastRetry())).Quote(context.Background(), testRequest())
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestQuoteRejectsResponseWithoutEstimate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tool":"x"}`))
	}))
	defer server.Close()

	_, err := New(server.URL, WithRetryConfig(fastRetry())).Quote(context.Background(), testRequest())
	assert.ErrorIs(t, err, domain.ErrQuoteUnavailable)
}

func TestQuoteUsesZeroAddressWithoutPayer(t *testing.T) {
	var rawQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(sampleQuote))
	}))
	defer server.Close()

	req := testRequest()
	req.FromAddress = ""
	_, err := New(server.URL, WithRetryConfig(fastRetry())).Quote(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, rawQuery, "fromAddress=0x0000000000000000000000000000000000000000")
}
