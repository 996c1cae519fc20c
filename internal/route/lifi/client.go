// Package lifi quotes cross-chain routes through the LI.FI aggregation API.
package lifi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/smallbiznis/chainstream/internal/config"
	"github.com/smallbiznis/chainstream/internal/route/domain"
	"github.com/smallbiznis/chainstream/pkg/units"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const quotePath = "/v1/quote"

// HTTPError is a non-retryable quote API response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("quote api returned %d: %s", e.StatusCode, e.Body)
}

type RetryConfig struct {
	MaxRetries           int
	InitialInterval      time.Duration
	MaxInterval          time.Duration
	MaxElapsedTime       time.Duration
	RetryableStatusCodes []int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:           2,
		InitialInterval:      200 * time.Millisecond,
		MaxInterval:          2 * time.Second,
		MaxElapsedTime:       10 * time.Second,
		RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
	}
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	integrator string
	apiKey     string
	retry      RetryConfig
	log        *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

func WithRetryConfig(cfg RetryConfig) Option {
	return func(client *Client) {
		client.retry = cfg
	}
}

func WithAPIKey(key string) Option {
	return func(client *Client) {
		client.apiKey = strings.TrimSpace(key)
	}
}

func WithIntegrator(name string) Option {
	return func(client *Client) {
		client.integrator = strings.TrimSpace(name)
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(client *Client) {
		if log != nil {
			client.log = log
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		retry:      DefaultRetryConfig(),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// NewQuoter builds the quoter from process config.
func NewQuoter(cfg config.Config, log *zap.Logger) domain.Quoter {
	return New(cfg.Quote.BaseURL,
		WithHTTPClient(&http.Client{Timeout: cfg.Quote.Timeout}),
		WithAPIKey(cfg.Quote.APIKey),
		WithIntegrator(cfg.Quote.Integrator),
		WithLogger(log.Named("route.lifi")),
	)
}

func (c *Client) Quote(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	amount, err := units.ToBaseUnits(req.Amount, req.Decimals)
	if err != nil {
		return domain.Quote{}, err
	}
	fromAddress := strings.TrimSpace(req.FromAddress)
	if !common.IsHexAddress(fromAddress) {
		// quotes still price without a payer; the zero address keeps the API happy
		fromAddress = common.Address{}.Hex()
	}

	params := url.Values{}
	params.Set("fromChain", strconv.FormatInt(req.FromChainID, 10))
	params.Set("toChain", strconv.FormatInt(req.ToChainID, 10))
	params.Set("fromToken", req.FromToken)
	params.Set("toToken", req.ToToken)
	params.Set("fromAmount", amount.String())
	params.Set("fromAddress", fromAddress)
	if req.Slippage > 0 {
		params.Set("slippage", strconv.FormatFloat(req.Slippage, 'f', -1, 64))
	}
	if c.integrator != "" {
		params.Set("integrator", c.integrator)
	}
	endpoint := c.baseURL + quotePath + "?" + params.Encode()

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return domain.Quote{}, err
	}
	return parseQuote(body, req.Decimals)
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	var body []byte
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("x-lifi-api-key", c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
			if c.retryable(resp.StatusCode) {
				return httpErr
			}
			return backoff.Permanent(httpErr)
		}
		body = payload
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.retry.InitialInterval
	expBackoff.MaxInterval = c.retry.MaxInterval
	expBackoff.MaxElapsedTime = c.retry.MaxElapsedTime

	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(c.retry.MaxRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		c.log.Debug("retrying quote request", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}
	return body, nil
}

func (c *Client) retryable(status int) bool {
	for _, code := range c.retry.RetryableStatusCodes {
		if code == status {
			return true
		}
	}
	return false
}

func parseQuote(body []byte, defaultDecimals int) (domain.Quote, error) {
	if !gjson.ValidBytes(body) {
		return domain.Quote{}, fmt.Errorf("%w: malformed response", domain.ErrQuoteUnavailable)
	}
	result := gjson.ParseBytes(body)
	estimate := result.Get("estimate")
	if !estimate.Exists() {
		return domain.Quote{}, fmt.Errorf("%w: no estimate", domain.ErrQuoteUnavailable)
	}

	quote := domain.Quote{
		Tool: firstString(result, "toolDetails.name", "tool"),
	}

	if raw := estimate.Get("toAmount"); raw.Exists() {
		decimals := defaultDecimals
		if d := result.Get("action.toToken.decimals"); d.Exists() {
			decimals = int(d.Int())
		}
		value, err := units.FromBaseUnits(raw.String(), decimals)
		if err != nil {
			return domain.Quote{}, errors.Join(domain.ErrQuoteUnavailable, err)
		}
		quote.ToAmount = &value
	}
	if gas, ok := sumUSD(estimate.Get("gasCosts")); ok {
		quote.GasCostUSD = &gas
	}
	if fee, ok := sumUSD(estimate.Get("feeCosts")); ok {
		quote.FeeCostUSD = &fee
	}
	if duration := estimate.Get("executionDuration"); duration.Exists() {
		seconds := int(math.Ceil(duration.Float()))
		quote.ExecutionSeconds = &seconds
	}
	return quote, nil
}

func sumUSD(costs gjson.Result) (float64, bool) {
	if !costs.IsArray() {
		return 0, false
	}
	items := costs.Array()
	if len(items) == 0 {
		return 0, false
	}
	total := 0.0
	for _, item := range items {
		total += item.Get("amountUSD").Float()
	}
	return total, true
}

func firstString(result gjson.Result, paths ...string) string {
	for _, path := range paths {
		if value := strings.TrimSpace(result.Get(path).String()); value != "" {
			return value
		}
	}
	return ""
}
