package cache

import (
	"context"
	"strconv"
	"time"

	routedomain "github.com/smallbiznis/chainstream/internal/route/domain"
)

// QuoteCache serves repeated quote requests from memory for a short TTL.
// Failed quotes are never cached.
type QuoteCache struct {
	next   routedomain.Quoter
	ttl    time.Duration
	quotes Cache[string, routedomain.Quote]
}

// NewQuoteCache returns next unchanged when ttl is not positive.
func NewQuoteCache(next routedomain.Quoter, ttl time.Duration) routedomain.Quoter {
	if next == nil || ttl <= 0 {
		return next
	}
	return &QuoteCache{
		next:   next,
		ttl:    ttl,
		quotes: NewTTLCache[string, routedomain.Quote](),
	}
}

func (c *QuoteCache) Quote(ctx context.Context, req routedomain.QuoteRequest) (routedomain.Quote, error) {
	key := quoteKey(req)
	if quote, ok := c.quotes.Get(key); ok {
		return quote, nil
	}

	quote, err := c.next.Quote(ctx, req)
	if err != nil {
		return routedomain.Quote{}, err
	}
	c.quotes.Set(key, quote, c.ttl)
	return quote, nil
}

func quoteKey(req routedomain.QuoteRequest) string {
	return cacheKey(
		strconv.FormatInt(req.FromChainID, 10),
		strconv.FormatInt(req.ToChainID, 10),
		req.FromToken,
		req.ToToken,
		strconv.FormatFloat(req.Amount, 'f', 6, 64),
		strconv.Itoa(req.Decimals),
		req.FromAddress,
		strconv.FormatFloat(req.Slippage, 'f', 4, 64),
	)
}
