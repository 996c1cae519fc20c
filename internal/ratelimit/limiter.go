package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/chainstream/internal/config"
)

const (
	keyQuoteClient     = "chainstream:quote:client:%s"
	keySchedulerLeader = "chainstream:scheduler:leader"
)

// Limiter throttles route quoting per client and elects the replica that runs
// the accrual loop. A nil Limiter allows everything and always leads.
type Limiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	quoteRate  float64
	quoteBurst int
	lockTTL    time.Duration

	mu          sync.Mutex
	leaderToken string
}

func NewLimiter(cfg config.Config) (*Limiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.QuoteRate <= 0 || limitCfg.QuoteBurst <= 0 {
		return nil, errors.New("quote rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	return newLimiter(client, limitCfg), nil
}

func newLimiter(client *redis.Client, cfg config.RateLimitConfig) *Limiter {
	ttl := cfg.SchedulerLockTTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Limiter{
		enabled:    true,
		bucket:     NewTokenBucket(client),
		locker:     NewLocker(client),
		quoteRate:  cfg.QuoteRate,
		quoteBurst: cfg.QuoteBurst,
		lockTTL:    ttl,
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *Limiter) AllowQuote(ctx context.Context, client string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyQuoteClient, strings.TrimSpace(client))
	return l.bucket.Allow(ctx, key, l.quoteRate, l.quoteBurst)
}

// AcquireLeader takes or keeps the accrual loop lock for this replica.
func (l *Limiter) AcquireLeader(ctx context.Context) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.leaderToken != "" {
		held, err := l.locker.Refresh(ctx, keySchedulerLeader, l.leaderToken, l.lockTTL)
		if err != nil {
			return false, err
		}
		if held {
			return true, nil
		}
		l.leaderToken = ""
	}

	token, ok, err := l.locker.TryLock(ctx, keySchedulerLeader, l.lockTTL)
	if err != nil || !ok {
		return false, err
	}
	l.leaderToken = token
	return true, nil
}

func (l *Limiter) ResignLeader(ctx context.Context) error {
	if !l.Enabled() {
		return nil
	}
	l.mu.Lock()
	token := l.leaderToken
	l.leaderToken = ""
	l.mu.Unlock()
	return l.locker.Release(ctx, keySchedulerLeader, token)
}
