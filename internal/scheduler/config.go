package scheduler

import (
	"errors"
	"time"

	"github.com/smallbiznis/chainstream/internal/config"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Config controls the accrual loop cadence and per-job soft timeouts.
type Config struct {
	RunInterval     time.Duration
	AccrueTimeout   time.Duration
	EvaluateTimeout time.Duration
	// EnabledJobs empty means every job runs.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:     3 * time.Second,
		AccrueTimeout:   2 * time.Second,
		EvaluateTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.AccrueTimeout <= 0 {
		c.AccrueTimeout = defaults.AccrueTimeout
	}
	if c.EvaluateTimeout <= 0 {
		c.EvaluateTimeout = defaults.EvaluateTimeout
	}
	return c
}

// ProvideConfig ties the loop interval to the treasury accrual interval.
// The evaluate timeout covers a full round of external quotes.
func ProvideConfig(cfg config.Config, treasury *config.TreasuryConfigHolder) Config {
	out := DefaultConfig()
	out.RunInterval = treasury.Get().AccrualInterval
	if cfg.Quote.Enabled && cfg.Quote.Timeout > 0 {
		out.EvaluateTimeout = 3 * cfg.Quote.Timeout
	}
	return out.withDefaults()
}
