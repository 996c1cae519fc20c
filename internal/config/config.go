package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process level configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	// Ledger persistence backend: memory, bolt, redis or sql.
	LedgerStore string
	BoltPath    string
	RedisAddr   string
	RedisDB     int

	DBType     string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	Quote     QuoteConfig
	Sender    SenderConfig
	RateLimit RateLimitConfig

	PayerAddress string
}

// QuoteConfig configures the external route quoting collaborator.
type QuoteConfig struct {
	Enabled    bool
	BaseURL    string
	Integrator string
	APIKey     string
	Timeout    time.Duration
	// CacheTTL keeps successful quotes in memory. Zero disables caching.
	CacheTTL time.Duration
}

// SenderConfig configures the settlement send capability.
type SenderConfig struct {
	// Mode is either "simulated" or "rpc".
	Mode             string
	RPCURL           string
	RecipientAddress string
	PollInterval     time.Duration
	SimulatedDelay   time.Duration
}

// RateLimitConfig guards the quote endpoints and elects one accrual loop
// across replicas. Both need redis.
type RateLimitConfig struct {
	Enabled          bool
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	QuoteRate        float64
	QuoteBurst       int
	SchedulerLockTTL time.Duration
}

const (
	LedgerStoreMemory = "memory"
	LedgerStoreBolt   = "bolt"
	LedgerStoreRedis  = "redis"
	LedgerStoreSQL    = "sql"

	SenderModeSimulated = "simulated"
	SenderModeRPC       = "rpc"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "chainstream"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		LedgerStore:  normalizeLedgerStore(getenv("LEDGER_STORE", LedgerStoreBolt)),
		BoltPath:     getenv("BOLT_PATH", "chainstream.db"),
		RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
		RedisDB:      getenvInt("REDIS_DB", 0),
		DBType:       getenv("DATABASE_TYPE", "sqlite"),
		DBHost:       getenv("DATABASE_HOST", "localhost"),
		DBPort:       getenv("DATABASE_PORT", "5432"),
		DBName:       getenv("DATABASE_NAME", "chainstream"),
		DBUser:       getenv("DATABASE_USER", "postgres"),
		DBPassword:   getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:    getenv("DATABASE_SSLMODE", "disable"),
		Quote: QuoteConfig{
			Enabled:    getenvBool("QUOTE_ENABLED", false),
			BaseURL:    strings.TrimRight(getenv("QUOTE_BASE_URL", "https://li.quest"), "/"),
			Integrator: getenv("QUOTE_INTEGRATOR", "chainstream"),
			APIKey:     strings.TrimSpace(getenv("QUOTE_API_KEY", "")),
			Timeout:    getenvDuration("QUOTE_TIMEOUT", 10*time.Second),
			CacheTTL:   getenvDuration("QUOTE_CACHE_TTL", 15*time.Second),
		},
		Sender: SenderConfig{
			Mode:             normalizeSenderMode(getenv("SENDER_MODE", SenderModeSimulated)),
			RPCURL:           strings.TrimSpace(getenv("RPC_URL", "https://rpc.testnet.arc.network")),
			RecipientAddress: strings.TrimSpace(getenv("RECIPIENT_ADDRESS", "")),
			PollInterval:     getenvDuration("SENDER_POLL_INTERVAL", 2*time.Second),
			SimulatedDelay:   getenvDuration("SENDER_SIMULATED_DELAY", 1500*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:        strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", getenv("REDIS_ADDR", "localhost:6379"))),
			RedisPassword:    getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:          getenvInt("RATE_LIMIT_REDIS_DB", 0),
			QuoteRate:        getenvFloat("RATE_LIMIT_QUOTE_RATE", 1),
			QuoteBurst:       getenvInt("RATE_LIMIT_QUOTE_BURST", 5),
			SchedulerLockTTL: getenvDuration("RATE_LIMIT_SCHEDULER_LOCK_TTL", 15*time.Second),
		},
		PayerAddress: strings.TrimSpace(getenv("PAYER_ADDRESS", "")),
	}

	return cfg
}

func normalizeLedgerStore(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case LedgerStoreMemory, LedgerStoreBolt, LedgerStoreRedis, LedgerStoreSQL:
		return value
	default:
		return LedgerStoreBolt
	}
}

func normalizeSenderMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == SenderModeRPC {
		return SenderModeRPC
	}
	return SenderModeSimulated
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
