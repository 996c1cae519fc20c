package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Billing cycle kinds of a configured service.
const (
	BillingCycleRecurring = "recurring-periodic"
	BillingCycleMetered   = "usage-metered"
	BillingCycleOneTime   = "one-time"
)

// TreasuryConfig holds the domain constants of the treasury agent.
type TreasuryConfig struct {
	PaymentThreshold float64          `mapstructure:"paymentThreshold"`
	AccrualInterval  time.Duration    `mapstructure:"accrualInterval"`
	DefaultScenario  string           `mapstructure:"defaultScenario"`
	LedgerCap        int              `mapstructure:"ledgerCap"`
	Services         []ServiceConfig  `mapstructure:"services"`
	Scenarios        []ScenarioConfig `mapstructure:"scenarios"`
	Routing          RoutingConfig    `mapstructure:"routing"`
}

type ServiceConfig struct {
	ID           string  `mapstructure:"id"`
	Name         string  `mapstructure:"name"`
	Category     string  `mapstructure:"category"`
	CostPerUnit  float64 `mapstructure:"costPerUnit"`
	Unit         string  `mapstructure:"unit"`
	BillingCycle string  `mapstructure:"billingCycle"`
	Description  string  `mapstructure:"description"`
	Provider     string  `mapstructure:"provider"`
	AccrualRate  float64 `mapstructure:"accrualRate"`
}

type ScenarioConfig struct {
	Name          string        `mapstructure:"name"`
	Label         string        `mapstructure:"label"`
	MonthlyBudget float64       `mapstructure:"monthlyBudget"`
	Usage         []UsageConfig `mapstructure:"usage"`
}

// UsageConfig seeds one service. Service ids contain dots, so they cannot be map keys in viper.
type UsageConfig struct {
	Service  string  `mapstructure:"service"`
	Quantity float64 `mapstructure:"quantity"`
}

type ChainConfig struct {
	ID           int64   `mapstructure:"id"`
	Name         string  `mapstructure:"name"`
	ExplorerURL  string  `mapstructure:"explorerURL"`
	GasCostUSD   float64 `mapstructure:"gasCostUSD"`
	TokenAddress string  `mapstructure:"tokenAddress"`
	// QuoteChainID and QuoteToken point at the network the external quoter understands.
	QuoteChainID int64  `mapstructure:"quoteChainID"`
	QuoteToken   string `mapstructure:"quoteToken"`
}

type RoutingConfig struct {
	SettlementChain          ChainConfig   `mapstructure:"settlementChain"`
	Candidates               []ChainConfig `mapstructure:"candidates"`
	QuoteDestination         ChainConfig   `mapstructure:"quoteDestination"`
	BridgeFeeUSD             float64       `mapstructure:"bridgeFeeUSD"`
	NativeExecutionSeconds   int           `mapstructure:"nativeExecutionSeconds"`
	BridgeExecutionSeconds   int           `mapstructure:"bridgeExecutionSeconds"`
	Slippage                 float64       `mapstructure:"slippage"`
	NativeDecimals           int           `mapstructure:"nativeDecimals"`
	FallbackToSimulated      *bool         `mapstructure:"fallbackToSimulated"`
	RequireSufficientBalance bool          `mapstructure:"requireSufficientBalance"`
}

// FallsBackToSimulated reports whether a failed external quote is replaced by the local model.
func (r RoutingConfig) FallsBackToSimulated() bool {
	if r.FallbackToSimulated == nil {
		return true
	}
	return *r.FallbackToSimulated
}

const (
	ChainIDSepolia         int64 = 11155111
	ChainIDBaseSepolia     int64 = 84532
	ChainIDArbitrumSepolia int64 = 421614
	ChainIDArcTestnet      int64 = 5042002
)

func DefaultTreasuryConfig() TreasuryConfig {
	arc := ChainConfig{
		ID:           ChainIDArcTestnet,
		Name:         "Arc Testnet",
		ExplorerURL:  "https://testnet.arcscan.app",
		GasCostUSD:   0.01,
		TokenAddress: "native",
	}
	return TreasuryConfig{
		PaymentThreshold: 20,
		AccrualInterval:  3 * time.Second,
		DefaultScenario:  "MEDIUM_DAO",
		LedgerCap:        50,
		Services:         defaultServices(),
		Scenarios:        defaultScenarios(),
		Routing: RoutingConfig{
			SettlementChain: arc,
			Candidates: []ChainConfig{
				{
					ID:           ChainIDSepolia,
					Name:         "Sepolia",
					ExplorerURL:  "https://sepolia.etherscan.io",
					GasCostUSD:   2.50,
					TokenAddress: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
					QuoteChainID: 1,
					QuoteToken:   "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				},
				{
					ID:           ChainIDBaseSepolia,
					Name:         "Base Sepolia",
					ExplorerURL:  "https://sepolia.basescan.org",
					GasCostUSD:   0.05,
					TokenAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
					QuoteChainID: 8453,
					QuoteToken:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				},
				{
					ID:           ChainIDArbitrumSepolia,
					Name:         "Arbitrum Sepolia",
					ExplorerURL:  "https://sepolia.arbiscan.io",
					GasCostUSD:   0.10,
					TokenAddress: "0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d",
					QuoteChainID: 42161,
					QuoteToken:   "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
				},
				arc,
			},
			// Arc is not quotable yet; Optimism stands in as the bridging destination.
			QuoteDestination: ChainConfig{
				ID:           10,
				Name:         "Optimism",
				QuoteChainID: 10,
				QuoteToken:   "0x0b2c639c533813f4aa9d7837caf99d555ba8b5fa",
			},
			BridgeFeeUSD:           0.50,
			NativeExecutionSeconds: 1,
			BridgeExecutionSeconds: 8,
			Slippage:               0.03,
			NativeDecimals:         6,
		},
	}
}

func defaultServices() []ServiceConfig {
	return []ServiceConfig{
		{ID: "alchemy.eth", Name: "Alchemy API", Category: "Infrastructure", CostPerUnit: 49, Unit: "month", BillingCycle: BillingCycleRecurring, Description: "RPC infrastructure for dApp", Provider: "Alchemy", AccrualRate: 0.002},
		{ID: "thegraph.eth", Name: "The Graph Queries", Category: "Infrastructure", CostPerUnit: 0.0001, Unit: "queries", BillingCycle: BillingCycleMetered, Description: "Decentralized indexing protocol", Provider: "The Graph", AccrualRate: 100},
		{ID: "contributor.payments", Name: "Contributor Stipends", Category: "Contributors", CostPerUnit: 2500, Unit: "contributors", BillingCycle: BillingCycleRecurring, Description: "Monthly core contributor payments", Provider: "DAO Treasury", AccrualRate: 0.001},
		{ID: "grant.program", Name: "Small Grants", Category: "Grants", CostPerUnit: 5000, Unit: "grants", BillingCycle: BillingCycleOneTime, Description: "Community development grants", Provider: "DAO Treasury"},
		{ID: "notion.workspace", Name: "Notion Team", Category: "Tools", CostPerUnit: 80, Unit: "month", BillingCycle: BillingCycleRecurring, Description: "Team workspace & documentation", Provider: "Notion", AccrualRate: 0.002},
		{ID: "audit.services", Name: "Smart Contract Audit", Category: "Security", CostPerUnit: 15000, Unit: "audit", BillingCycle: BillingCycleOneTime, Description: "Security audit for new contracts", Provider: "Security Firm"},
	}
}

func defaultScenarios() []ScenarioConfig {
	return []ScenarioConfig{
		{
			Name: "SMALL_DAO", Label: "Small Protocol DAO", MonthlyBudget: 15000,
			Usage: []UsageConfig{
				{Service: "alchemy.eth", Quantity: 0.5},
				{Service: "thegraph.eth", Quantity: 50000},
				{Service: "notion.workspace", Quantity: 0.3},
			},
		},
		{
			Name: "MEDIUM_DAO", Label: "Growing DeFi DAO", MonthlyBudget: 50000,
			Usage: []UsageConfig{
				{Service: "alchemy.eth", Quantity: 0.1},
				{Service: "thegraph.eth", Quantity: 1000},
			},
		},
		{
			Name: "LARGE_DAO", Label: "Established DAO", MonthlyBudget: 200000,
			Usage: []UsageConfig{
				{Service: "alchemy.eth", Quantity: 1},
				{Service: "thegraph.eth", Quantity: 500000},
				{Service: "contributor.payments", Quantity: 8},
				{Service: "grant.program", Quantity: 2},
				{Service: "notion.workspace", Quantity: 1},
				{Service: "audit.services", Quantity: 1},
			},
		},
	}
}

func (c TreasuryConfig) withDefaults() TreasuryConfig {
	defaults := DefaultTreasuryConfig()
	if c.PaymentThreshold <= 0 {
		c.PaymentThreshold = defaults.PaymentThreshold
	}
	if c.AccrualInterval <= 0 {
		c.AccrualInterval = defaults.AccrualInterval
	}
	if strings.TrimSpace(c.DefaultScenario) == "" {
		c.DefaultScenario = defaults.DefaultScenario
	}
	if c.LedgerCap <= 0 {
		c.LedgerCap = defaults.LedgerCap
	}
	if len(c.Services) == 0 {
		c.Services = defaults.Services
	}
	if len(c.Scenarios) == 0 {
		c.Scenarios = defaults.Scenarios
	}
	if c.Routing.SettlementChain.ID == 0 {
		c.Routing.SettlementChain = defaults.Routing.SettlementChain
	}
	if len(c.Routing.Candidates) == 0 {
		c.Routing.Candidates = defaults.Routing.Candidates
	}
	if c.Routing.QuoteDestination.ID == 0 {
		c.Routing.QuoteDestination = defaults.Routing.QuoteDestination
	}
	if c.Routing.BridgeFeeUSD < 0 {
		c.Routing.BridgeFeeUSD = defaults.Routing.BridgeFeeUSD
	}
	if c.Routing.NativeExecutionSeconds <= 0 {
		c.Routing.NativeExecutionSeconds = defaults.Routing.NativeExecutionSeconds
	}
	if c.Routing.BridgeExecutionSeconds <= 0 {
		c.Routing.BridgeExecutionSeconds = defaults.Routing.BridgeExecutionSeconds
	}
	if c.Routing.Slippage <= 0 {
		c.Routing.Slippage = defaults.Routing.Slippage
	}
	if c.Routing.NativeDecimals <= 0 {
		c.Routing.NativeDecimals = defaults.Routing.NativeDecimals
	}
	return c
}

// TreasuryConfigHolder keeps the current TreasuryConfig and swaps it on file changes.
type TreasuryConfigHolder struct {
	current atomic.Value // holds TreasuryConfig
}

func NewTreasuryConfigHolder(log *zap.Logger) (*TreasuryConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("treasury.config")

	v := viper.New()
	v.SetConfigName("treasury")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/chainstream/config")
	v.AddConfigPath("/etc/chainstream")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CHAINSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &TreasuryConfigHolder{}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Info("treasury config file not found, using defaults")
		holder.current.Store(DefaultTreasuryConfig())
		return holder, nil
	}

	cfg, err := decodeTreasuryConfig(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeTreasuryConfig(v)
		if err != nil {
			log.Warn("treasury config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("treasury config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticTreasuryConfigHolder returns a holder that never reloads.
func NewStaticTreasuryConfigHolder(cfg TreasuryConfig) *TreasuryConfigHolder {
	holder := &TreasuryConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func (h *TreasuryConfigHolder) Get() TreasuryConfig {
	return h.current.Load().(TreasuryConfig)
}

func decodeTreasuryConfig(v *viper.Viper) (TreasuryConfig, error) {
	var cfg TreasuryConfig
	if err := v.UnmarshalKey("treasury", &cfg); err != nil {
		return TreasuryConfig{}, err
	}
	cfg = cfg.withDefaults()
	if err := ValidateTreasuryConfig(cfg); err != nil {
		return TreasuryConfig{}, err
	}
	return cfg, nil
}

func ValidateTreasuryConfig(cfg TreasuryConfig) error {
	if cfg.PaymentThreshold <= 0 {
		return errors.New("treasury.paymentThreshold must be positive")
	}
	if cfg.LedgerCap <= 0 {
		return errors.New("treasury.ledgerCap must be positive")
	}
	if len(cfg.Services) == 0 {
		return errors.New("treasury.services cannot be empty")
	}

	known := make(map[string]struct{}, len(cfg.Services))
	for _, svc := range cfg.Services {
		id := strings.TrimSpace(svc.ID)
		if id == "" {
			return errors.New("treasury.services: id is required")
		}
		if _, dup := known[id]; dup {
			return fmt.Errorf("treasury.services: duplicate id %q", id)
		}
		if svc.CostPerUnit < 0 || svc.AccrualRate < 0 {
			return fmt.Errorf("treasury.services: %q has a negative cost or rate", id)
		}
		switch svc.BillingCycle {
		case BillingCycleRecurring, BillingCycleMetered, BillingCycleOneTime:
		default:
			return fmt.Errorf("treasury.services: %q has unknown billing cycle %q", id, svc.BillingCycle)
		}
		known[id] = struct{}{}
	}

	for _, scenario := range cfg.Scenarios {
		if strings.TrimSpace(scenario.Name) == "" {
			return errors.New("treasury.scenarios: name is required")
		}
		for _, usage := range scenario.Usage {
			if _, ok := known[usage.Service]; !ok {
				return fmt.Errorf("treasury.scenarios: %q seeds unknown service %q", scenario.Name, usage.Service)
			}
		}
	}

	if cfg.Routing.SettlementChain.ID == 0 {
		return errors.New("treasury.routing.settlementChain is required")
	}
	if len(cfg.Routing.Candidates) == 0 {
		return errors.New("treasury.routing.candidates cannot be empty")
	}
	seen := make(map[int64]struct{}, len(cfg.Routing.Candidates))
	for _, chain := range cfg.Routing.Candidates {
		if chain.ID == 0 {
			return errors.New("treasury.routing.candidates: chain id is required")
		}
		if _, dup := seen[chain.ID]; dup {
			return fmt.Errorf("treasury.routing.candidates: duplicate chain %d", chain.ID)
		}
		if chain.GasCostUSD < 0 {
			return fmt.Errorf("treasury.routing.candidates: chain %d has negative gas cost", chain.ID)
		}
		seen[chain.ID] = struct{}{}
	}
	return nil
}
