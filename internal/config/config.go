// Package config defines all configuration for the market-making engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via MM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	API       APIConfig       `mapstructure:"api"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds the venue's REST/WebSocket endpoints and optional
// pre-derived L2 credentials. If ApiKey/Secret/Passphrase are empty, the
// engine derives them via L1 auth on startup.
type APIConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	WSMarketURL string `mapstructure:"ws_market_url"`
	WSUserURL   string `mapstructure:"ws_user_url"`
	ApiKey      string `mapstructure:"api_key"`
	Secret      string `mapstructure:"secret"`
	Passphrase  string `mapstructure:"passphrase"`
}

// StrategyConfig is the single-symbol deployment's quoting and scheduling
// configuration, per the engine's enumerated option set. A deployment
// instance always targets exactly one symbol (spec.md §1).
type StrategyConfig struct {
	Symbol       string  `mapstructure:"symbol"`
	TokenID      string  `mapstructure:"token_id"`
	TargetEquity float64 `mapstructure:"target_equity"`

	// Budget governor targets for rate-limit budget usage, in percent.
	UsageTargetPct float64 `mapstructure:"usage_target_pct"`
	UsageSafePct   float64 `mapstructure:"usage_safe_pct"`

	// Spread and fee parameters, in basis points.
	BaseSpreadBp  float64    `mapstructure:"base_spread_bp"`
	SpreadRangeBp [2]float64 `mapstructure:"spread_range_bp"`
	MinSpreadBp   float64    `mapstructure:"min_spread_bp"`
	MakerFeeBp    float64    `mapstructure:"maker_fee_bp"`
	SafetyTicks   int        `mapstructure:"safety_ticks"`

	// Avellaneda-Stoikov reservation-price parameters.
	Gamma float64 `mapstructure:"gamma"`
	Sigma float64 `mapstructure:"sigma"`
	T     float64 `mapstructure:"t"`
	K     float64 `mapstructure:"k"`

	// Quote-ladder layer sizing.
	L0Slots      [2]int `mapstructure:"l0_slots"`
	L1Slots      [2]int `mapstructure:"l1_slots"`
	MaxTotalSlots int    `mapstructure:"max_total_slots"`

	// Per-layer time-to-live. The planner adds its own 500-1000ms jitter to
	// every layer; JitterS is not read by the engine.
	L0TTLMs  [2]int        `mapstructure:"l0_ttl_ms"`
	L1TTL    time.Duration `mapstructure:"l1_ttl_s"`
	L2TTL    time.Duration `mapstructure:"l2_ttl_s"`
	JitterS  [2]float64    `mapstructure:"jitter_s"`

	ReserveRatio   float64       `mapstructure:"reserve_ratio"`
	StartupDelay   time.Duration `mapstructure:"startup_delay_s"`

	CrossResponseTargetMs int           `mapstructure:"cross_response_target_ms"`
	TTLSweepInterval      time.Duration `mapstructure:"ttl_sweep_interval_ms"`
	MicroBatchMs          [2]int        `mapstructure:"micro_batch_ms"`
	BurstSize             int           `mapstructure:"burst_size"`

	ReconcileInterval      time.Duration `mapstructure:"reconcile_interval_s"`
	DeviationThresholdPct  float64       `mapstructure:"deviation_threshold_pct"`
	MinDeployableNotional  float64       `mapstructure:"min_deployable_notional"`
	ToxicityThreshold      float64       `mapstructure:"toxicity_threshold"`
}

// RiskConfig sets hard limits that trigger order cancellation (kill switch).
//
//   - MaxPositionUSD: max USD exposure in the configured symbol.
//   - KillSwitchDropPct: if price moves this % within the window, kill switch fires.
//   - KillSwitchWindowSec: time window for measuring rapid price movement.
//   - MaxDailyLoss: max combined (realized + unrealized) loss before kill switch.
//   - CooldownAfterKill: how long the kill switch stays engaged after firing.
type RiskConfig struct {
	MaxPositionUSD      float64       `mapstructure:"max_position_usd"`
	KillSwitchDropPct   float64       `mapstructure:"kill_switch_drop_pct"`
	KillSwitchWindowSec int           `mapstructure:"kill_switch_window_sec"`
	MaxDailyLoss        float64       `mapstructure:"max_daily_loss"`
	CooldownAfterKill   time.Duration `mapstructure:"cooldown_after_kill"`
}

// StoreConfig sets where checkpoint blobs are persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the optional read-only status server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: MM_PRIVATE_KEY, MM_API_KEY, MM_API_SECRET, MM_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("MM_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("MM_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("MM_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("MM_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("MM_DRY_RUN") == "true" || os.Getenv("MM_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("strategy.usage_target_pct", 10.0)
	v.SetDefault("strategy.usage_safe_pct", 15.0)
	v.SetDefault("strategy.base_spread_bp", 4.0)
	v.SetDefault("strategy.spread_range_bp", []float64{3, 8})
	v.SetDefault("strategy.min_spread_bp", 3.0)
	v.SetDefault("strategy.maker_fee_bp", -4.0)
	v.SetDefault("strategy.safety_ticks", 2)
	v.SetDefault("strategy.gamma", 0.1)
	v.SetDefault("strategy.sigma", 0.02)
	v.SetDefault("strategy.t", 1.0)
	v.SetDefault("strategy.k", 1.5)
	v.SetDefault("strategy.l0_slots", []int{2, 4})
	v.SetDefault("strategy.l1_slots", []int{0, 4})
	v.SetDefault("strategy.max_total_slots", 12)
	v.SetDefault("strategy.l0_ttl_ms", []int{1800, 2500})
	v.SetDefault("strategy.l1_ttl_s", "8s")
	v.SetDefault("strategy.l2_ttl_s", "20s")
	v.SetDefault("strategy.jitter_s", []float64{0.5, 1.0})
	v.SetDefault("strategy.reserve_ratio", 0.02)
	v.SetDefault("strategy.startup_delay_s", "5s")
	v.SetDefault("strategy.cross_response_target_ms", 50)
	v.SetDefault("strategy.ttl_sweep_interval_ms", "100ms")
	v.SetDefault("strategy.micro_batch_ms", []int{20, 50})
	v.SetDefault("strategy.burst_size", 10)
	v.SetDefault("strategy.reconcile_interval_s", "30s")
	v.SetDefault("strategy.deviation_threshold_pct", 0.1)
	v.SetDefault("strategy.min_deployable_notional", 50.0)
	v.SetDefault("strategy.toxicity_threshold", 0.6)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set MM_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Strategy.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if c.Strategy.TargetEquity <= 0 {
		return fmt.Errorf("strategy.target_equity must be > 0")
	}
	if c.Strategy.MaxTotalSlots <= 0 {
		return fmt.Errorf("strategy.max_total_slots must be > 0")
	}
	if c.Risk.MaxPositionUSD <= 0 {
		return fmt.Errorf("risk.max_position_usd must be > 0")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}
	return nil
}
