// Package config defines all configuration for the pair-trading engine.
// Config is loaded from an optional YAML file with sensitive fields
// overridable via PAIRTRADE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	DryRun      bool   `mapstructure:"dry_run"`
	ObserveOnly bool   `mapstructure:"observe_only"`
	Backtest    bool   `mapstructure:"backtest"`
	AgentID     string `mapstructure:"agent_id"`

	Venue      VenueConfig      `mapstructure:"venue"`
	Stats      StatsConfig      `mapstructure:"stats"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Operation  OperationConfig  `mapstructure:"operation"`
	Universe   UniverseConfig   `mapstructure:"universe"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	BacktestSource BacktestConfig `mapstructure:"backtest_source"`
}

// BacktestConfig names the replay source when Backtest is true.
type BacktestConfig struct {
	DataPath string `mapstructure:"data_path"`
}

// VenueConfig identifies the derivatives venue and its REST/WS endpoints.
//
// Name gates post-only support (§4.5): only "extended" and "lighter" may
// post-only. ApiKey/Secret are the L2 HMAC credential pair; there is no
// wallet-signing key in scope here (see DESIGN.md — the on-chain wallet
// auth path was dropped along with go-ethereum).
type VenueConfig struct {
	Name      string `mapstructure:"name"`
	BaseURL   string `mapstructure:"base_url"`
	WSURL     string `mapstructure:"ws_url"`
	ApiKey    string `mapstructure:"api_key"`
	Secret    string `mapstructure:"secret"`
}

// StatsConfig tunes the statistics kernel and pair evaluator.
type StatsConfig struct {
	MetricsWindow       int           `mapstructure:"metrics_window"`
	LookbackHoursLong   float64       `mapstructure:"lookback_hours_long"`
	LookbackHoursShort  float64       `mapstructure:"lookback_hours_short"`
	WarmStartMode       string        `mapstructure:"warm_start_mode"` // "strict" | "relaxed"
	WarmStartMinBars    int           `mapstructure:"warm_start_min_bars"`
	HalfLifeMaxHours    float64       `mapstructure:"half_life_max_hours"`
	AdfPThreshold       float64       `mapstructure:"adf_p_threshold"`
	EntryVolWindow      int           `mapstructure:"entry_vol_window"`
	EntryZBase          float64       `mapstructure:"entry_z_base"`
	EntryZMin           float64       `mapstructure:"entry_z_min"`
	EntryZMax           float64       `mapstructure:"entry_z_max"`
	ExitZ               float64       `mapstructure:"exit_z"`
	StopLossZ           float64       `mapstructure:"stop_loss_z"`
	ReevalInterval      time.Duration `mapstructure:"reeval_interval"`
	ReevalJumpZMult     float64       `mapstructure:"reeval_jump_z_mult"`
	VolSpikeMult        float64       `mapstructure:"vol_spike_mult"`
	VelMax              float64       `mapstructure:"vel_max"`
}

// RiskConfig bounds position sizing and exit decisions.
type RiskConfig struct {
	RiskPctPerTrade  float64 `mapstructure:"risk_pct_per_trade"`
	MaxLossRMult     float64 `mapstructure:"max_loss_r_mult"`
	EquityFallback   float64 `mapstructure:"equity_fallback"`
	MaxLeverage      float64 `mapstructure:"max_leverage"`
	NetFundingMinPerHour float64 `mapstructure:"net_funding_min_per_hour"`
	MaxActivePairs   int     `mapstructure:"max_active_pairs"`
}

// ExecutionConfig tunes order placement mechanics.
type ExecutionConfig struct {
	SlippageBps                  float64       `mapstructure:"slippage_bps"`
	FeeBps                       float64       `mapstructure:"fee_bps"`
	OrderTimeout                 time.Duration `mapstructure:"order_timeout"`
	EntryPartialFillMaxRetries   int           `mapstructure:"entry_partial_fill_max_retries"`
	PostOnlyEnabled              bool          `mapstructure:"post_only_enabled"`
}

// OperationConfig sets tick cadence and lifecycle timers.
type OperationConfig struct {
	IntervalSecs             int64         `mapstructure:"interval_secs"`
	TradingPeriodSecs         int64         `mapstructure:"trading_period_secs"`
	CooldownSecs              int64         `mapstructure:"cooldown_secs"`
	ForceCloseSecs            int64         `mapstructure:"force_close_secs"`
	StartupForceCloseAttempts int           `mapstructure:"startup_force_close_attempts"`
	StartupForceCloseWait     time.Duration `mapstructure:"startup_force_close_wait"`
}

// UniverseConfig names the traded pairs, either explicitly or as a symbol
// list to be expanded into all unordered pairs.
type UniverseConfig struct {
	Pairs   []PairConfig  `mapstructure:"pairs"`
	Symbols []string      `mapstructure:"symbols"`
}

// PairConfig is one explicit base/quote entry.
type PairConfig struct {
	Base  string `mapstructure:"base"`
	Quote string `mapstructure:"quote"`
}

// StoreConfig sets where history/snapshot/pnl files are persisted.
type StoreConfig struct {
	DataDir        string `mapstructure:"data_dir"`
	PnlRetainDays  int    `mapstructure:"pnl_retain_days"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from an optional YAML file with env var overrides.
// Sensitive fields use env vars: PAIRTRADE_VENUE_API_KEY,
// PAIRTRADE_VENUE_SECRET, PAIRTRADE_DRY_RUN.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("PAIRTRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("PAIRTRADE_VENUE_API_KEY"); key != "" {
		cfg.Venue.ApiKey = key
	}
	if secret := os.Getenv("PAIRTRADE_VENUE_SECRET"); secret != "" {
		cfg.Venue.Secret = secret
	}
	if os.Getenv("PAIRTRADE_DRY_RUN") == "true" || os.Getenv("PAIRTRADE_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("stats.metrics_window", 500)
	v.SetDefault("stats.warm_start_mode", "strict")
	v.SetDefault("stats.warm_start_min_bars", 60)
	v.SetDefault("stats.entry_z_base", 2.0)
	v.SetDefault("stats.entry_z_min", 1.5)
	v.SetDefault("stats.entry_z_max", 3.5)
	v.SetDefault("stats.exit_z", 0.5)
	v.SetDefault("stats.stop_loss_z", 3.5)
	v.SetDefault("stats.reeval_interval", time.Hour)
	v.SetDefault("stats.reeval_jump_z_mult", 1.5)
	v.SetDefault("stats.vol_spike_mult", 2.0)
	v.SetDefault("stats.vel_max", 3.0)
	v.SetDefault("risk.risk_pct_per_trade", 0.01)
	v.SetDefault("risk.max_loss_r_mult", 2.0)
	v.SetDefault("risk.equity_fallback", 1000.0)
	v.SetDefault("risk.max_leverage", 3.0)
	v.SetDefault("risk.max_active_pairs", 3)
	v.SetDefault("execution.order_timeout", 30*time.Second)
	v.SetDefault("execution.entry_partial_fill_max_retries", 2)
	v.SetDefault("operation.interval_secs", 60)
	v.SetDefault("operation.trading_period_secs", 60)
	v.SetDefault("operation.cooldown_secs", 900)
	v.SetDefault("operation.force_close_secs", 86400)
	v.SetDefault("operation.startup_force_close_attempts", 5)
	v.SetDefault("operation.startup_force_close_wait", 2*time.Second)
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("store.pnl_retain_days", 7)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if !c.Backtest {
		if c.Venue.Name == "" {
			return fmt.Errorf("venue.name is required")
		}
		if c.Venue.BaseURL == "" {
			return fmt.Errorf("venue.base_url is required")
		}
		if !c.DryRun {
			if c.Venue.ApiKey == "" || c.Venue.Secret == "" {
				return fmt.Errorf("venue.api_key and venue.secret are required outside dry_run")
			}
		}
	}
	if c.Stats.MetricsWindow <= 0 {
		return fmt.Errorf("stats.metrics_window must be > 0")
	}
	if c.Stats.EntryZMin > c.Stats.EntryZMax {
		return fmt.Errorf("stats.entry_z_min must be <= stats.entry_z_max")
	}
	switch c.Stats.WarmStartMode {
	case "strict", "relaxed":
	default:
		return fmt.Errorf("stats.warm_start_mode must be 'strict' or 'relaxed'")
	}
	if c.Risk.RiskPctPerTrade <= 0 {
		return fmt.Errorf("risk.risk_pct_per_trade must be > 0")
	}
	if c.Risk.MaxActivePairs <= 0 {
		return fmt.Errorf("risk.max_active_pairs must be > 0")
	}
	if len(c.Universe.Pairs) == 0 && len(c.Universe.Symbols) < 2 {
		return fmt.Errorf("universe must declare explicit pairs or at least two symbols")
	}
	return nil
}

// Pairs resolves the universe into a concrete PairSpec list, expanding a
// symbol list into all unordered pairs when no explicit pairs are given.
func (c *Config) Pairs() []types.PairSpec {
	if len(c.Universe.Pairs) > 0 {
		out := make([]types.PairSpec, 0, len(c.Universe.Pairs))
		for _, p := range c.Universe.Pairs {
			out = append(out, types.PairSpec{Base: types.Symbol(p.Base), Quote: types.Symbol(p.Quote)})
		}
		return out
	}
	syms := c.Universe.Symbols
	out := make([]types.PairSpec, 0, len(syms)*(len(syms)-1)/2)
	for i := 0; i < len(syms); i++ {
		for j := i + 1; j < len(syms); j++ {
			out = append(out, types.PairSpec{Base: types.Symbol(syms[i]), Quote: types.Symbol(syms[j])})
		}
	}
	return out
}

// Symbols returns the deduplicated set of symbols across the universe.
func (c *Config) Symbols() []types.Symbol {
	seen := make(map[types.Symbol]bool)
	var out []types.Symbol
	for _, p := range c.Pairs() {
		if !seen[p.Base] {
			seen[p.Base] = true
			out = append(out, p.Base)
		}
		if !seen[p.Quote] {
			seen[p.Quote] = true
			out = append(out, p.Quote)
		}
	}
	return out
}
