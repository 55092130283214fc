package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full bot configuration.
type Config struct {
	Session  SessionConfig  `yaml:"session"`
	Risk     RiskConfig     `yaml:"risk"`
	Strategy StrategyConfig `yaml:"strategy"`
	Fees     FeesConfig     `yaml:"fees"`
	Venue    VenueConfig    `yaml:"venue"`
	Odds     OddsConfig     `yaml:"odds"`
	Cache    CacheConfig    `yaml:"cache"`
	Storage  StorageConfig  `yaml:"storage"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
}

// SessionConfig controls the run mode and cycle cadence.
type SessionConfig struct {
	Mode                string  `yaml:"mode"` // sim | live
	CapitalSim          float64 `yaml:"capital_sim"`
	IntervalSeconds     int     `yaml:"interval_seconds"`
	OddsIntervalSeconds int     `yaml:"odds_interval_seconds"`
}

// RiskConfig bounds sizing. Percentages are fractions of capital.
type RiskConfig struct {
	CapPct          float64 `yaml:"cap_pct"`
	HedgeCapPct     float64 `yaml:"hedge_cap_pct"`
	MaxEventDollars float64 `yaml:"max_event_dollars"` // 0 disables the absolute cap
	MaxPortfolioPct float64 `yaml:"max_portfolio_pct"` // 0 disables the portfolio cap
	CooldownMinutes int     `yaml:"cooldown_minutes"`
	AllowRecovery   *bool   `yaml:"allow_recovery"`
}

// StrategyConfig turns fair probabilities into proposals and exit levels.
type StrategyConfig struct {
	MinEdge        float64 `yaml:"min_edge"`         // fair prob minus ask required to propose
	StakeDollars   float64 `yaml:"stake_dollars"`    // desired dollars per proposal
	StopLossDrop   float64 `yaml:"stop_loss_drop"`   // stop = entry - drop; 0 disables
	TakeProfitRise float64 `yaml:"take_profit_rise"` // take-profit = entry + rise; 0 disables
	PlaceEntries   bool    `yaml:"place_entries"`
}

// FeesConfig selects which fee schedule entries and exits are charged at.
type FeesConfig struct {
	EntryMaker bool `yaml:"entry_maker"`
}

// VenueConfig points at the exchange REST API.
type VenueConfig struct {
	BaseURL             string  `yaml:"base_url"`
	KeyID               string  `yaml:"-"` // KALSHI_KEY_ID
	KeyPath             string  `yaml:"-"` // KALSHI_KEY_PATH
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
	BalanceCacheSeconds int     `yaml:"balance_cache_seconds"`
	RatePerSec          float64 `yaml:"rate_per_sec"`
}

// OddsConfig points at the external odds feed and tunes aggregation.
type OddsConfig struct {
	BaseURL       string             `yaml:"base_url"`
	APIKey        string             `yaml:"-"` // ODDS_API_KEY
	Sport         string             `yaml:"sport"`
	Method        string             `yaml:"method"` // logit | probit | shin | proportional
	DefaultWeight float64            `yaml:"default_weight"`
	Weights       map[string]float64 `yaml:"weights"`
	// Events maps external odds event ids to venue event tickers.
	Events map[string]string `yaml:"events"`
}

// CacheConfig tunes the match cache.
type CacheConfig struct {
	MatchTTLMinutes int `yaml:"match_ttl_minutes"`
}

// StorageConfig controls where state is persisted.
type StorageConfig struct {
	PositionsFile  string `yaml:"positions_file"`
	StopOrdersFile string `yaml:"stop_orders_file"`
	SQLiteDSN      string `yaml:"sqlite_dsn"` // path to the SQLite file, or ":memory:"
}

// APIConfig controls the read-only status server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file and the .env file if present. Environment
// values override the YAML for the keys that have one.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes, applies env overrides and defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CycleInterval returns the portfolio cycle cadence.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Session.IntervalSeconds) * time.Second
}

// OddsInterval returns the signal evaluation cadence.
func (c *Config) OddsInterval() time.Duration {
	return time.Duration(c.Session.OddsIntervalSeconds) * time.Second
}

// MatchTTL returns the match cache entry lifetime.
func (c *Config) MatchTTL() time.Duration {
	return time.Duration(c.Cache.MatchTTLMinutes) * time.Minute
}

// Cooldown returns the post stop-loss event cooldown.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Risk.CooldownMinutes) * time.Minute
}

// VenueTimeout returns the per-request timeout for the venue client.
func (c *Config) VenueTimeout() time.Duration {
	return time.Duration(c.Venue.TimeoutSeconds) * time.Second
}

// BalanceCacheTTL returns how long a fetched balance is reused.
func (c *Config) BalanceCacheTTL() time.Duration {
	return time.Duration(c.Venue.BalanceCacheSeconds) * time.Second
}

// IsLive reports whether the session trades against the real venue.
func (c *Config) IsLive() bool {
	return c.Session.Mode == "live"
}

// Validate rejects configurations the bot cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Session.Mode {
	case "sim", "live":
	default:
		errs = append(errs, fmt.Errorf("session.mode %q: must be sim or live", c.Session.Mode))
	}
	if c.Session.CapitalSim <= 0 {
		errs = append(errs, errors.New("session.capital_sim must be > 0"))
	}
	if c.Risk.CapPct <= 0 || c.Risk.CapPct > 1 {
		errs = append(errs, fmt.Errorf("risk.cap_pct %v: must be in (0, 1]", c.Risk.CapPct))
	}
	if c.Risk.HedgeCapPct <= 0 || c.Risk.HedgeCapPct > 1 {
		errs = append(errs, fmt.Errorf("risk.hedge_cap_pct %v: must be in (0, 1]", c.Risk.HedgeCapPct))
	}
	if c.Risk.MaxEventDollars < 0 {
		errs = append(errs, errors.New("risk.max_event_dollars must be >= 0"))
	}
	if c.Risk.MaxPortfolioPct < 0 || c.Risk.MaxPortfolioPct > 1 {
		errs = append(errs, fmt.Errorf("risk.max_portfolio_pct %v: must be in [0, 1]", c.Risk.MaxPortfolioPct))
	}
	if c.Strategy.StopLossDrop < 0 || c.Strategy.StopLossDrop >= 1 {
		errs = append(errs, fmt.Errorf("strategy.stop_loss_drop %v: must be in [0, 1)", c.Strategy.StopLossDrop))
	}
	if c.Strategy.TakeProfitRise < 0 || c.Strategy.TakeProfitRise >= 1 {
		errs = append(errs, fmt.Errorf("strategy.take_profit_rise %v: must be in [0, 1)", c.Strategy.TakeProfitRise))
	}
	switch c.Odds.Method {
	case "logit", "probit", "shin", "proportional":
	default:
		errs = append(errs, fmt.Errorf("odds.method %q: unknown de-vig method", c.Odds.Method))
	}
	if c.Odds.DefaultWeight <= 0 {
		errs = append(errs, errors.New("odds.default_weight must be > 0"))
	}
	for book, w := range c.Odds.Weights {
		if w < 0 {
			errs = append(errs, fmt.Errorf("odds.weights[%s]: must be >= 0", book))
		}
	}
	if c.IsLive() && (c.Venue.KeyID == "" || c.Venue.KeyPath == "") {
		errs = append(errs, errors.New("live mode requires KALSHI_KEY_ID and KALSHI_KEY_PATH"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config.Validate: %w", errors.Join(errs...))
	}
	return nil
}

// applyEnvOverrides replaces values with environment variables when present.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SESSION_MODE"); v != "" {
		cfg.Session.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("CAPITAL_SIM"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Session.CapitalSim = f
		}
	}
	if v := os.Getenv("KALSHI_BASE_URL"); v != "" {
		cfg.Venue.BaseURL = v
	}
	if v := os.Getenv("KALSHI_KEY_ID"); v != "" {
		cfg.Venue.KeyID = v
	}
	if v := os.Getenv("KALSHI_KEY_PATH"); v != "" {
		cfg.Venue.KeyPath = v
	}
	if v := os.Getenv("ODDS_API_KEY"); v != "" {
		cfg.Odds.APIKey = v
	}
	if v := os.Getenv("API_LISTEN"); v != "" {
		cfg.API.Listen = v
	}
}

// setDefaults fills required values with sane defaults.
func setDefaults(cfg *Config) {
	if cfg.Session.Mode == "" {
		cfg.Session.Mode = "sim"
	}
	if cfg.Session.CapitalSim <= 0 {
		cfg.Session.CapitalSim = 1000
	}
	if cfg.Session.IntervalSeconds <= 0 {
		cfg.Session.IntervalSeconds = 30
	}
	if cfg.Session.OddsIntervalSeconds <= 0 {
		cfg.Session.OddsIntervalSeconds = 60
	}
	if cfg.Risk.CapPct == 0 {
		cfg.Risk.CapPct = 0.10
	}
	if cfg.Risk.HedgeCapPct == 0 {
		cfg.Risk.HedgeCapPct = 0.05
	}
	if cfg.Risk.CooldownMinutes <= 0 {
		cfg.Risk.CooldownMinutes = 180
	}
	if cfg.Risk.AllowRecovery == nil {
		t := true
		cfg.Risk.AllowRecovery = &t
	}
	if cfg.Strategy.MinEdge <= 0 {
		cfg.Strategy.MinEdge = 0.03
	}
	if cfg.Strategy.StakeDollars <= 0 {
		cfg.Strategy.StakeDollars = 25
	}
	if cfg.Venue.BaseURL == "" {
		cfg.Venue.BaseURL = "https://api.elections.kalshi.com/trade-api/v2"
	}
	if cfg.Venue.TimeoutSeconds <= 0 {
		cfg.Venue.TimeoutSeconds = 10
	}
	if cfg.Venue.BalanceCacheSeconds <= 0 {
		cfg.Venue.BalanceCacheSeconds = 10
	}
	if cfg.Venue.RatePerSec <= 0 {
		cfg.Venue.RatePerSec = 10
	}
	if cfg.Odds.BaseURL == "" {
		cfg.Odds.BaseURL = "https://api.the-odds-api.com/v4"
	}
	if cfg.Odds.Method == "" {
		cfg.Odds.Method = "logit"
	}
	if cfg.Odds.DefaultWeight == 0 {
		cfg.Odds.DefaultWeight = 1
	}
	if cfg.Cache.MatchTTLMinutes <= 0 {
		cfg.Cache.MatchTTLMinutes = 30
	}
	if cfg.Storage.PositionsFile == "" {
		cfg.Storage.PositionsFile = "positions.json"
	}
	if cfg.Storage.StopOrdersFile == "" {
		cfg.Storage.StopOrdersFile = "stop_orders.json"
	}
	if cfg.Storage.SQLiteDSN == "" {
		cfg.Storage.SQLiteDSN = "kalshibot.db"
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
