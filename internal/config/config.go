// Package config loads the tradegate YAML configuration and materializes
// rule tables and risk limits from it. Configuration errors fail fast at
// load time, never during order processing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tradegate/internal/domain"
	"tradegate/internal/risk"
	"tradegate/internal/rules"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tradegate.
type Config struct {
	Logging   Logging               `yaml:"logging"`
	Storage   Storage               `yaml:"storage"`
	Rules     map[string]RuleConfig `yaml:"rules"`
	Risk      RiskConfig            `yaml:"risk"`
	Alpaca    Alpaca                `yaml:"alpaca"`
	Simulator SimulatorConfig       `yaml:"simulator"`
	Retention RetentionConfig       `yaml:"retention"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Storage holds paths for the persistence collaborators.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	AuditDir   string `yaml:"audit_dir"`
}

// RuleConfig is the YAML form of one security-class rule table. Decimal
// fields are strings so values like "0.001" survive exactly.
type RuleConfig struct {
	MinQuantity   int64            `yaml:"min_quantity"`
	QuantityStep  int64            `yaml:"quantity_step"`
	MinNotional   string           `yaml:"min_notional"`
	PriceTick     string           `yaml:"price_tick"`
	DailyLimitPct string           `yaml:"daily_limit_pct"`
	Sessions      []string         `yaml:"sessions"` // "HH:MM-HH:MM"
	Commission    CommissionConfig `yaml:"commission"`
}

// CommissionConfig is the YAML form of a commission schedule.
type CommissionConfig struct {
	BuyRate  string `yaml:"buy_rate"`
	SellRate string `yaml:"sell_rate"`
	Minimum  string `yaml:"minimum"`
}

// RiskConfig is the YAML form of the pre-trade risk limits.
type RiskConfig struct {
	MaxPositionRatio      string `yaml:"max_position_ratio"`
	MaxDailyLossRatio     string `yaml:"max_daily_loss_ratio"`
	MaxTotalExposureRatio string `yaml:"max_total_exposure_ratio"`
	MinCashRatio          string `yaml:"min_cash_ratio"`
	MaxOrderAmount        string `yaml:"max_order_amount"`
	MaxDailyTrades        int    `yaml:"max_daily_trades"`
	TradingTimeCheck      *bool  `yaml:"trading_time_check"`
}

// Alpaca holds credentials for the live execution adapter.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// SimulatorConfig parameterizes the paper execution source.
type SimulatorConfig struct {
	Slippage map[string]string `yaml:"slippage"` // class -> rate
}

// RetentionConfig controls the terminal-order retention sweep.
type RetentionConfig struct {
	Days int `yaml:"days"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at path and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("AUDIT_DIR"); v != "" {
		cfg.Storage.AuditDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Materialization
// ---------------------------------------------------------------------------

// RuleTables builds the per-class rule tables. An empty rules section yields
// the built-in defaults; configured classes override their default entry.
func (c *Config) RuleTables() (map[domain.SecurityClass]rules.RuleTable, error) {
	tables := rules.DefaultTables()
	for name, rc := range c.Rules {
		class := domain.SecurityClass(strings.ToLower(name))
		table, err := rc.toTable(tables[class])
		if err != nil {
			return nil, fmt.Errorf("rules.%s: %w", name, err)
		}
		tables[class] = table
	}
	return tables, nil
}

// toTable converts a RuleConfig to a RuleTable, falling back to base for
// fields left unset.
func (rc RuleConfig) toTable(base rules.RuleTable) (rules.RuleTable, error) {
	out := base
	if rc.MinQuantity != 0 {
		out.MinQuantity = rc.MinQuantity
	}
	if rc.QuantityStep != 0 {
		out.QuantityStep = rc.QuantityStep
	}

	var err error
	if out.MinNotional, err = decimalOr(rc.MinNotional, base.MinNotional); err != nil {
		return out, fmt.Errorf("min_notional: %w", err)
	}
	if out.PriceTick, err = decimalOr(rc.PriceTick, base.PriceTick); err != nil {
		return out, fmt.Errorf("price_tick: %w", err)
	}
	if out.DailyLimitPct, err = decimalOr(rc.DailyLimitPct, base.DailyLimitPct); err != nil {
		return out, fmt.Errorf("daily_limit_pct: %w", err)
	}
	if out.Commission.BuyRate, err = decimalOr(rc.Commission.BuyRate, base.Commission.BuyRate); err != nil {
		return out, fmt.Errorf("commission.buy_rate: %w", err)
	}
	if out.Commission.SellRate, err = decimalOr(rc.Commission.SellRate, base.Commission.SellRate); err != nil {
		return out, fmt.Errorf("commission.sell_rate: %w", err)
	}
	if out.Commission.Minimum, err = decimalOr(rc.Commission.Minimum, base.Commission.Minimum); err != nil {
		return out, fmt.Errorf("commission.minimum: %w", err)
	}

	if len(rc.Sessions) > 0 {
		sessions, err := ParseSessions(rc.Sessions)
		if err != nil {
			return out, err
		}
		out.Sessions = sessions
	}
	return out, nil
}

// RiskLimits builds the risk limit set, starting from the defaults.
func (c *Config) RiskLimits() (domain.RiskLimits, error) {
	limits := risk.DefaultLimits()
	rc := c.Risk

	var err error
	if limits.MaxPositionRatio, err = decimalOr(rc.MaxPositionRatio, limits.MaxPositionRatio); err != nil {
		return limits, fmt.Errorf("risk.max_position_ratio: %w", err)
	}
	if limits.MaxDailyLossRatio, err = decimalOr(rc.MaxDailyLossRatio, limits.MaxDailyLossRatio); err != nil {
		return limits, fmt.Errorf("risk.max_daily_loss_ratio: %w", err)
	}
	if limits.MaxTotalExposureRatio, err = decimalOr(rc.MaxTotalExposureRatio, limits.MaxTotalExposureRatio); err != nil {
		return limits, fmt.Errorf("risk.max_total_exposure_ratio: %w", err)
	}
	if limits.MinCashRatio, err = decimalOr(rc.MinCashRatio, limits.MinCashRatio); err != nil {
		return limits, fmt.Errorf("risk.min_cash_ratio: %w", err)
	}
	if limits.MaxOrderAmount, err = decimalOr(rc.MaxOrderAmount, limits.MaxOrderAmount); err != nil {
		return limits, fmt.Errorf("risk.max_order_amount: %w", err)
	}
	if rc.MaxDailyTrades != 0 {
		limits.MaxDailyTrades = rc.MaxDailyTrades
	}
	if rc.TradingTimeCheck != nil {
		limits.TradingTimeCheck = *rc.TradingTimeCheck
	}
	return limits, nil
}

// SlippageRates builds the per-class simulator slippage rates.
func (c *Config) SlippageRates() (map[domain.SecurityClass]decimal.Decimal, error) {
	out := map[domain.SecurityClass]decimal.Decimal{
		domain.ClassEquity: decimal.New(1, -3), // 0.001
		domain.ClassFund:   decimal.New(5, -4),
		domain.ClassBond:   decimal.New(2, -4),
		domain.ClassFuture: decimal.Zero,
	}
	for name, raw := range c.Simulator.Slippage {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("simulator.slippage.%s: %w", name, err)
		}
		out[domain.SecurityClass(strings.ToLower(name))] = d
	}
	return out, nil
}

// ParseSessions parses "HH:MM-HH:MM" session windows.
func ParseSessions(specs []string) ([]domain.Session, error) {
	sessions := make([]domain.Session, 0, len(specs))
	for _, spec := range specs {
		from, to, ok := strings.Cut(spec, "-")
		if !ok {
			return nil, fmt.Errorf("session %q: want HH:MM-HH:MM", spec)
		}
		o, err := parseMinute(from)
		if err != nil {
			return nil, fmt.Errorf("session %q: %w", spec, err)
		}
		c, err := parseMinute(to)
		if err != nil {
			return nil, fmt.Errorf("session %q: %w", spec, err)
		}
		sessions = append(sessions, domain.Session{Open: o, Close: c})
	}
	return sessions, nil
}

func parseMinute(s string) (domain.MinuteOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("time %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("time %q: bad hour", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time %q: bad minute", s)
	}
	return domain.NewMinuteOfDay(hour, minute), nil
}

// decimalOr parses raw, or returns fallback when raw is empty.
func decimalOr(raw string, fallback decimal.Decimal) (decimal.Decimal, error) {
	if raw == "" {
		return fallback, nil
	}
	return decimal.NewFromString(raw)
}
