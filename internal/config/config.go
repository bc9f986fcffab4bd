// Package config loads the simulator configuration from a YAML file with
// environment overrides, and converts it into each component's settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/quantsim/sim-exchange/internal/calendar"
	"github.com/quantsim/sim-exchange/internal/events"
	"github.com/quantsim/sim-exchange/internal/exchange"
	"github.com/quantsim/sim-exchange/internal/fees"
	"github.com/quantsim/sim-exchange/internal/ledger"
	"github.com/quantsim/sim-exchange/internal/logging"
	"github.com/quantsim/sim-exchange/internal/risk"
	"github.com/quantsim/sim-exchange/internal/store"
	"github.com/quantsim/sim-exchange/internal/strategy"
)

// Run modes.
const (
	ModeBacktest = "backtest"
	ModeRealtime = "realtime"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Mode       string             `yaml:"mode"`
	Account    AccountConfig      `yaml:"account"`
	Fees       FeeConfig          `yaml:"fees"`
	Risk       RiskConfig         `yaml:"risk_control"`
	Calendar   CalendarConfig     `yaml:"calendar"`
	Backtest   BacktestConfig     `yaml:"backtest"`
	Realtime   RealtimeConfig     `yaml:"realtime"`
	Strategy   StrategyConfig     `yaml:"strategy"`
	DataSource DataSourceConfig   `yaml:"data_source"`
	Database   DatabaseConfig     `yaml:"database"`
	Kafka      events.KafkaConfig `yaml:"kafka"`
	Logging    logging.Config     `yaml:"logging"`
	Server     ServerConfig       `yaml:"server"`
}

type AccountConfig struct {
	InitialCapital float64 `yaml:"initial_capital"`
	CommissionRate float64 `yaml:"commission_rate"`
	MinCommission  float64 `yaml:"min_commission"`
	TPlusOne       bool    `yaml:"t_plus_one"`
	LotSize        int64   `yaml:"lot_size"`
	MaxVolume      int64   `yaml:"max_volume"`
}

type FeeConfig struct {
	TransferRate float64 `yaml:"transfer_rate"`
	StampRate    float64 `yaml:"stamp_rate"`
}

type RiskConfig struct {
	Enabled              bool    `yaml:"enable_risk_control"`
	MaxSinglePositionPct float64 `yaml:"max_single_position_pct"`
	MaxTotalPositionPct  float64 `yaml:"max_total_position_pct"`
	MaxOrderAmount       float64 `yaml:"max_order_amount"`
	DailyLossLimitPct    float64 `yaml:"daily_loss_limit_pct"`
	StopLossPct          float64 `yaml:"stop_loss_pct"`
	TakeProfitPct        float64 `yaml:"take_profit_pct"`
}

type CalendarConfig struct {
	Holidays []string `yaml:"holidays"` // YYYY-MM-DD
}

type BacktestConfig struct {
	StartDate        string   `yaml:"start_date"`
	EndDate          string   `yaml:"end_date"`
	Symbols          []string `yaml:"symbols"`
	SnapshotEvery    int      `yaml:"snapshot_every"`
	SlippageRate     float64  `yaml:"slippage_rate"`
	LiquidityPct     float64  `yaml:"liquidity_pct"`
	SpecialTreatment []string `yaml:"special_treatment"`
}

type RealtimeConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type StrategyConfig struct {
	Name         string  `yaml:"name"`
	ShortPeriod  int     `yaml:"short_period"`
	LongPeriod   int     `yaml:"long_period"`
	RSIPeriod    int     `yaml:"rsi_period"`
	Oversold     float64 `yaml:"oversold"`
	Overbought   float64 `yaml:"overbought"`
	CashFraction float64 `yaml:"cash_fraction"`
}

// DataSourceConfig selects market data. Primary and Backup name external
// providers and are passed through untouched; CSVDir enables file bars and
// otherwise a seeded synthetic source is used.
type DataSourceConfig struct {
	Primary   string `yaml:"primary"`
	Backup    string `yaml:"backup"`
	CSVDir    string `yaml:"csv_dir"`
	CacheSize int    `yaml:"cache_size"`
	Seed      int64  `yaml:"seed"`
}

type DatabaseConfig struct {
	Driver   string        `yaml:"driver"`
	Path     string        `yaml:"path"` // sqlite file
	URL      string        `yaml:"url"`  // postgres
	RedisURL string        `yaml:"redis_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Backup   BackupConfig  `yaml:"backup"`
}

type BackupConfig struct {
	Dir           string        `yaml:"dir"`
	RetentionDays int           `yaml:"retention_days"`
	Auto          bool          `yaml:"auto"`
	Interval      time.Duration `yaml:"interval"`
	RestoreFrom   string        `yaml:"restore_from"` // applied once at startup
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// Default returns the built-in configuration: a one-year synthetic MA
// crossover backtest on SQLite.
func Default() Config {
	return Config{
		Mode: ModeBacktest,
		Account: AccountConfig{
			InitialCapital: 1000000,
			CommissionRate: 0.00025,
			MinCommission:  5,
			TPlusOne:       true,
			LotSize:        100,
			MaxVolume:      1000000,
		},
		Fees: FeeConfig{TransferRate: 0.00001, StampRate: 0.001},
		Risk: RiskConfig{
			Enabled:              true,
			MaxSinglePositionPct: 0.30,
			MaxTotalPositionPct:  0.95,
			MaxOrderAmount:       50000,
			DailyLossLimitPct:    0.05,
			StopLossPct:          0.10,
			TakeProfitPct:        0.20,
		},
		Backtest: BacktestConfig{
			StartDate:     "2024-01-02",
			EndDate:       "2024-12-31",
			Symbols:       []string{"000001", "600000"},
			SnapshotEvery: 20,
			SlippageRate:  0.0001,
			LiquidityPct:  0.1,
		},
		Realtime: RealtimeConfig{Interval: 5 * time.Second},
		Strategy: StrategyConfig{Name: "ma_cross", CashFraction: 0.2},
		DataSource: DataSourceConfig{
			Primary:   "synthetic",
			CacheSize: 64,
			Seed:      1,
		},
		Database: DatabaseConfig{
			Driver:   DriverSQLite,
			Path:     "data/simulator.db",
			CacheTTL: 30 * time.Second,
			Backup: BackupConfig{
				Dir:           "data/backups",
				RetentionDays: 30,
				Interval:      24 * time.Hour,
			},
		},
		Logging: logging.Config{Level: "info", Format: "json"},
		Server:  ServerConfig{Port: "8080"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config yaml: %w", err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("SIM_MODE"); v != "" {
		c.Mode = v
	}
	if v := getenv("SIM_INITIAL_CAPITAL"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: SIM_INITIAL_CAPITAL %q: %w", ErrInvalid, v, err)
		}
		c.Account.InitialCapital = f
	}
	if v := getenv("SIM_STRATEGY"); v != "" {
		c.Strategy.Name = v
	}
	if v := getenv("SIM_SYMBOLS"); v != "" {
		c.Backtest.Symbols = splitList(v)
	}
	if v := getenv("SIM_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.Driver = DriverPostgres
		c.Database.URL = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Database.RedisURL = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate rejects configurations the simulator cannot run with.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Mode == ModeBacktest || c.Mode == ModeRealtime, "mode must be %s or %s, got %q", ModeBacktest, ModeRealtime, c.Mode)
	check(c.Account.InitialCapital > 0, "account.initial_capital must be positive")
	check(c.Account.CommissionRate >= 0 && c.Account.CommissionRate < 0.01, "account.commission_rate must be in [0, 0.01)")
	check(c.Account.MinCommission >= 0, "account.min_commission must not be negative")
	check(c.Account.LotSize > 0, "account.lot_size must be positive")
	check(c.Fees.TransferRate >= 0 && c.Fees.StampRate >= 0, "fee rates must not be negative")

	if c.Risk.Enabled {
		check(c.Risk.MaxSinglePositionPct > 0 && c.Risk.MaxSinglePositionPct <= 1, "risk_control.max_single_position_pct must be in (0, 1]")
		check(c.Risk.MaxTotalPositionPct > 0 && c.Risk.MaxTotalPositionPct <= 1, "risk_control.max_total_position_pct must be in (0, 1]")
		check(c.Risk.DailyLossLimitPct > 0 && c.Risk.DailyLossLimitPct <= 1, "risk_control.daily_loss_limit_pct must be in (0, 1]")
		check(c.Risk.MaxOrderAmount >= 0, "risk_control.max_order_amount must not be negative")
	}

	check(c.Backtest.SnapshotEvery >= 0, "backtest.snapshot_every must not be negative")
	check(c.Backtest.LiquidityPct >= 0 && c.Backtest.LiquidityPct <= 1, "backtest.liquidity_pct must be in [0, 1]")
	check(c.Backtest.SlippageRate >= 0 && c.Backtest.SlippageRate < 0.1, "backtest.slippage_rate must be in [0, 0.1)")
	check(len(c.Backtest.Symbols) > 0, "backtest.symbols must not be empty")
	for _, s := range c.Backtest.Symbols {
		_, err := fees.ParseSymbol(s)
		check(err == nil, "symbol %q: %v", s, err)
	}
	if c.Mode == ModeBacktest {
		start, err1 := calendar.ParseDate(c.Backtest.StartDate)
		end, err2 := calendar.ParseDate(c.Backtest.EndDate)
		check(err1 == nil, "backtest.start_date %q is not YYYY-MM-DD", c.Backtest.StartDate)
		check(err2 == nil, "backtest.end_date %q is not YYYY-MM-DD", c.Backtest.EndDate)
		check(err1 != nil || err2 != nil || !end.Before(start), "backtest.end_date is before start_date")
	}
	if c.Mode == ModeRealtime {
		check(c.Realtime.Interval > 0, "realtime.interval must be positive")
	}
	for _, h := range c.Calendar.Holidays {
		_, err := calendar.ParseDate(h)
		check(err == nil, "calendar holiday %q is not YYYY-MM-DD", h)
	}

	check(slices.Contains(strategy.Names, c.Strategy.Name), "strategy.name must be one of %v, got %q", strategy.Names, c.Strategy.Name)
	check(c.Strategy.CashFraction >= 0 && c.Strategy.CashFraction <= 1, "strategy.cash_fraction must be in [0, 1]")

	switch c.Database.Driver {
	case DriverSQLite:
		check(c.Database.Path != "", "database.path is required for sqlite")
	case DriverPostgres:
		check(c.Database.URL != "", "database.url is required for postgres")
	case DriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("database.driver must be sqlite, postgres or memory, got %q", c.Database.Driver))
	}
	check(c.Database.Backup.RetentionDays >= 0, "database.backup.retention_days must not be negative")
	check(c.Server.Port != "", "server.port is required")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// BacktestRange returns the parsed backtest dates.
func (c Config) BacktestRange() (start, end time.Time, err error) {
	if start, err = calendar.ParseDate(c.Backtest.StartDate); err != nil {
		return
	}
	end, err = calendar.ParseDate(c.Backtest.EndDate)
	return
}

// TradingCalendar builds the calendar with the configured holidays.
func (c Config) TradingCalendar() *calendar.Calendar {
	cal := calendar.New()
	for _, h := range c.Calendar.Holidays {
		if t, err := calendar.ParseDate(h); err == nil {
			cal.AddHoliday(t)
		}
	}
	return cal
}

// InitialCapital is the account's starting cash.
func (c Config) InitialCapital() decimal.Decimal {
	return decimal.NewFromFloat(c.Account.InitialCapital)
}

// EngineConfig converts the matching rules.
func (c Config) EngineConfig() exchange.Config {
	return exchange.Config{
		Fees: fees.Schedule{
			CommissionRate: decimal.NewFromFloat(c.Account.CommissionRate),
			MinCommission:  decimal.NewFromFloat(c.Account.MinCommission),
			TransferRate:   decimal.NewFromFloat(c.Fees.TransferRate),
			StampRate:      decimal.NewFromFloat(c.Fees.StampRate),
		},
		SlippageRate:     decimal.NewFromFloat(c.Backtest.SlippageRate),
		LotSize:          c.Account.LotSize,
		MaxVolume:        c.Account.MaxVolume,
		LiquidityPct:     decimal.NewFromFloat(c.Backtest.LiquidityPct),
		SpecialTreatment: c.Backtest.SpecialTreatment,
	}
}

// LedgerOptions converts the settlement rules.
func (c Config) LedgerOptions() ledger.Options {
	return ledger.Options{TPlusOne: c.Account.TPlusOne, LotSize: c.Account.LotSize}
}

// RiskLimits converts the risk policy.
func (c Config) RiskLimits() risk.Limits {
	return risk.Limits{
		Enabled:              c.Risk.Enabled,
		MaxSinglePositionPct: decimal.NewFromFloat(c.Risk.MaxSinglePositionPct),
		MaxTotalPositionPct:  decimal.NewFromFloat(c.Risk.MaxTotalPositionPct),
		MaxOrderAmount:       decimal.NewFromFloat(c.Risk.MaxOrderAmount),
		DailyLossLimitPct:    decimal.NewFromFloat(c.Risk.DailyLossLimitPct),
		StopLossPct:          decimal.NewFromFloat(c.Risk.StopLossPct),
		TakeProfitPct:        decimal.NewFromFloat(c.Risk.TakeProfitPct),
	}
}

// StrategyOptions converts the strategy parameters. With risk control on,
// buys are capped at the order amount limit so they are not refused.
func (c Config) StrategyOptions() strategy.Options {
	sizer := strategy.Sizer{
		Fraction: decimal.NewFromFloat(c.Strategy.CashFraction),
		LotSize:  c.Account.LotSize,
	}
	if c.Risk.Enabled && c.Risk.MaxOrderAmount > 0 {
		sizer.MaxNotional = decimal.NewFromFloat(c.Risk.MaxOrderAmount)
	}
	return strategy.Options{
		ShortPeriod: c.Strategy.ShortPeriod,
		LongPeriod:  c.Strategy.LongPeriod,
		RSIPeriod:   c.Strategy.RSIPeriod,
		Oversold:    c.Strategy.Oversold,
		Overbought:  c.Strategy.Overbought,
		Sizer:       sizer,
	}
}

// BackupConfig converts the backup policy.
func (c Config) BackupConfig() store.BackupConfig {
	b := c.Database.Backup
	return store.BackupConfig{
		Dir:           b.Dir,
		RetentionDays: b.RetentionDays,
		Auto:          b.Auto,
		Interval:      b.Interval,
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
