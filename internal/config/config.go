package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is an immutable snapshot of the service settings. Components read
// it through a Holder and never mutate it.
type Config struct {
	Environment  string   `yaml:"environment" default:"development" validate:"oneof=development staging production"`
	PaperTrading bool     `yaml:"paper_trading" default:"true"`
	TradingPairs []string `yaml:"trading_pairs" default:"[\"BTC-USD\",\"ETH-USD\"]" validate:"min=1,dive,required"`

	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Account     AccountConfig     `yaml:"account"`
	Risk        RiskConfig        `yaml:"risk"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Trading     TradingConfig     `yaml:"trading"`
	Paper       PaperConfig       `yaml:"paper"`
	Backtest    BacktestConfig    `yaml:"backtest"`
	Performance PerformanceConfig `yaml:"performance"`
	Monitors    MonitorConfig     `yaml:"monitors"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Alerts      AlertConfig       `yaml:"alerts"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"180s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	WSPushInterval  time.Duration `yaml:"ws_push_interval" default:"5s" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
}

type AccountConfig struct {
	Size float64 `yaml:"size" default:"100000" validate:"gt=0"`
}

type RiskConfig struct {
	RiskPerTradePct    float64       `yaml:"risk_per_trade_pct" default:"0.25" validate:"gt=0,lte=100"`
	MaxPositions       int           `yaml:"max_positions" default:"2" validate:"min=1"`
	DailyLossLimit     float64       `yaml:"daily_loss_limit" default:"2000" validate:"gt=0"`
	MaxPositionSizePct float64       `yaml:"max_position_size_pct" default:"50" validate:"gt=0,lte=100"`
	PositionTimeout    time.Duration `yaml:"position_timeout" default:"10m" validate:"gt=0"`
}

type StrategyConfig struct {
	EMAPeriod           int     `yaml:"ema_period" default:"50" validate:"min=1"`
	RSIPeriod           int     `yaml:"rsi_period" default:"14" validate:"min=1"`
	VolumePeriod        int     `yaml:"volume_period" default:"20" validate:"min=1"`
	VolumeMultiplier    float64 `yaml:"volume_multiplier" default:"1.5" validate:"gt=0"`
	RSILongMin          float64 `yaml:"rsi_long_min" default:"55" validate:"gte=0,ltfield=RSILongMax"`
	RSILongMax          float64 `yaml:"rsi_long_max" default:"70" validate:"lte=100"`
	RSIShortMin         float64 `yaml:"rsi_short_min" default:"30" validate:"gte=0,ltfield=RSIShortMax"`
	RSIShortMax         float64 `yaml:"rsi_short_max" default:"45" validate:"lte=100"`
	MinConfidence       float64 `yaml:"min_confidence" default:"70" validate:"gte=0,lte=100"`
	TakeProfitMinPct    float64 `yaml:"take_profit_min_pct" default:"0.15" validate:"gt=0,ltefield=TakeProfitMaxPct"`
	TakeProfitMaxPct    float64 `yaml:"take_profit_max_pct" default:"0.40" validate:"gt=0"`
	StopLossMinPct      float64 `yaml:"stop_loss_min_pct" default:"0.10" validate:"gt=0,ltefield=StopLossMaxPct"`
	StopLossMaxPct      float64 `yaml:"stop_loss_max_pct" default:"0.50" validate:"gt=0"`
	ExitOnTrendReversal bool    `yaml:"exit_on_trend_reversal"`
}

type TradingConfig struct {
	LoopInterval    time.Duration `yaml:"loop_interval" default:"5s" validate:"gt=0"`
	CandleInterval  string        `yaml:"candle_interval" default:"1m" validate:"required"`
	CandleHistory   int           `yaml:"candle_history" default:"200" validate:"min=1"`
	CandleRefetch   int           `yaml:"candle_refetch_below" default:"100" validate:"min=1,ltefield=CandleHistory"`
	ExchangeTimeout time.Duration `yaml:"exchange_timeout" default:"10s" validate:"gt=0"`
}

type PaperConfig struct {
	FeeRate        float64 `yaml:"fee_rate" default:"0.006" validate:"gte=0,lt=1"`
	SlippageMinPct float64 `yaml:"slippage_min_pct" default:"0.01" validate:"gte=0,ltefield=SlippageMaxPct"`
	SlippageMaxPct float64 `yaml:"slippage_max_pct" default:"0.05" validate:"gte=0"`
	Seed           int64   `yaml:"seed"`
}

type BacktestConfig struct {
	FeeRate        float64       `yaml:"fee_rate" default:"0.006" validate:"gte=0,lt=1"`
	CandleInterval string        `yaml:"candle_interval" default:"1m" validate:"required"`
	BatchSize      int           `yaml:"batch_size" default:"1000" validate:"min=1,max=1000"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout" default:"120s" validate:"gt=0"`
	MaxExecution   time.Duration `yaml:"max_execution" default:"50s" validate:"gt=0"`
}

type PerformanceConfig struct {
	TargetWinRate      float64 `yaml:"target_win_rate" default:"55"`
	TargetProfitFactor float64 `yaml:"target_profit_factor" default:"1.5"`
	TargetSharpe       float64 `yaml:"target_sharpe" default:"1.5"`
	TargetMaxDrawdown  float64 `yaml:"target_max_drawdown" default:"5"`
}

type MonitorConfig struct {
	OrderInterval time.Duration `yaml:"order_interval" default:"1s" validate:"gt=0"`
	GridInterval  time.Duration `yaml:"grid_interval" default:"5s" validate:"gt=0"`
	DCAInterval   time.Duration `yaml:"dca_interval" default:"60s" validate:"gt=0"`
	ErrorBackoff  time.Duration `yaml:"error_backoff" default:"5s" validate:"gt=0"`
}

type ExchangeConfig struct {
	APIKey     string        `yaml:"api_key"`
	SecretKey  string        `yaml:"secret_key"`
	Testnet    bool          `yaml:"testnet"`
	QuoteAsset string        `yaml:"quote_asset" default:"USDT" validate:"required"`
	Timeout    time.Duration `yaml:"timeout" default:"10s" validate:"gt=0"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns" default:"10" validate:"min=1"`
	MinConns int32  `yaml:"min_conns" default:"1" validate:"min=0"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	MarketTTL time.Duration `yaml:"market_ttl" default:"5s" validate:"gt=0"`
}

type AlertConfig struct {
	Cooldown        time.Duration `yaml:"cooldown" default:"5m" validate:"gt=0"`
	CredentialsPath string        `yaml:"credentials_path"`
	CredentialsJSON string        `yaml:"credentials_json"`
}

// productionLoopInterval replaces the default loop interval in production.
const productionLoopInterval = 3 * time.Second

var validate = validator.New()

// Default returns the built-in configuration.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load reads the YAML file at path on top of the defaults, applies environment
// overrides and validates the result. A missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	c.applyProfile(os.LookupEnv)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"DATABASE_URL":              &c.Database.URL,
		"REDIS_ADDR":                &c.Redis.Addr,
		"BINANCE_API_KEY":           &c.Exchange.APIKey,
		"BINANCE_SECRET_KEY":        &c.Exchange.SecretKey,
		"FIREBASE_CREDENTIALS_PATH": &c.Alerts.CredentialsPath,
		"FIREBASE_CREDENTIALS_JSON": &c.Alerts.CredentialsJSON,
		"ENVIRONMENT":               &c.Environment,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("TRADING_PAIRS"); ok && v != "" {
		var pairs []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				pairs = append(pairs, strings.ToUpper(p))
			}
		}
		c.TradingPairs = pairs
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("PAPER_TRADING"); ok && v != "" {
		paper, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse PAPER_TRADING %q: %w", v, err)
		}
		c.PaperTrading = paper
	}
	return nil
}

// applyProfile tightens the loop and disables paper trading in production
// unless PAPER_TRADING explicitly asks for it.
func (c *Config) applyProfile(lookup func(string) (string, bool)) {
	if c.Environment != "production" {
		return
	}
	if c.Trading.LoopInterval == 5*time.Second {
		c.Trading.LoopInterval = productionLoopInterval
	}
	v, _ := lookup("PAPER_TRADING")
	c.PaperTrading = strings.EqualFold(v, "true")
}
