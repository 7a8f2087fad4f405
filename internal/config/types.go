package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所 REST 网关连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	APIPass    string      `mapstructure:"api_password"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// StreamConfig 描述行情 WebSocket 通道参数。
type StreamConfig struct {
	PublicURL         string        `mapstructure:"public_url"`
	PrivateURL        string        `mapstructure:"private_url"`
	EnablePrivate     bool          `mapstructure:"enable_private"`
	AccountID         string        `mapstructure:"account_id"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	MaxMissedPongs    int           `mapstructure:"max_missed_pongs"`
	ReconnectMinDelay time.Duration `mapstructure:"reconnect_min_delay"`
	ReconnectMaxDelay time.Duration `mapstructure:"reconnect_max_delay"`
}

// StrategyConfig 控制信号生成与下单行为。
type StrategyConfig struct {
	Symbols            []string           `mapstructure:"symbols"`
	Timeframe          string             `mapstructure:"timeframe"`
	CandleLimit        int                `mapstructure:"candle_limit"`
	MinCandles         int                `mapstructure:"min_candles"`
	ShortMAPeriod      int                `mapstructure:"short_ma_period"`
	MediumMAPeriod     int                `mapstructure:"medium_ma_period"`
	DeviationThreshold float64            `mapstructure:"deviation_threshold"`
	StopLossPct        float64            `mapstructure:"stop_loss_pct"`
	TakeProfitPct      float64            `mapstructure:"take_profit_pct"`
	BaseSizeFraction   float64            `mapstructure:"base_size_fraction"`
	Leverage           int                `mapstructure:"leverage"`
	HoldDuration       time.Duration      `mapstructure:"hold_duration"`
	EquityHistorySize  int                `mapstructure:"equity_history_size"`
	MinOrderSizes      map[string]float64 `mapstructure:"min_order_sizes"`
	MaxPositionPct     float64            `mapstructure:"max_position_pct"`
}

// RiskConfig 管理波动率目标与交易频率调节参数。
type RiskConfig struct {
	TargetVolatility   float64       `mapstructure:"target_volatility"`
	MaxTradesPerDay    int           `mapstructure:"max_trades_per_day"`
	MinTradeInterval   time.Duration `mapstructure:"min_trade_interval"`
	MaxTradeInterval   time.Duration `mapstructure:"max_trade_interval"`
	VolatilityCooldown time.Duration `mapstructure:"volatility_cooldown"`
	DailyCapCooldown   time.Duration `mapstructure:"daily_cap_cooldown"`
}

// MonitorConfig 控制性能报告输出。
type MonitorConfig struct {
	ReportInterval time.Duration `mapstructure:"report_interval"`
	HTTPPort       int           `mapstructure:"http_port"`
	EventBuffer    int           `mapstructure:"event_buffer"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Stream.PublicURL == "" {
		err = multierr.Append(err, errors.New("stream.public_url 不能为空"))
	}
	if c.Stream.EnablePrivate && c.Stream.PrivateURL == "" {
		err = multierr.Append(err, errors.New("开启私有流时 stream.private_url 不能为空"))
	}
	if c.Stream.EnablePrivate && c.Stream.AccountID == "" {
		err = multierr.Append(err, errors.New("开启私有流时 stream.account_id 不能为空"))
	}
	if c.Stream.PingInterval <= 0 {
		err = multierr.Append(err, errors.New("stream.ping_interval 必须大于0"))
	}
	if c.Stream.MaxMissedPongs <= 0 {
		err = multierr.Append(err, errors.New("stream.max_missed_pongs 必须大于0"))
	}
	if c.Stream.ReconnectMinDelay <= 0 || c.Stream.ReconnectMaxDelay <= 0 {
		err = multierr.Append(err, errors.New("stream.reconnect delay 必须为正"))
	}
	if c.Stream.ReconnectMinDelay > c.Stream.ReconnectMaxDelay {
		err = multierr.Append(err, errors.New("stream.reconnect_min_delay 不能大于 reconnect_max_delay"))
	}
	if len(c.Strategy.Symbols) == 0 {
		err = multierr.Append(err, errors.New("strategy.symbols 至少包含一个交易对"))
	}
	if c.Strategy.Timeframe == "" {
		err = multierr.Append(err, errors.New("strategy.timeframe 不能为空"))
	}
	if c.Strategy.MinCandles <= 0 || c.Strategy.CandleLimit < c.Strategy.MinCandles {
		err = multierr.Append(err, errors.New("strategy.candle_limit 不能小于 min_candles"))
	}
	if c.Strategy.ShortMAPeriod <= 0 || c.Strategy.MediumMAPeriod <= c.Strategy.ShortMAPeriod {
		err = multierr.Append(err, errors.New("strategy.medium_ma_period 必须大于 short_ma_period"))
	}
	if c.Strategy.MinCandles < c.Strategy.MediumMAPeriod {
		err = multierr.Append(err, errors.New("strategy.min_candles 不能小于 medium_ma_period"))
	}
	if c.Strategy.DeviationThreshold <= 0 {
		err = multierr.Append(err, errors.New("strategy.deviation_threshold 必须大于0"))
	}
	if c.Strategy.StopLossPct <= 0 || c.Strategy.StopLossPct > 0.2 {
		err = multierr.Append(err, errors.New("strategy.stop_loss_pct 应位于(0,0.2]"))
	}
	if c.Strategy.TakeProfitPct <= 0 || c.Strategy.TakeProfitPct > 0.2 {
		err = multierr.Append(err, errors.New("strategy.take_profit_pct 应位于(0,0.2]"))
	}
	if c.Strategy.BaseSizeFraction <= 0 || c.Strategy.BaseSizeFraction > 1 {
		err = multierr.Append(err, errors.New("strategy.base_size_fraction 必须位于(0,1]"))
	}
	if c.Strategy.Leverage <= 0 {
		err = multierr.Append(err, errors.New("strategy.leverage 必须大于0"))
	}
	if c.Strategy.HoldDuration <= 0 {
		err = multierr.Append(err, errors.New("strategy.hold_duration 必须大于0"))
	}
	if c.Strategy.EquityHistorySize < 20 {
		err = multierr.Append(err, errors.New("strategy.equity_history_size 不能小于20"))
	}
	if c.Strategy.MaxPositionPct <= 0 || c.Strategy.MaxPositionPct > 1 {
		err = multierr.Append(err, errors.New("strategy.max_position_pct 必须位于(0,1]"))
	}
	if c.Risk.TargetVolatility <= 0 {
		err = multierr.Append(err, errors.New("risk.target_volatility 必须大于0"))
	}
	if c.Risk.MaxTradesPerDay <= 0 {
		err = multierr.Append(err, errors.New("risk.max_trades_per_day 必须大于0"))
	}
	if c.Risk.MinTradeInterval <= 0 {
		err = multierr.Append(err, errors.New("risk.min_trade_interval 必须大于0"))
	}
	if c.Risk.MaxTradeInterval < c.Risk.MinTradeInterval {
		err = multierr.Append(err, errors.New("risk.max_trade_interval 不能小于 min_trade_interval"))
	}
	if c.Risk.VolatilityCooldown <= 0 || c.Risk.DailyCapCooldown <= 0 {
		err = multierr.Append(err, errors.New("risk cooldown 必须大于0"))
	}
	if c.Monitor.ReportInterval <= 0 {
		err = multierr.Append(err, errors.New("monitor.report_interval 必须大于0"))
	}
	if c.Monitor.EventBuffer <= 0 {
		err = multierr.Append(err, errors.New("monitor.event_buffer 必须大于0"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

// MinOrderSize 返回指定交易对的最小下单量，未配置时返回0（不限制）。
func (s StrategyConfig) MinOrderSize(symbol string) float64 {
	if s.MinOrderSizes == nil {
		return 0
	}
	return s.MinOrderSizes[symbol]
}
