package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "edgex"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.name", "edgex")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("stream.public_url", "wss://quote.edgex.exchange/api/v1/public/ws")
	v.SetDefault("stream.private_url", "wss://quote.edgex.exchange/api/v1/private/ws")
	v.SetDefault("stream.enable_private", false)
	v.SetDefault("stream.ping_interval", "30s")
	v.SetDefault("stream.max_missed_pongs", 5)
	v.SetDefault("stream.reconnect_min_delay", "1s")
	v.SetDefault("stream.reconnect_max_delay", "30s")

	v.SetDefault("strategy.symbols", []string{"BTC-USDT"})
	v.SetDefault("strategy.timeframe", "1m")
	v.SetDefault("strategy.candle_limit", 30)
	v.SetDefault("strategy.min_candles", 20)
	v.SetDefault("strategy.short_ma_period", 5)
	v.SetDefault("strategy.medium_ma_period", 20)
	v.SetDefault("strategy.deviation_threshold", 0.002)
	v.SetDefault("strategy.stop_loss_pct", 0.002)
	v.SetDefault("strategy.take_profit_pct", 0.002)
	v.SetDefault("strategy.base_size_fraction", 0.001)
	v.SetDefault("strategy.leverage", 50)
	v.SetDefault("strategy.hold_duration", "3s")
	v.SetDefault("strategy.equity_history_size", 100)
	v.SetDefault("strategy.max_position_pct", 0.5)

	v.SetDefault("risk.target_volatility", 0.005)
	v.SetDefault("risk.max_trades_per_day", 200)
	v.SetDefault("risk.min_trade_interval", "5s")
	v.SetDefault("risk.max_trade_interval", "60s")
	v.SetDefault("risk.volatility_cooldown", "5m")
	v.SetDefault("risk.daily_cap_cooldown", "1h")

	v.SetDefault("monitor.report_interval", "1h")
	v.SetDefault("monitor.http_port", 8080)
	v.SetDefault("monitor.event_buffer", 500)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
