package risk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"edgex-hft/internal/config"
	"edgex-hft/internal/indicator"
)

var (
	// ErrVolatilityLimit 表示账户权益波动率超过目标上限，交易进入冷却。
	ErrVolatilityLimit = errors.New("equity volatility above target limit")
	// ErrDailyTradeLimit 表示当日交易次数已达上限，交易进入冷却。
	ErrDailyTradeLimit = errors.New("daily trade count limit reached")
)

// 权益样本不足该数量时波动率视为0，不触发熔断。
const minEquitySamples = 20

// 波动率熔断阈值与调频规则的比例边界。
const (
	breakerRatio   = 1.2
	shrinkRatio    = 0.8
	shrinkFactor   = 0.9
	stretchFactor  = 1.5
	volumeMultiple = 100.0
)

// VolumeTarget 返回与余额成比例的当日名义成交量目标。
func VolumeTarget(balance float64) float64 {
	return balance * volumeMultiple
}

// TuneInput 是一次调频所需的只读快照，由持仓状态的所有者在锁内采集。
type TuneInput struct {
	Balance     float64
	DailyVolume float64
	Equity      []float64
}

// Controller 管理交易频率与熔断状态。
//
// 交易间隔由它独占持有：策略每轮循环前询问 Interval 并在成交后
// 提交 Tune。熔断检查失败返回哨兵错误，调用方据此跳过本轮交易。
type Controller struct {
	cfg    config.RiskConfig
	logger *zap.Logger
	nowFn  func() time.Time

	mu          sync.Mutex
	interval    time.Duration
	pausedUntil time.Time
	pauseReason error
}

// NewController 构造频率控制器，初始间隔为配置的最小交易间隔。
func NewController(cfg config.RiskConfig, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:      cfg,
		logger:   logger,
		nowFn:    time.Now,
		interval: cfg.MinTradeInterval,
	}
}

// Interval 返回当前交易间隔。
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// CheckVolatility 检查权益波动率熔断。
// 波动率超过目标的1.2倍时进入冷却并返回 ErrVolatilityLimit；
// 冷却期内始终返回该错误。
func (c *Controller) CheckVolatility(equity []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	if now.Before(c.pausedUntil) {
		return fmt.Errorf("%w: 冷却至 %s", c.pauseReason, c.pausedUntil.Format(time.RFC3339))
	}

	vol := indicator.EquityVolatility(equity, minEquitySamples)
	if vol > c.cfg.TargetVolatility*breakerRatio {
		c.pausedUntil = now.Add(c.cfg.VolatilityCooldown)
		c.pauseReason = ErrVolatilityLimit
		c.logger.Warn("权益波动率熔断触发",
			zap.Float64("volatility", vol),
			zap.Float64("target", c.cfg.TargetVolatility),
			zap.Time("paused_until", c.pausedUntil),
		)
		return fmt.Errorf("%w: 当前 %.4f 目标 %.4f", ErrVolatilityLimit, vol, c.cfg.TargetVolatility)
	}

	return nil
}

// CheckDailyCap 检查当日交易次数上限。
// 达到上限时进入冷却并返回 ErrDailyTradeLimit。
func (c *Controller) CheckDailyCap(tradeCount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	if now.Before(c.pausedUntil) {
		return fmt.Errorf("%w: 冷却至 %s", c.pauseReason, c.pausedUntil.Format(time.RFC3339))
	}

	if tradeCount >= c.cfg.MaxTradesPerDay {
		c.pausedUntil = now.Add(c.cfg.DailyCapCooldown)
		c.pauseReason = ErrDailyTradeLimit
		c.logger.Warn("当日交易次数达到上限",
			zap.Int("count", tradeCount),
			zap.Int("limit", c.cfg.MaxTradesPerDay),
			zap.Time("paused_until", c.pausedUntil),
		)
		return fmt.Errorf("%w: %d/%d", ErrDailyTradeLimit, tradeCount, c.cfg.MaxTradesPerDay)
	}

	return nil
}

// Tune 按成交量与波动率比例调整交易间隔。
//
// 成交量与波动率同时低于目标的0.8倍时缩短间隔10%加快节奏，
// 波动率高于目标的1.2倍时拉长间隔50%降温，两者之间保持不变。
// 间隔始终被钳制在配置的[min, max]范围内。
func (c *Controller) Tune(in TuneInput) {
	volumeRatio := indicator.SafeDivide(in.DailyVolume, VolumeTarget(in.Balance))

	vol := indicator.EquityVolatility(in.Equity, minEquitySamples)
	volatilityRatio := indicator.SafeDivide(vol, c.cfg.TargetVolatility)

	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.interval
	switch {
	case volumeRatio < shrinkRatio && volatilityRatio < shrinkRatio:
		c.interval = time.Duration(float64(c.interval) * shrinkFactor)
	case volatilityRatio > breakerRatio:
		c.interval = time.Duration(float64(c.interval) * stretchFactor)
	}

	if c.interval < c.cfg.MinTradeInterval {
		c.interval = c.cfg.MinTradeInterval
	}
	if c.interval > c.cfg.MaxTradeInterval {
		c.interval = c.cfg.MaxTradeInterval
	}

	if c.interval != before {
		c.logger.Info("交易间隔已调整",
			zap.Duration("from", before),
			zap.Duration("to", c.interval),
			zap.Float64("volume_ratio", volumeRatio),
			zap.Float64("volatility_ratio", volatilityRatio),
		)
	}
}
