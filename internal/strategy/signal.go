package strategy

import (
	"math"

	"edgex-hft/internal/config"
	"edgex-hft/internal/indicator"
)

// 仓位缩放的波动率基准：波动率高于该值时按比例缩小仓位。
const sizingVolTarget = 0.002

// GenerateSignal 根据收盘价窗口计算均线偏离信号。
//
// 偏离度 = (最新收盘价 − 中期均线) / 中期均线。
// 价格向上偏离超过阈值判定为超涨做空，向下偏离超过阈值做多，
// 恰好等于阈值不触发。样本不足时返回 Hold，置信度为0。
func GenerateSignal(symbol string, closes []float64, cfg config.StrategyConfig) Signal {
	sig := Signal{
		Symbol:    symbol,
		Direction: DirectionHold,
	}

	if len(closes) < cfg.MinCandles {
		return sig
	}

	sig.ShortMA = indicator.SMA(closes, cfg.ShortMAPeriod)
	sig.MediumMA = indicator.SMA(closes, cfg.MediumMAPeriod)
	sig.LastClose = indicator.Last(closes)
	sig.Volatility = indicator.AnnualizedVolatility(closes)

	if sig.MediumMA <= 0 {
		return sig
	}

	sig.Deviation = (sig.LastClose - sig.MediumMA) / sig.MediumMA
	sig.Confidence = math.Abs(sig.Deviation)
	sig.Direction = classifyDeviation(sig.Deviation, cfg.DeviationThreshold)

	return sig
}

// classifyDeviation 按严格大于/小于比较阈值，恰好等于阈值不触发。
func classifyDeviation(deviation, threshold float64) Direction {
	switch {
	case deviation > threshold:
		return DirectionShort
	case deviation < -threshold:
		return DirectionLong
	default:
		return DirectionHold
	}
}

// PositionSize 计算下单数量：基础仓位按余额比例换算，
// 再按波动率与基准的比值缩小，波动率低于基准时不放大。
func PositionSize(balance, price, volatility float64, cfg config.StrategyConfig) float64 {
	if balance <= 0 || price <= 0 {
		return 0
	}

	base := balance * cfg.BaseSizeFraction / price
	adjustment := math.Min(1, indicator.SafeDivide(sizingVolTarget, volatility))
	if adjustment <= 0 {
		adjustment = 1
	}

	return base * adjustment
}

// ProtectionLevels 计算方向正确的止损止盈价位：
// 空头止损在上、止盈在下，多头相反。
func ProtectionLevels(direction Direction, entryPrice float64, cfg config.StrategyConfig) (stopLoss, takeProfit float64) {
	switch direction {
	case DirectionShort:
		return entryPrice * (1 + cfg.StopLossPct), entryPrice * (1 - cfg.TakeProfitPct)
	case DirectionLong:
		return entryPrice * (1 - cfg.StopLossPct), entryPrice * (1 + cfg.TakeProfitPct)
	default:
		return 0, 0
	}
}
