package indicator

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

// 加密货币全年连续交易，年化系数按252个交易日对齐权益收益统计口径。
const annualizationFactor = 252.0

// volatilityFloor 防止平坦窗口导致仓位调整除零放大。
const volatilityFloor = 0.01

// SMA 返回窗口末端的简单移动平均；样本不足时返回0。
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	return Last(talib.Sma(values, period))
}

// StdDev 计算总体标准差。
// talib 的 StdDev 是滚动窗口变换，这里需要整个窗口的单值统计，故直接计算。
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))

	return math.Sqrt(variance)
}

// AnnualizedVolatility 计算收盘价序列的年化波动率，下限0.01。
func AnnualizedVolatility(closes []float64) float64 {
	returns := Returns(closes)
	if len(returns) == 0 {
		return volatilityFloor
	}
	vol := StdDev(returns) * math.Sqrt(annualizationFactor)
	return math.Max(vol, volatilityFloor)
}

// EquityVolatility 计算权益序列的年化波动率。
// 样本不足 minSamples 时返回0，表示尚无约束、允许放宽频率。
func EquityVolatility(equity []float64, minSamples int) float64 {
	if len(equity) < minSamples {
		return 0
	}
	returns := Returns(equity)
	if len(returns) < 2 {
		return 0
	}
	return StdDev(returns) * math.Sqrt(annualizationFactor)
}
