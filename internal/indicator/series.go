package indicator

import (
	"math"

	"edgex-hft/internal/exchange"
)

// Closes 提取K线收盘价序列，按时间升序排列。
func Closes(candles []exchange.Candle) []float64 {
	values := make([]float64, len(candles))
	for i, candle := range candles {
		values[i] = candle.Close
	}
	return values
}

// Last 返回序列最后一个值，若为空则返回 NaN。
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// Returns 计算相邻样本的简单收益率序列，长度为 len(values)-1。
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev := values[i-1]
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (values[i]-prev)/prev)
	}
	return out
}

// SafeDivide 除法保护，除数为0时返回0。
func SafeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
