package strategy

import (
	"time"
)

// Direction 是信号与持仓方向。
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionHold  Direction = "hold"
)

// Opposite 返回平仓方向。
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return DirectionHold
	}
}

// Signal 是一次信号计算的完整输出。
type Signal struct {
	Symbol     string
	Direction  Direction
	ShortMA    float64
	MediumMA   float64
	LastClose  float64
	Deviation  float64
	Confidence float64
	Volatility float64
}

// Position 是某个交易对上的未平仓敞口，每个交易对同一时间至多一个。
type Position struct {
	Symbol       string
	Direction    Direction
	Size         float64
	EntryPrice   float64
	StopLoss     float64
	TakeProfit   float64
	Leverage     int
	OpenedAt     time.Time
	EntryOrderID string
}

// TradeRecord 是一笔已实现交易的不可变记录。
type TradeRecord struct {
	Symbol     string
	Direction  Direction
	Size       float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	ClosedAt   time.Time
	Duration   time.Duration
}

// Notional 返回该笔交易双腿的名义成交量。
func (r TradeRecord) Notional() float64 {
	return r.Size * r.EntryPrice * 2
}

// Snapshot 是策略状态的只读快照，供报告与调频读取。
type Snapshot struct {
	Balance          float64
	AvailableBalance float64
	Equity           []float64
	OpenPositions    []Position
	Trades           []TradeRecord
	TradeCountToday  int
	DailyVolume      float64
	GeneratedAt      time.Time
}

// RealizedPnL 计算平仓盈亏：多头为(出场−入场)×数量，空头反向。
func RealizedPnL(direction Direction, size, entryPrice, exitPrice float64) float64 {
	switch direction {
	case DirectionLong:
		return (exitPrice - entryPrice) * size
	case DirectionShort:
		return (entryPrice - exitPrice) * size
	default:
		return 0
	}
}
