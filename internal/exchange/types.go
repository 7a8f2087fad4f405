package exchange

import (
	"context"
	"time"
)

// Candle 代表单根K线，按 OpenTime 升序排列。
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// AccountSnapshot 描述账户余额快照。
type AccountSnapshot struct {
	Balance          float64
	AvailableBalance float64
	Timestamp        time.Time
}

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite 返回相反方向，用于平仓腿。
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType 表示订单类型。
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderRequest 抽象具体委托。
type OrderRequest struct {
	Symbol   string
	Side     OrderSide
	Type     OrderType
	Quantity float64
	Price    float64
	Leverage int
}

// OrderAck 为交易所受理回执，内容视交易所而定。
type OrderAck struct {
	OrderID   string
	Status    string
	Timestamp time.Time
}

// Gateway 抽象执行网关。实现方负责鉴权与重试，调用方只关心成功或失败。
type Gateway interface {
	GetAccountBalance(ctx context.Context) (AccountSnapshot, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
