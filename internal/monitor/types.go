package monitor

import (
	"time"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventReport    EventType = "report"
	EventRiskPause EventType = "risk_pause"
	EventError     EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Report 是一次性能报告的完整内容，只读展示，不参与任何决策。
type Report struct {
	Timestamp        time.Time     `json:"timestamp"`
	Balance          float64       `json:"balance"`
	Volatility       float64       `json:"volatility"`
	TargetVolatility float64       `json:"target_volatility"`
	DailyVolume      float64       `json:"daily_volume"`
	VolumeTarget     float64       `json:"volume_target"`
	TradeCountToday  int           `json:"trade_count_today"`
	MaxTradesPerDay  int           `json:"max_trades_per_day"`
	DailyPnL         float64       `json:"daily_pnl"`
	WinRate          float64       `json:"win_rate"`
	MaxDrawdown      float64       `json:"max_drawdown"`
	TradeInterval    time.Duration `json:"trade_interval"`
	OpenPositions    int           `json:"open_positions"`
}

// RiskPausePayload 记录一次熔断暂停。
type RiskPausePayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload 记录运行期错误。
type ErrorPayload struct {
	Message string `json:"message"`
}
