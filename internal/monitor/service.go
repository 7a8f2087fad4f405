package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"edgex-hft/internal/config"
	"edgex-hft/internal/indicator"
	"edgex-hft/internal/risk"
	"edgex-hft/internal/strategy"
)

// 与熔断判定一致的权益样本下限。
const minEquitySamples = 20

// StateSource 提供策略状态的非阻塞快照。
type StateSource interface {
	TrySnapshot() (strategy.Snapshot, bool)
}

// IntervalSource 提供当前交易间隔。
type IntervalSource interface {
	Interval() time.Duration
}

// Service 定时输出性能报告并维护事件环。
// 只读观察者：状态被占用时跳过本次报告而不是阻塞等待。
type Service struct {
	cfg     config.MonitorConfig
	riskCfg config.RiskConfig
	source  StateSource
	rate    IntervalSource
	logger  *zap.Logger
	nowFn   func() time.Time

	mu     sync.Mutex
	events []Event
}

// NewService 构造性能报告服务。
func NewService(cfg config.MonitorConfig, riskCfg config.RiskConfig, source StateSource, rate IntervalSource, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:     cfg,
		riskCfg: riskCfg,
		source:  source,
		rate:    rate,
		logger:  logger,
		nowFn:   time.Now,
	}
}

// Run 按配置间隔输出报告，直到 ctx 取消。
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Collect()
		}
	}
}

// Collect 采集一次快照并输出报告。状态锁被占用时跳过并记录。
func (s *Service) Collect() {
	snapshot, ok := s.source.TrySnapshot()
	if !ok {
		s.logger.Warn("策略状态被占用，跳过本次报告")
		return
	}

	report := s.buildReport(snapshot)

	s.logger.Info("性能报告",
		zap.Float64("balance", report.Balance),
		zap.Float64("volatility", report.Volatility),
		zap.Float64("target_volatility", report.TargetVolatility),
		zap.Float64("daily_volume", report.DailyVolume),
		zap.Float64("volume_target", report.VolumeTarget),
		zap.Int("trade_count", report.TradeCountToday),
		zap.Float64("daily_pnl", report.DailyPnL),
		zap.Float64("win_rate", report.WinRate),
		zap.Float64("max_drawdown", report.MaxDrawdown),
		zap.Duration("trade_interval", report.TradeInterval),
	)

	s.Record(Event{Type: EventReport, Timestamp: report.Timestamp, Payload: report})
}

func (s *Service) buildReport(snapshot strategy.Snapshot) Report {
	now := s.nowFn()
	report := Report{
		Timestamp:        now,
		Balance:          snapshot.Balance,
		Volatility:       indicator.EquityVolatility(snapshot.Equity, minEquitySamples),
		TargetVolatility: s.riskCfg.TargetVolatility,
		DailyVolume:      snapshot.DailyVolume,
		VolumeTarget:     risk.VolumeTarget(snapshot.Balance),
		TradeCountToday:  snapshot.TradeCountToday,
		MaxTradesPerDay:  s.riskCfg.MaxTradesPerDay,
		MaxDrawdown:      maxDrawdown(snapshot.Equity),
		OpenPositions:    len(snapshot.OpenPositions),
	}
	if s.rate != nil {
		report.TradeInterval = s.rate.Interval()
	}

	cutoff := now.Add(-24 * time.Hour)
	wins, total := 0, 0
	for _, record := range snapshot.Trades {
		if !record.ClosedAt.After(cutoff) {
			continue
		}
		total++
		report.DailyPnL += record.PnL
		if record.PnL > 0 {
			wins++
		}
	}
	if total > 0 {
		report.WinRate = float64(wins) / float64(total)
	}

	return report
}

// Record 向事件环追加一条事件，超出容量时淘汰最旧的。
func (s *Service) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.nowFn()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	if len(s.events) > s.cfg.EventBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventBuffer:]
	}
}

// RecordRiskPause 记录一次熔断暂停。
func (s *Service) RecordRiskPause(reason error) {
	s.Record(Event{Type: EventRiskPause, Payload: RiskPausePayload{Reason: reason.Error()}})
}

// RecordError 记录运行期错误。
func (s *Service) RecordError(err error) {
	s.Record(Event{Type: EventError, Payload: ErrorPayload{Message: err.Error()}})
}

// Events 返回事件副本，最新在前，可按类型过滤。
func (s *Service) Events(eventType EventType, limit int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if eventType != "" && s.events[i].Type != eventType {
			continue
		}
		out = append(out, s.events[i])
	}
	return out
}

// LatestReport 返回最近一次报告，没有时返回 false。
func (s *Service) LatestReport() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Type != EventReport {
			continue
		}
		if report, ok := s.events[i].Payload.(Report); ok {
			return report, true
		}
	}
	return Report{}, false
}

// FormatReport 输出人类可读的报告文本。
func FormatReport(r Report) string {
	var b strings.Builder
	b.WriteString("==================== 性能报告 ====================\n")
	fmt.Fprintf(&b, "时间:         %s\n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "账户权益:     %.2f\n", r.Balance)
	fmt.Fprintf(&b, "波动率:       %.4f / 目标 %.4f\n", r.Volatility, r.TargetVolatility)
	fmt.Fprintf(&b, "当日成交量:   %.2f / 目标 %.2f\n", r.DailyVolume, r.VolumeTarget)
	fmt.Fprintf(&b, "当日交易次数: %d / %d\n", r.TradeCountToday, r.MaxTradesPerDay)
	fmt.Fprintf(&b, "当日盈亏:     %.4f\n", r.DailyPnL)
	fmt.Fprintf(&b, "胜率:         %.1f%%\n", r.WinRate*100)
	fmt.Fprintf(&b, "最大回撤:     %.2f%%\n", r.MaxDrawdown*100)
	fmt.Fprintf(&b, "交易间隔:     %s\n", r.TradeInterval)
	fmt.Fprintf(&b, "未平仓位:     %d\n", r.OpenPositions)
	b.WriteString("==================================================")
	return b.String()
}

// maxDrawdown 计算权益序列的峰谷最大回撤比例。
func maxDrawdown(equity []float64) float64 {
	peak := 0.0
	drawdown := 0.0
	for _, value := range equity {
		if value > peak {
			peak = value
		}
		if peak > 0 {
			dd := (peak - value) / peak
			if dd > drawdown {
				drawdown = dd
			}
		}
	}
	return drawdown
}
