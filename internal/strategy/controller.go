package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"edgex-hft/internal/config"
	"edgex-hft/internal/exchange"
	"edgex-hft/internal/risk"
)

// Controller 是策略状态的唯一所有者。
//
// 余额、权益历史、持仓表、成交记录与当日计数由同一把互斥锁保护；
// 每个临界区只覆盖一次逻辑读写，网络调用一律在锁外进行，
// 记录成交与移除持仓在同一临界区内完成，外部读者不会观察到半成对状态。
type Controller struct {
	cfg     config.StrategyConfig
	gateway exchange.Gateway
	rate    *risk.Controller
	logger  *zap.Logger
	nowFn   func() time.Time

	mu          sync.Mutex
	balance     float64
	available   float64
	equity      []float64
	positions   map[string]Position
	trades      []TradeRecord
	marks       map[string]float64
	tradeDay    string
	tradeCount  int
	leverageSet map[string]bool
}

// NewController 构造策略控制器。
func NewController(cfg config.StrategyConfig, gateway exchange.Gateway, rate *risk.Controller, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:         cfg,
		gateway:     gateway,
		rate:        rate,
		logger:      logger,
		nowFn:       time.Now,
		positions:   make(map[string]Position),
		marks:       make(map[string]float64),
		leverageSet: make(map[string]bool),
	}
}

// RefreshAccount 拉取余额快照并写入权益环。
// 失败不修改任何状态，下一轮重试即可。
func (c *Controller) RefreshAccount(ctx context.Context) error {
	snapshot, err := c.gateway.GetAccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("刷新账户余额失败: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.balance = snapshot.Balance
	c.available = snapshot.AvailableBalance
	c.equity = append(c.equity, snapshot.Balance)
	if len(c.equity) > c.cfg.EquityHistorySize {
		c.equity = c.equity[len(c.equity)-c.cfg.EquityHistorySize:]
	}

	return nil
}

// UpdateMark 记录行情流推送的最新价，用于平仓腿估值。
func (c *Controller) UpdateMark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	c.mu.Lock()
	c.marks[symbol] = price
	c.mu.Unlock()
}

// EquityHistory 返回权益环的副本。
func (c *Controller) EquityHistory() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.equity...)
}

// TradeCountToday 返回当日成交计数，日期翻转时归零。
func (c *Controller) TradeCountToday() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tradeCountLocked(c.nowFn())
}

func (c *Controller) tradeCountLocked(now time.Time) int {
	day := c.tradingDay(now)
	if day != c.tradeDay {
		c.tradeDay = day
		c.tradeCount = 0
	}
	return c.tradeCount
}

func (c *Controller) tradingDay(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// RunCycle 对单个交易对执行一轮完整的信号评估与开平仓。
//
// 网关任何子步骤失败都会放弃本轮且不写入半成对状态：
// 入场失败不创建持仓，出场失败保留持仓等待下一轮补平。
// 进程关闭时已入场的配对仍会完成出场腿。
func (c *Controller) RunCycle(ctx context.Context, symbol string) error {
	candles, err := c.gateway.GetCandles(ctx, symbol, c.cfg.Timeframe, c.cfg.CandleLimit)
	if err != nil {
		return fmt.Errorf("获取K线失败 %s: %w", symbol, err)
	}

	closes := make([]float64, len(candles))
	lastClose := 0.0
	for i, candle := range candles {
		closes[i] = candle.Close
		lastClose = candle.Close
	}

	// 上一轮出场失败遗留的仓位优先补平，不依赖新信号
	c.mu.Lock()
	pending, hasPending := c.positions[symbol]
	balance := c.balance
	c.mu.Unlock()
	if hasPending {
		c.logger.Info("已有未平仓位，尝试补平",
			zap.String("symbol", symbol),
			zap.String("direction", string(pending.Direction)),
		)
		return c.closePosition(ctx, pending, lastClose)
	}

	sig := GenerateSignal(symbol, closes, c.cfg)
	if sig.Direction == DirectionHold {
		c.logger.Debug("信号中性，跳过本轮",
			zap.String("symbol", symbol),
			zap.Float64("deviation", sig.Deviation),
			zap.Int("candles", len(candles)),
		)
		return nil
	}

	size := PositionSize(balance, sig.LastClose, sig.Volatility, c.cfg)
	size, ok := c.applyMinOrderSize(symbol, size, sig.LastClose, balance)
	if !ok {
		return nil
	}
	if size <= 0 {
		c.logger.Debug("仓位过小，跳过本轮", zap.String("symbol", symbol))
		return nil
	}

	if err := c.ensureLeverage(ctx, symbol); err != nil {
		return err
	}

	entrySide := exchange.OrderSideBuy
	if sig.Direction == DirectionShort {
		entrySide = exchange.OrderSideSell
	}

	ack, err := c.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   symbol,
		Side:     entrySide,
		Type:     exchange.OrderTypeMarket,
		Quantity: size,
		Leverage: c.cfg.Leverage,
	})
	if err != nil {
		return fmt.Errorf("入场下单失败 %s: %w", symbol, err)
	}

	stopLoss, takeProfit := ProtectionLevels(sig.Direction, sig.LastClose, c.cfg)
	position := Position{
		Symbol:       symbol,
		Direction:    sig.Direction,
		Size:         size,
		EntryPrice:   sig.LastClose,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		Leverage:     c.cfg.Leverage,
		OpenedAt:     c.nowFn(),
		EntryOrderID: ack.OrderID,
	}

	c.mu.Lock()
	c.positions[symbol] = position
	c.mu.Unlock()

	c.logger.Info("已建仓",
		zap.String("symbol", symbol),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("size", size),
		zap.Float64("entry_price", sig.LastClose),
		zap.Float64("stop_loss", stopLoss),
		zap.Float64("take_profit", takeProfit),
		zap.Float64("deviation", sig.Deviation),
	)

	// 固定持有期后平仓；进程关闭只提前结束等待，不跳过出场腿
	holdTimer := time.NewTimer(c.cfg.HoldDuration)
	select {
	case <-ctx.Done():
		holdTimer.Stop()
	case <-holdTimer.C:
	}

	return c.closePosition(ctx, position, sig.LastClose)
}

// closePosition 提交平仓腿并原子化记录成交。
// 使用不随关闭取消的上下文，保证配对完成。
func (c *Controller) closePosition(ctx context.Context, position Position, fallbackPrice float64) error {
	exitCtx := context.WithoutCancel(ctx)

	exitSide := exchange.OrderSideSell
	if position.Direction == DirectionShort {
		exitSide = exchange.OrderSideBuy
	}

	if _, err := c.gateway.PlaceOrder(exitCtx, exchange.OrderRequest{
		Symbol:   position.Symbol,
		Side:     exitSide,
		Type:     exchange.OrderTypeMarket,
		Quantity: position.Size,
	}); err != nil {
		return fmt.Errorf("出场下单失败 %s: %w", position.Symbol, err)
	}

	now := c.nowFn()

	c.mu.Lock()
	exitPrice := c.marks[position.Symbol]
	if exitPrice <= 0 {
		exitPrice = fallbackPrice
	}
	if exitPrice <= 0 {
		exitPrice = position.EntryPrice
	}
	pnl := RealizedPnL(position.Direction, position.Size, position.EntryPrice, exitPrice)

	record := TradeRecord{
		Symbol:     position.Symbol,
		Direction:  position.Direction,
		Size:       position.Size,
		EntryPrice: position.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        pnl,
		ClosedAt:   now,
		Duration:   now.Sub(position.OpenedAt),
	}
	c.trades = append(c.trades, record)
	delete(c.positions, position.Symbol)

	c.tradeCountLocked(now)
	c.tradeCount++

	tuneInput := risk.TuneInput{
		Balance:     c.balance,
		DailyVolume: c.dailyVolumeLocked(now),
		Equity:      append([]float64(nil), c.equity...),
	}
	c.mu.Unlock()

	c.logger.Info("已平仓",
		zap.String("symbol", position.Symbol),
		zap.String("direction", string(position.Direction)),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl", pnl),
		zap.Duration("held", record.Duration),
	)

	// 调频在锁外执行，避免慢路径持锁
	if c.rate != nil {
		c.rate.Tune(tuneInput)
	}

	return nil
}

// applyMinOrderSize 将仓位抬升到交易所最小下单量。
// 抬升后的名义价值超过余额上限比例时放弃本轮。
func (c *Controller) applyMinOrderSize(symbol string, size, price, balance float64) (float64, bool) {
	minSize := c.cfg.MinOrderSize(symbol)
	if minSize <= 0 || size >= minSize {
		return size, true
	}

	if minSize*price > balance*c.cfg.MaxPositionPct {
		c.logger.Warn("最小下单量超出仓位上限，跳过本轮",
			zap.String("symbol", symbol),
			zap.Float64("min_size", minSize),
			zap.Float64("price", price),
			zap.Float64("balance", balance),
		)
		return 0, false
	}

	c.logger.Debug("仓位抬升至最小下单量",
		zap.String("symbol", symbol),
		zap.Float64("computed", size),
		zap.Float64("min_size", minSize),
	)
	return minSize, true
}

// ensureLeverage 每个交易对只设置一次杠杆。
func (c *Controller) ensureLeverage(ctx context.Context, symbol string) error {
	c.mu.Lock()
	done := c.leverageSet[symbol]
	c.mu.Unlock()
	if done {
		return nil
	}

	if err := c.gateway.SetLeverage(ctx, symbol, c.cfg.Leverage); err != nil {
		return fmt.Errorf("设置杠杆失败 %s: %w", symbol, err)
	}

	c.mu.Lock()
	c.leverageSet[symbol] = true
	c.mu.Unlock()
	return nil
}

func (c *Controller) dailyVolumeLocked(now time.Time) float64 {
	cutoff := now.Add(-24 * time.Hour)
	total := 0.0
	for _, record := range c.trades {
		if record.ClosedAt.After(cutoff) {
			total += record.Notional()
		}
	}
	return total
}

// TrySnapshot 非阻塞读取状态快照。
// 锁被占用时立即返回 false，由调用方跳过本次报告。
func (c *Controller) TrySnapshot() (Snapshot, bool) {
	if !c.mu.TryLock() {
		return Snapshot{}, false
	}
	defer c.mu.Unlock()

	now := c.nowFn()
	snapshot := Snapshot{
		Balance:          c.balance,
		AvailableBalance: c.available,
		Equity:           append([]float64(nil), c.equity...),
		Trades:           append([]TradeRecord(nil), c.trades...),
		TradeCountToday:  c.tradeCountLocked(now),
		DailyVolume:      c.dailyVolumeLocked(now),
		GeneratedAt:      now,
	}
	for _, position := range c.positions {
		snapshot.OpenPositions = append(snapshot.OpenPositions, position)
	}

	return snapshot, true
}
