package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"edgex-hft/internal/config"
	"edgex-hft/internal/exchange"
	"edgex-hft/internal/monitor"
	"edgex-hft/internal/risk"
	"edgex-hft/internal/strategy"
	"edgex-hft/internal/stream"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	gateway  exchange.Gateway
	rate     *risk.Controller
	strategy *strategy.Controller
	monitor  *monitor.Service

	publicStream  *stream.Client
	privateStream *stream.Client
}

// New 组装全部组件并接好行情订阅。
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	gateway, err := exchange.NewClient(cfg.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化交易所网关失败: %w", err)
	}

	rate := risk.NewController(cfg.Risk, logger)
	strategyCtrl := strategy.NewController(cfg.Strategy, gateway, rate, logger)
	monitorSvc := monitor.NewService(cfg.Monitor, cfg.Risk, strategyCtrl, rate, logger)

	a := &App{
		cfg:      cfg,
		logger:   logger,
		gateway:  gateway,
		rate:     rate,
		strategy: strategyCtrl,
		monitor:  monitorSvc,
	}

	a.publicStream = stream.NewClient(cfg.Stream, "public", cfg.Stream.PublicURL, stream.PublicAuthenticator{}, logger)
	for _, symbol := range cfg.Strategy.Symbols {
		if err := a.publicStream.Subscribe("ticker."+symbol, a.handleTicker); err != nil {
			return nil, fmt.Errorf("订阅行情失败 %s: %w", symbol, err)
		}
	}

	if cfg.Stream.EnablePrivate {
		auth := stream.AccountAuthenticator{AccountID: cfg.Stream.AccountID}
		a.privateStream = stream.NewClient(cfg.Stream, "private", cfg.Stream.PrivateURL, auth, logger)
		for _, event := range []string{"ACCOUNT_UPDATE", "ORDER_UPDATE", "POSITION_UPDATE"} {
			a.privateStream.OnEvent(event, a.handleAccountEvent)
		}
	}

	return a, nil
}

// handleTicker 把行情刻度喂给策略作为平仓估值用的最新价。
// 在流的读协程内执行，只做一次map写入，不会阻塞。
func (a *App) handleTicker(msg stream.Message) {
	candles, err := stream.ParseTickerCandles(msg.Content)
	if err != nil {
		a.logger.Warn("解析行情刻度失败", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if len(candles) == 0 {
		return
	}
	a.strategy.UpdateMark(msg.Symbol(), candles[len(candles)-1].Close)
}

func (a *App) handleAccountEvent(msg stream.Message) {
	a.logger.Info("收到账户事件",
		zap.String("event", msg.Event),
		zap.ByteString("content", msg.Content),
	)
}

// Run 启动全部后台任务并阻塞到退出信号。
// 行情流、报告器与主循环互相独立，任何一个异常退出都会终止整个进程。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Strings("symbols", a.cfg.Strategy.Symbols),
		zap.Duration("trade_interval", a.rate.Interval()),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(a.publicStream.Run(ctx))
	})
	if a.privateStream != nil {
		g.Go(func() error {
			return ignoreCanceled(a.privateStream.Run(ctx))
		})
	}
	g.Go(func() error {
		return ignoreCanceled(a.monitor.Run(ctx))
	})
	g.Go(func() error {
		return ignoreCanceled(a.cycleLoop(ctx))
	})

	if err := startMonitorServer(ctx, a.monitor, a.cfg.Monitor.HTTPPort, a.logger); err != nil {
		return err
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("系统异常退出: %w", err)
	}

	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

// cycleLoop 是主交易循环：刷新账户、检查熔断、逐个交易对执行周期，
// 然后按调频器给出的当前间隔休眠。
func (a *App) cycleLoop(ctx context.Context) error {
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err := a.strategy.RefreshAccount(ctx); err != nil {
			a.logger.Warn("刷新账户失败，沿用上次余额", zap.Error(err))
			a.monitor.RecordError(err)
		}

		if err := a.checkBreakers(); err != nil {
			a.monitor.RecordRiskPause(err)
			a.logger.Warn("熔断暂停中，跳过本轮交易", zap.Error(err))
		} else {
			for _, symbol := range a.cfg.Strategy.Symbols {
				if ctx.Err() != nil {
					break
				}
				if err := a.strategy.RunCycle(ctx, symbol); err != nil {
					if errors.Is(err, context.Canceled) {
						break
					}
					a.logger.Error("交易周期失败", zap.String("symbol", symbol), zap.Error(err))
					a.monitor.RecordError(err)
					if errors.Is(err, exchange.ErrMaintenance) {
						break
					}
				}
			}
		}

		if err := sleepCtx(ctx, a.rate.Interval()); err != nil {
			return err
		}
	}
}

// checkBreakers 依次检查波动率熔断与当日次数上限。
func (a *App) checkBreakers() error {
	if err := a.rate.CheckVolatility(a.strategy.EquityHistory()); err != nil {
		return err
	}
	return a.rate.CheckDailyCap(a.strategy.TradeCountToday())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
