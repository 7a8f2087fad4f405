package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"edgex-hft/internal/config"
)

// Client 是 Gateway 的 ccxt 实现，负责与交易所交互并实现重试机制。
// 请求签名由 ccxt 客户端完成，上层只关心调用成功或失败。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm

	marketsMu     sync.Mutex
	marketsLoaded bool
}

var _ Gateway = (*Client)(nil)

// NewClient 构造 USDⓈ-M 永续合约网关客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// GetAccountBalance 拉取账户余额快照。
func (c *Client) GetAccountBalance(ctx context.Context) (AccountSnapshot, error) {
	var raw ccxt.Balances

	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		balances, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}
		raw = balances
		return nil
	})
	if err != nil {
		return AccountSnapshot{}, err
	}

	snapshot := AccountSnapshot{Timestamp: time.Now().UTC()}

	if raw.Total != nil {
		for _, code := range []string{"USDT", "USDC", "USD"} {
			if total, ok := raw.Total[code]; ok && total != nil {
				snapshot.Balance = *total
				break
			}
		}
	}
	if raw.Free != nil {
		for _, code := range []string{"USDT", "USDC", "USD"} {
			if free, ok := raw.Free[code]; ok && free != nil {
				snapshot.AvailableBalance = *free
				break
			}
		}
	}
	if snapshot.AvailableBalance == 0 {
		snapshot.AvailableBalance = snapshot.Balance
	}

	return snapshot, nil
}

// GetCandles 获取指定周期的K线数据，空结果不是错误。
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV

	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.exchange.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(int64(limit)),
		)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			OpenTime: time.UnixMilli(item.Timestamp).UTC(),
			Open:     item.Open,
			High:     item.High,
			Low:      item.Low,
			Close:    item.Close,
			Volume:   item.Volume,
		})
	}

	return candles, nil
}

// PlaceOrder 提交订单并返回交易所回执。
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	if req.Quantity <= 0 {
		return OrderAck{}, fmt.Errorf("%w: 下单数量无效 %.8f", ErrAPIRejected, req.Quantity)
	}

	var order ccxt.Order

	err := c.callWithRetry(ctx, "place_order", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		var placeErr error
		switch req.Type {
		case OrderTypeMarket:
			order, placeErr = c.exchange.CreateMarketOrder(req.Symbol, string(req.Side), req.Quantity)
		case OrderTypeLimit:
			order, placeErr = c.exchange.CreateLimitOrder(req.Symbol, string(req.Side), req.Quantity, req.Price)
		default:
			return fmt.Errorf("%w: 不支持的订单类型 %s", ErrAPIRejected, req.Type)
		}
		return placeErr
	})
	if err != nil {
		return OrderAck{}, err
	}

	ack := OrderAck{
		OrderID:   derefString(order.Id),
		Status:    derefString(order.Status),
		Timestamp: time.Now().UTC(),
	}
	if ack.Status == "" {
		ack.Status = "accepted"
	}

	return ack, nil
}

// SetLeverage 设置指定交易对的杠杆倍数。
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return c.callWithRetry(ctx, "set_leverage", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		_, err := c.exchange.SetLeverage(int64(leverage), ccxt.WithSetLeverageSymbol(symbol))
		return err
	})
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if _, err := c.exchange.LoadMarkets(); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("exchange", c.cfg.Name))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := c.classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}
	if errors.Is(err, ErrAPIRejected) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		if transportErrType(ccxtErr.Type) {
			return fmt.Errorf("%w: %v", ErrTransport, err), true
		}
		if ccxtErr.Type == ccxt.OnMaintenanceErrType {
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		}
		return fmt.Errorf("%w: %v", ErrAPIRejected, err), false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrTransport, err), true
	}

	return err, false
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
