package exchange

import (
	"context"
	"errors"
	"net"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrTransport 表示网络层故障，可带退避重试，永不致命。
	ErrTransport = errors.New("exchange transport failure")
	// ErrAPIRejected 表示交易所拒绝了请求，当前周期应放弃且不写入任何状态。
	ErrAPIRejected = errors.New("exchange rejected request")
	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过交易。
	ErrMaintenance = errors.New("exchange on maintenance")
)

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTransport) {
		return true
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		return transportErrType(ccxtErr.Type)
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func transportErrType(t ccxt.ErrorType) bool {
	switch t {
	case ccxt.NetworkErrorErrType,
		ccxt.RequestTimeoutErrType,
		ccxt.ExchangeNotAvailableErrType,
		ccxt.RateLimitExceededErrType,
		ccxt.DDoSProtectionErrType,
		ccxt.BadResponseErrType,
		ccxt.NullResponseErrType:
		return true
	default:
		return false
	}
}
