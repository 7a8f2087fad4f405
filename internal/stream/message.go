package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"edgex-hft/internal/exchange"
)

// Kind 是入站帧的封闭分类，在解析时一次性确定，
// 下游按 Kind 分发而不是按字符串键查表。
type Kind int

const (
	KindUnknown Kind = iota
	KindPing
	KindPong
	KindSubscribed
	KindUnsubscribed
	KindData
	KindAccountEvent
	KindError
)

// String 返回分类名称，用于日志。
func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindSubscribed:
		return "subscribed"
	case KindUnsubscribed:
		return "unsubscribed"
	case KindData:
		return "data"
	case KindAccountEvent:
		return "account_event"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Message 是解析后的入站帧。
type Message struct {
	Kind    Kind
	Channel string
	Time    string
	Event   string
	Content json.RawMessage
}

type frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Time    string          `json:"time,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

type eventContent struct {
	Event string `json:"event"`
}

// ParseMessage 解析并分类一条入站帧。格式错误返回 error，由调用方丢弃并记录。
func ParseMessage(raw []byte) (Message, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Message{}, fmt.Errorf("解析入站帧失败: %w", err)
	}

	msg := Message{
		Channel: f.Channel,
		Time:    f.Time,
		Content: f.Content,
	}

	switch f.Type {
	case "ping":
		msg.Kind = KindPing
	case "pong":
		msg.Kind = KindPong
	case "subscribed":
		msg.Kind = KindSubscribed
	case "unsubscribed":
		msg.Kind = KindUnsubscribed
	case "error":
		msg.Kind = KindError
	case "payload", "quote-event":
		msg.Kind = KindData
	case "trade-event":
		msg.Kind = KindAccountEvent
		var ec eventContent
		if len(f.Content) > 0 {
			if err := json.Unmarshal(f.Content, &ec); err == nil {
				msg.Event = ec.Event
			}
		}
	default:
		msg.Kind = KindUnknown
	}

	return msg, nil
}

// Symbol 返回数据帧频道的末段标识，例如 "ticker.BTC-USDT" → "BTC-USDT"。
func (m Message) Symbol() string {
	idx := strings.Index(m.Channel, ".")
	if idx < 0 {
		return m.Channel
	}
	return m.Channel[idx+1:]
}

type tickerEntry struct {
	LastPrice string `json:"lastPrice"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Size      string `json:"size"`
	Timestamp int64  `json:"timestamp"`
}

type tickerContent struct {
	Data []tickerEntry `json:"data"`
}

// ParseTickerCandles 将 ticker 数据帧解析为K线刻度。
// 行情字段以字符串编码，缺失的 OHLC 字段回退到最新价。
func ParseTickerCandles(content json.RawMessage) ([]exchange.Candle, error) {
	var tc tickerContent
	if err := json.Unmarshal(content, &tc); err != nil {
		return nil, fmt.Errorf("解析ticker内容失败: %w", err)
	}

	candles := make([]exchange.Candle, 0, len(tc.Data))
	for _, entry := range tc.Data {
		last, err := strconv.ParseFloat(entry.LastPrice, 64)
		if err != nil || last <= 0 {
			continue
		}

		candle := exchange.Candle{
			Open:   parseFloatOr(entry.Open, last),
			High:   parseFloatOr(entry.High, last),
			Low:    parseFloatOr(entry.Low, last),
			Close:  last,
			Volume: parseFloatOr(entry.Size, 0),
		}
		if entry.Timestamp > 0 {
			candle.OpenTime = time.UnixMilli(entry.Timestamp).UTC()
		} else {
			candle.OpenTime = time.Now().UTC()
		}

		candles = append(candles, candle)
	}

	return candles, nil
}

func parseFloatOr(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return v
}
