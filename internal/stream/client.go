package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"edgex-hft/internal/config"
)

// State 是通道连接的生命周期状态。
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribing
	StateStreaming
	StateReconnecting
)

// String 返回状态名称，用于日志。
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Authenticator 为私有流构造带认证参数的连接地址。
// 签名细节由实现方持有，通道本身不理解凭证。
type Authenticator interface {
	ConnectURL(base string, now time.Time) (string, error)
}

// PublicAuthenticator 用于公共流，仅追加时间戳参数。
type PublicAuthenticator struct{}

// ConnectURL 在地址上附加毫秒时间戳。
func (PublicAuthenticator) ConnectURL(base string, now time.Time) (string, error) {
	return appendQuery(base, map[string]string{
		"timestamp": strconv.FormatInt(now.UnixMilli(), 10),
	})
}

// AccountAuthenticator 用于私有流，附加账户标识与时间戳。
type AccountAuthenticator struct {
	AccountID string
}

// ConnectURL 在地址上附加账户与时间戳参数。
func (a AccountAuthenticator) ConnectURL(base string, now time.Time) (string, error) {
	return appendQuery(base, map[string]string{
		"accountId": a.AccountID,
		"timestamp": strconv.FormatInt(now.UnixMilli(), 10),
	})
}

func appendQuery(base string, params map[string]string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("解析流地址失败: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DataHandler 处理一条已分类的数据帧，在读协程内同步调用，不得阻塞。
type DataHandler func(msg Message)

type prefixHandler struct {
	prefix  string
	handler DataHandler
}

// Client 是自动重连的 WebSocket 行情通道。
//
// 生命周期为 Disconnected → Connecting → Subscribing → Streaming，
// 任何读写故障或心跳超时进入 Reconnecting，按指数退避重连并
// 在分发任何数据帧之前重发全部订阅。
type Client struct {
	cfg    config.StreamConfig
	name   string
	url    string
	auth   Authenticator
	logger *zap.Logger
	dialer *websocket.Dialer

	state atomic.Int32

	mu          sync.Mutex
	conn        *websocket.Conn
	topics      []string
	topicSet    map[string]struct{}
	handlers    []prefixHandler
	eventFuncs  map[string]DataHandler
	missedPongs int
}

// NewClient 构造流通道客户端。auth 为 nil 时按公共流处理。
func NewClient(cfg config.StreamConfig, name, rawURL string, auth Authenticator, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auth == nil {
		auth = PublicAuthenticator{}
	}

	return &Client{
		cfg:    cfg,
		name:   name,
		url:    rawURL,
		auth:   auth,
		logger: logger.With(zap.String("stream", name)),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		topicSet:   make(map[string]struct{}),
		eventFuncs: make(map[string]DataHandler),
	}
}

// State 返回当前连接状态。
func (c *Client) State() State {
	return State(c.state.Load())
}

// Subscribe 注册订阅主题及其数据帧处理器。
// 频道名按前缀匹配分发，连接已建立时立即下发订阅请求。
func (c *Client) Subscribe(topic string, handler DataHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.topicSet[topic]; !ok {
		c.topicSet[topic] = struct{}{}
		c.topics = append(c.topics, topic)
		if handler != nil {
			c.handlers = append(c.handlers, prefixHandler{prefix: topic, handler: handler})
		}
	}

	if c.conn != nil && c.State() == StateStreaming {
		return c.writeLocked(map[string]interface{}{
			"type":    "subscribe",
			"channel": topic,
		})
	}
	return nil
}

// OnEvent 注册账户事件处理器，按事件名精确匹配。
func (c *Client) OnEvent(event string, handler DataHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventFuncs[event] = handler
}

// Run 维持连接直到 ctx 取消。每轮连接失败按指数退避重试，
// 成功恢复订阅后退避窗口归位。
func (c *Client) Run(ctx context.Context) error {
	defer c.state.Store(int32(StateDisconnected))

	delay := c.cfg.ReconnectMinDelay
	firstAttempt := true

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if !firstAttempt {
			c.state.Store(int32(StateReconnecting))
			c.logger.Warn("行情通道等待重连", zap.Duration("delay", delay))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

			delay *= 2
			if delay > c.cfg.ReconnectMaxDelay {
				delay = c.cfg.ReconnectMaxDelay
			}
		}
		firstAttempt = false

		err := c.runOnce(ctx, func() {
			// 连接成功恢复订阅后退避窗口归位
			delay = c.cfg.ReconnectMinDelay
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("行情通道连接中断", zap.Error(err))
		}
	}
}

// runOnce 建立一次连接并运行到出错或取消，进入流式状态时回调 onReady。
func (c *Client) runOnce(ctx context.Context, onReady func()) error {
	c.state.Store(int32(StateConnecting))

	connectURL, err := c.auth.ConnectURL(c.url, time.Now())
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, connectURL, nil)
	if err != nil {
		return fmt.Errorf("连接行情通道失败: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.missedPongs = 0
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	// 任何数据帧分发之前必须先恢复全部订阅
	c.state.Store(int32(StateSubscribing))
	if err := c.resubscribe(); err != nil {
		return fmt.Errorf("恢复订阅失败: %w", err)
	}

	c.state.Store(int32(StateStreaming))
	onReady()
	c.logger.Info("行情通道已建立", zap.Int("topics", len(c.snapshotTopics())))

	pingerDone := make(chan struct{})
	pingerStop := make(chan struct{})
	go func() {
		defer close(pingerDone)
		c.pingLoop(conn, pingerStop)
	}()
	defer func() {
		close(pingerStop)
		<-pingerDone
	}()

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-pingerStop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("读取行情帧失败: %w", err)
		}
		c.dispatch(raw)
	}
}

func (c *Client) snapshotTopics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.topics))
	copy(out, c.topics)
	return out
}

func (c *Client) resubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, topic := range c.topics {
		if err := c.writeLocked(map[string]interface{}{
			"type":    "subscribe",
			"channel": topic,
		}); err != nil {
			return err
		}
	}
	return nil
}

// pingLoop 定期发送应用层心跳，连续未响应超限时强制断开触发重连。
func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		c.missedPongs++
		missed := c.missedPongs
		var err error
		if c.conn == conn {
			err = c.writeLocked(map[string]interface{}{
				"type": "ping",
				"time": strconv.FormatInt(time.Now().UnixMilli(), 10),
			})
		}
		c.mu.Unlock()

		if err != nil {
			c.logger.Warn("发送心跳失败", zap.Error(err))
			conn.Close()
			return
		}

		if missed > c.cfg.MaxMissedPongs {
			c.logger.Warn("心跳连续未响应，判定连接已死", zap.Int("missed", missed))
			conn.Close()
			return
		}
	}
}

// dispatch 分类并分发一条入站帧。格式错误的帧记录后丢弃，不影响连接。
func (c *Client) dispatch(raw []byte) {
	msg, err := ParseMessage(raw)
	if err != nil {
		c.logger.Warn("丢弃格式错误的行情帧", zap.Error(err))
		return
	}

	switch msg.Kind {
	case KindPing:
		c.replyPong(msg)
	case KindPong:
		c.mu.Lock()
		c.missedPongs = 0
		c.mu.Unlock()
	case KindSubscribed:
		c.logger.Info("订阅确认", zap.String("channel", msg.Channel))
	case KindUnsubscribed:
		c.logger.Info("取消订阅确认", zap.String("channel", msg.Channel))
	case KindError:
		c.logger.Warn("行情通道收到错误帧",
			zap.String("channel", msg.Channel),
			zap.ByteString("content", msg.Content),
		)
	case KindData:
		c.dispatchData(msg)
	case KindAccountEvent:
		c.dispatchEvent(msg)
	default:
		c.logger.Debug("丢弃未知类型帧", zap.ByteString("raw", raw))
	}
}

func (c *Client) replyPong(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.writeLocked(map[string]interface{}{
		"type": "pong",
		"time": msg.Time,
	}); err != nil {
		c.logger.Warn("回复心跳失败", zap.Error(err))
	}
}

func (c *Client) dispatchData(msg Message) {
	c.mu.Lock()
	var fn DataHandler
	for _, ph := range c.handlers {
		if strings.HasPrefix(msg.Channel, ph.prefix) {
			fn = ph.handler
			break
		}
	}
	c.mu.Unlock()

	if fn == nil {
		c.logger.Debug("无订阅处理器的数据帧", zap.String("channel", msg.Channel))
		return
	}
	fn(msg)
}

func (c *Client) dispatchEvent(msg Message) {
	c.mu.Lock()
	fn := c.eventFuncs[msg.Event]
	c.mu.Unlock()

	if fn == nil {
		c.logger.Debug("无处理器的账户事件", zap.String("event", msg.Event))
		return
	}
	fn(msg)
}

func (c *Client) writeLocked(payload interface{}) error {
	if c.conn == nil {
		return fmt.Errorf("连接未建立")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("编码出站帧失败: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
