package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"edgex-hft/internal/config"
)

type wsRecorder struct {
	mu          sync.Mutex
	connections int
	subscribes  [][]string
}

func (r *wsRecorder) begin() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections++
	r.subscribes = append(r.subscribes, nil)
	return r.connections
}

func (r *wsRecorder) recordSubscribe(conn int, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribes[conn-1] = append(r.subscribes[conn-1], channel)
}

func (r *wsRecorder) snapshot() (int, [][]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := make([][]string, len(r.subscribes))
	for i, s := range r.subscribes {
		subs[i] = append([]string(nil), s...)
	}
	return r.connections, subs
}

func testStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		PingInterval:      time.Hour,
		MaxMissedPongs:    5,
		ReconnectMinDelay: 10 * time.Millisecond,
		ReconnectMaxDelay: 50 * time.Millisecond,
	}
}

// 第一条连接在收到订阅后立即断开，第二条连接在订阅恢复后下发数据帧。
// 验证重连后数据帧分发之前订阅已全部重发。
func TestClientReconnectResubscribesBeforeDispatch(t *testing.T) {
	upgrader := websocket.Upgrader{}
	recorder := &wsRecorder{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		connNum := recorder.begin()
		for {
			var req map[string]interface{}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req["type"] != "subscribe" {
				continue
			}
			channel, _ := req["channel"].(string)
			recorder.recordSubscribe(connNum, channel)

			ack := map[string]interface{}{"type": "subscribed", "channel": channel}
			if err := conn.WriteJSON(ack); err != nil {
				return
			}

			if connNum == 1 {
				// 模拟服务端异常断开
				return
			}

			payload := map[string]interface{}{
				"type":    "payload",
				"channel": channel,
				"content": map[string]interface{}{
					"data": []map[string]interface{}{
						{"lastPrice": "50000", "timestamp": json.Number("1724500000000")},
					},
				},
			}
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(testStreamConfig(), "public", wsURL, nil, nil)

	received := make(chan Message, 1)
	if err := client.Subscribe("ticker.BTC-USDT", func(msg Message) {
		select {
		case received <- msg:
		default:
		}
	}); err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(ctx) }()

	var msg Message
	select {
	case msg = <-received:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for data frame after reconnect")
	}

	if msg.Channel != "ticker.BTC-USDT" {
		t.Errorf("unexpected channel: %s", msg.Channel)
	}

	connections, subs := recorder.snapshot()
	if connections < 2 {
		t.Fatalf("expected reconnect, got %d connections", connections)
	}
	if len(subs[1]) == 0 || subs[1][0] != "ticker.BTC-USDT" {
		t.Errorf("expected subscription replay on second connection, got %v", subs[1])
	}

	cancel()
	select {
	case err := <-runDone:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestClientRepliesServerPing(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotPong := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ping := map[string]interface{}{"type": "ping", "time": "1724500000000"}
		if err := conn.WriteJSON(ping); err != nil {
			return
		}

		for {
			var resp map[string]interface{}
			if err := conn.ReadJSON(&resp); err != nil {
				return
			}
			if resp["type"] == "pong" {
				ts, _ := resp["time"].(string)
				select {
				case gotPong <- ts:
				default:
				}
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(testStreamConfig(), "public", wsURL, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	select {
	case ts := <-gotPong:
		if ts != "1724500000000" {
			t.Errorf("expected pong to echo ping time, got %q", ts)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for pong reply")
	}
}

func TestAuthenticatorConnectURL(t *testing.T) {
	now := time.UnixMilli(1724500000000)

	pub, err := PublicAuthenticator{}.ConnectURL("wss://example.com/api/v1/public/ws", now)
	if err != nil {
		t.Fatalf("public ConnectURL returned error: %v", err)
	}
	if !strings.Contains(pub, "timestamp=1724500000000") {
		t.Errorf("expected timestamp param, got %s", pub)
	}

	priv, err := AccountAuthenticator{AccountID: "acct-1"}.ConnectURL("wss://example.com/api/v1/private/ws", now)
	if err != nil {
		t.Fatalf("private ConnectURL returned error: %v", err)
	}
	if !strings.Contains(priv, "accountId=acct-1") || !strings.Contains(priv, "timestamp=1724500000000") {
		t.Errorf("expected account and timestamp params, got %s", priv)
	}
}
