package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"edgex-hft/internal/monitor"
)

func startMonitorServer(ctx context.Context, svc *monitor.Service, port int, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		report, ok := svc.LatestReport()
		if !ok {
			http.Error(w, "暂无报告", http.StatusNotFound)
			return
		}

		if r.URL.Query().Get("format") == "text" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			fmt.Fprintln(w, monitor.FormatReport(report))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			logger.Warn("写入报告响应失败", zap.Error(err))
		}
	})

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 200
		if qs := q.Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}

		eventType := monitor.EventType("")
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			eventType = monitor.EventType(strings.ToLower(typ))
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Events(eventType, limit)); err != nil {
			logger.Warn("写入事件响应失败", zap.Error(err))
		}
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}
