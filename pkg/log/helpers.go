package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper 扩展 Kratos log.Helper
// 自动追加 "type" 字段，触发 EmojiConsoleEncoder 的表情符号映射
type LogHelper struct {
	*log.Helper
}

// NewLogHelper 创建增强的日志辅助器
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

func typed(msg, logType string, kvs []interface{}) []interface{} {
	allKvs := make([]interface{}, 0, len(kvs)+4)
	allKvs = append(allKvs, "msg", msg)
	allKvs = append(allKvs, kvs...)
	return append(allKvs, "type", logType)
}

// cycleMsg 为消息加上周期 ID 前缀
func cycleMsg(ctx context.Context, msg string) (string, []interface{}) {
	c := GetCycleContext(ctx)
	return fmt.Sprintf("[%s] %s", c.CycleID, msg), []interface{}{"cycle_id", c.CycleID, "session_id", c.SessionID}
}

// Polling 轮询周期日志（📡）
func (h *LogHelper) Polling(ctx context.Context, msg string, kvs ...interface{}) {
	m, ids := cycleMsg(ctx, msg)
	h.Infow(typed(m, "polling", append(ids, kvs...))...)
}

// Acknowledgment 事件确认日志（📨）
func (h *LogHelper) Acknowledgment(ctx context.Context, msg string, kvs ...interface{}) {
	m, ids := cycleMsg(ctx, msg)
	h.Infow(typed(m, "ack", append(ids, kvs...))...)
}

// AckFailure 事件确认失败（🚨）
func (h *LogHelper) AckFailure(ctx context.Context, msg string, kvs ...interface{}) {
	m, ids := cycleMsg(ctx, msg)
	h.Errorw(typed(m, "ack_failure", append(ids, kvs...))...)
}

// Dedup 去重日志（🔁）
func (h *LogHelper) Dedup(msg string, kvs ...interface{}) {
	h.Debugw(typed(msg, "dedup", kvs)...)
}

// Circuit 熔断器状态变化（🔌）
func (h *LogHelper) Circuit(msg string, kvs ...interface{}) {
	h.Warnw(typed(msg, "circuit", kvs)...)
}

// Alert 告警（🚨）
func (h *LogHelper) Alert(msg string, kvs ...interface{}) {
	h.Warnw(typed(msg, "alert", kvs)...)
}

// RateLimit 记录速率限制日志（🚦）
func (h *LogHelper) RateLimit(msg string, kvs ...interface{}) {
	h.Warnw(typed(msg, "rate_limit", kvs)...)
}

// Scheduler 调度器日志（🎯）
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "scheduler", kvs)...)
}

// Startup 启动日志（🚀）
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "startup", kvs)...)
}

// Database 数据库操作日志（💾）
func (h *LogHelper) Database(msg string, kvs ...interface{}) {
	h.Debugw(typed(msg, "database", kvs)...)
}

// Redis 操作日志（📦）
func (h *LogHelper) Redis(msg string, kvs ...interface{}) {
	h.Debugw(typed(msg, "redis", kvs)...)
}

// Audit 审计日志（📋）
func (h *LogHelper) Audit(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "audit", kvs)...)
}

// Performance 性能日志（⏱️）
func (h *LogHelper) Performance(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "performance", kvs)...)
}

// Request 记录控制接口请求日志（根据状态码选择表情符号）
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, url, status, durationMs)
	allKvs := append(kvs,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(typed(msg, "request", allKvs)...)
}

// SlowResponse 上游响应过慢（🐌）
func (h *LogHelper) SlowResponse(endpoint string, durationMs, thresholdMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("Slow upstream response | %s | %dms (threshold: %dms)", endpoint, durationMs, thresholdMs)
	allKvs := append(kvs, "endpoint", endpoint, "duration_ms", durationMs, "threshold_ms", thresholdMs)
	h.Warnw(typed(msg, "slow_response", allKvs)...)
}

// CacheStats 记录缓存统计信息（🧹）
func (h *LogHelper) CacheStats(cacheName string, size, maxSize, hits, misses, evictions int64, kvs ...interface{}) {
	var hitRate float64
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	msg := fmt.Sprintf("Cache stats - %s | Size: %d/%d, Hit Rate: %.2f%%, Evictions: %d",
		cacheName, size, maxSize, hitRate, evictions)

	allKvs := append(kvs,
		"cache_name", cacheName,
		"size", size,
		"max_size", maxSize,
		"hits", hits,
		"misses", misses,
		"evictions", evictions,
		"hit_rate", fmt.Sprintf("%.2f%%", hitRate),
	)
	h.Infow(typed(msg, "cache_stats", allKvs)...)
}
