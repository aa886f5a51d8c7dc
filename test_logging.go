//go:build ignore
// +build ignore

package main

import (
	"context"

	"OrderRelay/internal/conf"
	pkglog "OrderRelay/pkg/log"
)

func main() {
	// console 格式才会走 Emoji Encoder
	logConf := &conf.Log{
		Level:  "debug",
		Format: "console",
		Env:    "development",
	}

	zapLogger, err := pkglog.NewZapLogger(logConf)
	if err != nil {
		panic(err)
	}
	helper := pkglog.NewLogHelper(pkglog.NewKratosAdapter(zapLogger))
	ctx := pkglog.WithCycleContext(context.Background(), "user-1")

	println("=== 日志输出格式预览 ===\n")

	helper.Startup("OrderRelay service starting", "version", "1.0.0", "port", 8080)
	helper.Polling(ctx, "poll completed", "events", 12, "duration_ms", 340)
	helper.Acknowledgment(ctx, "batch acknowledged", "batch_size", 12, "attempt", 1)
	helper.AckFailure(ctx, "batch rejected", "failed", 2, "reason", "UPSTREAM_HTTP_ERROR")
	helper.Dedup("duplicates dropped", "session_id", "user-1", "duplicates", 3)
	helper.Circuit("circuit opened", "session_id", "user-1", "failures", 3)
	helper.Alert("acknowledgment rate below 100%", "session_id", "user-1", "rate", 97.5)
	helper.RateLimit("poll skipped", "session_id", "user-1", "limit", 120)
	helper.Scheduler("next poll scheduled", "session_id", "user-1", "delay_ms", 29880)
	helper.Database("events stored", "table", "ifood_events", "rows", 9)
	helper.Redis("circuit mirrored", "key", "circuit:user-1")
	helper.Audit("session started", "session_id", "user-1")
	helper.Performance("cycle finished", "duration_ms", 512)
	helper.Request("POST", "/api/v1/sessions/user-1/start", 200, 12, "ip", "127.0.0.1")
	helper.SlowResponse("/events:polling", 1450, 1000, "session_id", "user-1")
	helper.CacheStats("credentials", 10, 10000, 42, 3, 0)

	println("\n=== 日志输出完成 ===")
}
