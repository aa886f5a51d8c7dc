package main

import (
	"context"
	"time"

	"OrderRelay/internal/biz"
	pkglog "OrderRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// Housekeeping schedules (秒 分 时 日 月 周)
const (
	specMonitor = "0 * * * * *"    // 每分钟：内存采样 + 指标刷新
	specCache   = "0 */30 * * * *" // 每 30 分钟：缓存统计并清理
	specHourly  = "0 0 * * * *"    // 每小时：去重集合收缩 + 告警清理
)

// NewHousekeepingCron registers the periodic jobs. The returned cron is
// started and stopped by the application lifecycle.
func NewHousekeepingCron(
	sessions *biz.SessionManager,
	creds *biz.CredentialCache,
	dedup *biz.Deduplicator,
	alerts *biz.AlertManager,
	logger log.Logger,
) (*cron.Cron, error) {
	helper := pkglog.NewLogHelper(logger)
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := c.AddFunc(specMonitor, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sessions.MonitorTick(ctx)
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc(specCache, func() {
		creds.LogStats()
		creds.Purge()
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc(specHourly, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		trimmed := dedup.Trim()
		removed := alerts.Cleanup(ctx)
		helper.Scheduler("hourly housekeeping completed", "dedup_trimmed", trimmed, "alerts_removed", removed)
	}); err != nil {
		return nil, err
	}

	helper.Scheduler("housekeeping cron registered",
		"monitor", specMonitor,
		"cache", specCache,
		"hourly", specHourly,
	)
	return c, nil
}
