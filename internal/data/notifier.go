package data

import (
	"context"

	"OrderRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// NoopAlertNotifier only logs alerts. External escalation (webhook, pager)
// plugs in by implementing biz.AlertNotifier.
type NoopAlertNotifier struct {
	logger *log.Helper
}

func NewNoopAlertNotifier(logger log.Logger) *NoopAlertNotifier {
	return &NoopAlertNotifier{
		logger: log.NewHelper(logger),
	}
}

// Notify logs the alert (external notification disabled).
func (s *NoopAlertNotifier) Notify(_ context.Context, alert *model.Alert) error {
	s.logger.Infow("msg", "alert raised (notification disabled)",
		"alert_id", alert.ID,
		"session_id", alert.SessionID,
		"alert_type", alert.Type,
		"severity", alert.Severity,
		"title", alert.Title)
	return nil
}
