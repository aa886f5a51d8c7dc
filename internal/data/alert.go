package data

import (
	"context"
	"encoding/json"
	"time"

	"OrderRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// AlertRecord is the GORM model for ifood_alerts table.
type AlertRecord struct {
	ID             string     `gorm:"primaryKey;column:id;size:64"`
	SessionID      string     `gorm:"column:session_id;size:128;index"`
	Type           string     `gorm:"column:type;size:64;not null"`
	Severity       string     `gorm:"column:severity;size:16;not null"`
	Title          string     `gorm:"column:title;size:255"`
	Message        string     `gorm:"column:message;type:text"`
	Details        string     `gorm:"column:details;type:text"` // JSON string
	CreatedAt      time.Time  `gorm:"column:created_at;not null;index"`
	Acknowledged   bool       `gorm:"column:acknowledged;not null;default:false"`
	AcknowledgedBy string     `gorm:"column:acknowledged_by;size:128"`
	AcknowledgedAt *time.Time `gorm:"column:acknowledged_at"`
}

// TableName specifies the table name for GORM
func (AlertRecord) TableName() string {
	return "ifood_alerts"
}

// AlertRepo implements biz.AlertRepo.
type AlertRepo struct {
	db     *gorm.DB
	logger *log.Helper
}

func NewAlertRepo(db *gorm.DB, logger log.Logger) *AlertRepo {
	return &AlertRepo{
		db:     db,
		logger: log.NewHelper(logger),
	}
}

// SaveAlert inserts the alert row.
func (r *AlertRepo) SaveAlert(ctx context.Context, a *model.Alert) error {
	details := ""
	if len(a.Details) > 0 {
		raw, err := json.Marshal(a.Details)
		if err != nil {
			r.logger.Warnw("msg", "failed to marshal alert details", "alert_id", a.ID, "error", err)
		} else {
			details = string(raw)
		}
	}
	row := &AlertRecord{
		ID:             a.ID,
		SessionID:      a.SessionID,
		Type:           string(a.Type),
		Severity:       string(a.Severity),
		Title:          a.Title,
		Message:        a.Message,
		Details:        details,
		CreatedAt:      a.CreatedAt,
		Acknowledged:   a.Acknowledged,
		AcknowledgedBy: a.AcknowledgedBy,
		AcknowledgedAt: a.AcknowledgedAt,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return dbError("save alert", err)
	}
	return nil
}

// AcknowledgeAlert marks the stored alert as handled.
func (r *AlertRepo) AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&AlertRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"acknowledged":    true,
			"acknowledged_by": by,
			"acknowledged_at": at,
		}).Error
	if err != nil {
		return dbError("acknowledge alert", err)
	}
	return nil
}

// DeleteAlertsBefore purges alerts created before the cutoff.
func (r *AlertRepo) DeleteAlertsBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&AlertRecord{})
	if res.Error != nil {
		return 0, dbError("delete alerts", res.Error)
	}
	return res.RowsAffected, nil
}
