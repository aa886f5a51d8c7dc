package data

import (
	"context"
	"testing"

	"OrderRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger_WritesOnClose(t *testing.T) {
	db := setupTestDB(t)
	al, cleanup := NewAuditLogger(db, log.DefaultLogger)

	al.Log(context.Background(), model.AuditEntry{
		SessionID: "user-1",
		EventType: model.AuditSessionStarted,
		Reason:    "manual start",
		Metadata:  map[string]interface{}{"interval_ms": 30000},
	})
	al.Log(context.Background(), model.AuditEntry{SessionID: "user-1", EventType: model.AuditSessionStopped})

	// cleanup 会等待队列写完
	cleanup()

	var rows []AuditLog
	require.NoError(t, db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, model.AuditSessionStarted, rows[0].EventType)
	assert.Equal(t, "manual start", rows[0].Reason)
	assert.JSONEq(t, `{"interval_ms":30000}`, rows[0].Details)
	assert.Equal(t, model.AuditSessionStopped, rows[1].EventType)
	assert.Empty(t, rows[1].Details)
}

func TestAuditLogger_LogAfterCloseIsDropped(t *testing.T) {
	db := setupTestDB(t)
	al, cleanup := NewAuditLogger(db, log.DefaultLogger)
	cleanup()
	// 重复关闭无副作用
	al.Close()

	assert.NotPanics(t, func() {
		al.Log(context.Background(), model.AuditEntry{SessionID: "user-1", EventType: model.AuditCircuitOpened})
	})

	var n int64
	require.NoError(t, db.Model(&AuditLog{}).Count(&n).Error)
	assert.Zero(t, n)
}
