package data

import (
	"testing"
	"time"

	"OrderRelay/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewData_WithRedis(t *testing.T) {
	_, mr := setupTestRedis(t)
	db := setupTestDB(t)

	c := &conf.Data{
		Redis: &conf.Data_Redis{
			Addr:         mr.Addr(),
			ReadTimeout:  200 * time.Millisecond,
			WriteTimeout: 200 * time.Millisecond,
		},
	}
	logger := log.DefaultLogger

	rdb, redisCleanup, err := NewRedisClient(c, logger)
	require.NoError(t, err)
	require.NotNil(t, rdb)
	defer redisCleanup()

	cache := NewCacheClient(rdb)
	data, cleanup, err := NewData(c, logger, rdb, cache, db)
	require.NoError(t, err)
	defer cleanup()

	assert.Same(t, rdb, data.GetRedisClient())
	assert.Equal(t, cache, data.GetCache())
	assert.Same(t, db, data.GetDB())
}

func TestNewData_WithoutRedis(t *testing.T) {
	db := setupTestDB(t)

	data, cleanup, err := NewData(&conf.Data{}, log.DefaultLogger, nil, NewCacheClient(nil), db)
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, data.GetRedisClient())
}

func TestNewData_AutoMigrate(t *testing.T) {
	c := &conf.Data{Database: &conf.Data_Database{
		Driver:      "sqlite",
		Source:      "file:automigrate?mode=memory&cache=shared",
		AutoMigrate: true,
	}}
	db, dbCleanup, err := NewDB(c, log.DefaultLogger)
	require.NoError(t, err)
	defer dbCleanup()

	_, cleanup, err := NewData(c, log.DefaultLogger, nil, NewCacheClient(nil), db)
	require.NoError(t, err)
	defer cleanup()

	for _, table := range []string{"ifood_events", "ifood_acknowledgment_batches", "ifood_polling_logs", "ifood_tokens", "ifood_merchants", "ifood_alerts", "ifood_audit_logs"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}

func TestNewDB_UnsupportedDriver(t *testing.T) {
	_, _, err := NewDB(&conf.Data{Database: &conf.Data_Database{Driver: "oracle"}}, log.DefaultLogger)
	assert.ErrorContains(t, err, "unsupported database driver")

	_, _, err = NewDB(&conf.Data{}, log.DefaultLogger)
	assert.Error(t, err)
}
