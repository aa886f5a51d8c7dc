package data

import (
	"fmt"
	"strings"
	"testing"

	"OrderRelay/internal/conf"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupTestRedis creates a miniredis instance for testing
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

// setupTestDB opens a private in-memory SQLite database with the schema migrated.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	c := &conf.Data{Database: &conf.Data_Database{
		Driver: "sqlite",
		Source: fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	}}
	db, cleanup, err := NewDB(c, log.DefaultLogger)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	require.NoError(t, Migrate(db))
	return db
}
