// Package data provides data access layer implementations.
// It handles database connections, Redis state and the upstream adapter.
package data

import (
	"OrderRelay/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
// Repositories are registered in biz.ProviderSet together with their bindings.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewCacheClient,
	NewDB,
)

// Data contains all data layer dependencies.
type Data struct {
	// redisClient may be nil when Redis is not configured
	redisClient *redis.Client
	cache       CacheClient
	db          *gorm.DB
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis being unavailable does not prevent application startup (graceful degradation).
func NewData(c *conf.Data, logger log.Logger, rdb *redis.Client, cache CacheClient, db *gorm.DB) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, rate windows fall back to process memory and the circuit mirror is disabled")
	}
	if c != nil && c.Database != nil && c.Database.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, nil, err
		}
		helper.Info("database schema migrated")
	}

	d := &Data{
		redisClient: rdb,
		cache:       cache,
		db:          db,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// Redis 与数据库连接由各自构造函数返回的 cleanup 关闭
	}

	return d, cleanup, nil
}

// GetCache returns the cache client for repository use.
func (d *Data) GetCache() CacheClient {
	return d.cache
}

// GetRedisClient returns the Redis client, nil when Redis is disabled.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}

// GetDB returns the gorm handle.
func (d *Data) GetDB() *gorm.DB {
	return d.db
}
