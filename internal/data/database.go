package data

import (
	"fmt"
	"time"

	"OrderRelay/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	_ "github.com/lib/pq" // database/sql driver "postgres"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqliteMemoryDSN = "file::memory:?cache=shared"

// NewDB opens the durable store. Supported drivers: mysql, postgres, sqlite.
func NewDB(c *conf.Data, l log.Logger) (*gorm.DB, func(), error) {
	helper := log.NewHelper(l)

	if c == nil || c.Database == nil {
		helper.Error("database configuration is missing")
		return nil, nil, fmt.Errorf("database configuration is required")
	}

	dialector, err := dialectorFor(c.Database)
	if err != nil {
		return nil, nil, err
	}

	gormLogger := logger.New(
		&gormLogAdapter{helper: helper},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            c.Database.Driver != "sqlite",
	})
	if err != nil {
		helper.Errorf("failed to connect to %s: %v", c.Database.Driver, err)
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", c.Database.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		helper.Errorf("failed to get sql.DB: %v", err)
		return nil, nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if c.Database.Driver == "sqlite" {
		// SQLite 单写者
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	}

	if err := sqlDB.Ping(); err != nil {
		helper.Errorf("failed to ping %s: %v", c.Database.Driver, err)
		return nil, nil, fmt.Errorf("failed to ping %s: %w", c.Database.Driver, err)
	}

	helper.Infof("%s connection established successfully", c.Database.Driver)

	cleanup := func() {
		helper.Infof("closing %s connection", c.Database.Driver)
		if err := sqlDB.Close(); err != nil {
			helper.Errorf("failed to close %s: %v", c.Database.Driver, err)
		}
	}

	return db, cleanup, nil
}

func dialectorFor(c *conf.Data_Database) (gorm.Dialector, error) {
	switch c.Driver {
	case "", "mysql":
		return mysql.Open(c.Source), nil
	case "postgres":
		// database/sql + lib/pq
		return postgres.New(postgres.Config{DriverName: "postgres", DSN: c.Source}), nil
	case "sqlite":
		dsn := c.Source
		if dsn == "" {
			dsn = sqliteMemoryDSN
		}
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", c.Driver)
}

// Migrate creates or updates every table owned by the data layer.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&EventRecord{},
		&AckBatchRecord{},
		&PollingLogRecord{},
		&TokenRecord{},
		&MerchantRecord{},
		&AlertRecord{},
		&AuditLog{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// gormLogAdapter adapts Kratos log.Helper to GORM logger interface.
type gormLogAdapter struct {
	helper *log.Helper
}

// Printf implements gorm/logger.Writer interface.
func (g *gormLogAdapter) Printf(format string, v ...interface{}) {
	g.helper.Warnf(format, v...)
}
