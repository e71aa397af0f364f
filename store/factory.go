package store

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open creates a Store for the configured driver. Call once at service
// start and pass the instance to every component.
func Open(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSQLite, DriverPostgres, DriverMySQL:
		db, err := openGorm(cfg)
		if err != nil {
			return nil, err
		}
		return NewGormStore(db, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

func openGorm(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return db, nil
}

// OpenJobStore creates a JobStore. An empty addr selects the in-memory
// implementation.
func OpenJobStore(cfg RedisConfig) (JobStore, error) {
	if cfg.Addr == "" {
		return NewMemoryJobStore(), nil
	}
	return NewRedisJobStore(cfg)
}
