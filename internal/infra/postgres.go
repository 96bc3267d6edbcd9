package infra

import (
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kimi/internal/models/db_models"
)

var log = logging.Logger("infra")

var gormLog = logging.Logger("gorm")

type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	gormLog.Debugf(format, args...)
}

// GormConfig is shared by every dialector so duplicate keys surface as
// gorm.ErrDuplicatedKey everywhere.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger: logger.New(gormWriter{}, logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}
}

func InitPostgresql(dsn string) (*gorm.DB, error) {
	connectionPool, err := gorm.Open(postgres.Open(dsn), GormConfig())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := connectionPool.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return connectionPool, nil
}

func ClosePostgresql(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Errorw("getting database instance", "err", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Errorw("closing database connection", "err", err)
	} else {
		log.Info("database connection closed")
	}
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(db_models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
