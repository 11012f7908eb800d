package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"lending/pkg/config"
)

const retryDelay = 5 * time.Second

// Open connects to the configured backend, retrying while the server comes up.
func Open(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("Connecting to database",
		zap.String("driver", cfg.DBDriver),
		zap.String("host", cfg.DBHost),
		zap.String("port", cfg.DBPort),
		zap.String("name", cfg.DBName),
	)

	var db *gorm.DB
	for i := 0; i < cfg.ConnectRetries; i++ {
		db, err = openDB(dialector, cfg.DBDriver)
		if err == nil {
			break
		}
		logger.Warn("Database connection attempt failed",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", cfg.ConnectRetries),
			zap.Error(err),
		)
		if i < cfg.ConnectRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

// Dialector selects the gorm driver for cfg.DBDriver.
func Dialector(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case "postgres":
		return postgres.Open(cfg.PostgresDSN()), nil
	case "sqlite":
		return sqlite.Open(SQLiteDSN(cfg.SQLitePath)), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
}

// SQLiteDSN enables foreign keys and a busy timeout on the given path.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", path)
}

// OpenSQLite opens a single-connection sqlite database, mostly for tests and local runs.
func OpenSQLite(path string) (*gorm.DB, error) {
	return openDB(sqlite.Open(SQLiteDSN(path)), "sqlite")
}

func openDB(dialector gorm.Dialector, driver string) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// one writer; also keeps ":memory:" databases on a single connection
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
