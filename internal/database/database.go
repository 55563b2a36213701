package database

import (
	"context"
	"time"

	"example.com/backstage/services/calendar/config"
	"example.com/backstage/services/calendar/internal/metrics"
	"example.com/backstage/services/calendar/internal/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Connect opens the primary store and configures its pool
func Connect(cfg config.DatabaseConfig, m *metrics.Metrics) (*gorm.DB, error) {
	return open(cfg, cfg.DSN, m)
}

// ConnectReadOnly opens the read replica. Without a replica DSN the primary handle
// is returned so callers can always read from the second handle.
func ConnectReadOnly(cfg config.DatabaseConfig, primary *gorm.DB, m *metrics.Metrics) (*gorm.DB, error) {
	if cfg.ReadOnlyDSN == "" || cfg.Driver == DriverSQLite {
		return primary, nil
	}
	return open(cfg, cfg.ReadOnlyDSN, m)
}

func open(cfg config.DatabaseConfig, dsn string, m *metrics.Metrics) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres, "":
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported database driver %q", cfg.Driver)
	}

	logLevel := logger.Error
	if cfg.LogQueries {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: logger.New(&logAdapter{}, logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get database connection")
	}

	if cfg.Driver == DriverSQLite {
		// sqlite has a single writer; one connection serialises transactions instead of
		// surfacing SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxIdleConns(cfg.PoolSize)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns())
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, TranslateError(errors.Wrap(err, "database ping failed"))
	}

	if m != nil {
		RegisterDurationHooks(db)
		RegisterMetricsHooks(db, m)
	}

	log.Info().
		Str("driver", dialector.Name()).
		Int("pool_size", cfg.PoolSize).
		Int("max_open", cfg.MaxOpenConns()).
		Msg("Connected to database")

	return db, nil
}

// AutoMigrate creates the schema through gorm. Used for sqlite; postgres goes
// through the versioned migrations in RunMigrations.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Venue{}, &models.Event{})
}

// IsPostgres reports whether db talks to postgres
func IsPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == DriverPostgres
}

type logAdapter struct{}

func (l *logAdapter) Printf(format string, args ...interface{}) {
	log.Debug().Str("component", "gorm").Msgf(format, args...)
}
