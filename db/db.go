package db

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/thesimplekid/cashu-lsp/logger"
)

type Config struct {
	URI        string
	LogQueries bool
}

func NewDB(uri string, logDBQueries bool) (*gorm.DB, error) {
	return NewDBWithConfig(&Config{
		URI:        uri,
		LogQueries: logDBQueries,
	})
}

func NewDBWithConfig(config *Config) (*gorm.DB, error) {
	uri := config.URI
	// sqlite pragmas to behave under concurrent writers
	if !strings.Contains(uri, "?") {
		uri = uri + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=IMMEDIATE"
	}

	gormConfig := &gorm.Config{
		Logger:         &dbLogger{logQueries: config.LogQueries},
		TranslateError: true,
	}

	gormDB, err := gorm.Open(sqlite.Open(uri), gormConfig)
	if err != nil {
		return nil, err
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	// a single connection avoids SQLITE_BUSY during write bursts
	sqlDB.SetMaxOpenConns(1)

	return gormDB, nil
}

// dbLogger routes gorm logs through zerolog
type dbLogger struct {
	logQueries bool
}

func (l *dbLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return l
}

func (l *dbLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	logger.Logger.Info().Msgf(msg, args...)
}

func (l *dbLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	logger.Logger.Warn().Msgf(msg, args...)
}

func (l *dbLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	logger.Logger.Error().Msgf(msg, args...)
}

func (l *dbLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if !l.logQueries {
		return
	}
	sql, rowsAffected := fc()
	var event *zerolog.Event
	if err != nil {
		event = logger.Logger.Error().Err(err)
	} else {
		event = logger.Logger.Debug()
	}
	event.
		Str("sql", sql).
		Int64("rows_affected", rowsAffected).
		Dur("duration", time.Since(begin)).
		Msg("executed DB query")
}

func Stop(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
