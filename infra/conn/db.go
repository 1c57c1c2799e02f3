package conn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mstgnz/donatepay/infra/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	connectAttempts = 5
)

// retryDelay is a variable so tests do not wait between attempts
var retryDelay = 2 * time.Second

type DB struct {
	*sql.DB
	Driver string
}

// ConnectDatabase opens a pooled connection, retrying until the database answers a ping
func ConnectDatabase(ctx context.Context, driver, dsn string) (*DB, error) {
	driverName, source, err := resolve(driver, dsn)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		database, err := sql.Open(driverName, source)
		if err != nil {
			lastErr = err
			logger.Warn(fmt.Sprintf("Attempt %d: failed to open DB connection", attempt), logger.LogContext{
				Fields: map[string]any{"driver": driver, "error": err.Error()},
			})
			if !wait(ctx) {
				break
			}
			continue
		}

		tunePool(database, driver)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = database.PingContext(pingCtx)
		cancel()

		if err == nil {
			logger.Info("DB connected successfully", logger.LogContext{Fields: map[string]any{"driver": driver}})
			return &DB{DB: database, Driver: driver}, nil
		}

		lastErr = err
		logger.Warn(fmt.Sprintf("Attempt %d: failed to ping DB", attempt), logger.LogContext{
			Fields: map[string]any{"driver": driver, "error": err.Error()},
		})
		database.Close()
		if !wait(ctx) {
			break
		}
	}

	return nil, fmt.Errorf("failed to connect to %s after %d attempts: %w", driver, connectAttempts, lastErr)
}

// CloseDatabase closes the pool
func (db *DB) CloseDatabase() error {
	if err := db.DB.Close(); err != nil {
		logger.Error("Failed to close database connection", err, logger.LogContext{})
		return err
	}
	logger.Info("DB connection closed", logger.LogContext{})
	return nil
}

func resolve(driver, dsn string) (string, string, error) {
	switch driver {
	case DriverPostgres:
		if dsn == "" {
			return "", "", fmt.Errorf("DATABASE_URL is required for postgres")
		}
		return "postgres", dsn, nil
	case DriverSQLite, "sqlite3":
		if dsn == "" {
			dsn = "donatepay.db"
		}
		return "sqlite3", sqliteDSN(dsn), nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// sqliteDSN enables WAL and a busy timeout unless the caller already set options
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

func tunePool(database *sql.DB, driver string) {
	if driver == DriverPostgres {
		database.SetMaxOpenConns(25)
		database.SetMaxIdleConns(5)
		database.SetConnMaxLifetime(5 * time.Minute)
		database.SetConnMaxIdleTime(2 * time.Minute)
		return
	}
	// sqlite serializes writers; one connection avoids "database is locked"
	database.SetMaxOpenConns(1)
	database.SetMaxIdleConns(1)
}

func wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(retryDelay):
		return true
	}
}
