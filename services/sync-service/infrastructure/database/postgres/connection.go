// Package postgres implements the local stores on PostgreSQL
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/shared/common"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Connect opens the pool and checks the connection
func Connect(ctx context.Context, cfg common.PostgreSQLConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, common.ErrDatabaseConnection(err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, common.ErrDatabaseConnection(err)
	}
	return db, nil
}

// Migrate applies every pending migration
func Migrate(db *sqlx.DB, logger *logging.Logger) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	if logger != nil {
		logger.Info("Database migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	}
	return nil
}

// wrap maps driver errors onto the application error taxonomy
func wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	if common.GetAppError(err) != nil {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return common.WrapError(err, common.ErrCodeNotFound, op+": not found")
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "23503", "23514", "23502":
			return common.NewAppErrorWithCause(common.ErrCodeDatabaseConstraint, op, err)
		case "57P01", "08000", "08003", "08006":
			return common.NewAppErrorWithCause(common.ErrCodeDatabaseConnection, op, err)
		}
	}
	return common.NewAppErrorWithCause(common.ErrCodeDatabaseQuery, op, err)
}

// inTx runs fn in a transaction, rolling back on error
func inTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return common.NewAppErrorWithCause(common.ErrCodeDatabaseTransaction, "begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return common.NewAppErrorWithCause(common.ErrCodeDatabaseTransaction, "commit transaction", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
