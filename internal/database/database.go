package database

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/kkkkikiki/adledger/internal/config"
	"github.com/kkkkikiki/adledger/internal/observability"
)

//go:embed schema.sql
var schema string

// DB holds database connections
type DB struct {
	Postgres *sqlx.DB
}

// NewDB creates new database connections using config. DB_DRIVER selects
// lib/pq ("postgres") or the pgx stdlib driver ("pgx").
func NewDB(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*DB, error) {
	driver := cfg.Database.Driver
	if driver != "postgres" && driver != "pgx" {
		return nil, fmt.Errorf("driver %q is not a PostgreSQL driver", driver)
	}

	// Connect to PostgreSQL
	postgres, err := sqlx.Connect(driver, cfg.Database.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	postgres.SetMaxOpenConns(cfg.Database.MaxConns)
	postgres.SetMaxIdleConns(cfg.Database.MinConns)
	postgres.SetConnMaxLifetime(time.Hour)

	// Test PostgreSQL connection
	if err := postgres.PingContext(ctx); err != nil {
		postgres.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Info(ctx, "connected to PostgreSQL",
		observability.Field{Key: "driver", Value: driver},
		observability.Field{Key: "host", Value: cfg.Database.Host},
	)

	db := &DB{Postgres: postgres}
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			postgres.Close()
			return nil, err
		}
		logger.Info(ctx, "schema applied")
	}
	return db, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Postgres.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.Postgres.PingContext(ctx)
}

// Close closes all database connections
func (db *DB) Close() error {
	if err := db.Postgres.Close(); err != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", err)
	}

	return nil
}
