package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/caseworks/mysteryforge/internal/config"
)

// NewDB opens a Postgres connection pool via pgdriver and wraps it in
// a bun.DB, the same dialect/driver pair the rest of the teacher's
// storage layer is built on.
func NewDB(cfg config.DatabaseConfig) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.URL)))
	sqldb.SetMaxOpenConns(cfg.MaxConnections)
	sqldb.SetMaxIdleConns(cfg.MinConnections)
	sqldb.SetConnMaxIdleTime(cfg.MaxIdleTime)
	sqldb.SetConnMaxLifetime(cfg.MaxConnLifetime)

	db := bun.NewDB(sqldb, pgdialect.New())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// Close closes the underlying connection pool.
func Close(db *bun.DB) error {
	return db.Close()
}
