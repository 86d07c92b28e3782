// Package database centralises sqlx connection helpers.  The driver follows
// the backend chosen by config.SelectDatabase: pgx for PostgreSQL, the pure
// Go modernc driver for the SQLite development file.
//
// Public entry points:
//
//	Open(ctx, backend)                          – conservative pool sizes.
//	OpenWithOptions(ctx, backend, maxOpen, maxIdle) – fine-grained control.
//
// Both helpers Ping the database before returning so callers can fail fast
// during bootstrap.  Callers should Close() the returned *sqlx.DB when no
// longer needed.
package database

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/zamhaus/doorcommander/internal/config"
)

// Open returns a *sqlx.DB with sane defaults: 15 max open, 5 idle, and a
// 30-minute connection lifetime.
func Open(ctx context.Context, b config.Backend) (*sqlx.DB, error) {
	return OpenWithOptions(ctx, b, 15, 5)
}

// OpenWithOptions lets callers tune maxOpen and maxIdle per pool.
func OpenWithOptions(ctx context.Context, b config.Backend, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Open(b.DriverName(), b.DSN())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", b, err)
	}
	if err := prepare(ctx, db, maxOpen, maxIdle); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", b, err)
	}
	return db, nil
}

func prepare(ctx context.Context, db *sqlx.DB, maxOpen, maxIdle int) error {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
