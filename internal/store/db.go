// Package store keeps converted specs in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps the connection pool.
type DB struct {
	*sql.DB
}

// Connect opens a pool against a postgres:// URL. It does not dial.
func Connect(url string) (*DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &DB{DB: db}, nil
}

func (d *DB) Ping(ctx context.Context) error { return d.DB.PingContext(ctx) }

// Migrate applies embedded migrations in file name order, once each.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version text primary key)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version := e.Name()
		var exists bool
		if err := d.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if exists {
			continue
		}
		b, err := migrations.ReadFile("migrations/" + version)
		if err != nil {
			return err
		}
		if _, err := d.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("migration %s failed: %w", version, err)
		}
		if _, err := d.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
	}
	return nil
}

// ConfigurePool overrides the pool defaults. Out of range values keep the
// current setting.
func (d *DB) ConfigurePool(maxOpen, maxIdle int, maxLifetime time.Duration) {
	if maxOpen > 0 {
		d.DB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle >= 0 {
		d.DB.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime > 0 {
		d.DB.SetConnMaxLifetime(maxLifetime)
	}
}
