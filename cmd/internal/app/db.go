package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

// ErrSchemaIncomplete means the configured schema lacks tables the stores read.
var ErrSchemaIncomplete = errors.New("database schema incomplete")

// storeTables are the tables touched by the notify and invite stores.
// Keep aligned with db/schema.sql.
var storeTables = []string{
	"guests",
	"invitations",
	"notifications",
	"profiles",
	"project_collaborators",
	"projects",
	"push_subscriptions",
}

// NewDBPool connects to DASMA_DATABASE_URL and verifies that the schema holds
// every store table. It does not migrate; db/schema.sql is applied externally.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = "dasma"
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := checkStoreTables(ctx, pool, cfg.DBSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func checkStoreTables(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		  WHERE table_schema = $1 AND table_name = ANY($2)`,
		schema, storeTables,
	)
	if err != nil {
		return fmt.Errorf("inspect schema %q: %w", schema, err)
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("inspect schema %q: %w", schema, err)
		}
		found = append(found, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect schema %q: %w", schema, err)
	}

	if missing := missingTables(found); len(missing) > 0 {
		return fmt.Errorf("%w: %q is missing %s (apply db/schema.sql)", ErrSchemaIncomplete, schema, strings.Join(missing, ", "))
	}
	return nil
}

func missingTables(found []string) []string {
	return lo.Without(storeTables, found...)
}

// PingDB checks that a connection can be acquired within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
