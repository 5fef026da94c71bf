// Package repository persists run audit records and pending vendor
// confirmations. Postgres backs server deployments; a local SQLite file
// backs the CLI and tests. Both are reached through database/sql so the
// store logic is written once.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"invoicebridge/internal/common"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id                TEXT PRIMARY KEY,
    filename          TEXT NOT NULL,
    status            TEXT NOT NULL,
    vendor_id         BIGINT NOT NULL DEFAULT 0,
    bill_id           BIGINT NOT NULL DEFAULT 0,
    invoice_number    TEXT NOT NULL DEFAULT '',
    vendor_name       TEXT NOT NULL DEFAULT '',
    grand_total_cents BIGINT NOT NULL DEFAULT 0,
    currency          TEXT NOT NULL DEFAULT '',
    needs_review      BOOLEAN NOT NULL DEFAULT FALSE,
    unresolved        TEXT NOT NULL DEFAULT '',
    error_code        TEXT NOT NULL DEFAULT '',
    error_detail      TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMP NOT NULL,
    updated_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_status_idx ON runs (status);

CREATE TABLE IF NOT EXISTS confirmations (
    token      TEXT PRIMARY KEY,
    run_id     TEXT NOT NULL,
    payload    TEXT NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

// Open connects to the audit database. A DB_URL selects Postgres via the
// pgx stdlib driver; otherwise the SQLite path is used. The schema is
// applied idempotently on every start.
func Open(ctx context.Context, cfg common.DatabaseConfig) (*sql.DB, error) {
	driver, dsn := "sqlite", cfg.SQLitePath
	if cfg.URL != "" {
		driver, dsn = "pgx", cfg.URL
	}
	if dsn == "" {
		return nil, common.NewAppError("CONFIG_ERROR", "no database configured", common.ErrInvalidInput)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		// modernc's driver is not safe for concurrent writers on one file
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return db, nil
}

// rebind rewrites ? placeholders to $1..$n for Postgres. Queries in this
// package are written with ? and rebound per driver.
func rebind(driver, query string) string {
	if driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
