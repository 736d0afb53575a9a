package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for the history tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS instances (
		id         TEXT PRIMARY KEY,
		project    TEXT NOT NULL,
		pid        INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		stopped_at TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		instance  TEXT NOT NULL,
		at        TEXT NOT NULL,
		event     TEXT NOT NULL,
		ds_name   TEXT NOT NULL,
		job       TEXT NOT NULL,
		task_name TEXT NOT NULL DEFAULT '',
		handle    TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE INDEX IF NOT EXISTS idx_events_instance ON events(instance)`,
	`CREATE INDEX IF NOT EXISTS idx_events_ds_name ON events(ds_name)`,
	`CREATE INDEX IF NOT EXISTS idx_instances_started_at ON instances(started_at)`,
}

// alterStatements are column additions for databases created by older
// releases, since SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD
// COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "instances",
		column:   "backend",
		alterSQL: "ALTER TABLE instances ADD COLUMN backend TEXT NOT NULL DEFAULT ''",
	},
	{
		table:    "events",
		column:   "event",
		alterSQL: "ALTER TABLE events ADD COLUMN event TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_events_event ON events(event)",
	},
}

// migrate executes all schema DDL statements and alter migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
