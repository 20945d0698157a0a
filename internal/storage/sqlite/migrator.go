//go:build sqlite

package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

type migration struct {
	version int
	name    string
	stmt    string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create_buckets",
		stmt: `CREATE TABLE IF NOT EXISTS buckets (
			name TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			indexes TEXT NOT NULL
		)`,
	},
	{
		version: 2,
		name:    "create_objects",
		stmt: `CREATE TABLE IF NOT EXISTS objects (
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			etag TEXT NOT NULL,
			PRIMARY KEY (bucket, key)
		)`,
	},
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, name TEXT NOT NULL, applied_at TEXT NOT NULL)`); err != nil {
		return err
	}
	// The pool is capped at one connection, so the result set must be
	// drained and closed before any migration statement runs.
	applied, err := appliedVersions(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(version, name, applied_at) VALUES(?, ?, ?)`,
			m.version, m.name, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	applied := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// Status summarizes applied migrations for the given DSN.
func Status(dsn string) (string, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return "", err
	}
	defer db.Close()
	var count, latest int
	_ = db.QueryRow(`SELECT COUNT(1), COALESCE(MAX(version),0) FROM schema_migrations`).Scan(&count, &latest)
	return fmt.Sprintf("applied=%d latest=%d", count, latest), nil
}
