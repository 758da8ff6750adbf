package store

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// CreateSchema creates the database schema if it doesn't exist.
func CreateSchema(db *sql.DB) error {
	if err := createSchemaVersionTable(db); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	if err := createReportsTable(db); err != nil {
		return fmt.Errorf("creating reports table: %w", err)
	}

	if err := createEntriesTable(db); err != nil {
		return fmt.Errorf("creating entries table: %w", err)
	}

	return nil
}

// schemaVersion returns the version recorded in db.
func schemaVersion(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	return v, err
}

func createSchemaVersionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Insert version if table is empty
	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count)
	if err != nil {
		return err
	}

	if count == 0 {
		_, err = db.Exec("INSERT INTO schema_version (version) VALUES (?)", SchemaVersion)
		return err
	}

	v, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if v != SchemaVersion {
		return fmt.Errorf("unsupported schema version %d (want %d)", v, SchemaVersion)
	}
	return nil
}

func createReportsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS reports (
			scan_id TEXT PRIMARY KEY NOT NULL,
			artifact_id TEXT NOT NULL,
			artifact_name TEXT NOT NULL,
			origin_json TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT,
			started_at TEXT NOT NULL,
			duration_ns INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_reports_artifact_id ON reports(artifact_id, status)
	`)
	return err
}

func createEntriesTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scan_id TEXT NOT NULL REFERENCES reports(scan_id),
			position INTEGER NOT NULL,
			rule_id TEXT NOT NULL,
			tags_json TEXT NOT NULL,
			meta_json TEXT NOT NULL,
			evidence_json TEXT NOT NULL,
			UNIQUE(scan_id, position)
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_entries_rule_id ON entries(rule_id)
	`)
	return err
}
