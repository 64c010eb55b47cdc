package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion is the schema version this build expects.
// Bump it and add a migrateToVersionN function whenever the schema
// changes; createSchema always produces CurrentSchemaVersion directly
// for fresh databases.
const CurrentSchemaVersion = 1

// InitSchema creates the full schema on an empty database. Exported for
// packages outside persistence that need a ready-to-use database for
// testing against a real Store rather than a mock.
func InitSchema(db *sql.DB) error {
	return createSchema(db)
}

// initializeSchemaWithMigrations brings db up to CurrentSchemaVersion,
// creating the schema fresh if the database is empty.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion == 0 {
		return createSchema(db)
	}

	if currentVersion == CurrentSchemaVersion {
		return nil
	}

	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

// runMigration applies a specific version migration. There are no
// migrations yet beyond the version-1 baseline created by createSchema;
// this switch is where future ALTER TABLE steps land.
func runMigration(_ *sql.DB, version int) error {
	return fmt.Errorf("no migration defined for schema version %d", version)
}

func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the
// database, or 0 if no version has ever been set.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}

// createSchema creates the three relations of §6's persisted state
// layout plus an engine-owned lease column pair on workflow_state
// (§5: "per-workflow serialization enforced by a lease").
func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Versioned document storage; document is schema-on-read JSON
		// (the wfstate.WorkflowState serialization).
		`CREATE TABLE IF NOT EXISTS workflow_state (
			request_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 0,
			document TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			lease_owner TEXT,
			lease_expires_at DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS approvals (
			approval_id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL REFERENCES workflow_state(request_id),
			type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','approved','rejected','modified','timed_out')),
			payload TEXT,
			modified_payload TEXT,
			reviewer TEXT,
			notes TEXT,
			submitted_at DATETIME NOT NULL,
			decided_at DATETIME,
			sla_deadline DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_request_id ON approvals(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status)`,

		// Append-only; event_id is a UUID so concurrent writers never
		// collide, ordered within a request_id by timestamp (§5:
		// "totally ordered in the audit stream").
		`CREATE TABLE IF NOT EXISTS audit (
			event_id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL REFERENCES workflow_state(request_id),
			timestamp DATETIME NOT NULL,
			kind TEXT NOT NULL,
			node TEXT,
			actor TEXT,
			severity TEXT,
			payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_request_id_timestamp ON audit(request_id, timestamp)`,
	}

	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return setSchemaVersion(db, CurrentSchemaVersion)
}
