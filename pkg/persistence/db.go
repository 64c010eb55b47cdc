// Package persistence implements C2 (§4.2, §6): SQLite-backed storage for
// workflow state, approvals, and audit events, with optimistic
// concurrency and per-request leasing.
package persistence

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"researchflow/pkg/logx"
)

// Singleton database state. All access goes through Initialize/GetDB/Store,
// mirroring the single-writer connection pool pattern used throughout
// this codebase's other storage-backed singletons.
//
//nolint:gochecknoglobals // intentional singleton pattern for database access
var (
	globalDB     *sql.DB
	globalDBOnce sync.Once
	globalDBMu   sync.RWMutex
	dbLogger     *logx.Logger
	engineID     string
)

// Initialize opens the singleton database connection at dbPath and
// brings the schema up to CurrentSchemaVersion. Must be called once at
// startup before any other persistence function. Subsequent calls are
// no-ops.
func Initialize(dbPath, instanceID string) error {
	var initErr error

	globalDBOnce.Do(func() {
		dbLogger = logx.NewLogger("persistence")
		engineID = instanceID

		db, err := sql.Open("sqlite", fmt.Sprintf(
			"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
			dbPath,
		))
		if err != nil {
			initErr = fmt.Errorf("failed to open database: %w", err)
			return
		}

		if err := db.Ping(); err != nil {
			_ = db.Close()
			initErr = fmt.Errorf("failed to ping database: %w", err)
			return
		}

		if err := initializeSchemaWithMigrations(db); err != nil {
			_ = db.Close()
			initErr = fmt.Errorf("failed to initialize schema: %w", err)
			return
		}

		db.SetMaxOpenConns(1) // SQLite only supports one writer
		db.SetMaxIdleConns(1)

		globalDB = db
		dbLogger.Info("persistence: database initialized at %s (engine instance %s)", dbPath, instanceID)
	})

	return initErr
}

// GetDB returns the singleton database connection. Panics if Initialize
// has not been called — every caller runs after engine startup.
func GetDB() *sql.DB {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()

	if globalDB == nil {
		panic("persistence.Initialize must be called before GetDB")
	}
	return globalDB
}

// EngineInstanceID returns the engine instance ID leases are stamped
// with.
func EngineInstanceID() string {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()
	return engineID
}

// IsInitialized reports whether Initialize has succeeded.
func IsInitialized() bool {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()
	return globalDB != nil
}

// Close closes the database connection. Should be called during
// shutdown.
func Close() error {
	globalDBMu.Lock()
	defer globalDBMu.Unlock()

	if globalDB != nil {
		err := globalDB.Close()
		globalDB = nil
		if err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}

// Reset closes the database and resets the singleton. Only used by
// tests to allow re-initialization against a fresh file or :memory: DB.
func Reset() error {
	globalDBMu.Lock()
	defer globalDBMu.Unlock()

	if globalDB != nil {
		if err := globalDB.Close(); err != nil {
			return fmt.Errorf("failed to close database during reset: %w", err)
		}
		globalDB = nil
	}

	globalDBOnce = sync.Once{}
	engineID = ""
	dbLogger = nil

	return nil
}

// Store returns a Store bound to the singleton connection.
func Store() *Store {
	return NewStore(GetDB())
}
