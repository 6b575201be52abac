package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// defaultBusyTimeoutMS is the SQLite busy_timeout in milliseconds.
// Override with CODEXMEM_BUSY_TIMEOUT_MS for environments with high contention.
const defaultBusyTimeoutMS = 5000

// Open initializes a database at the given path with SQLite + WAL mode and
// runs migrations automatically.
func Open(dbPath string) (*sql.DB, error) {
	if dir := dirOf(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// modernc.org/sqlite is strict about DSNs. Use a file: URI with mode=rwc
	// so the database can be created/written consistently across platforms.
	db, err := sql.Open("sqlite", normalizeSQLiteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer connection. The worker multiplexes all agent tasks and HTTP
	// handlers over it; WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busyTimeout := defaultBusyTimeoutMS
	if v := os.Getenv("CODEXMEM_BUSY_TIMEOUT_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			busyTimeout = parsed
		}
	}

	// Pragma trade-offs:
	//   busy_timeout       — writers wait up to N ms instead of failing immediately.
	//   synchronous=NORMAL — skips fsync per commit; WAL still protects committed
	//                        txns, the exposure is the last checkpoint on OS crash.
	//   journal_mode=WAL   — concurrent readers + one writer; the bridge and a
	//                        running worker may read the same file.
	pragmas := []string{
		// busy_timeout first so subsequent pragmas (including WAL) wait on locks.
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout),
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
	}

	for _, pragma := range pragmas {
		if err := RetryWithBackoff(func() error {
			_, err := db.ExecContext(context.Background(), pragma)
			return err
		}); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// MigrateDB holds a file lock so a worker and a bridge starting at the
	// same moment cannot both apply migrations.
	if err := RetryWithBackoff(func() error { return MigrateDB(db, dbPath) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// OpenInMemory opens a private in-memory database. Test helper.
func OpenInMemory() (*sql.DB, error) {
	return Open(":memory:")
}

func dirOf(dbPath string) string {
	if dbPath == ":memory:" || strings.Contains(dbPath, ":memory:") || strings.HasPrefix(dbPath, "file::memory:") {
		return ""
	}
	idx := strings.LastIndexByte(dbPath, '/')
	if idx <= 0 {
		return ""
	}
	return dbPath[:idx]
}

func normalizeSQLiteDSN(dbPath string) string {
	// Support an explicit file: DSN as-is.
	if strings.HasPrefix(dbPath, "file:") {
		return dbPath
	}

	// Private in-memory DB per connection would break the single-connection
	// pool assumption, so share the cache under the common token.
	if dbPath == ":memory:" {
		return "file::memory:?cache=shared"
	}

	// mode=rwc => read/write/create. Without this, some environments open read-only.
	return "file:" + dbPath + "?mode=rwc"
}
