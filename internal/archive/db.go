// Package archive keeps a local history mirror of server-confirmed
// conversations in SQLite. It is write-behind and best-effort: the in-memory
// store stays the source of truth for the session, the archive survives
// restarts and feeds the warm start and full-text search.
package archive

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection to the per-profile archive.db.
type DB struct {
	*sql.DB

	// search is set once EnsureSearch has built the full-text index.
	search bool
}

// Open creates a SQLite connection with WAL mode and the usual pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	return &DB{DB: db}, nil
}
