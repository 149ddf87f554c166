// Package sqlite persists the want-list cache and scan cursors.
package sqlite

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/kdhayes/cratewatch/internal/migrations"
)

// Repo is the durable store behind the resumable caches: the want-list
// itself plus the named cursors that make a cut-short scan resumable.
type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}

// Open connects to the cache database at path, creating and migrating it as
// needed. An unreadable cache is moved aside and rebuilt empty: losing the
// cache only costs duplicate work on the next scan, which beats refusing
// to run.
func Open(path string) (*sqlx.DB, error) {
	dbx, err := open(path)
	if err == nil {
		return dbx, nil
	}
	if path == ":memory:" {
		return nil, err
	}

	slog.Warn("cache unreadable, starting over", "path", path, "error", err)
	if err := os.Rename(path, path+".corrupt"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error moving corrupt cache aside: %s", err)
	}

	return open(path)
}

func open(path string) (*sqlx.DB, error) {
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("error opening cache database: %s", err)
	}
	if err := migrations.Run(dbx); err != nil {
		dbx.Close()
		return nil, err
	}

	return dbx, nil
}
