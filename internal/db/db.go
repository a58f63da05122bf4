package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const dbFileName = "dealline.db"

// Config selects where the workspace database lives.
type Config struct {
	Workspace string
}

// EnsureWorkspace creates the .dealline directory if missing and
// returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(normalize(workspace), ".dealline")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens the workspace SQLite database. Foreign keys are enforced
// and a busy timeout absorbs writer contention from concurrent
// analytics reads; the analytics path itself never writes.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", DSN(Path(cfg.Workspace)))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// DSN builds the sqlite connection string for a database file.
func DSN(path string) string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
	}
	return fmt.Sprintf("file:%s?cache=shared&%s", path, strings.Join(pragmas, "&"))
}

// Path returns the db file path for the workspace.
func Path(workspace string) string {
	return filepath.Join(normalize(workspace), ".dealline", dbFileName)
}

func normalize(workspace string) string {
	if workspace == "" {
		return "."
	}
	return workspace
}
