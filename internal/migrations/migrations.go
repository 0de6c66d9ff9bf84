// Package migrations holds the embedded goose schema for the contest
// database.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var fs embed.FS

var setup = sync.OnceValue(func() error {
	goose.SetBaseFS(fs)
	goose.SetLogger(goose.NopLogger())
	return goose.SetDialect("sqlite3")
})

// Run applies all pending migrations against db.
func Run(db *sql.DB) error {
	if err := setup(); err != nil {
		return fmt.Errorf("setting dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Version reports the schema version db is at; 0 before any migration.
func Version(db *sql.DB) (int64, error) {
	if err := setup(); err != nil {
		return 0, fmt.Errorf("setting dialect: %w", err)
	}
	v, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}
