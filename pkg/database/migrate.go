package database

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// Migrate runs a goose command ("up", "down", "status", "version") against db.
func Migrate(db *sql.DB, driver, command string) error {
	dialect, dir, err := migrationSource(driver)
	if err != nil {
		return err
	}

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	switch command {
	case "up":
		return goose.Up(db, dir)
	case "down":
		return goose.Down(db, dir)
	case "status":
		return goose.Status(db, dir)
	case "version":
		_, err := goose.GetDBVersion(db)
		return err
	}
	return fmt.Errorf("unknown migration command %q (want up, down, status or version)", command)
}

// Version reports the applied schema version.
func Version(db *sql.DB, driver string) (int64, error) {
	dialect, _, err := migrationSource(driver)
	if err != nil {
		return 0, err
	}
	if err := goose.SetDialect(dialect); err != nil {
		return 0, fmt.Errorf("set dialect: %w", err)
	}
	return goose.GetDBVersion(db)
}

func migrationSource(driver string) (dialect, dir string, err error) {
	switch driver {
	case "postgres":
		return "postgres", "migrations/postgres", nil
	case "sqlite":
		return "sqlite3", "migrations/sqlite", nil
	}
	return "", "", fmt.Errorf("no migrations for driver %q", driver)
}
