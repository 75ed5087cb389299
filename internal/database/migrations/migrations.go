// Package migrations holds the run ledger schema and applies it with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var files embed.FS

// ErrNoSchema is returned by Check for a ledger that was never migrated.
var ErrNoSchema = errors.New("ledger has no schema version (needs migration)")

func openSource() (source.Driver, error) {
	return iofs.New(files, "files")
}

// Latest returns the highest schema version this binary knows about.
func Latest() (uint, error) {
	src, err := openSource()
	if err != nil {
		return 0, fmt.Errorf("reading migration files: %w", err)
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, err
		}
		v = next
	}
}

// Up applies every pending migration. An up-to-date ledger is left alone.
func Up(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	// Closing m would close db, which the caller owns.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Check returns nil when the ledger schema matches Latest exactly.
func Check(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	current, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return ErrNoSchema
	case err != nil:
		return fmt.Errorf("reading ledger schema version: %w", err)
	case dirty:
		return fmt.Errorf("ledger schema is dirty at version %d (a migration failed)", current)
	}

	latest, err := Latest()
	if err != nil {
		return fmt.Errorf("determining latest schema version: %w", err)
	}
	if current < latest {
		return fmt.Errorf("ledger schema is at version %d, latest is %d", current, latest)
	}
	if current > latest {
		return fmt.Errorf("ledger schema version %d is newer than this binary (%d), upgrade snipsync", current, latest)
	}
	return nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := openSource()
	if err != nil {
		return nil, fmt.Errorf("reading migration files: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}
