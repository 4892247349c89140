package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrations embed.FS

// Migrate applies every pending migration for driver. It opens its own
// connection because the migrate drivers close the handle they are given.
// It returns the schema version after the run.
func Migrate(driver, dsn string) (uint, error) {
	dir := ""
	switch driver {
	case DriverPostgres:
		dir = "migrations/postgres"
	case DriverSQLite:
		dir = "migrations/sqlite"
		dsn = sqliteDSN(dsn)
	default:
		return 0, fmt.Errorf("unsupported sql driver %q", driver)
	}

	src, err := iofs.New(migrations, dir)
	if err != nil {
		return 0, fmt.Errorf("load migrations: %w", err)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return 0, err
	}

	var drv database.Driver
	if driver == DriverPostgres {
		drv, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	} else {
		drv, err = sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	}
	if err != nil {
		_ = db.Close()
		return 0, fmt.Errorf("migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, drv)
	if err != nil {
		_ = drv.Close()
		return 0, err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate up: %w", err)
	}
	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, err
	}
	return version, nil
}
