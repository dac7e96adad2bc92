package db

import (
	"database/sql"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/SplitFi/go-barter/service/logger"
)

// RunMigrations applies every pending migration found in dir
func RunMigrations(client *sql.DB, dir string) error {
	m, err := newMigrateInstance(client, dir)
	if err != nil {
		return err
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.For(nil).Info("no new migrations to apply")
		return nil
	}
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	logger.For(nil).Infof("migrated to version %d (dirty: %t)", version, dirty)
	return nil
}

func newMigrateInstance(client *sql.DB, dir string) (*migrate.Migrate, error) {
	d, err := postgres.WithInstance(client, &postgres.Config{})
	if err != nil {
		return nil, err
	}
	return migrate.NewWithDatabaseInstance("file://"+dir, "postgres", d)
}
