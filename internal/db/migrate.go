package db

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/banshee-data/collar.amc/internal/monitoring"
)

// ErrDirtySchema is returned when a previous migration stopped half way.
var ErrDirtySchema = errors.New("db: schema is dirty, force a version to recover")

// MigrateUp applies every pending migration. Being at the latest version
// already is not an error.
func (db *DB) MigrateUp(migrations fs.FS) error {
	return db.migrate(migrations, "up", func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown reverts the newest applied migration.
func (db *DB) MigrateDown(migrations fs.FS) error {
	return db.migrate(migrations, "down", func(m *migrate.Migrate) error { return m.Steps(-1) })
}

// MigrateForce records version as applied and clears the dirty flag
// without running any SQL.
func (db *DB) MigrateForce(migrations fs.FS, version int) error {
	return db.migrate(migrations, fmt.Sprintf("force %d", version), func(m *migrate.Migrate) error {
		return m.Force(version)
	})
}

// MigrateVersion returns the applied schema version, 0 on a fresh
// database.
func (db *DB) MigrateVersion(migrations fs.FS) (version uint, dirty bool, err error) {
	err = db.migrate(migrations, "version", func(m *migrate.Migrate) error {
		version, dirty, err = m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		return err
	})
	return version, dirty, err
}

// SchemaStatus describes the applied schema against the embedded one.
type SchemaStatus struct {
	Version uint `json:"version"`
	Latest  uint `json:"latest"`
	Dirty   bool `json:"dirty"`
}

func (s SchemaStatus) String() string {
	switch {
	case s.Dirty:
		return fmt.Sprintf("%d (dirty)", s.Version)
	case s.Version < s.Latest:
		return fmt.Sprintf("%d (latest %d)", s.Version, s.Latest)
	}
	return strconv.FormatUint(uint64(s.Version), 10)
}

// Schema reports the status of the embedded migrations on db.
func (db *DB) Schema() (SchemaStatus, error) {
	migrations, err := getMigrationsFS()
	if err != nil {
		return SchemaStatus{}, err
	}
	var s SchemaStatus
	if s.Latest, err = LatestMigrationVersion(migrations); err != nil {
		return s, err
	}
	s.Version, s.Dirty, err = db.MigrateVersion(migrations)
	return s, err
}

// migrate runs fn against a migrate instance over db. The instance is
// never closed since that would close db's connection.
func (db *DB) migrate(migrations fs.FS, op string, fn func(*migrate.Migrate) error) error {
	src, err := iofs.New(migrations, ".")
	if err != nil {
		return fmt.Errorf("migrations source: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	m.Log = migrateLog{}

	err = fn(m)
	var dirty migrate.ErrDirty
	switch {
	case err == nil, errors.Is(err, migrate.ErrNoChange):
		return nil
	case errors.As(err, &dirty):
		return fmt.Errorf("migrate %s at version %d: %w", op, dirty.Version, ErrDirtySchema)
	}
	return fmt.Errorf("migrate %s: %w", op, err)
}

type migrateLog struct{}

func (migrateLog) Printf(format string, v ...any) { monitoring.Logf("migrate: "+format, v...) }
func (migrateLog) Verbose() bool                  { return false }

// LatestMigrationVersion returns the highest NNNNNN_name.up.sql version in
// migrations.
func LatestMigrationVersion(migrations fs.FS) (uint, error) {
	names, err := fs.Glob(migrations, "*.up.sql")
	if err != nil {
		return 0, fmt.Errorf("list migrations: %w", err)
	}
	var latest uint
	for _, name := range names {
		num, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			continue
		}
		latest = max(latest, uint(v))
	}
	if latest == 0 {
		return 0, fmt.Errorf("no numbered up migrations among %d files", len(names))
	}
	return latest, nil
}
