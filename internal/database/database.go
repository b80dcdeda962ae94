package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// defaultMaxConns bounds the connection pool when no explicit size is given.
const defaultMaxConns = 10

// Options configures how the backing store is opened.
type Options struct {
	// Driver is DriverSQLite or DriverPostgres.
	Driver string
	// DSN is a file path (or file: URI) for sqlite, or a connection string
	// for postgres.
	DSN string
	// MaxConns bounds the connection pool. Ignored for sqlite, which always
	// uses a single writer connection.
	MaxConns int
}

// DB wraps a sql.DB connection pool together with the driver it was opened
// with, so queries can be rebound to the driver's placeholder style.
type DB struct {
	*sql.DB
	driver string
}

// New wraps an already opened pool. It does not run migrations.
func New(sqlDB *sql.DB, driver string) *DB {
	return &DB{DB: sqlDB, driver: driver}
}

// Open connects to the backing store, applies pending migrations and
// configures the bounded connection pool.
func Open(opts Options) (*DB, error) {
	dsn, err := dataSourceName(opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}

	if err := Migrate(opts.Driver, dsn); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	sqlDB, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	switch opts.Driver {
	case DriverSQLite:
		// SQLite performs best with a single writer connection.
		sqlDB.SetMaxOpenConns(1)
	default:
		maxConns := opts.MaxConns
		if maxConns <= 0 {
			maxConns = defaultMaxConns
		}
		sqlDB.SetMaxOpenConns(maxConns)
		sqlDB.SetMaxIdleConns(maxConns / 2)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	slog.Info("database opened", "driver", opts.Driver)
	return New(sqlDB, opts.Driver), nil
}

// Driver returns the database/sql driver name the pool was opened with.
func (db *DB) Driver() string {
	return db.driver
}

// Migrate applies all pending schema migrations using a dedicated
// connection that is closed before returning.
func Migrate(driver, dsn string) error {
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}

	var drv migratedb.Driver
	switch driver {
	case DriverSQLite:
		drv, err = migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	case DriverPostgres:
		drv, err = migratepgx.WithInstance(sqlDB, &migratepgx.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("creating migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		drv.Close()
		return fmt.Errorf("reading embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, drv)
	if err != nil {
		drv.Close()
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading schema version: %w", err)
	}
	slog.Info("database schema up to date", "version", version, "dirty", dirty)
	return nil
}

// dataSourceName normalizes the configured DSN for the driver. For sqlite a
// bare path is turned into a file: URI with WAL, a busy timeout and foreign
// key enforcement enabled, and its parent directory is created.
func dataSourceName(driver, dsn string) (string, error) {
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			return "", errors.New("sqlite dsn is required")
		}
		if strings.HasPrefix(dsn, "file:") {
			return dsn, nil
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0750); err != nil {
			return "", fmt.Errorf("creating data directory: %w", err)
		}
		return fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dsn), nil
	case DriverPostgres:
		if dsn == "" {
			return "", errors.New("postgres dsn is required")
		}
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}

// rebind rewrites '?' placeholders into the driver's native style.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
