// Package storage handles database connections, schema migrations, and node persistence.
// SQLite (modernc.org/sqlite) and MySQL (go-sql-driver/mysql) are supported.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // Driver mysql
	_ "modernc.org/sqlite"             // Driver sqlite
)

// Supported database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

var (
	// ErrNotFound is returned when no record matches the address.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when adding a node whose address is already registered.
	ErrExists = errors.New("already exists")

	// ErrReadOnly is returned by every write on a read-only repository.
	ErrReadOnly = errors.New("database is read-only")
)

// Options configure the database connection.
type Options struct {
	// Driver is "sqlite" or "mysql".
	Driver string

	// DSN is a file path for sqlite or a go-sql-driver DSN for mysql.
	DSN string

	// ReadOnly rejects all writes with ErrReadOnly.
	ReadOnly bool
}

// Repository manages the database connection.
type Repository struct {
	db       *sql.DB
	driver   string
	readOnly bool
}

// New opens the database, sets connection pool parameters, and runs migrations.
func New(opts Options) (*Repository, error) {
	driver := strings.ToLower(opts.Driver)
	if driver == "" {
		driver = DriverSQLite
	}

	var dsn string
	switch driver {
	case DriverSQLite:
		dsn = opts.DSN + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	case DriverMySQL:
		dsn = opts.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := runMigrations(db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db, driver: driver, readOnly: opts.ReadOnly}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// ReadOnly reports whether writes are rejected.
func (r *Repository) ReadOnly() bool {
	return r.readOnly
}

// Ping checks the connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) writable() error {
	if r.readOnly {
		return ErrReadOnly
	}
	return nil
}

// withTx runs fn in a transaction, rolling back when it fails.
func (r *Repository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
