// Package database is the local history store: a single SQLite file holding
// transcription records and opt-in telemetry events in two independent
// tables.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database. Used by tests.
const MemoryPath = ":memory:"

type DB struct {
	SQL  *sql.DB
	path string
	log  zerolog.Logger
}

// StorageError wraps any failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// ErrNotFound is returned by single-record lookups.
var ErrNotFound = errors.New("record not found")

// Open opens (creating if needed) the history file at path. SQLite allows a
// single writer, so the pool is capped at one connection.
func Open(ctx context.Context, path string, log zerolog.Logger) (*DB, error) {
	dsn := path
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, storageErr("create data dir", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, storageErr("ping", err)
	}

	log.Info().
		Str("path", path).
		Msg("history database opened")

	return &DB{SQL: sqlDB, path: path, log: log}, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.SQL.PingContext(ctx)
}

func (db *DB) Close() error {
	db.log.Info().Msg("closing history database")
	return db.SQL.Close()
}
