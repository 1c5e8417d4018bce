package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/flux/internal/ir"
	"github.com/roach88/flux/internal/queryir"
	"github.com/roach88/flux/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - no schema
// 1 - state_machines and states tables
const currentSchemaVersion = ir.SchemaVersion

// defaultReaders is the size of the read-only pool.
const defaultReaders = 4

// Access declares whether an operation reads or writes.
type Access int

const (
	// ReadOnly operations run on the query_only pool.
	ReadOnly Access = iota
	// ReadWrite operations run on the single writer connection.
	ReadWrite
)

// String returns "ro" or "rw".
func (a Access) String() string {
	if a == ReadWrite {
		return "rw"
	}
	return "ro"
}

// Clock supplies the wall time stamped into created_at and updated_at.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Store.
type Option func(*options)

type options struct {
	shard   ir.ShardID
	readers int
	logger  *slog.Logger
	clock   Clock
}

func defaultOptions() options {
	return options{
		readers: defaultReaders,
		logger:  slog.Default(),
		clock:   systemClock{},
	}
}

// WithShard tags the store with its shard id for errors and logs.
func WithShard(id ir.ShardID) Option {
	return func(o *options) { o.shard = id }
}

// WithReaders sets the size of the read-only pool.
func WithReaders(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the clock used for row timestamps.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// Store is the SQLite database of one shard.
type Store struct {
	shard    ir.ShardID
	path     string
	rw       *sql.DB
	ro       *sql.DB
	compiler *querysql.SQLCompiler
	logger   *slog.Logger
	clock    Clock
}

// Open creates or opens the shard database at path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// An in-memory path is opened as a named shared-cache database so the
// read-only pool sees the writer's data. Every ":memory:" open is a
// separate database.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	dsn := path
	if inMemory(path) {
		dsn = sharedMemoryDSN(path, o.shard)
	}

	rw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// SQLite supports one writer at a time.
	rw.SetMaxOpenConns(1)
	rw.SetMaxIdleConns(1)

	if err := rw.Ping(); err != nil {
		rw.Close()
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	if err := applyPragmas(rw); err != nil {
		rw.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(rw); err != nil {
		rw.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	ro, err := openReader(dsn, o.readers)
	if err != nil {
		rw.Close()
		return nil, err
	}

	o.logger.Debug("shard store opened", "shard", o.shard, "path", path, "readers", o.readers)

	return &Store{
		shard:    o.shard,
		path:     path,
		rw:       rw,
		ro:       ro,
		compiler: querysql.NewSQLCompiler(),
		logger:   o.logger,
		clock:    o.clock,
	}, nil
}

// openReader opens the read-only pool. query_only rejects any write issued
// through it, so a ReadOnly operation can never mutate the shard.
func openReader(path string, n int) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_query_only=1&_busy_timeout=5000"

	ro, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open reader %s: %w", path, err)
	}
	ro.SetMaxOpenConns(n)
	ro.SetMaxIdleConns(n)

	if err := ro.Ping(); err != nil {
		ro.Close()
		return nil, fmt.Errorf("connect reader %s: %w", path, err)
	}
	return ro, nil
}

func inMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

var memorySeq atomic.Uint64

// sharedMemoryDSN names an in-memory database and puts it in shared-cache
// mode. The database lives while any connection to it is open; the writer
// pool keeps one idle connection for that.
func sharedMemoryDSN(path string, shard ir.ShardID) string {
	if path == ":memory:" {
		return fmt.Sprintf("file:flux-%s-%d?mode=memory&cache=shared", shard, memorySeq.Add(1))
	}
	if !strings.Contains(path, "cache=shared") {
		return path + "&cache=shared"
	}
	return path
}

// Close closes both pools.
func (s *Store) Close() error {
	if s == nil || s.rw == nil {
		return nil
	}
	roErr := s.ro.Close()
	if err := s.rw.Close(); err != nil {
		return err
	}
	return roErr
}

// Shard returns the shard id of the store.
func (s *Store) Shard() ir.ShardID {
	return s.shard
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// DB returns the pool serving access.
func (s *Store) DB(access Access) *sql.DB {
	if access == ReadWrite {
		return s.rw
	}
	return s.ro
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// exec compiles and runs an update, returning the number of affected rows.
func (s *Store) exec(ctx context.Context, db execer, op string, q queryir.Query) (int64, error) {
	query, args, err := s.compiler.Compile(q)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storageErr(op, s.shard, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr(op, s.shard, err)
	}
	s.logger.Debug("exec", "op", op, "shard", s.shard, "rows", n)
	return n, nil
}

// query compiles and runs a select, calling scan for every row.
func (s *Store) query(ctx context.Context, db execer, op string, q queryir.Query, scan func(*sql.Rows) error) error {
	query, args, err := s.compiler.Compile(q)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return storageErr(op, s.shard, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return storageErr(op, s.shard, err)
		}
	}
	return storageErr(op, s.shard, rows.Err())
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	// Version 1 is the baseline created by schema.sql. Later migrations go here.

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
