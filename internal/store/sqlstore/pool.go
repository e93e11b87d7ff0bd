// Package sqlstore implements store.Store over either an embedded SQLite
// file database or a networked Postgres database, selected by the scheme of
// the configured database URL.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

const defaultSQLitePath = "./data/scheduler.db"

// Engine identifies which database backs a SQLStore.
type Engine string

const (
	EngineSQLite   Engine = "sqlite"
	EnginePostgres Engine = "postgres"
)

// SQLStore implements store.Store with a shared *sqlx.DB pool. A single
// connection pool is safe to share between the tick loop's background
// goroutine and the control RPC's request handlers.
type SQLStore struct {
	db     *sqlx.DB
	engine Engine
}

// Open resolves databaseURL's scheme to an engine, connects, and applies
// schema migrations. An empty databaseURL defaults to a local embedded
// database at ./data/scheduler.db.
func Open(databaseURL string) (*SQLStore, error) {
	engine, dsn := resolveEngine(databaseURL)

	var driverName string
	switch engine {
	case EngineSQLite:
		driverName = "sqlite"
	case EnginePostgres:
		driverName = "pgx"
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", engine, err)
	}

	switch engine {
	case EngineSQLite:
		// A single writer connection avoids "database is locked" errors
		// under concurrent access from the tick loop and RPC handlers;
		// modernc.org/sqlite serializes safely behind one connection.
		sqlDB.SetMaxOpenConns(1)
	case EnginePostgres:
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", engine, err)
	}

	db := sqlx.NewDb(sqlDB, driverName)

	if err := migrateSchema(db, engine); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", engine, err)
	}

	slog.Info("store connected", "engine", engine)
	return &SQLStore{db: db, engine: engine}, nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Engine reports which backing database this store uses.
func (s *SQLStore) Engine() Engine { return s.engine }

func resolveEngine(databaseURL string) (Engine, string) {
	if databaseURL == "" {
		return EngineSQLite, defaultSQLitePath
	}
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return EnginePostgres, databaseURL
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return EngineSQLite, strings.TrimPrefix(databaseURL, "sqlite://")
	default:
		return EngineSQLite, databaseURL
	}
}

// migrateSchema creates/extends the schema. Postgres uses golang-migrate
// against the embedded migration set; SQLite applies the additive,
// idempotent statements directly, since golang-migrate ships no first-party
// driver for the pure-Go modernc.org/sqlite engine used here.
func migrateSchema(db *sqlx.DB, engine Engine) error {
	switch engine {
	case EnginePostgres:
		return migratePostgres(db)
	case EngineSQLite:
		return migrateSQLite(db)
	default:
		return fmt.Errorf("unsupported engine %q", engine)
	}
}

func migratePostgres(db *sqlx.DB) error {
	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("load migration source: %w", err)
	}
	driver, err := migratepgx.WithInstance(db.DB, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx", driver)
	if err != nil {
		return fmt.Errorf("migration runner: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	label TEXT NOT NULL DEFAULT 'Untitled',
	server TEXT NOT NULL,
	tool TEXT NOT NULL,
	args_json TEXT NOT NULL DEFAULT '{}',
	interval_seconds INTEGER NOT NULL DEFAULT 60,
	enabled INTEGER NOT NULL DEFAULT 1,
	next_run_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_next_run_at ON jobs (next_run_at);

-- No foreign key on job_id: deleting a job keeps its historical runs,
-- so run rows may reference a job that no longer exists.
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	ok INTEGER,
	result_json TEXT,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_job_id ON runs (job_id);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at);

CREATE TABLE IF NOT EXISTS audit_entries (
	id TEXT PRIMARY KEY,
	server TEXT NOT NULL,
	tool TEXT NOT NULL,
	args_json TEXT NOT NULL DEFAULT '{}',
	ok INTEGER NOT NULL,
	result_preview TEXT NOT NULL DEFAULT '',
	error TEXT,
	error_type TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT 'unknown',
	request_id TEXT NOT NULL DEFAULT '',
	session_id TEXT,
	started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	finished_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_audit_started_at ON audit_entries (started_at);
CREATE INDEX IF NOT EXISTS idx_audit_server_tool ON audit_entries (server, tool);
`

func migrateSQLite(db *sqlx.DB) error {
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return err
	}
	return addMissingColumns(ctx, db, "audit_entries", []sqliteColumn{
		{name: "error_type", ddl: "TEXT"},
		{name: "source", ddl: "TEXT NOT NULL DEFAULT 'unknown'"},
		{name: "request_id", ddl: "TEXT NOT NULL DEFAULT ''"},
		{name: "session_id", ddl: "TEXT"},
		{name: "started_at", ddl: "DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP"},
		{name: "finished_at", ddl: "DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP"},
	})
}

type sqliteColumn struct {
	name string
	ddl  string
}

// addMissingColumns applies an additive schema migration against a
// pre-existing SQLite table: for each column that PRAGMA table_info does
// not already report, it runs ALTER TABLE ... ADD COLUMN. No existing data
// is touched or dropped, satisfying the "tolerates the presence of a
// previous schema" requirement for the embedded engine (golang-migrate has
// no first-party SQLite driver for modernc.org/sqlite, so this step is
// hand-rolled rather than expressed as a migration file).
func addMissingColumns(ctx context.Context, db *sqlx.DB, table string, cols []sqliteColumn) error {
	rows, err := db.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s schema: %w", table, err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("scan table_info: %w", err)
		}
		existing[name] = true
	}
	rows.Close()

	for _, col := range cols {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.ddl)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, col.name, err)
		}
	}
	return nil
}
