package ledger

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// dialect captures the small SQL surface differences between the relational
// backends the ledger can run on. The ledger is written once against this
// interface and the DSN scheme picks the concrete dialect.
type dialect interface {
	name() string
	driverName() string
	createTableSQL() string
	rebind(query string) string
}

type sqliteDialect struct{}

func (sqliteDialect) name() string       { return "sqlite" }
func (sqliteDialect) driverName() string { return "sqlite" }
func (sqliteDialect) createTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS ledger_entries (
		insertion_order     INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id            TEXT NOT NULL,
		run_id              TEXT NOT NULL,
		stage_id            TEXT NOT NULL,
		from_state          TEXT NOT NULL,
		to_state            TEXT NOT NULL,
		timestamp_utc       TEXT NOT NULL,
		input_hash          TEXT NOT NULL,
		output_hash         TEXT NOT NULL,
		artifact_refs       TEXT NOT NULL,
		waiver_refs         TEXT NOT NULL,
		pipeline_version    TEXT NOT NULL,
		schema_version      TEXT NOT NULL,
		toolchain_version   TEXT NOT NULL,
		ruleset_versions    TEXT NOT NULL,
		trust_context       TEXT NOT NULL,
		trust_context_version TEXT NOT NULL,
		payload_hash        TEXT NOT NULL,
		previous_entry_hash TEXT NOT NULL,
		entry_hash          TEXT UNIQUE NOT NULL
	)`
}

type postgresDialect struct{}

func (postgresDialect) name() string       { return "postgres" }
func (postgresDialect) driverName() string { return "pgx" }
func (postgresDialect) createTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS ledger_entries (
		insertion_order     BIGSERIAL PRIMARY KEY,
		entry_id            TEXT NOT NULL,
		run_id              TEXT NOT NULL,
		stage_id            TEXT NOT NULL,
		from_state          TEXT NOT NULL,
		to_state            TEXT NOT NULL,
		timestamp_utc       TEXT NOT NULL,
		input_hash          TEXT NOT NULL,
		output_hash         TEXT NOT NULL,
		artifact_refs       TEXT NOT NULL,
		waiver_refs         TEXT NOT NULL,
		pipeline_version    TEXT NOT NULL,
		schema_version      TEXT NOT NULL,
		toolchain_version   TEXT NOT NULL,
		ruleset_versions    TEXT NOT NULL,
		trust_context       TEXT NOT NULL,
		trust_context_version TEXT NOT NULL,
		payload_hash        TEXT NOT NULL,
		previous_entry_hash TEXT NOT NULL,
		entry_hash          TEXT UNIQUE NOT NULL
	)`
}

type mysqlDialect struct{}

func (mysqlDialect) name() string       { return "mysql" }
func (mysqlDialect) driverName() string { return "mysql" }
func (mysqlDialect) createTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS ledger_entries (
		insertion_order     BIGINT AUTO_INCREMENT PRIMARY KEY,
		entry_id            VARCHAR(191) NOT NULL,
		run_id              VARCHAR(191) NOT NULL,
		stage_id            VARCHAR(191) NOT NULL,
		from_state          VARCHAR(32) NOT NULL,
		to_state            VARCHAR(32) NOT NULL,
		timestamp_utc       VARCHAR(64) NOT NULL,
		input_hash          VARCHAR(64) NOT NULL,
		output_hash         VARCHAR(64) NOT NULL,
		artifact_refs       TEXT NOT NULL,
		waiver_refs         TEXT NOT NULL,
		pipeline_version    VARCHAR(64) NOT NULL,
		schema_version      VARCHAR(64) NOT NULL,
		toolchain_version   VARCHAR(64) NOT NULL,
		ruleset_versions    TEXT NOT NULL,
		trust_context       TEXT NOT NULL,
		trust_context_version VARCHAR(8) NOT NULL,
		payload_hash        VARCHAR(64) NOT NULL,
		previous_entry_hash VARCHAR(64) NOT NULL,
		entry_hash          VARCHAR(64) UNIQUE NOT NULL
	)`
}

// openBackend opens the SQL database named by dsn and returns the open
// handle along with the dialect it was opened under. Scheme selects the
// backend:
//
//	sqlite:  a bare filesystem path, "file::memory:?cache=shared", or
//	         "sqlite://..."
//	postgres: "postgres://..." or "postgresql://..."
//	mysql:    "mysql://..." (the "mysql://" prefix is stripped before
//	          handing the DSN to the driver, which expects a bare DSN)
func openBackend(dsn string) (*sql.DB, dialect, error) {
	var d dialect
	driverDSN := dsn

	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		d = postgresDialect{}
	case strings.HasPrefix(dsn, "mysql://"):
		d = mysqlDialect{}
		driverDSN = strings.TrimPrefix(dsn, "mysql://")
	case strings.HasPrefix(dsn, "sqlite://"):
		d = sqliteDialect{}
		driverDSN = strings.TrimPrefix(dsn, "sqlite://")
	default:
		d = sqliteDialect{}
	}

	db, err := sql.Open(d.driverName(), driverDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: open %s backend: %w", d.name(), err)
	}

	if d.name() == "sqlite" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ledger: set WAL: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ledger: set busy_timeout: %w", err)
		}
	}

	if _, err := db.Exec(d.createTableSQL()); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ledger: create schema: %w", err)
	}
	if _, err := db.Exec(d.rebind(`CREATE INDEX IF NOT EXISTS idx_ledger_run_order ON ledger_entries(run_id, insertion_order)`)); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ledger: create run/order index: %w", err)
	}

	return db, d, nil
}

// rebind rewrites '?' placeholders in query into the dialect's own
// placeholder syntax (a no-op for sqlite and mysql, $1/$2/... for postgres).
func (sqliteDialect) rebind(query string) string   { return query }
func (mysqlDialect) rebind(query string) string     { return query }
func (postgresDialect) rebind(query string) string {
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
