package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "github.com/lib/pq"              // register "postgres"
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

const (
	legacyTable  = "dataset"
	currentTable = "dataset_extent"
)

// dialect isolates the SQL differences between the supported engines.
type dialect interface {
	name() string
	bind(n int) string
	tableExists(ctx context.Context, db *sql.DB, table string) (bool, error)
	ddl(s Schema) []string
	timeArg(t time.Time) any
}

func dialectFor(driverName string) (dialect, error) {
	switch strings.ToLower(driverName) {
	case "pgx", "postgres", "postgresql":
		return postgresDialect{}, nil
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) bind(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) tableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var ok bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&ok); err != nil {
		return false, fmt.Errorf("probe table %s: %w", table, err)
	}
	return ok, nil
}

func (postgresDialect) ddl(s Schema) []string {
	if s == SchemaLegacy {
		return []string{`CREATE TABLE IF NOT EXISTS dataset (
		id TEXT PRIMARY KEY,
		product SMALLINT NOT NULL DEFAULT 0,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		metadata JSONB NOT NULL
	)`}
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS dataset_extent (
		uuid TEXT PRIMARY KEY,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		product SMALLINT NOT NULL DEFAULT 0,
		time_begin TIMESTAMPTZ NOT NULL,
		time_end TIMESTAMPTZ NOT NULL,
		lat_begin DOUBLE PRECISION NOT NULL,
		lat_end DOUBLE PRECISION NOT NULL,
		lon_begin DOUBLE PRECISION NOT NULL,
		lon_end DOUBLE PRECISION NOT NULL,
		payload JSONB NOT NULL
	)`,
		`CREATE INDEX IF NOT EXISTS dataset_extent_time_idx ON dataset_extent (time_begin, time_end)`,
		`CREATE INDEX IF NOT EXISTS dataset_extent_lat_idx ON dataset_extent (lat_begin, lat_end)`,
	}
}

func (postgresDialect) timeArg(t time.Time) any { return t.UTC() }

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) bind(int) string { return "?" }

func (sqliteDialect) tableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("probe table %s: %w", table, err)
	}
	return n > 0, nil
}

func (sqliteDialect) ddl(s Schema) []string {
	if s == SchemaLegacy {
		return []string{`CREATE TABLE IF NOT EXISTS dataset (
		id TEXT PRIMARY KEY,
		product INTEGER NOT NULL DEFAULT 0,
		archived BOOLEAN NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL
	)`}
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS dataset_extent (
		uuid TEXT PRIMARY KEY,
		archived BOOLEAN NOT NULL DEFAULT 0,
		product INTEGER NOT NULL DEFAULT 0,
		time_begin TEXT NOT NULL,
		time_end TEXT NOT NULL,
		lat_begin REAL NOT NULL,
		lat_end REAL NOT NULL,
		lon_begin REAL NOT NULL,
		lon_end REAL NOT NULL,
		payload TEXT NOT NULL
	)`,
		`CREATE INDEX IF NOT EXISTS dataset_extent_time_idx ON dataset_extent (time_begin, time_end)`,
		`CREATE INDEX IF NOT EXISTS dataset_extent_lat_idx ON dataset_extent (lat_begin, lat_end)`,
	}
}

// sqliteTimeLayout is fixed width so text comparison orders instants.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func (sqliteDialect) timeArg(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) }

// sqlTime scans the timestamp representations of every dialect.
type sqlTime struct{ t time.Time }

func (s *sqlTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		s.t = v.UTC()
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	case nil:
		return fmt.Errorf("null timestamp")
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (s *sqlTime) parse(v string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			s.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparsable timestamp %q", v)
}

var _ driver.Valuer = jsonText(nil)

// jsonText binds a JSON document as text; both JSONB and TEXT columns accept it.
type jsonText []byte

func (j jsonText) Value() (driver.Value, error) { return string(j), nil }

// EnsureSchema creates the tables of s when missing. It is the building block
// of an out-of-band migration; running drivers keep their probed layout until
// told otherwise.
func EnsureSchema(ctx context.Context, db *sql.DB, driverName string, s Schema) error {
	d, err := dialectFor(driverName)
	if err != nil {
		return err
	}
	return ensureSchema(ctx, db, d, s)
}

func ensureSchema(ctx context.Context, db *sql.DB, d dialect, s Schema) error {
	for _, stmt := range d.ddl(s) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute %s ddl: %w", s, err)
		}
	}
	return nil
}
