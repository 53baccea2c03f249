package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/loadengine/internal/core"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Dialect captures the SQL differences between supported databases.
type Dialect interface {
	// Name returns the driver name used in Options.
	Name() string

	// SQLDriver returns the database/sql driver name.
	SQLDriver() string

	// Placeholder returns the bind marker for the 1-based parameter index.
	Placeholder(index int) string

	// ColumnType maps an entity column type to a column definition type.
	ColumnType(t core.ColumnType) string

	// MaxParams is the bind parameter limit of a single statement.
	MaxParams() int

	// Constraint classifies a driver error into one of the core.Constraint*
	// kinds, or "" when the error is not a constraint violation.
	Constraint(err error) string
}

// GetDialect returns the dialect for the given driver name.
func GetDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite, "sqlite3":
		return &SQLiteDialect{}, nil
	case DriverPostgres, "postgresql", "pgx":
		return &PostgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// =============================================================================
// SQLite
// =============================================================================

// SQLiteDialect targets modernc.org/sqlite.
type SQLiteDialect struct{}

var _ Dialect = (*SQLiteDialect)(nil)

func (d *SQLiteDialect) Name() string      { return DriverSQLite }
func (d *SQLiteDialect) SQLDriver() string { return "sqlite" }
func (d *SQLiteDialect) MaxParams() int    { return 32766 }

func (d *SQLiteDialect) Placeholder(index int) string { return "?" }

func (d *SQLiteDialect) ColumnType(t core.ColumnType) string {
	switch t {
	case core.TypeInteger:
		return "INTEGER"
	case core.TypeReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (d *SQLiteDialect) Constraint(err error) string {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return ""
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return core.ConstraintForeignKey
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return core.ConstraintUnique
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return core.ConstraintNotNull
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		return core.ConstraintCheck
	case sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_CONSTRAINT_DATATYPE:
		return core.ConstraintDatatype
	}
	return ""
}

// =============================================================================
// PostgreSQL
// =============================================================================

// PostgresDialect targets PostgreSQL through pgx's database/sql driver.
type PostgresDialect struct{}

var _ Dialect = (*PostgresDialect)(nil)

func (d *PostgresDialect) Name() string      { return DriverPostgres }
func (d *PostgresDialect) SQLDriver() string { return "pgx" }
func (d *PostgresDialect) MaxParams() int    { return 65535 }

func (d *PostgresDialect) Placeholder(index int) string {
	return "$" + strconv.Itoa(index)
}

func (d *PostgresDialect) ColumnType(t core.ColumnType) string {
	switch t {
	case core.TypeInteger:
		return "BIGINT"
	case core.TypeReal:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

// SQLSTATE codes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgForeignKeyViolation    = "23503"
	pgUniqueViolation        = "23505"
	pgNotNullViolation       = "23502"
	pgCheckViolation         = "23514"
	pgInvalidTextRepr        = "22P02"
	pgNumericValueOutOfRange = "22003"
)

func (d *PostgresDialect) Constraint(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ""
	}
	switch pgErr.Code {
	case pgForeignKeyViolation:
		return core.ConstraintForeignKey
	case pgUniqueViolation:
		return core.ConstraintUnique
	case pgNotNullViolation:
		return core.ConstraintNotNull
	case pgCheckViolation:
		return core.ConstraintCheck
	case pgInvalidTextRepr, pgNumericValueOutOfRange:
		return core.ConstraintDatatype
	}
	return ""
}

// quoteIdent quotes a table or column name. Both dialects use ANSI quoting.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// placeholders returns n comma-separated markers starting at index start.
func placeholders(d Dialect, start, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Placeholder(start + i))
	}
	return b.String()
}
