// Package store persists entity tables in a SQL database.
//
// SQLite (modernc.org/sqlite) is the default backend; PostgreSQL is reached
// through pgx's database/sql driver. Every value is read back as canonical
// text so the change detector can compare stored rows with batch rows.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/loadengine/internal/core"
)

// DefaultInsertBatchSize is the number of rows per multi-row INSERT.
const DefaultInsertBatchSize = 500

// MemoryPath opens a private in-memory SQLite database.
const MemoryPath = ":memory:"

// historyTable is reserved for run history.
const historyTable = "load_runs"

// Options configures Open.
type Options struct {
	Driver          string // sqlite (default) or postgres
	Path            string // SQLite database file or MemoryPath
	URL             string // PostgreSQL connection string
	InsertBatchSize int    // rows per INSERT; DefaultInsertBatchSize when zero
}

// Store implements core.Store over database/sql.
type Store struct {
	db        *sql.DB
	dialect   Dialect
	batchSize int
}

var _ core.Store = (*Store)(nil)

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	d, err := GetDialect(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := dataSourceName(d, opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.SQLDriver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d.Name(), err)
	}

	if d.Name() == DriverSQLite {
		// SQLite allows one writer; an in-memory database lives only as long
		// as its connection.
		db.SetMaxOpenConns(1)
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", d.Name(), err)
	}

	size := opts.InsertBatchSize
	if size <= 0 {
		size = DefaultInsertBatchSize
	}

	return &Store{db: db, dialect: d, batchSize: size}, nil
}

func dataSourceName(d Dialect, opts Options) (string, error) {
	switch d.Name() {
	case DriverPostgres:
		if opts.URL == "" {
			return "", errors.New("postgres driver requires a database URL")
		}
		return opts.URL, nil
	default:
		pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
		if opts.Path == "" || opts.Path == MemoryPath {
			return "file::memory:?" + pragmas, nil
		}
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&%s", opts.Path, pragmas), nil
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// EnsureSchema creates every entity table that does not exist yet, in
// dependency order, plus the run history table.
func (s *Store) EnsureSchema(ctx context.Context, reg *core.Registry) error {
	if _, err := reg.Lookup(historyTable); err == nil {
		return fmt.Errorf("entity name %s is reserved", historyTable)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range reg.All() {
		if _, err := tx.ExecContext(ctx, s.createTableSQL(e)); err != nil {
			return fmt.Errorf("create table %s: %w", e.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, s.createHistorySQL()); err != nil {
		return fmt.Errorf("create table %s: %w", historyTable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func (s *Store) createTableSQL(e *core.Entity) string {
	var defs []string
	for _, c := range e.Columns {
		def := quoteIdent(c.Name) + " " + s.dialect.ColumnType(c.Type)
		if c.Name == e.PrimaryKey {
			def += " NOT NULL PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	for _, fk := range e.ForeignKeys {
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			quoteIdent(fk.Column), quoteIdent(fk.Parent), quoteIdent(fk.ParentColumn)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quoteIdent(e.Name), strings.Join(defs, ",\n\t"))
}

// Snapshot implements core.Store.
func (s *Store) Snapshot(ctx context.Context, e *core.Entity) (core.Snapshot, error) {
	cols := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		cols[i] = quoteIdent(c.Name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), quoteIdent(e.Name))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", e.Name, err)
	}
	defer rows.Close()

	var out []core.Row
	values := make([]any, len(e.Columns))
	ptrs := make([]any, len(e.Columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", e.Name, err)
		}
		row := make(core.Row, len(e.Columns))
		for i, c := range e.Columns {
			row[c.Name] = storedText(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", e.Name, err)
	}

	return core.NewSnapshot(e, out), nil
}

// Begin implements core.Store.
func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &core.StoreError{Op: "begin", Constraint: s.dialect.Constraint(err), Err: err}
	}
	return &Tx{tx: tx, dialect: s.dialect, batchSize: s.batchSize}, nil
}

// storedText renders a scanned database value as text.
func storedText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return core.FormatNumber(x)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Equal(x.Truncate(24 * time.Hour)) {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// bindValue converts batch text into a typed bind parameter. Empty text
// binds NULL; text that does not parse as the column type binds unchanged
// and is left to the database to accept or reject.
func bindValue(t core.ColumnType, v string) any {
	if v == "" {
		return nil
	}
	switch t {
	case core.TypeInteger:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return int64(f)
		}
	case core.TypeReal:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return v
}
