package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/JonMunkholm/loadengine/internal/core"
)

// Tx is a write transaction. It implements core.Tx.
type Tx struct {
	tx        *sql.Tx
	dialect   Dialect
	batchSize int
}

var _ core.Tx = (*Tx)(nil)

// Insert writes rows with multi-row upserts. Rows are split into chunks that
// never repeat a key, so a later duplicate overwrites an earlier one.
func (t *Tx) Insert(ctx context.Context, e *core.Entity, columns []string, rows []core.Row) error {
	if len(rows) == 0 {
		return nil
	}
	cols, types := columnTypes(e, columns)

	size := t.batchSize
	if limit := t.dialect.MaxParams() / len(cols); limit < size {
		size = limit
	}
	if size < 1 {
		size = 1
	}

	for _, chunk := range chunkUnique(e, rows, size) {
		query := upsertSQL(t.dialect, e, cols, len(chunk))
		args := make([]any, 0, len(chunk)*len(cols))
		for _, r := range chunk {
			for i, c := range cols {
				args = append(args, bindValue(types[i], r[c]))
			}
		}
		if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
			return t.storeError(e, "insert", err)
		}
	}
	return nil
}

// Update rewrites the non-key columns of each row with one prepared statement.
func (t *Tx) Update(ctx context.Context, e *core.Entity, columns []string, rows []core.Row) error {
	if len(rows) == 0 {
		return nil
	}
	cols, types := columnTypes(e, columns)

	var sets []string
	var setCols []int
	for i, c := range cols {
		if c == e.PrimaryKey {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", quoteIdent(c), t.dialect.Placeholder(len(sets)+1)))
		setCols = append(setCols, i)
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		quoteIdent(e.Name), strings.Join(sets, ", "),
		quoteIdent(e.PrimaryKey), t.dialect.Placeholder(len(sets)+1))

	stmt, err := t.tx.PrepareContext(ctx, query)
	if err != nil {
		return t.storeError(e, "update", err)
	}
	defer stmt.Close()

	key := e.KeyColumn()
	for _, r := range rows {
		args := make([]any, 0, len(setCols)+1)
		for _, i := range setCols {
			args = append(args, bindValue(types[i], r[cols[i]]))
		}
		args = append(args, bindValue(key.Type, r[e.PrimaryKey]))
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return t.storeError(e, "update", err)
		}
	}
	return nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return &core.StoreError{Op: "commit", Constraint: t.dialect.Constraint(err), Err: err}
	}
	return nil
}

// Rollback aborts the transaction. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return err
	}
	return nil
}

func (t *Tx) storeError(e *core.Entity, op string, err error) error {
	return &core.StoreError{
		Entity:     e.Name,
		Op:         op,
		Constraint: t.dialect.Constraint(err),
		Err:        err,
	}
}

// columnTypes returns the schema columns among columns, in the given order,
// with their types. The primary key is always included.
func columnTypes(e *core.Entity, columns []string) ([]string, []core.ColumnType) {
	cols := make([]string, 0, len(columns)+1)
	types := make([]core.ColumnType, 0, len(columns)+1)
	hasKey := false
	for _, name := range columns {
		c, ok := e.Column(name)
		if !ok {
			continue
		}
		if name == e.PrimaryKey {
			hasKey = true
		}
		cols = append(cols, c.Name)
		types = append(types, c.Type)
	}
	if !hasKey {
		key := e.KeyColumn()
		cols = append([]string{key.Name}, cols...)
		types = append([]core.ColumnType{key.Type}, types...)
	}
	return cols, types
}

// chunkUnique splits rows into chunks of at most size rows, starting a new
// chunk whenever a key would repeat within the current one.
func chunkUnique(e *core.Entity, rows []core.Row, size int) [][]core.Row {
	var chunks [][]core.Row
	var current []core.Row
	seen := make(map[string]bool, size)

	for _, r := range rows {
		key := core.CanonicalKey(e, r)
		if len(current) == size || seen[key] {
			chunks = append(chunks, current)
			current = nil
			seen = make(map[string]bool, size)
		}
		current = append(current, r)
		seen[key] = true
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// upsertSQL builds INSERT ... VALUES (...), (...) ON CONFLICT for n rows.
func upsertSQL(d Dialect, e *core.Entity, cols []string, n int) string {
	quoted := make([]string, len(cols))
	var updates []string
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		if c != e.PrimaryKey {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", quoted[i], quoted[i]))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", quoteIdent(e.Name), strings.Join(quoted, ", "))
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		b.WriteString(placeholders(d, i*len(cols)+1, len(cols)))
		b.WriteString(")")
	}
	fmt.Fprintf(&b, " ON CONFLICT (%s) DO ", quoteIdent(e.PrimaryKey))
	if len(updates) == 0 {
		b.WriteString("NOTHING")
	} else {
		b.WriteString("UPDATE SET ")
		b.WriteString(strings.Join(updates, ", "))
	}
	return b.String()
}
