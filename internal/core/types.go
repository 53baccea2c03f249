package core

import (
	"context"
	"time"
)

// ColumnType is the declared store type of an entity column.
// Values are always carried as text; the type only controls how the store
// declares the column and how values are canonicalized for comparison.
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeInteger ColumnType = "integer"
	TypeReal    ColumnType = "real"
	TypeDate    ColumnType = "date"
)

// Numeric reports whether values of this type are compared as numbers.
func (t ColumnType) Numeric() bool {
	return t == TypeInteger || t == TypeReal
}

// Column describes a single entity column.
type Column struct {
	Name string     `json:"name" yaml:"name"`
	Type ColumnType `json:"type" yaml:"type"`
}

// ForeignKey declares that Column references Parent.ParentColumn.
type ForeignKey struct {
	Column       string `json:"column" yaml:"column"`
	Parent       string `json:"parent" yaml:"parent"`
	ParentColumn string `json:"parent_column" yaml:"parent_column"`
}

// Entity is the immutable shape of one logical table.
type Entity struct {
	Name        string       // Table name, lower-case
	PrimaryKey  string       // Single-column primary key
	Required    []string     // Columns that must be present and non-empty
	Columns     []Column     // Canonical projection, in order; includes PrimaryKey
	ForeignKeys []ForeignKey // Parent references

	// KeyAlias is the generic upstream header (usually "id") renamed to
	// PrimaryKey when the batch carries no PrimaryKey column.
	KeyAlias string

	// SynthesizeKey allows the normalizer to number rows 1..n when the batch
	// has no key at all. Only for fact/event tables without an external key.
	SynthesizeKey bool
}

// ColumnNames returns the names of all columns in schema order.
func (e *Entity) ColumnNames() []string {
	names := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the column with the given name.
func (e *Entity) Column(name string) (Column, bool) {
	for _, c := range e.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether name is one of the entity's columns.
func (e *Entity) HasColumn(name string) bool {
	_, ok := e.Column(name)
	return ok
}

// KeyColumn returns the primary key column.
func (e *Entity) KeyColumn() Column {
	c, _ := e.Column(e.PrimaryKey)
	return c
}

// Row maps column names to unparsed text values.
// The owning batch's Columns slice defines the column order.
type Row map[string]string

// RawBatch is a tabular batch as read from a file: a header row plus records.
// Header names may be mixed-case or padded.
type RawBatch struct {
	Header  []string
	Records [][]string
}

// RejectedRow is an input row dropped by the normalizer.
type RejectedRow struct {
	Line   int    `json:"line"` // 1-based file line, header is line 1
	Reason string `json:"reason"`
}

// CanonicalBatch is a batch projected onto an entity's schema.
type CanonicalBatch struct {
	Entity   *Entity
	Columns  []string // Schema columns present in the batch, in schema order
	Rows     []Row
	Rejected []RejectedRow
	Fixes    []string // Auto-fixes applied (alias rename, key synthesis)
}

// Keys returns the primary key value of every row, in batch order.
func (b *CanonicalBatch) Keys() []string {
	keys := make([]string, len(b.Rows))
	for i, r := range b.Rows {
		keys[i] = r[b.Entity.PrimaryKey]
	}
	return keys
}

// ChangeSet partitions a canonical batch relative to the store.
type ChangeSet struct {
	New       []Row
	Updated   []Row
	Unchanged []Row

	// Duplicates holds earlier copies of a key that a later row in the
	// same batch supersedes. They are never written.
	Duplicates []Row
}

// Len returns the number of rows across all groups.
func (c ChangeSet) Len() int {
	return len(c.New) + len(c.Updated) + len(c.Unchanged) + len(c.Duplicates)
}

// Skipped returns the number of rows that will not be written.
func (c ChangeSet) Skipped() int {
	return len(c.Unchanged) + len(c.Duplicates)
}

// LoadResult is the per-entity outcome of one orchestration step.
// On failure Error is set and the counts are zero.
type LoadResult struct {
	Entity       string        `json:"entity"`
	Inserted     int           `json:"inserted"`
	Updated      int           `json:"updated"`
	Skipped      int           `json:"skipped"`
	Total        int           `json:"total"`
	Rejected     int           `json:"rejected,omitempty"`
	RejectedRows []RejectedRow `json:"rejected_rows,omitempty"`
	Error        string        `json:"error,omitempty"`
	FKWarnings   []string      `json:"fk_warnings,omitempty"`
	TimestampUTC string        `json:"timestamp_utc,omitempty"`
}

// OK reports whether the entity was committed.
func (r LoadResult) OK() bool {
	return r.Error == ""
}

// RunSummary aggregates the results of one orchestration run.
type RunSummary struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	ValidateFK bool         `json:"validate_fk"`
	Results    []LoadResult `json:"results"`
}

// Failed returns the number of entities whose load errored.
func (s RunSummary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if !r.OK() {
			n++
		}
	}
	return n
}

// Snapshot holds an entity's current store rows keyed by canonical primary key.
type Snapshot map[string]Row

// Store is the persistent table set the engine reads and writes.
type Store interface {
	// Snapshot reads every row of the entity's table as text.
	Snapshot(ctx context.Context, e *Entity) (Snapshot, error)

	// Begin opens a write transaction.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a store write transaction scoped to a single entity apply.
type Tx interface {
	// Insert appends rows; a key already present is overwritten (last write wins).
	Insert(ctx context.Context, e *Entity, columns []string, rows []Row) error

	// Update rewrites the non-key columns of existing rows matched by key.
	Update(ctx context.Context, e *Entity, columns []string, rows []Row) error

	Commit() error
	Rollback() error
}

// Source supplies raw batches by entity name.
type Source interface {
	// Batch returns the entity's batch, or ok=false when none exists.
	Batch(entity string) (raw RawBatch, ok bool, err error)
}
