package core

import (
	"context"
	"errors"
	"sort"
	"testing"
)

// =============================================================================
// Schema fixtures
// =============================================================================

func sellersEntity() Entity {
	return Entity{
		Name:       "sellers",
		PrimaryKey: "seller_id",
		Required:   []string{"seller_name"},
		Columns: []Column{
			{Name: "seller_id", Type: TypeInteger},
			{Name: "seller_name", Type: TypeText},
			{Name: "market", Type: TypeText},
			{Name: "credit_limit", Type: TypeReal},
		},
		KeyAlias: "id",
	}
}

func creditsEntity() Entity {
	return Entity{
		Name:       "credits",
		PrimaryKey: "credit_id",
		Required:   []string{"seller_id"},
		Columns: []Column{
			{Name: "credit_id", Type: TypeText},
			{Name: "seller_id", Type: TypeInteger},
			{Name: "amount", Type: TypeReal},
			{Name: "status", Type: TypeText},
		},
		ForeignKeys: []ForeignKey{{Column: "seller_id", Parent: "sellers", ParentColumn: "seller_id"}},
	}
}

func chatEntity() Entity {
	return Entity{
		Name:       "credit_chat",
		PrimaryKey: "chat_id",
		Required:   []string{"credit_id"},
		Columns: []Column{
			{Name: "chat_id", Type: TypeInteger},
			{Name: "credit_id", Type: TypeText},
			{Name: "message", Type: TypeText},
		},
		ForeignKeys:   []ForeignKey{{Column: "credit_id", Parent: "credits", ParentColumn: "credit_id"}},
		KeyAlias:      "id",
		SynthesizeKey: true,
	}
}

// testRegistry declares children before parents so ordering is exercised.
func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(chatEntity(), creditsEntity(), sellersEntity())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func mustLookup(t *testing.T, reg *Registry, name string) *Entity {
	t.Helper()
	e, err := reg.Lookup(name)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", name, err)
	}
	return e
}

func raw(header []string, records ...[]string) RawBatch {
	return RawBatch{Header: header, Records: records}
}

// =============================================================================
// In-memory store
// =============================================================================

var errInjected = errors.New("injected failure")

// memStore is a Store that enforces primary keys and foreign keys in memory.
// Writes are staged per transaction and applied on commit.
type memStore struct {
	reg    *Registry
	tables map[string]map[string]Row

	failSnapshot error
	failInsert   error
	failUpdate   error
	failCommit   error

	begins    int
	commits   int
	rollbacks int
}

func newMemStore(reg *Registry) *memStore {
	return &memStore{reg: reg, tables: make(map[string]map[string]Row)}
}

func (s *memStore) Snapshot(_ context.Context, e *Entity) (Snapshot, error) {
	if s.failSnapshot != nil {
		return nil, s.failSnapshot
	}
	return NewSnapshot(e, s.rows(e.Name)), nil
}

func (s *memStore) Begin(_ context.Context) (Tx, error) {
	s.begins++
	return &memTx{store: s}, nil
}

// rows returns the stored rows of an entity sorted by key.
func (s *memStore) rows(entity string) []Row {
	table := s.tables[entity]
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Row, 0, len(keys))
	for _, k := range keys {
		out = append(out, copyRow(table[k]))
	}
	return out
}

func (s *memStore) seed(e *Entity, rows ...Row) {
	if s.tables[e.Name] == nil {
		s.tables[e.Name] = make(map[string]Row)
	}
	for _, r := range rows {
		s.tables[e.Name][CanonicalKey(e, r)] = copyRow(r)
	}
}

type memWrite struct {
	entity *Entity
	row    Row
	update bool
}

type memTx struct {
	store  *memStore
	writes []memWrite
	done   bool
}

func (tx *memTx) Insert(_ context.Context, e *Entity, columns []string, rows []Row) error {
	if tx.store.failInsert != nil {
		return tx.store.failInsert
	}
	for _, r := range rows {
		if err := tx.checkForeignKeys(e, r); err != nil {
			return err
		}
		tx.writes = append(tx.writes, memWrite{entity: e, row: project(columns, r)})
	}
	return nil
}

func (tx *memTx) Update(_ context.Context, e *Entity, columns []string, rows []Row) error {
	if tx.store.failUpdate != nil {
		return tx.store.failUpdate
	}
	for _, r := range rows {
		if err := tx.checkForeignKeys(e, r); err != nil {
			return err
		}
		tx.writes = append(tx.writes, memWrite{entity: e, row: project(columns, r), update: true})
	}
	return nil
}

func (tx *memTx) checkForeignKeys(e *Entity, r Row) error {
	for _, fk := range e.ForeignKeys {
		v := r[fk.Column]
		if v == "" {
			continue
		}
		parent, _ := tx.store.reg.Lookup(fk.Parent)
		if _, ok := tx.store.tables[parent.Name][Canonical(parent.KeyColumn(), v)]; !ok {
			return &StoreError{Constraint: ConstraintForeignKey, Err: errors.New("FOREIGN KEY constraint failed")}
		}
	}
	return nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return errors.New("transaction already closed")
	}
	if tx.store.failCommit != nil {
		return tx.store.failCommit
	}
	tx.done = true
	tx.store.commits++
	for _, w := range tx.writes {
		name := w.entity.Name
		if tx.store.tables[name] == nil {
			tx.store.tables[name] = make(map[string]Row)
		}
		key := CanonicalKey(w.entity, w.row)
		merged := copyRow(tx.store.tables[name][key])
		if merged == nil || !w.update {
			merged = make(Row)
		}
		for k, v := range w.row {
			merged[k] = v
		}
		tx.store.tables[name][key] = merged
	}
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.store.rollbacks++
	return nil
}

func project(columns []string, r Row) Row {
	out := make(Row, len(columns))
	for _, c := range columns {
		out[c] = r[c]
	}
	return out
}

func copyRow(r Row) Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// =============================================================================
// Batch sources
// =============================================================================

type mapSource struct {
	batches map[string]RawBatch
	errs    map[string]error
}

func (m mapSource) Batch(entity string) (RawBatch, bool, error) {
	if err, ok := m.errs[entity]; ok {
		return RawBatch{}, false, err
	}
	b, ok := m.batches[entity]
	return b, ok, nil
}
