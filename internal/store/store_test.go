package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/loadengine/internal/core"
	"github.com/JonMunkholm/loadengine/internal/core/tables"
)

// =============================================================================
// Helpers
// =============================================================================

func newTestStore(t *testing.T, reg *core.Registry) *Store {
	t.Helper()
	ctx := context.Background()

	st, err := Open(ctx, Options{Path: filepath.Join(t.TempDir(), "load.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.EnsureSchema(ctx, reg); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return st
}

func batchOf(header string, records ...string) core.RawBatch {
	b := core.RawBatch{Header: strings.Split(header, ",")}
	for _, r := range records {
		b.Records = append(b.Records, strings.Split(r, ","))
	}
	return b
}

func loadOne(t *testing.T, o *core.Orchestrator, entity string, raw core.RawBatch) core.LoadResult {
	t.Helper()
	res, err := o.LoadOne(context.Background(), entity, raw)
	if err != nil {
		t.Fatalf("LoadOne(%s): %v", entity, err)
	}
	return res
}

func snapshot(t *testing.T, st *Store, reg *core.Registry, entity string) core.Snapshot {
	t.Helper()
	e, err := reg.Lookup(entity)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := st.Snapshot(context.Background(), e)
	if err != nil {
		t.Fatalf("Snapshot(%s): %v", entity, err)
	}
	return snap
}

type counts struct{ inserted, updated, skipped int }

func countsOf(r core.LoadResult) counts {
	return counts{r.Inserted, r.Updated, r.Skipped}
}

type mapSource map[string]core.RawBatch

func (m mapSource) Batch(entity string) (core.RawBatch, bool, error) {
	b, ok := m[entity]
	return b, ok, nil
}

// failingUpdateStore lets inserts reach the database and then fails the
// update phase of the same transaction.
type failingUpdateStore struct{ *Store }

func (s failingUpdateStore) Begin(ctx context.Context) (core.Tx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return failingUpdateTx{tx}, nil
}

type failingUpdateTx struct{ core.Tx }

func (failingUpdateTx) Update(context.Context, *core.Entity, []string, []core.Row) error {
	return errors.New("injected update failure")
}

// =============================================================================
// Open / EnsureSchema
// =============================================================================

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{name: "unknown driver", opts: Options{Driver: "oracle"}, wantErr: "unsupported database driver"},
		{name: "postgres without url", opts: Options{Driver: "postgres"}, wantErr: "requires a database URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Open error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestOpen_Memory(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, Options{Path: MemoryPath})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	reg := tables.Credit()
	if err := st.EnsureSchema(ctx, reg); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	o := core.NewOrchestrator(reg, st, nil)
	if got := countsOf(loadOne(t, o, "senior_account_managers", batchOf("sam_id,sam_name", "1,Ada"))); got != (counts{1, 0, 0}) {
		t.Errorf("counts = %+v, want 1/0/0", got)
	}
	if n := len(snapshot(t, st, reg, "senior_account_managers")); n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestEnsureSchema_Repeatable(t *testing.T) {
	reg := tables.Credit()
	st := newTestStore(t, reg)

	if err := st.EnsureSchema(context.Background(), reg); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}
}

func TestEnsureSchema_ReservedName(t *testing.T) {
	reg := core.MustRegistry(core.Entity{
		Name:       "load_runs",
		PrimaryKey: "id",
		Columns:    []core.Column{{Name: "id"}},
	})
	st, err := Open(context.Background(), Options{Path: MemoryPath})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if err := st.EnsureSchema(context.Background(), reg); err == nil || !strings.Contains(err.Error(), "reserved") {
		t.Errorf("EnsureSchema error = %v, want reserved name", err)
	}
}

// =============================================================================
// Load behavior against SQLite
// =============================================================================

func TestStore_SellersScenario(t *testing.T) {
	reg := tables.Credit()
	st := newTestStore(t, reg)
	o := core.NewOrchestrator(reg, st, nil)

	header := "seller_id,seller_name,market"
	steps := []struct {
		name   string
		record string
		want   counts
	}{
		{name: "first load inserts", record: "1,Acme,GCC", want: counts{1, 0, 0}},
		{name: "same batch skips", record: "1,Acme,GCC", want: counts{0, 0, 1}},
		{name: "changed market updates", record: "1,Acme,AFRQ", want: counts{0, 1, 0}},
	}
	for _, step := range steps {
		res := loadOne(t, o, "sellers", batchOf(header, step.record))
		if res.Error != "" {
			t.Fatalf("%s: error %s", step.name, res.Error)
		}
		if got := countsOf(res); got != step.want {
			t.Errorf("%s: counts = %+v, want %+v", step.name, got, step.want)
		}
	}

	snap := snapshot(t, st, reg, "sellers")
	if got := snap["1"]["market"]; got != "AFRQ" {
		t.Errorf("market = %q, want AFRQ", got)
	}
}

func TestStore_Idempotent(t *testing.T) {
	reg := tables.Credit()
	st := newTestStore(t, reg)
	o := core.NewOrchestrator(reg, st, nil)

	src := mapSource{
		"sellers": batchOf("seller_id,seller_name,market,credit_limit", "1,Acme,GCC,500", "2,Beta,EU,250.5"),
		"credits": batchOf("credit_id,seller_id,amount,status", "10,1,100,open", "11,2,75.25,closed"),
	}

	first := o.RunAll(context.Background(), src, core.RunOptions{})
	if first.Failed() != 0 {
		t.Fatalf("first run failed: %+v", first.Results)
	}
	rowsBefore := snapshot(t, st, reg, "credits")

	second := o.RunAll(context.Background(), src, core.RunOptions{ValidateFK: true})
	for _, r := range second.Results {
		if r.Inserted != 0 || r.Updated != 0 || r.Skipped != r.Total {
			t.Errorf("%s: second run = %d/%d/%d of %d, want all skipped", r.Entity, r.Inserted, r.Updated, r.Skipped, r.Total)
		}
		if len(r.FKWarnings) != 0 {
			t.Errorf("%s: unexpected fk warnings %v", r.Entity, r.FKWarnings)
		}
	}

	if diff := cmp.Diff(rowsBefore, snapshot(t, st, reg, "credits")); diff != "" {
		t.Errorf("credits changed on re-run (-before +after):\n%s", diff)
	}
}

func TestStore_CanonicalNumbers(t *testing.T) {
	reg := tables.Credit()
	st := newTestStore(t, reg)
	o := core.NewOrchestrator(reg, st, nil)

	header := "seller_id,seller_name,market,credit_limit,avg_weekly_leads"
	loadOne(t, o, "sellers", batchOf(header, "7,Acme,GCC,500,12"))

	res := loadOne(t, o, "sellers", batchOf(header, "7.0,Acme,GCC,500.0,12.0"))
	if got := countsOf(res); got != (counts{0, 0, 1}) {
		t.Errorf("counts = %+v, want 0/0/1 (numerically equal values)", got)
	}

	snap := snapshot(t, st, reg, "sellers")
	want := core.Row{
		"seller_id":        "7",
		"seller_name":      "Acme",
		"market":           "GCC",
		"signup_date":      "",
		"credit_limit":     "500",
		"avg_weekly_leads": "12",
		"initial_wallet":   "",
		"am_id":            "",
		"sam_id":           "",
	}
	if diff := cmp.Diff(want, snap["7"]); diff != "" {
		t.Errorf("stored row mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_ChildBeforeParentRejected(t *testing.T) {
	reg := tables.Credit()
	st := newTestStore(t, reg)
	o := core.NewOrchestrator(reg, st, nil)

	credits := batchOf("credit_id,seller_id,amount", "10,1,100")

	res := loadOne(t, o, "credits", credits)
	if res.Error == "" {
		t.Fatal("credits loaded before sellers without error")
	}
	if !strings.Contains(res.Error, "foreign_key") {
		t.Errorf("error %q does not name the foreign key constraint", res.Error)
	}
	if len(snapshot(t, st, reg, "credits")) != 0 {
		t.Error("rejected credits batch left rows behind")
	}

	loadOne(t, o, "sellers", batchOf("seller_id,seller_name,market", "1,Acme,GCC"))
	if res := loadOne(t, o, "credits", credits); res.Error != "" || res.Inserted != 1 {
		t.Errorf("credits after sellers = %+v, want 1 inserted", res)
	}
}

func TestStore_ForeignKeyStoreError(t *testing.T) {
	reg := tables.Credit()
	st := newTestStore(t, reg)
	e, _ := reg.Lookup("credits")

	tx, err := st.Begin(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()

	err = tx.Insert(context.Background(), e, []string{"credit_id", "seller_id", "amount"},
		[]core.Row{{"credit_id": "1", "seller_id": "99", "amount": "5"}})
	if !core.IsConstraint(err, core.ConstraintForeignKey) {
		t.Fatalf("Insert error = %v, want foreign key StoreError", err)
	}
	if !errors.Is(err, core.ErrStore) {
		t.Errorf("error does not match ErrStore")
	}
}

func TestStore_Atomicity(t *testing.T) {
	reg := tables.Credit()
	st := newTestStore(t, reg)
	header := "seller_id,seller_name,market"

	loadOne(t, core.NewOrchestrator(reg, st, nil), "sellers", batchOf(header, "1,Acme,GCC"))
	before := snapshot(t, st, reg, "sellers")

	o := core.NewOrchestrator(reg, failingUpdateStore{st}, nil)
	res := loadOne(t, o, "sellers", batchOf(header, "1,Acme,AFRQ", "2,Beta,EU"))
	if res.Error == "" {
		t.Fatal("expected a failed load")
	}
	if got := countsOf(res); got != (counts{}) {
		t.Errorf("failed load counts = %+v, want zero", got)
	}

	if diff := cmp.Diff(before, snapshot(t, st, reg, "sellers")); diff != "" {
		t.Errorf("store changed after failed load (-before +after):\n%s", diff)
	}
}

func TestStore_DuplicateKeysLastWins(t *testing.T) {
	const header = "seller_id,seller_name,market"

	tests := []struct {
		name       string
		existing   []string
		records    []string
		want       counts
		wantName   string
		wantMarket string
	}{
		{
			name:       "empty store",
			records:    []string{"1,First,GCC", "2,Other,EU", "1,Second,GCC"},
			want:       counts{inserted: 2, skipped: 1},
			wantName:   "Second",
			wantMarket: "GCC",
		},
		{
			name:       "changed copy then unchanged copy",
			existing:   []string{"1,A,GCC"},
			records:    []string{"1,A,AFRQ", "1,A,GCC"},
			want:       counts{skipped: 2},
			wantName:   "A",
			wantMarket: "GCC",
		},
		{
			name:       "unchanged copy then changed copy",
			existing:   []string{"1,A,GCC"},
			records:    []string{"1,A,GCC", "1,A,AFRQ"},
			want:       counts{updated: 1, skipped: 1},
			wantName:   "A",
			wantMarket: "AFRQ",
		},
		{
			name:       "canonical duplicate of stored key",
			existing:   []string{"1,A,GCC"},
			records:    []string{"1.0,B,EU", "1,C,EU"},
			want:       counts{updated: 1, skipped: 1},
			wantName:   "C",
			wantMarket: "EU",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := tables.Credit()
			st := newTestStore(t, reg)
			o := core.NewOrchestrator(reg, st, nil)

			if len(tt.existing) > 0 {
				if res := loadOne(t, o, "sellers", batchOf(header, tt.existing...)); res.Error != "" {
					t.Fatalf("seed load error: %s", res.Error)
				}
			}

			res := loadOne(t, o, "sellers", batchOf(header, tt.records...))
			if res.Error != "" {
				t.Fatalf("load error: %s", res.Error)
			}
			if got := countsOf(res); got != tt.want {
				t.Errorf("counts = %+v, want %+v", got, tt.want)
			}
			if res.Total != len(tt.records) {
				t.Errorf("total = %d, want %d", res.Total, len(tt.records))
			}

			snap := snapshot(t, st, reg, "sellers")
			if got := snap["1"]["seller_name"]; got != tt.wantName {
				t.Errorf("seller_name = %q, want %q", got, tt.wantName)
			}
			if got := snap["1"]["market"]; got != tt.wantMarket {
				t.Errorf("market = %q, want %q", got, tt.wantMarket)
			}
		})
	}
}

func TestStore_LargeIntegerKeysDistinct(t *testing.T) {
	reg := tables.Credit()
	st := newTestStore(t, reg)
	o := core.NewOrchestrator(reg, st, nil)
	const header = "seller_id,seller_name,market"

	if res := loadOne(t, o, "sellers", batchOf(header, "9007199254740992,A,GCC")); res.Error != "" {
		t.Fatalf("seed load error: %s", res.Error)
	}
	res := loadOne(t, o, "sellers", batchOf(header, "9007199254740992,A,GCC", "9007199254740993,B,GCC"))
	if res.Error != "" {
		t.Fatalf("load error: %s", res.Error)
	}
	if got := countsOf(res); got != (counts{inserted: 1, skipped: 1}) {
		t.Errorf("counts = %+v, want 1 inserted and 1 skipped", got)
	}

	snap := snapshot(t, st, reg, "sellers")
	if len(snap) != 2 {
		t.Fatalf("rows = %d, want 2", len(snap))
	}
	if got := snap["9007199254740993"]["seller_name"]; got != "B" {
		t.Errorf("seller 9007199254740993 name = %q, want B", got)
	}
}

func TestStore_SmallInsertBatches(t *testing.T) {
	ctx := context.Background()
	reg := tables.Credit()

	st, err := Open(ctx, Options{Path: MemoryPath, InsertBatchSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx, reg); err != nil {
		t.Fatal(err)
	}

	raw := batchOf("sam_id,sam_name", "1,A", "2,B", "3,C", "4,D", "5,E")
	res := loadOne(t, core.NewOrchestrator(reg, st, nil), "senior_account_managers", raw)
	if res.Inserted != 5 {
		t.Errorf("inserted = %d, want 5", res.Inserted)
	}
	if n := len(snapshot(t, st, reg, "senior_account_managers")); n != 5 {
		t.Errorf("rows = %d, want 5", n)
	}
}

// =============================================================================
// History
// =============================================================================

func TestStore_RunHistory(t *testing.T) {
	ctx := context.Background()
	reg := tables.Credit()
	st := newTestStore(t, reg)

	o := core.NewOrchestrator(reg, st, nil)
	clock := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	o.Now = func() time.Time { clock = clock.Add(time.Second); return clock }
	ids := []string{"run-a", "run-b"}
	o.NewRunID = func() string { id := ids[0]; ids = ids[1:]; return id }

	first := o.RunAll(ctx, mapSource{
		"sellers": batchOf("seller_id,seller_name,market", "1,Acme,GCC"),
		"credits": batchOf("credit_id,seller_id,amount", "10,1,100", "11,9,50"),
	}, core.RunOptions{ValidateFK: true})
	second := o.RunAll(ctx, mapSource{
		"sellers": batchOf("seller_id,seller_name,market", "1,Acme,AFRQ"),
	}, core.RunOptions{})

	for _, run := range []core.RunSummary{first, second} {
		if err := st.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun(%s): %v", run.RunID, err)
		}
	}

	runs, err := st.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-b" || runs[1].RunID != "run-a" {
		t.Fatalf("runs = %+v, want run-b then run-a", runs)
	}

	if diff := cmp.Diff(first.Results, runs[1].Results); diff != "" {
		t.Errorf("run-a results mismatch (-saved +loaded):\n%s", diff)
	}
	if !runs[1].ValidateFK || runs[0].ValidateFK {
		t.Errorf("validate_fk flags = %v, %v", runs[1].ValidateFK, runs[0].ValidateFK)
	}
	if !runs[1].StartedAt.Equal(first.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", runs[1].StartedAt, first.StartedAt)
	}

	latest, err := st.Runs(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 1 || latest[0].RunID != "run-b" {
		t.Errorf("Runs(1) = %+v, want run-b only", latest)
	}
}

func TestStore_SaveRunEmpty(t *testing.T) {
	st := newTestStore(t, tables.Credit())
	if err := st.SaveRun(context.Background(), core.RunSummary{RunID: "empty"}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	runs, err := st.Runs(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("runs = %+v, want none", runs)
	}
}

func TestStore_RowCounts(t *testing.T) {
	ctx := context.Background()
	reg := tables.Credit()
	st := newTestStore(t, reg)
	o := core.NewOrchestrator(reg, st, nil)

	loadOne(t, o, "sellers", batchOf("seller_id,seller_name,market", "1,A,GCC", "2,B,EU"))
	loadOne(t, o, "credits", batchOf("credit_id,seller_id,amount", "10,1,5"))

	got, err := st.RowCounts(ctx, reg)
	if err != nil {
		t.Fatalf("RowCounts: %v", err)
	}
	if len(got) != reg.Len() {
		t.Errorf("counted %d entities, want %d", len(got), reg.Len())
	}
	if got["sellers"] != 2 || got["credits"] != 1 || got["leads"] != 0 {
		t.Errorf("RowCounts = %v", got)
	}
}

// =============================================================================
// SQL building and value conversion
// =============================================================================

func TestChunkUnique(t *testing.T) {
	e := &core.Entity{Name: "t", PrimaryKey: "id", Columns: []core.Column{{Name: "id", Type: core.TypeInteger}}}
	rows := func(keys ...string) []core.Row {
		out := make([]core.Row, len(keys))
		for i, k := range keys {
			out[i] = core.Row{"id": k}
		}
		return out
	}
	keys := func(chunks [][]core.Row) [][]string {
		var out [][]string
		for _, c := range chunks {
			var ks []string
			for _, r := range c {
				ks = append(ks, r["id"])
			}
			out = append(out, ks)
		}
		return out
	}

	tests := []struct {
		name string
		in   []core.Row
		size int
		want [][]string
	}{
		{name: "by size", in: rows("1", "2", "3"), size: 2, want: [][]string{{"1", "2"}, {"3"}}},
		{name: "duplicate splits", in: rows("1", "2", "1"), size: 10, want: [][]string{{"1", "2"}, {"1"}}},
		{name: "canonical duplicate splits", in: rows("5", "5.0"), size: 10, want: [][]string{{"5"}, {"5.0"}}},
		{name: "empty", in: nil, size: 10, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, keys(chunkUnique(e, tt.in, tt.size))); diff != "" {
				t.Errorf("chunks mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpsertSQL(t *testing.T) {
	e := &core.Entity{Name: "sellers", PrimaryKey: "seller_id"}

	got := upsertSQL(&SQLiteDialect{}, e, []string{"seller_id", "market"}, 2)
	want := `INSERT INTO "sellers" ("seller_id", "market") VALUES (?, ?), (?, ?) ON CONFLICT ("seller_id") DO UPDATE SET "market" = excluded."market"`
	if got != want {
		t.Errorf("sqlite upsert =\n%s\nwant\n%s", got, want)
	}

	got = upsertSQL(&PostgresDialect{}, e, []string{"seller_id"}, 2)
	want = `INSERT INTO "sellers" ("seller_id") VALUES ($1), ($2) ON CONFLICT ("seller_id") DO NOTHING`
	if got != want {
		t.Errorf("postgres upsert =\n%s\nwant\n%s", got, want)
	}
}

func TestBindValue(t *testing.T) {
	tests := []struct {
		typ  core.ColumnType
		in   string
		want any
	}{
		{core.TypeText, "", nil},
		{core.TypeText, "007", "007"},
		{core.TypeInteger, "42", int64(42)},
		{core.TypeInteger, "42.0", int64(42)},
		{core.TypeInteger, "4.5", "4.5"},
		{core.TypeInteger, "n/a", "n/a"},
		{core.TypeReal, "2.50", 2.5},
		{core.TypeReal, "abc", "abc"},
		{core.TypeDate, "2025-01-31", "2025-01-31"},
	}
	for _, tt := range tests {
		if got := bindValue(tt.typ, tt.in); got != tt.want {
			t.Errorf("bindValue(%s, %q) = %#v, want %#v", tt.typ, tt.in, got, tt.want)
		}
	}
}

func TestStoredText(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{[]byte("y"), "y"},
		{int64(-3), "-3"},
		{float64(500), "500"},
		{2.25, "2.25"},
		{time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), "2025-01-31"},
	}
	for _, tt := range tests {
		if got := storedText(tt.in); got != tt.want {
			t.Errorf("storedText(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPostgresDialect_Constraint(t *testing.T) {
	d := &PostgresDialect{}
	tests := []struct {
		code string
		want string
	}{
		{"23503", core.ConstraintForeignKey},
		{"23505", core.ConstraintUnique},
		{"23502", core.ConstraintNotNull},
		{"23514", core.ConstraintCheck},
		{"22P02", core.ConstraintDatatype},
		{"40001", ""},
	}
	for _, tt := range tests {
		err := &pgconn.PgError{Code: tt.code, Message: "boom"}
		if got := d.Constraint(err); got != tt.want {
			t.Errorf("Constraint(%s) = %q, want %q", tt.code, got, tt.want)
		}
	}
	if got := d.Constraint(errors.New("plain")); got != "" {
		t.Errorf("Constraint(plain) = %q, want empty", got)
	}
	if got := d.Placeholder(3); got != "$3" {
		t.Errorf("Placeholder(3) = %q", got)
	}
}
