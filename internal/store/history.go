package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/loadengine/internal/core"
)

func (s *Store) createHistorySQL() string {
	integer := s.dialect.ColumnType(core.TypeInteger)
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT NOT NULL,
	seq %[2]s NOT NULL,
	entity TEXT NOT NULL,
	inserted %[2]s NOT NULL DEFAULT 0,
	updated %[2]s NOT NULL DEFAULT 0,
	skipped %[2]s NOT NULL DEFAULT 0,
	total %[2]s NOT NULL DEFAULT 0,
	rejected %[2]s NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	fk_warnings TEXT NOT NULL DEFAULT '[]',
	validate_fk %[2]s NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	loaded_at TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
)`, historyTable, integer)
}

// SaveRun records every result of a run in the history table.
// A run without results records nothing.
func (s *Store) SaveRun(ctx context.Context, run core.RunSummary) error {
	if len(run.Results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`INSERT INTO %s
	(run_id, seq, entity, inserted, updated, skipped, total, rejected, error, fk_warnings, validate_fk, started_at, finished_at, loaded_at)
	VALUES (%s)`, historyTable, placeholders(s.dialect, 1, 14))

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer stmt.Close()

	validate := 0
	if run.ValidateFK {
		validate = 1
	}
	started := formatTime(run.StartedAt)
	finished := formatTime(run.FinishedAt)

	for i, r := range run.Results {
		warnings := r.FKWarnings
		if warnings == nil {
			warnings = []string{}
		}
		encoded, err := json.Marshal(warnings)
		if err != nil {
			return fmt.Errorf("encode fk warnings: %w", err)
		}
		loadedAt := r.TimestampUTC
		if loadedAt == "" {
			loadedAt = finished
		}
		if _, err := stmt.ExecContext(ctx,
			run.RunID, int64(i), r.Entity,
			int64(r.Inserted), int64(r.Updated), int64(r.Skipped), int64(r.Total), int64(r.Rejected),
			r.Error, string(encoded), int64(validate),
			started, finished, loadedAt,
		); err != nil {
			return fmt.Errorf("record %s result: %w", r.Entity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first. Results keep the order in
// which the run produced them. A limit of zero or less returns every run.
func (s *Store) Runs(ctx context.Context, limit int) ([]core.RunSummary, error) {
	recent := fmt.Sprintf("SELECT run_id FROM %s GROUP BY run_id ORDER BY MAX(finished_at) DESC", historyTable)
	var args []any
	if limit > 0 {
		recent += " LIMIT " + s.dialect.Placeholder(1)
		args = append(args, limit)
	}

	query := fmt.Sprintf(`SELECT run_id, entity, inserted, updated, skipped, total, rejected, error, fk_warnings, validate_fk, started_at, finished_at, loaded_at
	FROM %s
	WHERE run_id IN (SELECT run_id FROM (%s) recent)
	ORDER BY finished_at DESC, run_id, seq`, historyTable, recent)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query run history: %w", err)
	}
	defer rows.Close()

	var runs []core.RunSummary
	index := make(map[string]int)
	for rows.Next() {
		var (
			runID, started, finished string
			warnings                 string
			validate                 int64
			r                        core.LoadResult
		)
		if err := rows.Scan(&runID, &r.Entity, &r.Inserted, &r.Updated, &r.Skipped, &r.Total, &r.Rejected,
			&r.Error, &warnings, &validate, &started, &finished, &r.TimestampUTC); err != nil {
			return nil, fmt.Errorf("scan run history: %w", err)
		}
		if err := json.Unmarshal([]byte(warnings), &r.FKWarnings); err != nil {
			return nil, fmt.Errorf("decode fk warnings for run %s: %w", runID, err)
		}
		if len(r.FKWarnings) == 0 {
			r.FKWarnings = nil
		}

		i, ok := index[runID]
		if !ok {
			i = len(runs)
			index[runID] = i
			runs = append(runs, core.RunSummary{
				RunID:      runID,
				StartedAt:  parseTime(started),
				FinishedAt: parseTime(finished),
				ValidateFK: validate != 0,
			})
		}
		runs[i].Results = append(runs[i].Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read run history: %w", err)
	}
	return runs, nil
}

// RowCounts returns the number of stored rows per entity with one query.
func (s *Store) RowCounts(ctx context.Context, reg *core.Registry) (map[string]int64, error) {
	entities := reg.All()
	if len(entities) == 0 {
		return map[string]int64{}, nil
	}

	parts := make([]string, len(entities))
	for i, e := range entities {
		parts[i] = fmt.Sprintf("SELECT %d AS idx, COUNT(*) AS n FROM %s", i, quoteIdent(e.Name))
	}

	rows, err := s.db.QueryContext(ctx, strings.Join(parts, " UNION ALL "))
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64, len(entities))
	for rows.Next() {
		var idx, n int64
		if err := rows.Scan(&idx, &n); err != nil {
			return nil, fmt.Errorf("scan row count: %w", err)
		}
		if idx >= 0 && int(idx) < len(entities) {
			counts[entities[idx].Name] = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read row counts: %w", err)
	}
	return counts, nil
}

// timeLayout has fixed-width fractions so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
