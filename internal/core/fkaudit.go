package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// maxWarningValues caps the sample of values shown in one warning.
const maxWarningValues = 5

// auditForeignKeys checks every FK column of a committed batch against the
// run baseline merged with the parent's current store contents. It returns
// one warning per foreign key with unresolved values.
func (o *Orchestrator) auditForeignKeys(ctx context.Context, logger *slog.Logger, batch *CanonicalBatch, baseline map[string]Snapshot) []string {
	e := batch.Entity
	var warnings []string

	for _, fk := range e.ForeignKeys {
		if !containsString(batch.Columns, fk.Column) {
			continue
		}
		parent, err := o.Registry.Lookup(fk.Parent)
		if err != nil {
			continue
		}

		known := baseline[parent.Name].Keys(parent, fk.ParentColumn)
		current, err := o.Store.Snapshot(ctx, parent)
		if err != nil {
			logger.Warn("parent snapshot failed", "op", "fk_check", "entity", e.Name, "parent", parent.Name, "error", err)
		} else {
			for k := range current.Keys(parent, fk.ParentColumn) {
				known[k] = struct{}{}
			}
		}

		unknown := unresolvedValues(e, fk, batch.Rows, known)
		if len(unknown) == 0 {
			continue
		}

		w := fmt.Sprintf("%d %s reference unknown %s: [%s]",
			len(unknown), e.Name, parent.Name, strings.Join(limitStrings(unknown, maxWarningValues), " "))
		if len(unknown) > maxWarningValues {
			w += "..."
		}
		logger.Warn("unresolved foreign keys", "op", "fk_check", "entity", e.Name, "warning", w)
		warnings = append(warnings, w)
	}

	return warnings
}

// unresolvedValues returns the distinct non-empty FK values absent from
// known, in first-seen order.
func unresolvedValues(e *Entity, fk ForeignKey, rows []Row, known map[string]struct{}) []string {
	col, _ := e.Column(fk.Column)
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		v := Canonical(col, r[fk.Column])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		if _, ok := known[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

func limitStrings(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
