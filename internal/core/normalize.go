package core

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// Normalizer projects raw batches onto entity schemas and logs the auto-fixes
// it applies. The zero value discards log output.
type Normalizer struct {
	Logger *slog.Logger
}

// Normalize runs [Normalize] and logs every fix and rejected row.
func (n Normalizer) Normalize(raw RawBatch, e *Entity) (*CanonicalBatch, error) {
	logger := loggerOrDiscard(n.Logger).With("entity", e.Name)

	batch, err := Normalize(raw, e)
	if err != nil {
		return nil, err
	}
	for _, fix := range batch.Fixes {
		logger.Info("auto-fix applied", "op", "auto_fix", "fix", fix)
	}
	for _, rej := range batch.Rejected {
		logger.Warn("row rejected", "op", "normalize", "line", rej.Line, "reason", rej.Reason)
	}
	return batch, nil
}

// Normalize turns a raw batch into a canonical batch for e.
//
// Headers are matched case-insensitively after trimming. When the primary
// key header is absent, the entity's key alias is renamed to it, and failing
// that a 1-based sequence is synthesized for entities that allow it. A missing
// required column fails the whole batch with a *SchemaViolationError. Rows
// with an empty required value are dropped into Rejected.
func Normalize(raw RawBatch, e *Entity) (*CanonicalBatch, error) {
	batch := &CanonicalBatch{Entity: e}

	index := make(map[string]int, len(raw.Header))
	for i, h := range raw.Header {
		name := cleanHeader(h)
		if _, dup := index[name]; !dup && name != "" {
			index[name] = i
		}
	}

	key := e.PrimaryKey
	if _, ok := index[key]; !ok && e.KeyAlias != "" {
		if i, ok := index[e.KeyAlias]; ok {
			index[key] = i
			delete(index, e.KeyAlias)
			batch.Fixes = append(batch.Fixes, fmt.Sprintf("renamed column %s to %s", e.KeyAlias, key))
		}
	}

	synthesized := false
	if _, ok := index[key]; !ok && e.SynthesizeKey {
		synthesized = true
		batch.Fixes = append(batch.Fixes, fmt.Sprintf("synthesized %s for %d rows", key, len(raw.Records)))
	}

	var missing []string
	for _, req := range e.Required {
		if req == key && synthesized {
			continue
		}
		if _, ok := index[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaViolationError{Entity: e.Name, Missing: missing}
	}

	for _, c := range e.Columns {
		if _, ok := index[c.Name]; ok || (c.Name == key && synthesized) {
			batch.Columns = append(batch.Columns, c.Name)
		}
	}

	batch.Rows = make([]Row, 0, len(raw.Records))
	for i, rec := range raw.Records {
		if blankRecord(rec) {
			continue
		}

		row := make(Row, len(batch.Columns))
		for _, col := range batch.Columns {
			if col == key && synthesized {
				row[col] = strconv.Itoa(i + 1)
				continue
			}
			if j := index[col]; j < len(rec) {
				row[col] = cleanValue(rec[j])
			} else {
				row[col] = ""
			}
		}

		var empty []string
		for _, req := range e.Required {
			if row[req] == "" {
				empty = append(empty, req)
			}
		}
		if len(empty) > 0 {
			batch.Rejected = append(batch.Rejected, RejectedRow{
				Line:   i + 2,
				Reason: "required field empty: " + strings.Join(empty, ", "),
			})
			continue
		}

		batch.Rows = append(batch.Rows, row)
	}

	return batch, nil
}

// cleanHeader strips spreadsheet artefacts, surrounding quotes and padding
// from a header name and lower-cases it.
func cleanHeader(h string) string {
	h = cleanValue(h)
	h = strings.Trim(h, `"'`)
	return strings.ToLower(strings.TrimSpace(h))
}

// cleanValue trims a cell and removes an Excel formula wrapper (="123").
func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}
	return s
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func loggerOrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}
