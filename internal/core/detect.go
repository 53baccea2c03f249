package core

// Detect partitions batch against the entity's stored rows.
//
// Keys and values are compared in canonical text form. Only the non-key
// columns present in the batch are compared, so a column the batch does not
// carry can never make a row look changed.
//
// When several rows share a key the last one wins: it is classified at the
// position of its last occurrence and the earlier copies go to Duplicates.
func Detect(batch *CanonicalBatch, snap Snapshot) ChangeSet {
	var cs ChangeSet
	e := batch.Entity

	rows, dups := collapseLast(e, batch.Rows)
	cs.Duplicates = dups

	if len(snap) == 0 {
		cs.New = append(cs.New, rows...)
		return cs
	}

	cols := make([]Column, 0, len(batch.Columns))
	for _, name := range batch.Columns {
		if name == e.PrimaryKey {
			continue
		}
		if c, ok := e.Column(name); ok {
			cols = append(cols, c)
		}
	}

	for _, row := range rows {
		stored, ok := snap[CanonicalKey(e, row)]
		if !ok {
			cs.New = append(cs.New, row)
			continue
		}
		if rowDiffers(cols, row, stored) {
			cs.Updated = append(cs.Updated, row)
		} else {
			cs.Unchanged = append(cs.Unchanged, row)
		}
	}

	return cs
}

// collapseLast keeps the last row for each canonical key, in the order of
// those last occurrences, and returns the superseded rows separately.
func collapseLast(e *Entity, rows []Row) (kept, superseded []Row) {
	last := make(map[string]int, len(rows))
	for i, r := range rows {
		last[CanonicalKey(e, r)] = i
	}
	if len(last) == len(rows) {
		return rows, nil
	}

	kept = make([]Row, 0, len(last))
	for i, r := range rows {
		if last[CanonicalKey(e, r)] == i {
			kept = append(kept, r)
		} else {
			superseded = append(superseded, r)
		}
	}
	return kept, superseded
}

func rowDiffers(cols []Column, incoming, stored Row) bool {
	for _, c := range cols {
		if Canonical(c, incoming[c.Name]) != Canonical(c, stored[c.Name]) {
			return true
		}
	}
	return false
}
