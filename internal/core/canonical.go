package core

import (
	"math"
	"math/big"
	"strconv"
	"strings"
)

// maxExactInt is the largest magnitude rendered without a fraction.
// float64 represents every integer below it exactly.
const maxExactInt = 1e15

// Canonical returns the comparison form of a value for the given column.
// Numeric columns are rendered as the shortest decimal so that "500",
// "500.0" and "5e2" compare equal; values that do not parse are kept as text.
// Integral values of integer columns are rendered exactly at any magnitude.
func Canonical(col Column, v string) string {
	v = strings.TrimSpace(v)
	if v == "" || !col.Type.Numeric() {
		return v
	}
	if col.Type == TypeInteger {
		if s, ok := exactInteger(v); ok {
			return s
		}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	return FormatNumber(f)
}

// FormatNumber renders f in the canonical numeric text form.
func FormatNumber(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	if f == math.Trunc(f) && math.Abs(f) < maxExactInt {
		if f == 0 {
			return "0"
		}
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// exactInteger renders v as a base 10 integer when it denotes one exactly,
// including forms such as "42.0" and "1e3".
func exactInteger(v string) (string, bool) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return strconv.FormatInt(n, 10), true
	}
	r, ok := new(big.Rat).SetString(v)
	if !ok || !r.IsInt() {
		return "", false
	}
	return r.Num().String(), true
}

// CanonicalKey returns the canonical form of a row's primary key.
func CanonicalKey(e *Entity, r Row) string {
	return Canonical(e.KeyColumn(), r[e.PrimaryKey])
}

// NewSnapshot indexes stored rows by canonical primary key.
// Values are kept as read; comparison canonicalizes both sides.
func NewSnapshot(e *Entity, rows []Row) Snapshot {
	snap := make(Snapshot, len(rows))
	for _, r := range rows {
		snap[CanonicalKey(e, r)] = r
	}
	return snap
}

// Keys returns the set of canonical values stored in column.
func (s Snapshot) Keys(e *Entity, column string) map[string]struct{} {
	col, ok := e.Column(column)
	if !ok {
		col = Column{Name: column, Type: TypeText}
	}
	out := make(map[string]struct{}, len(s))
	for _, r := range s {
		if v := Canonical(col, r[column]); v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}
