// Package batch reads tabular batches from CSV files.
package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/loadengine/internal/core"
)

// ErrEmptyFile is returned when a batch has no header row.
var ErrEmptyFile = errors.New("empty file")

// Stats describes how a batch was decoded.
type Stats struct {
	Records  int // Data records, excluding the header
	Replaced int // Invalid UTF-8 bytes replaced
}

// ReadCSV decodes a header row plus records from r.
// Records may have fewer or more fields than the header; the normalizer
// treats missing fields as empty and ignores extras.
func ReadCSV(r io.Reader) (core.RawBatch, Stats, error) {
	clean := NewCleanReader(r)

	cr := csv.NewReader(clean)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return core.RawBatch{}, Stats{}, ErrEmptyFile
	}
	if err != nil {
		return core.RawBatch{}, Stats{}, fmt.Errorf("invalid csv: %w", err)
	}

	b := core.RawBatch{Header: header}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return core.RawBatch{}, Stats{}, fmt.Errorf("invalid csv: %w", err)
		}
		b.Records = append(b.Records, rec)
	}

	return b, Stats{Records: len(b.Records), Replaced: clean.Replaced()}, nil
}
