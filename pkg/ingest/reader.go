// Package ingest reads the wide-format cell-count source table and
// normalizes it into the three-entity relational store.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/meridianbio/cellflow/internal/store"
)

var (
	// ErrInputNotFound means the source file is missing or unreadable.
	ErrInputNotFound = errors.New("input file not found")
	// ErrBadHeader means the source header is missing a required column
	// or carries a column outside the expected set.
	ErrBadHeader = errors.New("malformed source header")
)

// metaColumns are the subject/sample attribute columns; together with the
// population columns they form the complete expected header.
var metaColumns = []string{
	"sample", "subject", "project", "condition", "age", "sex",
	"sample_type", "treatment", "response", "time_from_treatment_start",
}

// SourceRow is one typed wide-format row: one sample with its subject
// attributes and one count per population column.
type SourceRow struct {
	Sample                 string
	Subject                string
	Project                string
	Condition              string
	Age                    *int64
	Sex                    string
	SampleType             string
	Treatment              *string
	Response               *string
	TimeFromTreatmentStart *float64
	Counts                 map[string]int64
}

// ReadSource parses the CSV at path into typed rows, validating the header
// against the expected column set and every count cell as a non-negative
// integer. Optional cells (age, treatment, response,
// time_from_treatment_start) may be empty.
func ReadSource(path string) ([]SourceRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInputNotFound, path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s: empty file", ErrBadHeader, path)
	}

	cols, err := indexHeader(records[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	rows := make([]SourceRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		row, err := parseRow(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, i+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// indexHeader maps column name to field index, rejecting missing required
// columns, unknown columns, and duplicates.
func indexHeader(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := cols[name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrBadHeader, name)
		}
		cols[name] = i
	}

	for _, name := range metaColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: missing required column %q", ErrBadHeader, name)
		}
	}
	for _, pop := range store.Populations {
		if _, ok := cols[pop]; !ok {
			return nil, fmt.Errorf("%w: missing population column %q", ErrBadHeader, pop)
		}
	}
	if extra := len(cols) - len(metaColumns) - len(store.Populations); extra > 0 {
		for name := range cols {
			if !knownColumn(name) {
				return nil, fmt.Errorf("%w: unknown column %q", ErrBadHeader, name)
			}
		}
	}
	return cols, nil
}

func knownColumn(name string) bool {
	for _, m := range metaColumns {
		if m == name {
			return true
		}
	}
	return store.IsPopulation(name)
}

func parseRow(rec []string, cols map[string]int) (SourceRow, error) {
	get := func(name string) string { return rec[cols[name]] }

	row := SourceRow{
		Sample:     get("sample"),
		Subject:    get("subject"),
		Project:    get("project"),
		Condition:  get("condition"),
		Sex:        get("sex"),
		SampleType: get("sample_type"),
		Counts:     make(map[string]int64, len(store.Populations)),
	}
	if row.Sample == "" {
		return row, errors.New("empty sample id")
	}
	if row.Subject == "" {
		return row, errors.New("empty subject id")
	}

	if v := get("age"); v != "" {
		age, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return row, fmt.Errorf("bad age %q: %w", v, err)
		}
		row.Age = &age
	}
	if v := get("treatment"); v != "" {
		row.Treatment = &v
	}
	if v := get("response"); v != "" {
		row.Response = &v
	}
	if v := get("time_from_treatment_start"); v != "" {
		tfts, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return row, fmt.Errorf("bad time_from_treatment_start %q: %w", v, err)
		}
		row.TimeFromTreatmentStart = &tfts
	}

	for _, pop := range store.Populations {
		v := get(pop)
		count, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return row, fmt.Errorf("bad %s count %q: %w", pop, v, err)
		}
		if count < 0 {
			return row, fmt.Errorf("negative %s count %d", pop, count)
		}
		row.Counts[pop] = count
	}
	return row, nil
}
