package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/meridianbio/cellflow/internal/store"
)

// Result reports how many rows each table received.
type Result struct {
	Subjects   int `json:"subjects"`
	Samples    int `json:"samples"`
	CellCounts int `json:"cellCounts"`
}

// Importer performs the one-shot full-replace ingestion run.
type Importer struct {
	log *zap.Logger
}

// NewImporter creates an importer. A nil logger disables logging.
func NewImporter(log *zap.Logger) *Importer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{log: log}
}

// Run reads the wide source table at sourcePath and replaces the store at
// dbPath with a freshly normalized one. The new store is built at a
// temporary path and renamed over the target only after the single write
// transaction commits, so readers never observe a half-populated store and
// any failure leaves the previous store untouched.
func (im *Importer) Run(sourcePath, dbPath string) (*Result, error) {
	rows, err := ReadSource(sourcePath)
	if err != nil {
		return nil, err
	}

	subjects := im.projectSubjects(rows)
	samples := im.projectSamples(rows)
	counts := meltCounts(rows)

	tmp := dbPath + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("clear stale temp store: %w", err)
	}

	st, err := store.Open(tmp)
	if err != nil {
		return nil, err
	}
	if err := st.WriteDataset(subjects, samples, counts); err != nil {
		st.Close()
		os.Remove(tmp)
		return nil, err
	}
	if err := st.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Rename(tmp, dbPath); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("replace store: %w", err)
	}

	res := &Result{
		Subjects:   len(subjects),
		Samples:    len(samples),
		CellCounts: len(counts),
	}
	im.log.Info("store replaced",
		zap.String("path", dbPath),
		zap.Int("subjects", res.Subjects),
		zap.Int("samples", res.Samples),
		zap.Int("cell_counts", res.CellCounts))
	return res, nil
}

// projectSubjects extracts one Subject per distinct subject_id, first
// occurrence wins. A later duplicate with differing attributes is dropped
// with a warning rather than rejected.
func (im *Importer) projectSubjects(rows []SourceRow) []store.Subject {
	seen := make(map[string]store.Subject, len(rows))
	var out []store.Subject
	for _, r := range rows {
		sub := store.Subject{
			SubjectID: r.Subject,
			Project:   r.Project,
			Condition: r.Condition,
			Age:       r.Age,
			Sex:       r.Sex,
		}
		if first, ok := seen[r.Subject]; ok {
			if !subjectsEqual(first, sub) {
				im.log.Warn("conflicting duplicate subject dropped",
					zap.String("subject_id", r.Subject))
			}
			continue
		}
		seen[r.Subject] = sub
		out = append(out, sub)
	}
	return out
}

// projectSamples extracts one Sample per distinct sample_id, first
// occurrence wins.
func (im *Importer) projectSamples(rows []SourceRow) []store.Sample {
	seen := make(map[string]store.Sample, len(rows))
	var out []store.Sample
	for _, r := range rows {
		sm := store.Sample{
			SampleID:               r.Sample,
			SubjectID:              r.Subject,
			SampleType:             r.SampleType,
			Treatment:              r.Treatment,
			Response:               r.Response,
			TimeFromTreatmentStart: r.TimeFromTreatmentStart,
		}
		if first, ok := seen[r.Sample]; ok {
			if !samplesEqual(first, sm) {
				im.log.Warn("conflicting duplicate sample dropped",
					zap.String("sample_id", r.Sample))
			}
			continue
		}
		seen[r.Sample] = sm
		out = append(out, sm)
	}
	return out
}

// meltCounts reshapes the population columns from wide to long: one
// CellCount per (sample, population) pair, zero counts included. Duplicate
// sample rows are skipped with the same first-wins rule as projectSamples
// so the (sample_id, population) uniqueness constraint holds.
func meltCounts(rows []SourceRow) []store.CellCount {
	seen := make(map[string]bool, len(rows))
	out := make([]store.CellCount, 0, len(rows)*len(store.Populations))
	for _, r := range rows {
		if seen[r.Sample] {
			continue
		}
		seen[r.Sample] = true
		for _, pop := range store.Populations {
			out = append(out, store.CellCount{
				SampleID:   r.Sample,
				Population: pop,
				Count:      r.Counts[pop],
			})
		}
	}
	return out
}

func subjectsEqual(a, b store.Subject) bool {
	return a.Project == b.Project &&
		a.Condition == b.Condition &&
		a.Sex == b.Sex &&
		int64PtrEqual(a.Age, b.Age)
}

func samplesEqual(a, b store.Sample) bool {
	return a.SubjectID == b.SubjectID &&
		a.SampleType == b.SampleType &&
		strPtrEqual(a.Treatment, b.Treatment) &&
		strPtrEqual(a.Response, b.Response) &&
		floatPtrEqual(a.TimeFromTreatmentStart, b.TimeFromTreatmentStart)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
