// Package store provides SQLite-backed persistence for clinical trial
// cell-count data. Uses ncruces/go-sqlite3/driver which provides a
// database/sql interface.
package store

// Populations is the fixed, closed set of measured cell populations.
// It defines both the wide-format source columns and the ordering used
// for every per-population output.
var Populations = []string{"b_cell", "cd8_t_cell", "cd4_t_cell", "nk_cell", "monocyte"}

// IsPopulation reports whether name is a member of the fixed population set.
func IsPopulation(name string) bool {
	for _, p := range Populations {
		if p == name {
			return true
		}
	}
	return false
}

// Subject is one trial participant. Created once per distinct subject_id
// at ingestion and immutable afterwards.
type Subject struct {
	SubjectID string `json:"subjectId"`
	Project   string `json:"project"`
	Condition string `json:"condition"`
	Age       *int64 `json:"age,omitempty"`
	Sex       string `json:"sex"`
}

// Sample is one biological sample drawn from a subject.
type Sample struct {
	SampleID               string   `json:"sampleId"`
	SubjectID              string   `json:"subjectId"`
	SampleType             string   `json:"sampleType"`
	Treatment              *string  `json:"treatment,omitempty"`
	Response               *string  `json:"response,omitempty"`
	TimeFromTreatmentStart *float64 `json:"timeFromTreatmentStart,omitempty"`
}

// CellCount is one measured population count for a sample.
// (SampleID, Population) is unique.
type CellCount struct {
	SampleID   string `json:"sampleId"`
	Population string `json:"population"`
	Count      int64  `json:"count"`
}

// CohortFilter is a conjunction of optional equality predicates over the
// samples ⋈ subjects join. A nil field matches all rows.
type CohortFilter struct {
	Condition              *string
	Sex                    *string
	SampleType             *string
	Treatment              *string
	Response               *string
	TimeFromTreatmentStart *float64
}

// CohortSample is one row of the samples ⋈ subjects join selected by a
// CohortFilter.
type CohortSample struct {
	SampleID               string   `json:"sampleId"`
	SubjectID              string   `json:"subjectId"`
	Project                string   `json:"project"`
	Condition              string   `json:"condition"`
	Age                    *int64   `json:"age,omitempty"`
	Sex                    string   `json:"sex"`
	SampleType             string   `json:"sampleType"`
	Treatment              *string  `json:"treatment,omitempty"`
	Response               *string  `json:"response,omitempty"`
	TimeFromTreatmentStart *float64 `json:"timeFromTreatmentStart,omitempty"`
}
