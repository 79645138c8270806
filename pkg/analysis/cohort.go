package analysis

import "github.com/meridianbio/cellflow/internal/store"

// CohortRow is one (sample, population) row of a cohort selected with
// percentages: the joined sample and subject attributes plus the
// population's count and relative frequency.
type CohortRow struct {
	store.CohortSample
	Population string  `json:"population"`
	Count      int64   `json:"count"`
	TotalCount int64   `json:"totalCount"`
	Percentage float64 `json:"percentage"`
}

// Cohort is the result of a declarative sample selection. Samples is
// always populated; Frequencies only when percentages were requested.
type Cohort struct {
	Samples     []store.CohortSample `json:"samples"`
	Frequencies []CohortRow          `json:"frequencies,omitempty"`
}

// SelectCohort selects the samples ⋈ subjects rows matching the filter.
// With includePercentages set it additionally joins in the per-population
// relative frequencies, computed over the selected samples only. An empty
// selection is a valid empty cohort.
func (e *Engine) SelectCohort(f store.CohortFilter, includePercentages bool) (*Cohort, error) {
	samples, err := e.store.SelectCohort(f)
	if err != nil {
		return nil, err
	}

	cohort := &Cohort{Samples: samples}
	if !includePercentages || len(samples) == 0 {
		return cohort, nil
	}

	include := make(map[string]bool, len(samples))
	bySample := make(map[string]store.CohortSample, len(samples))
	for _, cs := range samples {
		include[cs.SampleID] = true
		bySample[cs.SampleID] = cs
	}

	freq, err := e.frequencyRows(include)
	if err != nil {
		return nil, err
	}
	cohort.Frequencies = make([]CohortRow, 0, len(freq))
	for _, fr := range freq {
		cohort.Frequencies = append(cohort.Frequencies, CohortRow{
			CohortSample: bySample[fr.SampleID],
			Population:   fr.Population,
			Count:        fr.Count,
			TotalCount:   fr.TotalCount,
			Percentage:   fr.Percentage,
		})
	}
	return cohort, nil
}
