package analysis

// FrequencyRow is one (sample, population) relative frequency. For a fixed
// sample the percentages across its populations sum to 100.
type FrequencyRow struct {
	SampleID   string  `json:"sampleId"`
	Population string  `json:"population"`
	Count      int64   `json:"count"`
	TotalCount int64   `json:"totalCount"`
	Percentage float64 `json:"percentage"`
}

// BuildFrequencyTable computes the relative frequency of every population
// per sample, ordered by (sample_id, population). A sample whose counts
// sum to zero fails the whole computation with a DegenerateSampleError
// rather than emitting undefined percentages.
func (e *Engine) BuildFrequencyTable() ([]FrequencyRow, error) {
	return e.frequencyRows(nil)
}

// frequencyRows computes frequency rows, restricted to the given sample
// ids when include is non-nil.
func (e *Engine) frequencyRows(include map[string]bool) ([]FrequencyRow, error) {
	counts, err := e.store.ListCellCounts()
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64)
	for _, cc := range counts {
		if include != nil && !include[cc.SampleID] {
			continue
		}
		totals[cc.SampleID] += cc.Count
	}

	var rows []FrequencyRow
	for _, cc := range counts {
		if include != nil && !include[cc.SampleID] {
			continue
		}
		total := totals[cc.SampleID]
		if total == 0 {
			return nil, &DegenerateSampleError{SampleID: cc.SampleID}
		}
		rows = append(rows, FrequencyRow{
			SampleID:   cc.SampleID,
			Population: cc.Population,
			Count:      cc.Count,
			TotalCount: total,
			Percentage: 100 * float64(cc.Count) / float64(total),
		})
	}
	return rows, nil
}
