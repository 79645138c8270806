package analysis

import "sort"

// GroupCount is one group key with its tally. Summaries use ordered
// slices rather than maps so output is stable.
type GroupCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Summary aggregates a cohort by project, response, and sex.
type Summary struct {
	SamplesPerProject []GroupCount `json:"samplesPerProject"`
	ResponseCounts    []GroupCount `json:"responseCounts"`
	SexCounts         []GroupCount `json:"sexCounts"`
}

// SummarizeCohort counts samples per project and, over subjects
// deduplicated by subject_id, responses and sexes. The subject-level dedup
// matters: a subject contributing several samples is counted once in the
// response and sex tallies. Rows with no recorded response or sex are
// skipped in those tallies.
func SummarizeCohort(cohort *Cohort) *Summary {
	projects := make(map[string]int)
	for _, cs := range cohort.Samples {
		projects[cs.Project]++
	}

	seen := make(map[string]bool)
	responses := make(map[string]int)
	sexes := make(map[string]int)
	for _, cs := range cohort.Samples {
		if seen[cs.SubjectID] {
			continue
		}
		seen[cs.SubjectID] = true
		if cs.Response != nil {
			responses[*cs.Response]++
		}
		if cs.Sex != "" {
			sexes[cs.Sex]++
		}
	}

	return &Summary{
		SamplesPerProject: sortedCounts(projects),
		ResponseCounts:    sortedCounts(responses),
		SexCounts:         sortedCounts(sexes),
	}
}

func sortedCounts(m map[string]int) []GroupCount {
	out := make([]GroupCount, 0, len(m))
	for k, n := range m {
		out = append(out, GroupCount{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
