package analysis

import (
	"errors"
	"fmt"

	"github.com/aclements/go-moremath/stats"

	"github.com/meridianbio/cellflow/internal/store"
)

// SignificanceThreshold is the fixed p-value cutoff for flagging a
// population as significantly different between response groups.
const SignificanceThreshold = 0.05

// Comparison is the responder vs non-responder test result for one
// population.
type Comparison struct {
	Population    string  `json:"population"`
	Responders    int     `json:"responders"`
	NonResponders int     `json:"nonResponders"`
	UStatistic    float64 `json:"uStatistic"`
	PValue        float64 `json:"pValue"`
	Significant   bool    `json:"significant"`
}

// CompareGroups runs a two-sided Mann-Whitney U test per population,
// comparing the percentage values of responders (response "yes") against
// non-responders (response "no") in a cohort selected with percentages.
// The rank test makes no normality assumption, which suits the small group
// sizes here. Results follow the fixed population ordering; a nil
// populations argument means the full fixed set.
//
// A population with an empty arm contributes an InsufficientGroupSizeError
// to the joined error instead of a result; the remaining populations still
// compute.
func CompareGroups(cohort *Cohort, populations []string) ([]Comparison, error) {
	if populations == nil {
		populations = store.Populations
	}

	var results []Comparison
	var errs []error
	for _, pop := range populations {
		var yes, no []float64
		for _, row := range cohort.Frequencies {
			if row.Population != pop || row.Response == nil {
				continue
			}
			switch *row.Response {
			case "yes":
				yes = append(yes, row.Percentage)
			case "no":
				no = append(no, row.Percentage)
			}
		}

		if len(yes) == 0 || len(no) == 0 {
			errs = append(errs, &InsufficientGroupSizeError{
				Population:    pop,
				Responders:    len(yes),
				NonResponders: len(no),
			})
			continue
		}

		cmp := Comparison{Population: pop, Responders: len(yes), NonResponders: len(no)}
		res, err := stats.MannWhitneyUTest(yes, no, stats.LocationDiffers)
		switch {
		case err == nil:
			cmp.UStatistic = res.U
			cmp.PValue = res.P
			cmp.Significant = res.P < SignificanceThreshold
		case errors.Is(err, stats.ErrSamplesEqual):
			// Every observation identical across both arms: no shift.
			cmp.UStatistic = float64(len(yes)*len(no)) / 2
			cmp.PValue = 1
		default:
			errs = append(errs, fmt.Errorf("population %s: %w", pop, err))
			continue
		}
		results = append(results, cmp)
	}
	return results, errors.Join(errs...)
}
