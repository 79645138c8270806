// Package analysis derives relative frequencies, cohort subsets, and
// responder comparisons from an open trial store. Everything here is a
// pure function of store state, recomputed per call.
package analysis

import (
	"fmt"

	"github.com/meridianbio/cellflow/internal/store"
)

// Engine answers the analytical queries. It only reads through the store
// handle it is constructed with.
type Engine struct {
	store *store.Store
}

// NewEngine creates an engine bound to an open store.
func NewEngine(st *store.Store) *Engine {
	return &Engine{store: st}
}

// AverageCountForPopulation returns the mean raw count of one population
// over the samples matching the filter. Returns nil when the filter
// matches no samples.
func (e *Engine) AverageCountForPopulation(population string, f store.CohortFilter) (*float64, error) {
	if !store.IsPopulation(population) {
		return nil, fmt.Errorf("unknown population %q", population)
	}
	return e.store.AverageCount(population, f)
}
