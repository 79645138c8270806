package analysis

import "fmt"

// DegenerateSampleError reports a sample whose counts sum to zero, for
// which relative frequencies are undefined.
type DegenerateSampleError struct {
	SampleID string
}

func (e *DegenerateSampleError) Error() string {
	return fmt.Sprintf("sample %s has zero total count", e.SampleID)
}

// InsufficientGroupSizeError reports a population whose responder or
// non-responder arm is empty, making the rank test undefined.
type InsufficientGroupSizeError struct {
	Population    string
	Responders    int
	NonResponders int
}

func (e *InsufficientGroupSizeError) Error() string {
	return fmt.Sprintf("population %s: cannot compare %d responders against %d non-responders",
		e.Population, e.Responders, e.NonResponders)
}
