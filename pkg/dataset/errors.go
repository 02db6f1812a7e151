package dataset

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateFeature indicates two sources define the same feature for one location
	ErrDuplicateFeature = errors.New("duplicate feature")

	// ErrDuplicateObservation indicates a table holds two rows for the same location and period
	ErrDuplicateObservation = errors.New("duplicate observation")

	// ErrEmptyDataSet indicates an operation that needs at least one location
	ErrEmptyDataSet = errors.New("dataset has no locations")

	// ErrMalformedTable indicates a tabular input that does not follow the exchange schema
	ErrMalformedTable = errors.New("malformed table")
)

// KeyNotFoundError indicates a missing location or feature.
type KeyNotFoundError struct {
	Kind string // "location" or "feature"
	Key  string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// AlignmentError indicates period ranges that differ where they are required to match.
type AlignmentError struct {
	Location string
	Reason   string
}

func (e *AlignmentError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("alignment error: %s", e.Reason)
	}
	return fmt.Sprintf("alignment error for location %q: %s", e.Location, e.Reason)
}

// IncompleteRangeError indicates gaps inside a location's observed periods.
type IncompleteRangeError struct {
	Location string
	Missing  []string
}

func (e *IncompleteRangeError) Error() string {
	shown := e.Missing
	if len(shown) > 5 {
		shown = shown[:5]
	}
	return fmt.Sprintf("location %q has %d missing periods (%s)", e.Location, len(e.Missing), strings.Join(shown, ", "))
}
