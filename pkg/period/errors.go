package period

import (
	"errors"
	"fmt"
)

// ErrNotContiguous indicates two ranges cannot be joined because they leave a gap or overlap.
var ErrNotContiguous = errors.New("period ranges are not contiguous")

// FormatError indicates a period label that matches no known granularity, or
// whose numeric components fall outside the calendar.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid period %q", e.Input)
	}
	return fmt.Sprintf("invalid period %q: %s", e.Input, e.Reason)
}

// GranularityMismatchError indicates arithmetic or comparison between periods
// of different granularities.
type GranularityMismatchError struct {
	Left  Granularity
	Right Granularity
}

func (e *GranularityMismatchError) Error() string {
	return fmt.Sprintf("granularity mismatch: %s vs %s", e.Left, e.Right)
}

// OutOfRangeError indicates a period or offset that lies outside a range.
type OutOfRangeError struct {
	What  string
	Range string
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s is outside range %s", e.What, e.Range)
}

// EmptyRangeError indicates bounds that would produce a range with no periods.
type EmptyRangeError struct {
	Start string
	End   string
}

func (e *EmptyRangeError) Error() string {
	return fmt.Sprintf("empty period range: end %s is before start %s", e.End, e.Start)
}
