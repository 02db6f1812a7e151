package splitter

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig indicates splitter settings that can never produce a split.
var ErrInvalidConfig = errors.New("invalid splitter config")

// InsufficientHistoryError indicates a start offset beyond the end of the series.
type InsufficientHistoryError struct {
	StartOffset int
	Length      int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("start offset %d exceeds series length %d", e.StartOffset, e.Length)
}

// InsufficientFutureError indicates that no candidate origin leaves a future period.
type InsufficientFutureError struct {
	StartOffset int
	Length      int
}

func (e *InsufficientFutureError) Error() string {
	return fmt.Sprintf("no split point after offset %d leaves a future period in a series of length %d", e.StartOffset, e.Length)
}
