package period

import (
	"fmt"
	"strconv"
)

// Range is a contiguous, strictly increasing sequence of same-granularity periods.
type Range struct {
	start Period
	n     int
}

// FromBounds returns the inclusive range [start, end].
func FromBounds(start, end Period) (Range, error) {
	d, err := end.Diff(start)
	if err != nil {
		return Range{}, err
	}
	if d < 0 {
		return Range{}, &EmptyRangeError{Start: start.String(), End: end.String()}
	}
	return Range{start: start, n: d + 1}, nil
}

// FromStart returns the range of n periods beginning at start.
func FromStart(start Period, n int) (Range, error) {
	if n < 1 {
		return Range{}, &EmptyRangeError{Start: start.String(), End: start.Add(n - 1).String()}
	}
	return Range{start: start, n: n}, nil
}

// FromStrings parses labels that must form a contiguous, increasing range.
func FromStrings(labels []string) (Range, error) {
	if len(labels) == 0 {
		return Range{}, &EmptyRangeError{}
	}
	first, err := Parse(labels[0])
	if err != nil {
		return Range{}, err
	}
	for i, s := range labels[1:] {
		p, err := Parse(s)
		if err != nil {
			return Range{}, err
		}
		d, err := p.Diff(first)
		if err != nil {
			return Range{}, err
		}
		if d != i+1 {
			return Range{}, fmt.Errorf("%w: %s does not follow %s", ErrNotContiguous, s, labels[i])
		}
	}
	return Range{start: first, n: len(labels)}, nil
}

// Granularity returns the calendar unit shared by all periods in the range.
func (r Range) Granularity() Granularity { return r.start.gran }

// Len returns the number of periods.
func (r Range) Len() int { return r.n }

// IsZero reports whether r is the zero value.
func (r Range) IsZero() bool { return r.n == 0 }

// Start returns the first period.
func (r Range) Start() Period { return r.start }

// End returns the last period.
func (r Range) End() Period { return r.start.Add(r.n - 1) }

// At returns the period at offset i.
func (r Range) At(i int) (Period, error) {
	if i < 0 || i >= r.n {
		return Period{}, &OutOfRangeError{What: "offset " + strconv.Itoa(i), Range: r.String()}
	}
	return r.start.Add(i), nil
}

// IndexOf returns the offset of p within the range.
func (r Range) IndexOf(p Period) (int, error) {
	d, err := p.Diff(r.start)
	if err != nil {
		return 0, err
	}
	if d < 0 || d >= r.n {
		return 0, &OutOfRangeError{What: "period " + p.String(), Range: r.String()}
	}
	return d, nil
}

// Contains reports whether p lies inside the range.
func (r Range) Contains(p Period) bool {
	_, err := r.IndexOf(p)
	return err == nil
}

// Covers reports whether every period of other lies inside r.
func (r Range) Covers(other Range) bool {
	return r.Contains(other.Start()) && r.Contains(other.End())
}

// Slice returns the sub-range of offsets [i, j).
func (r Range) Slice(i, j int) (Range, error) {
	if i < 0 || j > r.n || i > j {
		return Range{}, &OutOfRangeError{What: fmt.Sprintf("slice [%d:%d]", i, j), Range: r.String()}
	}
	if i == j {
		return Range{}, &EmptyRangeError{Start: r.start.Add(i).String(), End: r.start.Add(j - 1).String()}
	}
	return Range{start: r.start.Add(i), n: j - i}, nil
}

// Concat joins other directly after r.
func (r Range) Concat(other Range) (Range, error) {
	d, err := other.start.Diff(r.End())
	if err != nil {
		return Range{}, err
	}
	if d != 1 {
		return Range{}, fmt.Errorf("%w: %s then %s", ErrNotContiguous, r, other)
	}
	return Range{start: r.start, n: r.n + other.n}, nil
}

// Intersect returns the periods shared by r and other.
func (r Range) Intersect(other Range) (Range, error) {
	if _, err := r.start.Diff(other.start); err != nil {
		return Range{}, err
	}
	lo, hi := r.start, r.End()
	if other.start.ord > lo.ord {
		lo = other.start
	}
	if other.End().ord < hi.ord {
		hi = other.End()
	}
	return FromBounds(lo, hi)
}

// Union returns the smallest range covering both r and other.
func (r Range) Union(other Range) (Range, error) {
	if _, err := r.start.Diff(other.start); err != nil {
		return Range{}, err
	}
	lo, hi := r.start, r.End()
	if other.start.ord < lo.ord {
		lo = other.start
	}
	if other.End().ord > hi.ord {
		hi = other.End()
	}
	return FromBounds(lo, hi)
}

// Equal reports whether both ranges hold exactly the same periods.
func (r Range) Equal(other Range) bool {
	return r.start == other.start && r.n == other.n
}

// Periods returns every period in order.
func (r Range) Periods() []Period {
	out := make([]Period, r.n)
	for i := range out {
		out[i] = r.start.Add(i)
	}
	return out
}

// Strings returns the canonical label of every period in order.
func (r Range) Strings() []string {
	out := make([]string, r.n)
	for i := range out {
		out[i] = r.start.Add(i).String()
	}
	return out
}

func (r Range) String() string {
	if r.n == 0 {
		return "[]"
	}
	return fmt.Sprintf("[%s..%s]", r.start, r.End())
}
