// Package period implements discrete calendar periods (day, ISO week, month,
// year) and contiguous ranges of them.
//
// Every period is stored as a granularity plus an integer ordinal on an
// infinite grid, so arithmetic never drifts across month or year boundaries:
//
//	year:  the calendar year
//	month: year*12 + (month-1)
//	week:  ISO weeks since the week containing 1970-01-01
//	day:   days since 1970-01-01
package period

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Granularity is the calendar unit of a Period.
type Granularity int

const (
	Day Granularity = iota + 1
	Week
	Month
	Year
)

func (g Granularity) String() string {
	switch g {
	case Day:
		return "day"
	case Week:
		return "week"
	case Month:
		return "month"
	case Year:
		return "year"
	default:
		return "unknown"
	}
}

// ParseGranularity converts a granularity name back to its value.
func ParseGranularity(s string) (Granularity, error) {
	switch s {
	case "day":
		return Day, nil
	case "week":
		return Week, nil
	case "month":
		return Month, nil
	case "year":
		return Year, nil
	}
	return 0, fmt.Errorf("unknown granularity %q", s)
}

// Period is a single calendar interval. The zero value is not a valid period.
type Period struct {
	gran Granularity
	ord  int
}

var (
	yearPattern  = regexp.MustCompile(`^(\d{4})$`)
	monthPattern = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
	weekPattern  = regexp.MustCompile(`^(\d{4})-?W(\d{1,2})$`)
	dayPattern   = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
)

// Parse reads a canonical period label: "2020", "2020-07", "2020W05" or "2020-07-15".
func Parse(s string) (Period, error) {
	switch {
	case yearPattern.MatchString(s):
		return relabel(s)(NewYear(atoi(s)))
	case monthPattern.MatchString(s):
		m := monthPattern.FindStringSubmatch(s)
		return relabel(s)(NewMonth(atoi(m[1]), atoi(m[2])))
	case weekPattern.MatchString(s):
		m := weekPattern.FindStringSubmatch(s)
		return relabel(s)(NewWeek(atoi(m[1]), atoi(m[2])))
	case dayPattern.MatchString(s):
		m := dayPattern.FindStringSubmatch(s)
		return relabel(s)(NewDay(atoi(m[1]), atoi(m[2]), atoi(m[3])))
	}
	return Period{}, &FormatError{Input: s, Reason: "unrecognized granularity marker"}
}

// relabel reports constructor failures against the original input string.
func relabel(input string) func(Period, error) (Period, error) {
	return func(p Period, err error) (Period, error) {
		var fe *FormatError
		if errors.As(err, &fe) {
			return Period{}, &FormatError{Input: input, Reason: fe.Reason}
		}
		return p, err
	}
}

// MustParse is like Parse but panics on error. Intended for literals.
func MustParse(s string) Period {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// NewYear returns the period for a calendar year.
func NewYear(year int) (Period, error) {
	if year < 1 || year > 9999 {
		return Period{}, &FormatError{Input: fmt.Sprintf("%04d", year), Reason: "year out of range"}
	}
	return Period{gran: Year, ord: year}, nil
}

// NewMonth returns the period for a month (1-12) of a year.
func NewMonth(year, month int) (Period, error) {
	label := fmt.Sprintf("%04d-%02d", year, month)
	if year < 1 || year > 9999 {
		return Period{}, &FormatError{Input: label, Reason: "year out of range"}
	}
	if month < 1 || month > 12 {
		return Period{}, &FormatError{Input: label, Reason: "month out of range"}
	}
	return Period{gran: Month, ord: year*12 + month - 1}, nil
}

// NewWeek returns the period for an ISO week of an ISO week-numbering year.
func NewWeek(year, week int) (Period, error) {
	label := fmt.Sprintf("%04dW%02d", year, week)
	if year < 1 || year > 9999 {
		return Period{}, &FormatError{Input: label, Reason: "year out of range"}
	}
	if week < 1 || week > weeksInYear(year) {
		return Period{}, &FormatError{Input: label, Reason: "week out of range"}
	}
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	monday := jan4.AddDate(0, 0, -weekdayIndex(jan4)+7*(week-1))
	return Period{gran: Week, ord: floorDiv(dayOrdinal(monday)+3, 7)}, nil
}

// NewDay returns the period for a calendar date.
func NewDay(year, month, day int) (Period, error) {
	label := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	if year < 1 || year > 9999 {
		return Period{}, &FormatError{Input: label, Reason: "year out of range"}
	}
	if month < 1 || month > 12 {
		return Period{}, &FormatError{Input: label, Reason: "month out of range"}
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if day < 1 || t.Day() != day {
		return Period{}, &FormatError{Input: label, Reason: "day out of range"}
	}
	return Period{gran: Day, ord: dayOrdinal(t)}, nil
}

// FromOrdinal builds a period directly from its grid position.
func FromOrdinal(g Granularity, ordinal int) Period {
	return Period{gran: g, ord: ordinal}
}

// Granularity returns the calendar unit of the period.
func (p Period) Granularity() Granularity { return p.gran }

// Ordinal returns the position of the period on its granularity's grid.
func (p Period) Ordinal() int { return p.ord }

// IsZero reports whether p is the zero value.
func (p Period) IsZero() bool { return p.gran == 0 }

// Add returns the period n steps later (earlier for negative n).
func (p Period) Add(n int) Period {
	return Period{gran: p.gran, ord: p.ord + n}
}

// Sub returns the period n steps earlier.
func (p Period) Sub(n int) Period {
	return Period{gran: p.gran, ord: p.ord - n}
}

// Diff returns the number of steps from other to p.
func (p Period) Diff(other Period) (int, error) {
	if p.gran != other.gran {
		return 0, &GranularityMismatchError{Left: p.gran, Right: other.gran}
	}
	return p.ord - other.ord, nil
}

// Compare returns -1, 0 or +1 as p is before, equal to or after other.
func (p Period) Compare(other Period) (int, error) {
	d, err := p.Diff(other)
	if err != nil {
		return 0, err
	}
	switch {
	case d < 0:
		return -1, nil
	case d > 0:
		return 1, nil
	}
	return 0, nil
}

// Year returns the calendar year (ISO week-numbering year for weeks).
func (p Period) Year() int {
	switch p.gran {
	case Year:
		return p.ord
	case Month:
		return floorDiv(p.ord, 12)
	case Week:
		y, _ := p.StartTime().ISOWeek()
		return y
	case Day:
		return p.StartTime().Year()
	}
	return 0
}

// StartTime returns the first instant of the period in UTC.
func (p Period) StartTime() time.Time {
	switch p.gran {
	case Year:
		return time.Date(p.ord, time.January, 1, 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(floorDiv(p.ord, 12), time.Month(floorMod(p.ord, 12)+1), 1, 0, 0, 0, 0, time.UTC)
	case Week:
		return dayTime(p.ord*7 - 3)
	case Day:
		return dayTime(p.ord)
	}
	return time.Time{}
}

// EndTime returns the first instant after the period.
func (p Period) EndTime() time.Time {
	return p.Add(1).StartTime()
}

// Season returns the position of the period within its year and the number of
// such positions: month of year, ISO week, or day of year. Years have a single season.
func (p Period) Season() (index, count int) {
	t := p.StartTime()
	switch p.gran {
	case Month:
		return floorMod(p.ord, 12), 12
	case Week:
		_, w := t.ISOWeek()
		return w - 1, 53
	case Day:
		return t.YearDay() - 1, 366
	}
	return 0, 1
}

// String returns the canonical label of the period.
func (p Period) String() string {
	switch p.gran {
	case Year:
		return fmt.Sprintf("%04d", p.ord)
	case Month:
		return fmt.Sprintf("%04d-%02d", floorDiv(p.ord, 12), floorMod(p.ord, 12)+1)
	case Week:
		y, w := p.StartTime().ISOWeek()
		return fmt.Sprintf("%04dW%02d", y, w)
	case Day:
		return p.StartTime().Format("2006-01-02")
	}
	return "invalid"
}

func weeksInYear(year int) int {
	_, w := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return w
}

// weekdayIndex maps Monday to 0 and Sunday to 6.
func weekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func dayOrdinal(t time.Time) int {
	return int(t.Unix() / 86400)
}

func dayTime(ordinal int) time.Time {
	return time.Unix(int64(ordinal)*86400, 0).UTC()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
