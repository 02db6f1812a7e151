package period

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBounds_Month(t *testing.T) {
	r, err := FromBounds(MustParse("2020-07"), MustParse("2021-02"))
	require.NoError(t, err)

	assert.Equal(t, 8, r.Len())
	assert.Equal(t, []string{"2020-07", "2020-08", "2020-09", "2020-10", "2020-11", "2020-12", "2021-01", "2021-02"}, r.Strings())
}

func TestFromBounds_Day(t *testing.T) {
	r, err := FromBounds(MustParse("2020-01-29"), MustParse("2020-02-02"))
	require.NoError(t, err)

	assert.Equal(t, []string{"2020-01-29", "2020-01-30", "2020-01-31", "2020-02-01", "2020-02-02"}, r.Strings())
}

func TestFromBounds_LengthAndContiguity(t *testing.T) {
	pairs := [][2]string{
		{"2010", "2015"},
		{"2019W48", "2020W10"},
		{"2019-12-25", "2020-03-02"},
		{"2020-05", "2020-05"},
	}

	for _, pair := range pairs {
		start, end := MustParse(pair[0]), MustParse(pair[1])
		r, err := FromBounds(start, end)
		require.NoError(t, err)

		d, _ := end.Diff(start)
		assert.Equal(t, d+1, r.Len())

		periods := r.Periods()
		for i := 1; i < len(periods); i++ {
			step, err := periods[i].Diff(periods[i-1])
			require.NoError(t, err)
			assert.Equal(t, 1, step)
		}
		assert.Equal(t, start, r.Start())
		assert.Equal(t, end, r.End())
	}
}

func TestFromBounds_Errors(t *testing.T) {
	_, err := FromBounds(MustParse("2020-05"), MustParse("2020-04"))
	var ee *EmptyRangeError
	require.ErrorAs(t, err, &ee)

	_, err = FromBounds(MustParse("2020"), MustParse("2020-04"))
	var ge *GranularityMismatchError
	require.ErrorAs(t, err, &ge)
}

func TestIndexOf(t *testing.T) {
	r, err := FromBounds(MustParse("2020-01"), MustParse("2020-12"))
	require.NoError(t, err)

	i, err := r.IndexOf(MustParse("2020-04"))
	require.NoError(t, err)
	assert.Equal(t, 3, i)

	_, err = r.IndexOf(MustParse("2021-01"))
	var oe *OutOfRangeError
	require.ErrorAs(t, err, &oe)

	_, err = r.IndexOf(MustParse("2019-12"))
	require.ErrorAs(t, err, &oe)

	p, err := r.At(11)
	require.NoError(t, err)
	assert.Equal(t, "2020-12", p.String())

	_, err = r.At(12)
	require.ErrorAs(t, err, &oe)
}

func TestSliceAndConcat(t *testing.T) {
	r, err := FromBounds(MustParse("2020-01"), MustParse("2020-12"))
	require.NoError(t, err)

	head, err := r.Slice(0, 6)
	require.NoError(t, err)
	tail, err := r.Slice(6, 12)
	require.NoError(t, err)

	joined, err := head.Concat(tail)
	require.NoError(t, err)
	assert.True(t, joined.Equal(r))

	_, err = tail.Concat(head)
	assert.True(t, errors.Is(err, ErrNotContiguous))

	_, err = r.Slice(3, 13)
	var oe *OutOfRangeError
	require.ErrorAs(t, err, &oe)
}

func TestIntersectUnion(t *testing.T) {
	a, _ := FromBounds(MustParse("2020-01"), MustParse("2020-06"))
	b, _ := FromBounds(MustParse("2020-04"), MustParse("2020-10"))

	in, err := a.Intersect(b)
	require.NoError(t, err)
	assert.Equal(t, "[2020-04..2020-06]", in.String())

	un, err := a.Union(b)
	require.NoError(t, err)
	assert.Equal(t, "[2020-01..2020-10]", un.String())

	c, _ := FromBounds(MustParse("2021-01"), MustParse("2021-02"))
	_, err = a.Intersect(c)
	var ee *EmptyRangeError
	require.ErrorAs(t, err, &ee)
}

func TestFromStrings(t *testing.T) {
	r, err := FromStrings([]string{"2010", "2011", "2012"})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, Year, r.Granularity())

	_, err = FromStrings([]string{"2010", "2012"})
	assert.True(t, errors.Is(err, ErrNotContiguous))

	_, err = FromStrings([]string{"2010", "2010-02"})
	var ge *GranularityMismatchError
	require.ErrorAs(t, err, &ge)
}
