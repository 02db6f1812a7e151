package evaluator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climate-health/chap/pkg/period"
)

func sampleResult(id string, started time.Time) *Result {
	return &Result{
		RunID:       id,
		StartedAt:   started,
		FinishedAt:  started.Add(time.Second),
		SplitPoints: []period.Period{period.MustParse("2020-02"), period.MustParse("2020-03")},
		Table:       sampleTable(),
		Failures:    []Failure{{Model: "broken", SplitPoint: "2020-02", Message: "exit status 1"}},
	}
}

func assertSameResult(t *testing.T, want, got *Result) {
	t.Helper()
	assert.Equal(t, want.RunID, got.RunID)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.True(t, want.FinishedAt.Equal(got.FinishedAt))
	assert.Equal(t, want.SplitPoints, got.SplitPoints)
	assert.Equal(t, want.Table.Observations(), got.Table.Observations())
	assert.Equal(t, want.Failures, got.Failures)
}

func testStore(t *testing.T, store ResultStore) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	newer := sampleResult("run-b", base.Add(time.Hour))
	older := sampleResult("run-a", base)
	require.NoError(t, store.Save(ctx, newer))
	require.NoError(t, store.Save(ctx, older))

	got, err := store.Load(ctx, "run-b")
	require.NoError(t, err)
	assertSameResult(t, newer, got)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-a", "run-b"}, ids)

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrResultNotFound)

	for _, id := range []string{"", "../x", "a/b", ".hidden", "..", "run a"} {
		_, err = store.Load(ctx, id)
		assert.ErrorIs(t, err, ErrInvalidRunID, id)
	}
	assert.ErrorIs(t, store.Save(ctx, sampleResult("../escape", base)), ErrInvalidRunID)

	require.NoError(t, store.Close())
}

func TestLocalResultStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	store, err := NewLocalResultStore(dir)
	require.NoError(t, err)
	testStore(t, store)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestLocalResultStore_SkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalResultStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("{"), 0o644))
	require.NoError(t, store.Save(context.Background(), sampleResult("run-a", time.Now().UTC())))

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"run-a"}, ids)
}

func TestLocalResultStore_RejectsEscapingIDs(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "results")
	store, err := NewLocalResultStore(dir)
	require.NoError(t, err)

	require.Error(t, store.Save(context.Background(), sampleResult("../outside", time.Now().UTC())))
	assert.NoFileExists(t, filepath.Join(root, "outside.json"))
}

func TestValidateRunID(t *testing.T) {
	for _, id := range []string{"run-a", "0b6d3c1e-6a2f-4c1d-9d0e-2f6f7f1c1a11", "nightly_2024.05"} {
		assert.NoError(t, ValidateRunID(id), id)
	}
	assert.ErrorIs(t, ValidateRunID("../x"), ErrInvalidRunID)
}

func TestRedisResultStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisResultStore(mr.Addr(), 0, "")
	require.NoError(t, err)
	testStore(t, store)

	assert.True(t, mr.Exists("chap:results:run-a"))
}

func TestRedisResultStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisResultStore(addr, 0, "")
	assert.Error(t, err)
}
