package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climate-health/chap/pkg/evaluator"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// writeDataset writes two monthly locations covering 2020-01..2021-12.
func writeDataset(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("location,time_period,disease_cases,rainfall\n")
	for _, loc := range []string{"A", "B"} {
		for i := 0; i < 24; i++ {
			fmt.Fprintf(&b, "%s,%d-%02d,%d,%.1f\n", loc, 2020+i/12, i%12+1, 10+i%5, float64(i)*2.5)
		}
	}
	path := filepath.Join(dir, "cases.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func writeDescriptor(t *testing.T, dir string) string {
	t.Helper()
	scripts := map[string]string{
		"train.sh": "cp \"$1\" \"$2\"\n",
		"predict.sh": `awk -F, 'NR==1 { print "location,time_period,disease_cases"; next } { print $1 "," $2 ",12" }' "$1" > "$3"
`,
	}
	for name, body := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755))
	}
	descriptor := `apiVersion: chap/v1
kind: ChapModel
metadata:
  name: constant-twelve
spec:
  type: external
  train: sh train.sh {train_data} {model}
  predict: sh predict.sh {future_data} {model} {out_file}
`
	path := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(descriptor), 0o644))
	return path
}

func TestInspect(t *testing.T) {
	data := writeDataset(t, t.TempDir())

	output, err := executeCommand(t, "inspect", data, "--locations")
	require.NoError(t, err)
	assert.Contains(t, output, "Locations:")
	assert.Contains(t, output, "month")
	assert.Contains(t, output, "2020-01..2021-12 (24 periods)")
	assert.Contains(t, output, "disease_cases, rainfall")
	assert.Contains(t, output, "true")
}

func TestInspect_MissingFile(t *testing.T) {
	_, err := executeCommand(t, "inspect", filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}

func TestSplits(t *testing.T) {
	data := writeDataset(t, t.TempDir())

	output, err := executeCommand(t, "splits", "--data", data, "--start-offset", "12", "--max-splits", "3", "--horizon", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(output), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "2021-05")
	assert.Contains(t, lines[2], "2021-08")
	assert.Contains(t, lines[3], "2020-01..2021-11")
	assert.Contains(t, lines[3], "2021-12..2021-12")
	assert.Contains(t, lines[1], "2021-06..2021-07")
}

func TestSplits_InsufficientHistory(t *testing.T) {
	data := writeDataset(t, t.TempDir())

	_, err := executeCommand(t, "splits", "--data", data, "--start-offset", "30")
	assert.Error(t, err)
}

func TestEvaluate_Stdout(t *testing.T) {
	data := writeDataset(t, t.TempDir())

	output, err := executeCommand(t, "evaluate", "--data", data, "--model", "naive-last",
		"--start-offset", "12", "--max-splits", "2", "--horizon", "3")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(output), "\n")
	assert.Equal(t, "model,location,lag_ahead,error_value", lines[0])
	assert.Contains(t, output, "naive-last,A,1,")
	assert.Contains(t, output, "naive-last,B,3,")
	// default baseline
	assert.Contains(t, output, "naive-poisson,A,1,")
	// two models, two locations, three lags
	assert.Len(t, lines, 1+2*2*3)
}

func TestEvaluate_OutputReportStoreExport(t *testing.T) {
	dir := t.TempDir()
	data := writeDataset(t, dir)
	storeDir := filepath.Join(dir, "store")
	exportDir := filepath.Join(dir, "export")
	t.Setenv("CHAP_STORE_BACKEND", "local")
	t.Setenv("CHAP_STORE_PATH", storeDir)
	t.Setenv("CHAP_EXPORT_BACKEND", "local")
	t.Setenv("CHAP_EXPORT_PATH", exportDir)
	t.Setenv("CHAP_EXPORT_COMPRESS", "true")

	out := filepath.Join(dir, "results.csv")
	reportPath := filepath.Join(dir, "report.json")
	output, err := executeCommand(t, "evaluate", "-d", data, "-m", "seasonal", "-m", writeDescriptor(t, dir),
		"--start-offset", "12", "--max-splits", "3", "--baseline", "none",
		"--metric", "mae", "--output", out, "--report", reportPath)
	require.NoError(t, err)
	assert.Contains(t, output, "MODEL")
	assert.Contains(t, output, "constant-twelve")
	assert.Contains(t, output, "seasonal")

	table, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(table), "constant-twelve,A,1,")
	assert.NotContains(t, string(table), "naive-poisson")

	raw, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report evaluator.EvaluationReport
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Len(t, report.SplitPoints, 3)
	assert.Contains(t, report.Models, "constant-twelve")

	entries, err := os.ReadDir(storeDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	runID := strings.TrimSuffix(entries[0].Name(), ".json")
	assert.Equal(t, report.RunID, runID)

	assert.FileExists(t, filepath.Join(exportDir, runID, "results.csv.zst"))
	assert.FileExists(t, filepath.Join(exportDir, runID, "report.json.zst"))

	listed, err := executeCommand(t, "results", "list")
	require.NoError(t, err)
	assert.Contains(t, listed, runID)

	shown, err := executeCommand(t, "results", "show", runID, "--metric", "mae")
	require.NoError(t, err)
	assert.Equal(t, string(table), shown)

	exported, err := executeCommand(t, "results", "show", runID, "--from-export")
	require.NoError(t, err)
	assert.Equal(t, string(table), exported)

	_, err = executeCommand(t, "results", "show", "../"+runID)
	assert.Error(t, err)
	_, err = executeCommand(t, "results", "show", "unknown-run", "--from-export")
	assert.Error(t, err)
}

func TestEvaluate_Errors(t *testing.T) {
	data := writeDataset(t, t.TempDir())

	_, err := executeCommand(t, "evaluate", "--model", "naive-last")
	assert.Error(t, err)

	_, err = executeCommand(t, "evaluate", "--data", data, "--model", "no-such-model.yaml")
	assert.Error(t, err)

	_, err = executeCommand(t, "evaluate", "--data", data, "--model", "naive-last", "--mode", "sample")
	assert.Error(t, err)

	// an offset of 23 leaves no future period after any origin
	_, err = executeCommand(t, "evaluate", "--data", data, "--model", "naive-last", "--start-offset", "23")
	assert.Error(t, err)
}

func TestResults_NoStore(t *testing.T) {
	_, err := executeCommand(t, "results", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no result store")
}

func TestModels(t *testing.T) {
	output, err := executeCommand(t, "models")
	require.NoError(t, err)
	for _, name := range []string{"naive-last", "naive-mean", "naive-poisson", "exp-smoothing", "seasonal"} {
		assert.Contains(t, output, name)
	}

	dir := t.TempDir()
	output, err = executeCommand(t, "models", "validate", writeDescriptor(t, dir))
	require.NoError(t, err)
	assert.Contains(t, output, "constant-twelve")
	assert.Contains(t, output, "external")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("kind: Other\n"), 0o644))
	_, err = executeCommand(t, "models", "validate", bad)
	assert.Error(t, err)
}

func TestConfig(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "chap.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
evaluation:
  max_splits: 8
export:
  backend: s3
  bucket: results
  secret_key: hunter2
`), 0o644))

	output, err := executeCommand(t, "config", "view")
	require.NoError(t, err)
	assert.Contains(t, output, "max_splits: 5")
	assert.Contains(t, output, "timeout: 30m0s")

	output, err = executeCommand(t, "--config", configFile, "config", "view")
	require.NoError(t, err)
	assert.Contains(t, output, "max_splits: 8")
	assert.Contains(t, output, "bucket: results")
	assert.NotContains(t, output, "hunter2")

	t.Setenv("CHAP_EVALUATION_WORKERS", "3")
	output, err = executeCommand(t, "config", "get", "evaluation.workers")
	require.NoError(t, err)
	assert.Equal(t, "3\n", output)

	_, err = executeCommand(t, "config", "get", "evaluation.nope")
	assert.Error(t, err)

	_, err = executeCommand(t, "--log-level", "loud", "config", "view")
	assert.Error(t, err)
}

func TestEvaluate_MetricsEndpoint(t *testing.T) {
	data := writeDataset(t, t.TempDir())
	t.Setenv("CHAP_METRICS_ENABLED", "true")
	t.Setenv("CHAP_METRICS_LISTEN_ADDR", "127.0.0.1:0")

	output, err := executeCommand(t, "evaluate", "--data", data, "--model", "naive-mean",
		"--start-offset", "20", "--workers", "2", "--mode", "forecast")
	require.NoError(t, err)
	assert.Contains(t, output, "naive-mean,A,1,")
}
