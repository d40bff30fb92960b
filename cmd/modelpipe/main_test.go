package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/modelpipe/internal/monitoring"
	"github.com/banshee-data/modelpipe/internal/testutil"
)

func writeFeatures(t *testing.T, dir string) string {
	t.Helper()
	rows, labels := testutil.Blobs(120, 2, 2.5, 17)
	var b strings.Builder
	b.WriteString("f0,f1,y\n")
	for i, r := range rows {
		fmt.Fprintf(&b, "%g,%g,%g\n", r[0], r[1], labels[i])
	}
	path := filepath.Join(dir, "features.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func writeYAML(t *testing.T, dir, data string) string {
	t.Helper()
	body := fmt.Sprintf(`
tracking_uri: %s
artifact_root: %s
experiment_name: cli
families:
  - name: logistic_regression
    space:
      C: [1.0]
      solver: [lbfgs]
  - name: gbdt
    space:
      max_depth: [2]
      n_estimators: [10]
data:
  path: %s
  label: y
  raw: false
`, filepath.Join(dir, "tracker.db"), filepath.Join(dir, "artifacts"), data)
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRun_EndToEnd(t *testing.T) {
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	dir := t.TempDir()
	cfgPath := writeYAML(t, dir, writeFeatures(t, dir))
	report := filepath.Join(dir, "report.html")

	var out bytes.Buffer
	err := run(context.Background(), []string{"-config", cfgPath, "-run-id", "cli1", "-report", report, "-workers", "2"}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "pipeline cli1")
	assert.Contains(t, out.String(), "registered census_pred version 1 (Staging)")
	assert.FileExists(t, report)

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"migrate", "-db", filepath.Join(dir, "tracker.db"), "status"}, &out))
	assert.Contains(t, out.String(), "version")
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, &out))
	assert.True(t, strings.HasPrefix(out.String(), "modelpipe "))
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	var o options
	fs := newFlagSet(&o, io.Discard)
	require.NoError(t, fs.Parse([]string{"-stage", "Production", "-seed", "7", "-raw=false", "-label", "target", "-data", "x.csv"}))

	cfg, err := loadConfig(o, fs)
	require.NoError(t, err)
	assert.Equal(t, "Production", cfg.Stage)
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.False(t, cfg.Data.Raw)
	assert.Equal(t, "target", cfg.Data.Label)
	assert.Equal(t, "census_prediction", cfg.ExperimentName, "unset flags keep config values")
}

func TestLoadConfig_Invalid(t *testing.T) {
	var o options
	fs := newFlagSet(&o, io.Discard)
	require.NoError(t, fs.Parse([]string{"-stage", "Canary"}))
	_, err := loadConfig(o, fs)
	assert.ErrorContains(t, err, "stage")
}

func TestLoadConfig_ReportOutsideAllowedDirs(t *testing.T) {
	var o options
	fs := newFlagSet(&o, io.Discard)
	require.NoError(t, fs.Parse([]string{"-report", "/proc/self/report.html"}))
	_, err := loadConfig(o, fs)
	assert.ErrorContains(t, err, "invalid report path")
}

func TestRun_BadFlag(t *testing.T) {
	err := run(context.Background(), []string{"-no-such-flag"}, io.Discard)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, flag.ErrHelp)
}

func TestIsRemote(t *testing.T) {
	assert.True(t, isRemote("http://mlflow:5000"))
	assert.True(t, isRemote("https://mlflow.example.com"))
	assert.False(t, isRemote("tracker.db"))
}
