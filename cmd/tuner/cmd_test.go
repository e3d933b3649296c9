package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// each trial scores its own index plus one half
const cliConfig = `
log_level: warn
seed: 3
work_dir: %[1]s/work
objective:
  name: rsplit
  direction: minimize
  format: json
stages:
  - name: find_peaks
    command: "true"
    timeout: 10s
  - name: merge
    command: 'echo "{\"rsplit\": $TUNER_TRIAL.5}" > {trial_dir}/out.json'
    timeout: 10s
    artifact: "{trial_dir}/out.json"
parameters:
  - {name: adc_threshold, lower: 5, upper: 50}
budget:
  initial_samples: 3
  total_trials: 3
executor:
  poll_interval: 5ms
  settle_polls: 2
history:
  backend: jsonl
  path: %[1]s/history.jsonl
`

func writeConfig(t *testing.T, body string) (path, dir string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "tuner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(body, dir)), 0o644))
	return path, dir
}

// execute runs the CLI in-process and returns stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(args, "--env-file", ""))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidate(t *testing.T) {
	path, _ := writeConfig(t, cliConfig)

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration OK: 2 stages, 1 parameters, 3 trials (3 initial)")
	assert.Contains(t, out, "total_trials: 3")
	assert.Contains(t, out, "backend: jsonl")
}

func TestValidateFromEnv(t *testing.T) {
	path, _ := writeConfig(t, cliConfig)
	t.Setenv("TUNER_CONFIG", path)

	out, err := execute(t, "validate", "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration OK")
	assert.NotContains(t, out, "total_trials")
}

func TestValidateErrors(t *testing.T) {
	_, err := execute(t, "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file is required")

	path, _ := writeConfig(t, "objective: {name: x, direction: sideways}\n# %[1]s\n")
	_, err = execute(t, "validate", "--config", path)
	require.Error(t, err)
}

func TestRunReportAndResume(t *testing.T) {
	path, dir := writeConfig(t, cliConfig)

	out, err := execute(t, "run", "--config", path, "--http-addr", "127.0.0.1:0", "--grpc-addr", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, out, "stopped: budget_exhausted after 3 trials (3 succeeded)")
	assert.Contains(t, out, "best trial 0: rsplit = 0.5")

	out, err = execute(t, "report", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "TRIAL")
	assert.Contains(t, out, "rsplit")
	assert.Contains(t, out, "3 trials, 3 succeeded")
	assert.Contains(t, out, "best trial 0: rsplit = 0.5")
	assert.Contains(t, out, "trend degrading")

	out, err = execute(t, "report", "--config", path, "--status", "failed")
	require.NoError(t, err)
	table, _, found := strings.Cut(out, "\n\n")
	require.True(t, found)
	assert.Len(t, strings.Split(table, "\n"), 1, "only the header row")

	_, err = execute(t, "report", "--config", path, "--status", "pending")
	require.Error(t, err)

	// the budget is already spent, so a resumed run evaluates nothing
	out, err = execute(t, "run", "--config", path, "--resume")
	require.NoError(t, err)
	assert.Contains(t, out, "after 3 trials (3 succeeded)")

	archived, err := filepath.Glob(filepath.Join(dir, "history.jsonl.prev-*"))
	require.NoError(t, err)
	assert.Empty(t, archived)

	// a fresh run archives the previous history
	_, err = execute(t, "run", "--config", path)
	require.NoError(t, err)
	archived, err = filepath.Glob(filepath.Join(dir, "history.jsonl.prev-*"))
	require.NoError(t, err)
	assert.Len(t, archived, 1)
}

func TestFreshRunReevaluatesEveryStage(t *testing.T) {
	counted := strings.Replace(cliConfig, `command: "true"`, `command: "echo x >> %[1]s/find_peaks.count"`, 1)
	path, dir := writeConfig(t, counted)
	invocations := func() int {
		data, err := os.ReadFile(filepath.Join(dir, "find_peaks.count"))
		require.NoError(t, err)
		return strings.Count(string(data), "\n")
	}

	_, err := execute(t, "run", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, 3, invocations())

	_, err = execute(t, "run", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, 6, invocations(), "a fresh run must not reuse checkpoints from the previous run")

	previous, err := filepath.Glob(filepath.Join(dir, "work", "prev-*", "trial-0000", "checkpoint.yaml"))
	require.NoError(t, err)
	assert.Len(t, previous, 1)
}

func TestReportMissingHistory(t *testing.T) {
	path, _ := writeConfig(t, cliConfig)

	_, err := execute(t, "report", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no history at")
}
