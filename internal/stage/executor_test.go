package stage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
)

func jsonScore(v float64) []byte {
	return []byte(fmt.Sprintf(`{"stats": {"rsplit": %g}}`, v))
}

func newTestExecutor(t *testing.T, runner Runner, fsys *memFS, opts Options) *Executor {
	t.Helper()
	e, err := NewExecutor(runner, FileExtractor{Format: FormatJSON, Key: "stats.rsplit"}, opts, WithFileSystem(fsys), quietLogger())
	require.NoError(t, err)
	return e
}

func TestNewExecutorValidates(t *testing.T) {
	extractor := FileExtractor{Key: "k"}
	runner := &stubRunner{}

	_, err := NewExecutor(runner, extractor, Options{})
	assert.Error(t, err)

	opts := testOptions("a", "b")
	opts.TargetStage = "c"
	_, err = NewExecutor(runner, extractor, opts)
	assert.Error(t, err)

	opts = testOptions("a")
	opts.PollInterval = 0
	_, err = NewExecutor(runner, extractor, opts)
	assert.Error(t, err)

	_, err = NewExecutor(nil, extractor, testOptions("a"))
	assert.Error(t, err)
}

func TestExecuteSucceeds(t *testing.T) {
	fsys := newMemFS()
	runner := &stubRunner{start: func(req StageRequest) (Handle, error) {
		if req.Stage == "merge" {
			require.NoError(t, fsys.WriteFile(req.TrialDir+"/out.json", jsonScore(0.42), 0o644))
		}
		return Finished(nil), nil
	}}
	e := newTestExecutor(t, runner, fsys, testOptions("find_peaks", "index", "merge"))

	trial, err := e.Execute(context.Background(), testTrial(3, 0.25, 0.5))
	require.NoError(t, err)

	assert.Equal(t, models.TrialSucceeded, trial.Status)
	require.NotNil(t, trial.Score)
	assert.Equal(t, 0.42, *trial.Score)
	assert.Empty(t, trial.Error)
	assert.False(t, trial.FinishedAt.IsZero())
	assert.Equal(t, []string{"find_peaks", "index", "merge"}, runner.Started())

	data, err := fsys.ReadFile("/work/trial-0003/find_peaks.overrides.yaml")
	require.NoError(t, err)
	var doc struct {
		Stage      string             `yaml:"stage"`
		Trial      int                `yaml:"trial"`
		Parameters map[string]float64 `yaml:"parameters"`
	}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, "find_peaks", doc.Stage)
	assert.Equal(t, 3, doc.Trial)
	assert.Equal(t, map[string]float64{"x": 0.25, "y": 0.5}, doc.Parameters)

	cp, err := LoadCheckpoint(fsys, "/work/trial-0003")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, []string{"find_peaks", "index"}, cp.Completed)
}

func TestExecuteEarlierStageFailure(t *testing.T) {
	fsys := newMemFS()
	runner := &stubRunner{start: func(req StageRequest) (Handle, error) {
		if req.Stage == "index" {
			return Finished(errExit), nil
		}
		return Finished(nil), nil
	}}
	e := newTestExecutor(t, runner, fsys, testOptions("find_peaks", "index", "merge"))

	trial, err := e.Execute(context.Background(), testTrial(0, 0.1, 0.1))
	require.NoError(t, err)

	assert.Equal(t, models.TrialFailed, trial.Status)
	assert.Nil(t, trial.Score)
	assert.Contains(t, trial.Error, "stage index failed")
	assert.Equal(t, []string{"find_peaks", "index"}, runner.Started())
}

func TestExecuteStartError(t *testing.T) {
	runner := &stubRunner{start: func(StageRequest) (Handle, error) {
		return nil, errors.New("queue unavailable")
	}}
	e := newTestExecutor(t, runner, newMemFS(), testOptions("merge"))

	trial, err := e.Execute(context.Background(), testTrial(0, 0.1, 0.1))
	require.NoError(t, err)
	assert.Equal(t, models.TrialFailed, trial.Status)
	assert.Contains(t, trial.Error, "queue unavailable")
}

func TestExecuteNonFiniteScoreFails(t *testing.T) {
	for name, payload := range map[string]string{
		"quoted nan": `{"stats": {"rsplit": "NaN"}}`,
		"quoted inf": `{"stats": {"rsplit": "+Inf"}}`,
		"null":       `{"stats": {"rsplit": null}}`,
		"missing":    `{"stats": {}}`,
	} {
		t.Run(name, func(t *testing.T) {
			fsys := newMemFS()
			runner := &stubRunner{start: func(req StageRequest) (Handle, error) {
				require.NoError(t, fsys.WriteFile(req.TrialDir+"/out.json", []byte(payload), 0o644))
				return Finished(nil), nil
			}}
			e := newTestExecutor(t, runner, fsys, testOptions("merge"))

			trial, err := e.Execute(context.Background(), testTrial(1, 0.5, 0.5))
			require.NoError(t, err)
			assert.Equal(t, models.TrialFailed, trial.Status)
			assert.Nil(t, trial.Score)
			assert.Contains(t, trial.Error, "metric stats.rsplit not found")
		})
	}
}

func TestExecuteTimeoutDeadlineAndCleanupBudget(t *testing.T) {
	fsys := newMemFS()
	fsys.removeErr = errors.New("resource busy")

	runner := &stubRunner{start: func(req StageRequest) (Handle, error) {
		// half-written and never completed
		require.NoError(t, fsys.WriteFile(req.TrialDir+"/out.json", []byte(`{"stats": {"rsp`), 0o644))
		return HandleFunc(func() (JobState, error) { return JobRunning, nil }), nil
	}}
	opts := testOptions("merge")
	opts.Stages[0].Timeout = 150 * time.Millisecond
	opts.PollInterval = 10 * time.Millisecond
	e := newTestExecutor(t, runner, fsys, opts)

	start := time.Now()
	trial, err := e.Execute(context.Background(), testTrial(2, 0.5, 0.5))
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, models.TrialTimedOut, trial.Status)
	assert.Nil(t, trial.Score)
	assert.Contains(t, trial.Error, "timed out")
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)

	// one retry budget, no removal before start because nothing was stale
	assert.Equal(t, 3, fsys.removeCount())
	assert.True(t, fsys.has("/work/trial-0002/out.json"))
}

func TestExecuteTimeoutRemovesPartialArtifact(t *testing.T) {
	fsys := newMemFS()
	runner := &stubRunner{start: func(req StageRequest) (Handle, error) {
		require.NoError(t, fsys.WriteFile(req.TrialDir+"/out.json", []byte(`{`), 0o644))
		return HandleFunc(func() (JobState, error) { return JobRunning, nil }), nil
	}}
	opts := testOptions("merge")
	opts.Stages[0].Timeout = 50 * time.Millisecond
	e := newTestExecutor(t, runner, fsys, opts)

	trial, err := e.Execute(context.Background(), testTrial(2, 0.5, 0.5))
	require.NoError(t, err)

	assert.Equal(t, models.TrialTimedOut, trial.Status)
	assert.Equal(t, 1, fsys.removeCount())
	assert.False(t, fsys.has("/work/trial-0002/out.json"))
}

func TestExecuteIntermediateStageTimeout(t *testing.T) {
	runner := &stubRunner{start: func(req StageRequest) (Handle, error) {
		if req.Stage == "index" {
			return HandleFunc(func() (JobState, error) { return JobRunning, nil }), nil
		}
		return Finished(nil), nil
	}}
	opts := testOptions("find_peaks", "index", "merge")
	opts.Stages[1].Timeout = 40 * time.Millisecond
	e := newTestExecutor(t, runner, newMemFS(), opts)

	trial, err := e.Execute(context.Background(), testTrial(0, 0.5, 0.5))
	require.NoError(t, err)
	assert.Equal(t, models.TrialTimedOut, trial.Status)
	assert.Contains(t, trial.Error, "stage index timed out")
	assert.Equal(t, []string{"find_peaks", "index"}, runner.Started())
}

func TestExecuteClearsStaleArtifact(t *testing.T) {
	fsys := newMemFS()
	require.NoError(t, fsys.WriteFile("/work/trial-0004/out.json", jsonScore(0.001), 0o644))

	runner := &stubRunner{start: func(req StageRequest) (Handle, error) {
		var polls atomic.Int32
		return HandleFunc(func() (JobState, error) {
			if polls.Add(1) == 3 {
				require.NoError(t, fsys.WriteFile(req.TrialDir+"/out.json", jsonScore(0.5), 0o644))
				return JobSucceeded, nil
			}
			return JobRunning, nil
		}), nil
	}}
	e := newTestExecutor(t, runner, fsys, testOptions("merge"))

	trial, err := e.Execute(context.Background(), testTrial(4, 0.5, 0.5))
	require.NoError(t, err)
	require.Equal(t, models.TrialSucceeded, trial.Status)
	assert.Equal(t, 0.5, *trial.Score)
	assert.Equal(t, 1, fsys.removeCount())
}

func TestExecuteStaleArtifactLocked(t *testing.T) {
	fsys := newMemFS()
	require.NoError(t, fsys.WriteFile("/work/trial-0004/out.json", jsonScore(0.001), 0o644))
	fsys.removeErr = errors.New("resource busy")

	runner := &stubRunner{}
	e := newTestExecutor(t, runner, fsys, testOptions("merge"))

	trial, err := e.Execute(context.Background(), testTrial(4, 0.5, 0.5))
	require.NoError(t, err)
	assert.Equal(t, models.TrialFailed, trial.Status)
	assert.Contains(t, trial.Error, "stale artifact")
	assert.Empty(t, runner.Started())
}

func TestExecuteSettlePolls(t *testing.T) {
	lateArtifact := func(fsys *memFS) *stubRunner {
		return &stubRunner{start: func(req StageRequest) (Handle, error) {
			var polls atomic.Int32
			return HandleFunc(func() (JobState, error) {
				// artifact lands two polls after the job reports success
				if polls.Add(1) == 3 {
					require.NoError(t, fsys.WriteFile(req.TrialDir+"/out.json", jsonScore(0.7), 0o644))
				}
				return JobSucceeded, nil
			}), nil
		}}
	}

	t.Run("within budget", func(t *testing.T) {
		fsys := newMemFS()
		opts := testOptions("merge")
		opts.SettlePolls = 3
		e := newTestExecutor(t, lateArtifact(fsys), fsys, opts)

		trial, err := e.Execute(context.Background(), testTrial(0, 0.5, 0.5))
		require.NoError(t, err)
		require.Equal(t, models.TrialSucceeded, trial.Status)
		assert.Equal(t, 0.7, *trial.Score)
	})

	t.Run("no settle polls", func(t *testing.T) {
		fsys := newMemFS()
		opts := testOptions("merge")
		opts.SettlePolls = 0
		e := newTestExecutor(t, lateArtifact(fsys), fsys, opts)

		trial, err := e.Execute(context.Background(), testTrial(0, 0.5, 0.5))
		require.NoError(t, err)
		assert.Equal(t, models.TrialFailed, trial.Status)
		assert.Contains(t, trial.Error, "artifact does not exist")
	})
}

func TestExecuteIncompleteArtifactRetriedWhileRunning(t *testing.T) {
	fsys := newMemFS()
	runner := &stubRunner{start: func(req StageRequest) (Handle, error) {
		require.NoError(t, fsys.WriteFile(req.TrialDir+"/out.json", []byte(`{"stats": {"rsplit": 0.`), 0o644))
		var polls atomic.Int32
		return HandleFunc(func() (JobState, error) {
			if polls.Add(1) == 4 {
				require.NoError(t, fsys.WriteFile(req.TrialDir+"/out.json", jsonScore(0.31), 0o644))
			}
			return JobRunning, nil
		}), nil
	}}
	e := newTestExecutor(t, runner, fsys, testOptions("merge"))

	trial, err := e.Execute(context.Background(), testTrial(0, 0.5, 0.5))
	require.NoError(t, err)
	require.Equal(t, models.TrialSucceeded, trial.Status)
	assert.Equal(t, 0.31, *trial.Score)
}

func TestExecuteResumesAtStageBoundary(t *testing.T) {
	fsys := newMemFS()
	trial := testTrial(5, 0.2, 0.8)

	cp := newCheckpoint(trial)
	cp.markDone("find_peaks")
	require.NoError(t, saveCheckpoint(fsys, "/work/trial-0005", cp))

	runner := &stubRunner{start: func(req StageRequest) (Handle, error) {
		if req.Stage == "merge" {
			require.NoError(t, fsys.WriteFile(req.TrialDir+"/out.json", jsonScore(0.2), 0o644))
		}
		return Finished(nil), nil
	}}
	e := newTestExecutor(t, runner, fsys, testOptions("find_peaks", "index", "merge"))

	done, err := e.Execute(context.Background(), trial)
	require.NoError(t, err)
	assert.Equal(t, models.TrialSucceeded, done.Status)
	assert.Equal(t, []string{"index", "merge"}, runner.Started())
}

func TestExecuteIgnoresCheckpointForOtherVector(t *testing.T) {
	fsys := newMemFS()
	cp := newCheckpoint(testTrial(5, 0.9, 0.9))
	cp.markDone("find_peaks")
	require.NoError(t, saveCheckpoint(fsys, "/work/trial-0005", cp))

	runner := &stubRunner{start: func(req StageRequest) (Handle, error) {
		if req.Stage == "merge" {
			require.NoError(t, fsys.WriteFile(req.TrialDir+"/out.json", jsonScore(0.2), 0o644))
		}
		return Finished(nil), nil
	}}
	e := newTestExecutor(t, runner, fsys, testOptions("find_peaks", "index", "merge"))

	_, err := e.Execute(context.Background(), testTrial(5, 0.2, 0.8))
	require.NoError(t, err)
	assert.Equal(t, []string{"find_peaks", "index", "merge"}, runner.Started())
}

func TestExecuteCancellationAtStageBoundary(t *testing.T) {
	fsys := newMemFS()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &stubRunner{start: func(req StageRequest) (Handle, error) {
		if req.Stage != "find_peaks" {
			return Finished(nil), nil
		}
		// cancelled mid-stage; the stage must still run to completion
		cancel()
		var polls atomic.Int32
		return HandleFunc(func() (JobState, error) {
			if polls.Add(1) < 3 {
				return JobRunning, nil
			}
			return JobSucceeded, nil
		}), nil
	}}
	e := newTestExecutor(t, runner, fsys, testOptions("find_peaks", "index", "merge"))

	trial, err := e.Execute(ctx, testTrial(6, 0.3, 0.3))
	require.ErrorIs(t, err, ErrInterrupted)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.TrialRunning, trial.Status)
	assert.Equal(t, []string{"find_peaks"}, runner.Started())

	cp, err := LoadCheckpoint(fsys, "/work/trial-0006")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.Done("find_peaks"))

	// a restarted executor continues with the next stage
	runner2 := &stubRunner{start: func(req StageRequest) (Handle, error) {
		if req.Stage == "merge" {
			require.NoError(t, fsys.WriteFile(req.TrialDir+"/out.json", jsonScore(0.1), 0o644))
		}
		return Finished(nil), nil
	}}
	e2 := newTestExecutor(t, runner2, fsys, testOptions("find_peaks", "index", "merge"))
	done, err := e2.Execute(context.Background(), trial)
	require.NoError(t, err)
	assert.Equal(t, models.TrialSucceeded, done.Status)
	assert.Equal(t, []string{"index", "merge"}, runner2.Started())
}

func TestExecuteJobFailureOnFinalStage(t *testing.T) {
	runner := &stubRunner{start: func(StageRequest) (Handle, error) {
		return Finished(errExit), nil
	}}
	e := newTestExecutor(t, runner, newMemFS(), testOptions("merge"))

	trial, err := e.Execute(context.Background(), testTrial(0, 0.5, 0.5))
	require.NoError(t, err)
	assert.Equal(t, models.TrialFailed, trial.Status)
	assert.Contains(t, trial.Error, "stage merge failed: job reported failure: exit status 1")
}

func TestStageFailureUnwraps(t *testing.T) {
	var err error = &StageFailure{Stage: "merge", Reason: "start", Err: errExit}
	assert.ErrorIs(t, err, errExit)

	var failure *StageFailure
	require.ErrorAs(t, fmt.Errorf("trial 3: %w", err), &failure)
	assert.Equal(t, "merge", failure.Stage)
}
