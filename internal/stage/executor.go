// Package stage realizes trials by running the configured pipeline stages as
// external jobs and reading the figure-of-merit from the final artifact.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/GoSim-25-26J-441/tuning-core/internal/telemetry"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/config"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/logger"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/utils"
)

// Spec is one stage of the sequence
type Spec struct {
	Name    string
	Command string
	Timeout time.Duration
}

// Options configures an Executor
type Options struct {
	Stages      []Spec
	TargetStage string
	// Artifact is the final stage output; {trial_dir} is expanded per trial
	Artifact     string
	WorkDir      string
	PollInterval time.Duration
	// SettlePolls is how many extra polls a parseable artifact gets after
	// the final job reports success
	SettlePolls int
	Cleanup     CleanupOptions
	// WaitLogEvery throttles "still waiting" logs (default 10 polls)
	WaitLogEvery time.Duration
}

// Option customizes an Executor
type Option func(*Executor)

// WithFileSystem replaces the OS filesystem
func WithFileSystem(fsys FileSystem) Option {
	return func(e *Executor) { e.fs = fsys }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithTracer sets the tracer used for stage spans
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// Executor runs one trial at a time through the stage sequence
type Executor struct {
	runner    Runner
	extractor MetricExtractor
	fs        FileSystem
	cleaner   *Cleaner
	opts      Options
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewExecutor validates opts and creates an Executor
func NewExecutor(runner Runner, extractor MetricExtractor, opts Options, options ...Option) (*Executor, error) {
	if runner == nil || extractor == nil {
		return nil, fmt.Errorf("executor needs a runner and a metric extractor")
	}
	if len(opts.Stages) == 0 {
		return nil, fmt.Errorf("executor needs at least one stage")
	}
	target := false
	for _, s := range opts.Stages {
		if s.Timeout <= 0 {
			return nil, fmt.Errorf("stage %s: timeout must be positive", s.Name)
		}
		target = target || s.Name == opts.TargetStage
	}
	if !target {
		return nil, fmt.Errorf("target stage %q is not in the stage sequence", opts.TargetStage)
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if opts.Artifact == "" {
		return nil, fmt.Errorf("final stage artifact path is required")
	}
	if opts.WaitLogEvery <= 0 {
		opts.WaitLogEvery = 10 * opts.PollInterval
	}

	e := &Executor{
		runner:    runner,
		extractor: extractor,
		fs:        OSFileSystem{},
		opts:      opts,
		logger:    logger.Default,
		tracer:    telemetry.Tracer("tuning-core/stage"),
	}
	for _, o := range options {
		o(e)
	}
	e.cleaner = NewCleaner(e.fs, opts.Cleanup, e.logger)
	return e, nil
}

// OptionsFromConfig converts the run configuration into executor options
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	specs := make([]Spec, len(cfg.Stages))
	for i, s := range cfg.Stages {
		timeout, err := s.GetTimeout()
		if err != nil {
			return Options{}, fmt.Errorf("stage %s: %w", s.Name, err)
		}
		specs[i] = Spec{Name: s.Name, Command: s.Command, Timeout: timeout}
	}

	poll, err := cfg.Executor.GetPollInterval()
	if err != nil {
		return Options{}, err
	}
	c := cfg.Executor.Cleanup
	base, err := c.GetBaseDelay()
	if err != nil {
		return Options{}, err
	}
	maxDelay, err := c.GetMaxDelay()
	if err != nil {
		return Options{}, err
	}
	timeout, err := c.GetTimeout()
	if err != nil {
		return Options{}, err
	}

	return Options{
		Stages:       specs,
		TargetStage:  cfg.TargetStage,
		Artifact:     cfg.FinalStage().Artifact,
		WorkDir:      cfg.WorkDir,
		PollInterval: poll,
		SettlePolls:  cfg.Executor.SettlePolls,
		Cleanup: CleanupOptions{
			MaxAttempts: c.MaxAttempts,
			Backoff:     utils.BackoffFromConfig(c.Backoff, base, maxDelay),
			Timeout:     timeout,
		},
	}, nil
}

// ExtractorFromConfig builds the FileExtractor for the configured objective
func ExtractorFromConfig(o config.Objective) FileExtractor {
	return FileExtractor{Format: Format(o.Format), Key: o.Key}
}

// TrialDir returns the working directory of a trial
func (e *Executor) TrialDir(index int) string {
	return filepath.Join(e.opts.WorkDir, utils.TrialDirName(index))
}

// ArtifactPath returns the final artifact path inside trialDir
func (e *Executor) ArtifactPath(trialDir string) string {
	return strings.ReplaceAll(e.opts.Artifact, "{trial_dir}", trialDir)
}

// OverridesPath returns the parameter override file inside trialDir
func (e *Executor) OverridesPath(trialDir string) string {
	return filepath.Join(trialDir, e.opts.TargetStage+".overrides.yaml")
}

// Execute walks the trial through pending → running → succeeded, failed or
// timed_out. Cancellation is observed only between stages; in that case the
// trial is returned unfinished together with ErrInterrupted. Every stage
// outcome is reported through the trial status, never as an error.
func (e *Executor) Execute(ctx context.Context, trial models.Trial) (models.Trial, error) {
	trial.Status = models.TrialRunning
	trialDir := e.TrialDir(trial.Index)
	log := e.logger.With("trial", trial.Index, "trial_id", trial.ID)

	if err := e.fs.MkdirAll(trialDir, 0o755); err != nil {
		return e.finish(trial, models.TrialFailed, nil, &StageFailure{Stage: e.opts.Stages[0].Name, Reason: "create trial directory", Err: err}), nil
	}

	overridesPath := e.OverridesPath(trialDir)
	data, err := overrides(e.opts.TargetStage, trial)
	if err == nil {
		err = writeFileAtomic(e.fs, overridesPath, data)
	}
	if err != nil {
		return e.finish(trial, models.TrialFailed, nil, &StageFailure{Stage: e.opts.TargetStage, Reason: "materialize overrides", Err: err}), nil
	}

	cp, err := LoadCheckpoint(e.fs, trialDir)
	if err != nil {
		log.Warn("ignoring unreadable checkpoint", "error", err)
	}
	if cp == nil || !cp.matches(trial) {
		cp = newCheckpoint(trial)
	}

	for i, spec := range e.opts.Stages {
		if err := ctx.Err(); err != nil {
			log.Info("cancellation observed at stage boundary", "next_stage", spec.Name)
			return trial, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}

		final := i == len(e.opts.Stages)-1
		if !final && cp.Done(spec.Name) {
			log.Info("skipping stage completed before restart", "stage", spec.Name)
			continue
		}

		req := StageRequest{
			Stage:         spec.Name,
			Command:       spec.Command,
			TrialIndex:    trial.Index,
			TrialDir:      trialDir,
			OverridesPath: overridesPath,
			Params:        trial.Params,
			Target:        spec.Name == e.opts.TargetStage,
		}

		if final {
			score, status, err := e.runFinal(ctx, req, spec, log)
			return e.finish(trial, status, score, err), nil
		}

		if status, err := e.runStage(ctx, req, spec, log); err != nil {
			return e.finish(trial, status, nil, err), nil
		}
		cp.markDone(spec.Name)
		if err := saveCheckpoint(e.fs, trialDir, cp); err != nil {
			log.Warn("failed to save checkpoint", "stage", spec.Name, "error", err)
		}
	}

	// unreachable: the final stage always returns
	return trial, nil
}

func (e *Executor) finish(trial models.Trial, status models.TrialStatus, score *float64, err error) models.Trial {
	trial.Status = status
	trial.Score = score
	trial.Error = ""
	if err != nil {
		trial.Error = err.Error()
	}
	trial.FinishedAt = time.Now().UTC()

	attrs := []any{"trial", trial.Index, "status", status, "duration", trial.Duration()}
	if score != nil {
		attrs = append(attrs, "score", *score)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
		e.logger.Warn("trial finished without score", attrs...)
	} else {
		e.logger.Info("trial finished", attrs...)
	}
	return trial
}

func (e *Executor) startSpan(ctx context.Context, req StageRequest) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "tuner.stage", trace.WithAttributes(
		attribute.String("tuner.stage.name", req.Stage),
		attribute.Int("tuner.trial.index", req.TrialIndex),
		attribute.Bool("tuner.stage.target", req.Target),
	))
}

func endSpan(span trace.Span, status models.TrialStatus, err error) {
	span.SetAttributes(attribute.String("tuner.stage.outcome", string(status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// runStage starts an intermediate stage and polls it to completion
func (e *Executor) runStage(ctx context.Context, req StageRequest, spec Spec, log *slog.Logger) (status models.TrialStatus, err error) {
	ctx, span := e.startSpan(ctx, req)
	defer func() { endSpan(span, status, err) }()

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), spec.Timeout)
	defer cancel()

	log.Info("starting stage", "stage", spec.Name, "timeout", spec.Timeout)
	started := time.Now()
	handle, err := e.runner.Start(waitCtx, req)
	if err != nil {
		return models.TrialFailed, &StageFailure{Stage: spec.Name, Reason: "start", Err: err}
	}

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	waiting := rate.Sometimes{Interval: e.opts.WaitLogEvery}

	for {
		state, jobErr := handle.Status()
		switch state {
		case JobSucceeded:
			log.Info("stage completed", "stage", spec.Name, "elapsed", time.Since(started))
			return models.TrialSucceeded, nil
		case JobFailed:
			return models.TrialFailed, &StageFailure{Stage: spec.Name, Reason: "job reported failure", Err: jobErr}
		}

		waiting.Do(func() {
			log.Info("still waiting for stage", "stage", spec.Name, "elapsed", time.Since(started).Round(time.Second))
		})

		select {
		case <-waitCtx.Done():
			return models.TrialTimedOut, &StageTimeout{Stage: spec.Name, Deadline: spec.Timeout}
		case <-ticker.C:
		}
	}
}

// runFinal clears any stale artifact, starts the final stage and polls both
// the job and its artifact until a score is read, the job fails, or the
// deadline passes
func (e *Executor) runFinal(ctx context.Context, req StageRequest, spec Spec, log *slog.Logger) (score *float64, status models.TrialStatus, err error) {
	ctx, span := e.startSpan(ctx, req)
	defer func() { endSpan(span, status, err) }()

	artifact := e.ArtifactPath(req.TrialDir)

	found, err := e.cleaner.ClearStale(ctx, artifact)
	if err != nil {
		return nil, models.TrialFailed, &StageFailure{Stage: spec.Name, Reason: "stale artifact could not be cleared", Err: err}
	}
	if found {
		log.Warn("cleared stale artifact before final stage", "path", artifact)
	}

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), spec.Timeout)
	defer cancel()

	log.Info("starting final stage", "stage", spec.Name, "artifact", artifact, "timeout", spec.Timeout)
	started := time.Now()
	handle, err := e.runner.Start(waitCtx, req)
	if err != nil {
		return nil, models.TrialFailed, &StageFailure{Stage: spec.Name, Reason: "start", Err: err}
	}

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	waiting := rate.Sometimes{Interval: e.opts.WaitLogEvery}

	settled := 0
	for {
		state, jobErr := handle.Status()
		if state == JobFailed {
			return nil, models.TrialFailed, &StageFailure{Stage: spec.Name, Reason: "job reported failure", Err: jobErr}
		}

		value, extractErr := e.extractor.Extract(e.fs, artifact)
		if extractErr == nil {
			log.Info("final stage produced score", "stage", spec.Name, "score", value, "elapsed", time.Since(started))
			return &value, models.TrialSucceeded, nil
		}

		if state == JobSucceeded {
			if settled >= e.opts.SettlePolls {
				var notFound *MetricNotFoundError
				if !errors.As(extractErr, &notFound) {
					extractErr = &MetricNotFoundError{Path: artifact, Reason: extractErr.Error()}
				}
				return nil, models.TrialFailed, extractErr
			}
			settled++
			log.Debug("job finished, artifact not ready yet", "stage", spec.Name, "settle_poll", settled, "reason", extractErr)
		}

		waiting.Do(func() {
			log.Info("still waiting for artifact", "stage", spec.Name, "path", artifact, "elapsed", time.Since(started).Round(time.Second))
		})

		select {
		case <-waitCtx.Done():
			attempts, cleanupErr := e.cleaner.Remove(ctx, artifact)
			if cleanupErr != nil {
				log.Warn("could not remove partial artifact after timeout", "path", artifact, "attempts", attempts, "error", cleanupErr)
			} else {
				log.Info("removed partial artifact after timeout", "path", artifact, "attempts", attempts)
			}
			return nil, models.TrialTimedOut, &StageTimeout{Stage: spec.Name, Deadline: spec.Timeout, Artifact: artifact}
		case <-ticker.C:
		}
	}
}
