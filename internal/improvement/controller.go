package improvement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoSim-25-26J-441/tuning-core/internal/acquisition"
	"github.com/GoSim-25-26J-441/tuning-core/internal/history"
	"github.com/GoSim-25-26J-441/tuning-core/internal/space"
	"github.com/GoSim-25-26J-441/tuning-core/internal/stage"
	"github.com/GoSim-25-26J-441/tuning-core/internal/surrogate"
	"github.com/GoSim-25-26J-441/tuning-core/internal/telemetry"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/config"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/logger"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/utils"
)

// initialStream is the random stream of the initial design; trial k uses stream k
const initialStream = -1

// randomDraws bounds the search for a non-duplicate random proposal
const randomDraws = 64

// TrialExecutor realizes one trial through the stage sequence
type TrialExecutor interface {
	Execute(ctx context.Context, trial models.Trial) (models.Trial, error)
}

// StopReason explains why a run ended
type StopReason string

const (
	StopBudget      StopReason = "budget_exhausted"
	StopConverged   StopReason = "converged"
	StopWallClock   StopReason = "wall_clock"
	StopInterrupted StopReason = "interrupted"
)

// Event is reported after every recorded trial
type Event struct {
	RunID     string
	Trial     models.Trial
	Best      *models.Trial
	Completed int
	Total     int
	Successes int
}

// Deps are the collaborators of a Controller
type Deps struct {
	Space    *space.Space
	Model    *surrogate.Model
	Strategy *acquisition.Strategy
	Executor TrialExecutor
	Store    history.Store
	// Convergence is optional
	Convergence ConvergenceStrategy
	// Progress is optional and called synchronously
	Progress func(Event)
	RunID    string
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Meter    metric.Meter
}

// Result summarizes a finished run
type Result struct {
	RunID string
	// Best is the best successful trial, earliest on ties; unset when NoSuccess
	Best              models.Trial
	NoSuccess         bool
	Trials            int
	Successes         int
	Counts            map[models.TrialStatus]int
	StopReason        StopReason
	ConvergenceReason string
	Duration          time.Duration
}

// Controller drives the initial design and the surrogate-guided iterations
type Controller struct {
	deps      Deps
	direction models.Direction
	seed      int64
	initial   int
	total     int
	minOK     int
	wallClock time.Duration
	logger    *slog.Logger

	trials    []models.Trial
	evaluated []models.ParameterVector

	trialCounter  metric.Int64Counter
	trialDuration metric.Float64Histogram
}

// NewController validates the configuration and wires the collaborators
func NewController(cfg *config.Config, deps Deps) (*Controller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if deps.Space == nil || deps.Model == nil || deps.Strategy == nil || deps.Executor == nil || deps.Store == nil {
		return nil, fmt.Errorf("controller needs a space, model, strategy, executor and store")
	}
	direction, err := models.ParseDirection(cfg.Objective.Direction)
	if err != nil {
		return nil, err
	}
	wallClock, err := cfg.Budget.GetMaxWallClock()
	if err != nil {
		return nil, err
	}
	if cfg.Budget.TotalTrials <= 0 {
		return nil, fmt.Errorf("total trial budget must be positive")
	}

	if deps.RunID == "" {
		deps.RunID = utils.GenerateRunID()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer("tuning-core/improvement")
	}
	if deps.Meter == nil {
		deps.Meter = telemetry.Meter("tuning-core/improvement")
	}

	c := &Controller{
		deps:      deps,
		direction: direction,
		seed:      cfg.Seed,
		initial:   min(cfg.Budget.InitialSamples, cfg.Budget.TotalTrials),
		total:     cfg.Budget.TotalTrials,
		minOK:     cfg.Budget.MinSuccesses,
		wallClock: wallClock,
		logger:    logger.OrDefault(deps.Logger).With("run_id", deps.RunID),
	}

	c.trialCounter, err = deps.Meter.Int64Counter("tuner.trials",
		metric.WithDescription("Finished trials by status"))
	if err != nil {
		return nil, fmt.Errorf("create trial counter: %w", err)
	}
	c.trialDuration, err = deps.Meter.Float64Histogram("tuner.trial.duration",
		metric.WithDescription("Wall-clock time per trial"), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create trial duration histogram: %w", err)
	}
	return c, nil
}

// RunID returns the identifier used in logs, spans and events
func (c *Controller) RunID() string {
	return c.deps.RunID
}

// Run replays the recorded history and evaluates trials until the budget,
// the wall-clock cap, convergence or cancellation ends the run. Per-trial
// failures never end the run; only a history write failure or an invalid
// initial design is returned as an error. Cancellation is reported through
// Result.StopReason.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	c.replay(c.deps.Store.Trials())

	initial, err := c.initialDesign()
	if err != nil {
		return nil, err
	}

	c.logger.Info("tuning run started",
		"recorded", len(c.trials), "initial_samples", c.initial, "total_trials", c.total,
		"direction", c.direction, "wall_clock", c.wallClock)

	stop, convergence := StopBudget, ""
	for len(c.trials) < c.total {
		if reason, ok := c.converged(); ok {
			stop, convergence = StopConverged, reason
			break
		}
		if ctx.Err() != nil {
			stop = StopInterrupted
			break
		}
		if c.wallClock > 0 && time.Since(started) >= c.wallClock {
			stop = StopWallClock
			break
		}

		err := c.runTrial(ctx, len(c.trials), initial)
		if err != nil {
			if errors.Is(err, stage.ErrInterrupted) || ctx.Err() != nil {
				stop = StopInterrupted
				break
			}
			return c.result(started, stop, ""), err
		}
	}

	res := c.result(started, stop, convergence)
	attrs := []any{"stop_reason", res.StopReason, "trials", res.Trials, "successes", res.Successes, "duration", res.Duration}
	if res.NoSuccess {
		c.logger.Warn("tuning run finished with no successful trial", attrs...)
	} else {
		attrs = append(attrs, "best_trial", res.Best.Index, "best_score", *res.Best.Score, "best_params", res.Best.Params.String())
		c.logger.Info("tuning run finished", attrs...)
	}
	return res, nil
}

// replay rebuilds the observation and evaluated sets from recorded trials
func (c *Controller) replay(trials []models.Trial) {
	for _, t := range trials {
		c.trials = append(c.trials, t)
		c.evaluated = append(c.evaluated, t.Params)
		if !t.Succeeded() {
			continue
		}
		if err := c.deps.Model.Observe(t.Params, *t.Score); err != nil {
			c.logger.Warn("recorded trial not usable as observation", "trial", t.Index, "error", err)
		}
	}
}

func (c *Controller) initialDesign() ([]models.ParameterVector, error) {
	rng := utils.NewRandSource(utils.DeriveSeed(c.seed, initialStream))
	vectors, err := c.deps.Space.SampleRandom(rng, c.initial)
	if err != nil {
		return nil, fmt.Errorf("initial design: %w", err)
	}
	return vectors, nil
}

func (c *Controller) converged() (string, bool) {
	if c.deps.Convergence == nil {
		return "", false
	}
	steps := StepsFromTrials(c.trials, c.direction)
	if len(steps) < c.minOK {
		return "", false
	}
	ok, reason := c.deps.Convergence.CheckConvergence(steps)
	return reason, ok
}

// propose picks the vector for trial k: the initial design first, then
// random points until two observations exist, then the acquisition optimum
func (c *Controller) propose(k int, initial []models.ParameterVector, rng *utils.RandSource) (models.ParameterVector, string, error) {
	if k < len(initial) {
		return initial[k], "initial", nil
	}
	if c.deps.Model.Len() < 2 {
		v, err := c.randomProposal(rng)
		return v, "random", err
	}
	if err := c.deps.Model.Fit(); err != nil {
		c.logger.Warn("surrogate fit failed, proposing a random point", "trial", k, "error", err)
		v, err := c.randomProposal(rng)
		return v, "random", err
	}

	sel, err := c.deps.Strategy.Propose(c.deps.Model, c.evaluated, rng)
	if err != nil {
		return models.ParameterVector{}, "", fmt.Errorf("trial %d: acquisition: %w", k, err)
	}
	source := "acquisition"
	if sel.Fallback {
		source = "fallback"
	}
	if hyper, ok := c.deps.Model.Hyperparameters(); ok {
		c.logger.Debug("surrogate fitted", "trial", k, "kernel", hyper.Kernel, "lengthscale", hyper.Lengthscale, "noise", hyper.Noise)
	}
	c.logger.Debug("acquisition selected point", "trial", k, "acquisition", sel.Score, "mean", sel.Prediction.Mean, "std", sel.Prediction.Std)
	return sel.Vector, source, nil
}

func (c *Controller) randomProposal(rng *utils.RandSource) (models.ParameterVector, error) {
	tol := c.deps.Strategy.Options().DedupTolerance
	var last models.ParameterVector
	for i := 0; i < randomDraws; i++ {
		draw, err := c.deps.Space.SampleRandom(rng, 1)
		if err != nil {
			return models.ParameterVector{}, err
		}
		last = draw[0]
		if !c.seen(last, tol) {
			return last, nil
		}
	}
	return last, nil
}

func (c *Controller) seen(v models.ParameterVector, tol float64) bool {
	x := c.deps.Space.Normalize(v)
	for _, e := range c.evaluated {
		if utils.Distance(x, c.deps.Space.Normalize(e)) <= tol {
			return true
		}
	}
	return false
}

func (c *Controller) runTrial(ctx context.Context, k int, initial []models.ParameterVector) (err error) {
	rng := utils.NewRandSource(utils.DeriveSeed(c.seed, k))
	vector, source, err := c.propose(k, initial, rng)
	if err != nil {
		return err
	}

	trial := models.NewTrial(k, vector)
	ctx, span := c.deps.Tracer.Start(ctx, "tuner.trial", trace.WithAttributes(
		attribute.String("tuner.run_id", c.deps.RunID),
		attribute.Int("tuner.trial.index", k),
		attribute.String("tuner.trial.source", source),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	c.logger.Info("starting trial", "trial", k, "source", source, "params", vector.String())
	done, err := c.deps.Executor.Execute(ctx, trial)
	if err != nil {
		c.logger.Info("trial interrupted, it will be resumed on restart", "trial", k, "reason", err)
		return err
	}

	// a finished trial is recorded even when cancellation arrived meanwhile
	if err := c.deps.Store.Append(context.WithoutCancel(ctx), done); err != nil {
		return fmt.Errorf("record trial %d: %w", k, err)
	}

	c.trials = append(c.trials, done)
	c.evaluated = append(c.evaluated, done.Params)
	if done.Succeeded() {
		if err := c.deps.Model.Observe(done.Params, *done.Score); err != nil {
			c.logger.Warn("trial not usable as observation", "trial", k, "error", err)
		}
	}

	span.SetAttributes(attribute.String("tuner.trial.status", string(done.Status)))
	if score, ok := done.ScoreValue(); ok {
		span.SetAttributes(attribute.Float64("tuner.trial.score", score))
	}
	status := metric.WithAttributes(attribute.String("status", string(done.Status)))
	c.trialCounter.Add(ctx, 1, status)
	c.trialDuration.Record(ctx, done.Duration().Seconds(), status)

	c.report(done)
	return nil
}

func (c *Controller) report(done models.Trial) {
	if c.deps.Progress == nil {
		return
	}
	ev := Event{
		RunID:     c.deps.RunID,
		Trial:     done,
		Completed: len(c.trials),
		Total:     c.total,
		Successes: len(StepsFromTrials(c.trials, c.direction)),
	}
	if best, ok := history.BestTrial(c.trials, c.direction); ok {
		ev.Best = &best
	}
	c.deps.Progress(ev)
}

func (c *Controller) result(started time.Time, stop StopReason, convergence string) *Result {
	res := &Result{
		RunID:             c.deps.RunID,
		Trials:            len(c.trials),
		Counts:            make(map[models.TrialStatus]int),
		StopReason:        stop,
		ConvergenceReason: convergence,
		Duration:          time.Since(started),
	}
	for _, t := range c.trials {
		res.Counts[t.Status]++
		if t.Succeeded() {
			res.Successes++
		}
	}
	best, ok := history.BestTrial(c.trials, c.direction)
	res.Best, res.NoSuccess = best, !ok
	return res
}

// DepsFromConfig builds the space, surrogate, acquisition strategy and
// convergence strategy described by cfg. The caller supplies the executor
// and the store.
func DepsFromConfig(cfg *config.Config) (Deps, error) {
	sp, err := space.FromConfig(cfg.Parameters)
	if err != nil {
		return Deps{}, err
	}
	direction, err := models.ParseDirection(cfg.Objective.Direction)
	if err != nil {
		return Deps{}, err
	}
	kernel, err := surrogate.ParseKernel(cfg.Surrogate.Kernel)
	if err != nil {
		return Deps{}, err
	}
	kind, err := acquisition.ParseKind(cfg.Acquisition.Kind)
	if err != nil {
		return Deps{}, err
	}
	convergence, err := ConvergenceFromConfig(cfg.Convergence, cfg.Budget.MinSuccesses)
	if err != nil {
		return Deps{}, err
	}

	a := cfg.Acquisition
	return Deps{
		Space: sp,
		Model: surrogate.New(sp, surrogate.Options{Kernel: kernel, NoiseFloor: cfg.Surrogate.NoiseFloor}),
		Strategy: acquisition.New(sp, acquisition.Options{
			Kind:             kind,
			Direction:        direction,
			Beta:             a.Beta,
			Xi:               a.Xi,
			GridResolution:   a.GridResolution,
			MaxGridPoints:    a.MaxGridPoints,
			RandomCandidates: a.RandomCandidates,
			DedupTolerance:   a.DedupTolerance,
		}),
		Convergence: convergence,
	}, nil
}
