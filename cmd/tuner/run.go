package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GoSim-25-26J-441/tuning-core/internal/history"
	"github.com/GoSim-25-26J-441/tuning-core/internal/improvement"
	"github.com/GoSim-25-26J-441/tuning-core/internal/stage"
	"github.com/GoSim-25-26J-441/tuning-core/internal/telemetry"
	"github.com/GoSim-25-26J-441/tuning-core/internal/tuned"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/config"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/utils"
)

const (
	telemetryShutdownTimeout = 5 * time.Second
	notifyTimeout            = 2 * time.Minute
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run or resume a tuning loop",
		Long: `Evaluates the stage sequence at proposed parameter vectors until the
trial budget, the wall-clock cap or convergence ends the run. SIGINT and
SIGTERM stop the loop at the next stage boundary; rerun with --resume to
continue from the recorded history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.Bool("resume", false, "continue from the existing history instead of archiving it")
	flags.String("http-addr", "", "serve the HTTP status API on this address")
	flags.String("grpc-addr", "", "serve the gRPC health service on this address")
	flags.String("otel-endpoint", "", "OTLP/HTTP collector endpoint (host:port) for traces and metrics")
	flags.Bool("otel-insecure", false, "use plain HTTP for the OTLP exporter")
	return cmd
}

func (a *app) run(ctx context.Context, out, console io.Writer) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.v.GetString("log-level") == "" && cfg.LogLevel != "" {
		a.setLogger(console, cfg.LogLevel)
	}
	log := a.logger

	shutdownTelemetry, err := telemetry.Init(ctx, a.v.GetString("otel-endpoint"), "tuning-core", version, a.v.GetBool("otel-insecure"))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	direction, err := models.ParseDirection(cfg.Objective.Direction)
	if err != nil {
		return err
	}
	store, hist, err := history.Open(ctx, history.Options{
		Backend:   history.Backend(cfg.History.Backend),
		Path:      cfg.History.Path,
		Direction: direction,
		Resume:    a.v.GetBool("resume"),
		WorkDir:   cfg.WorkDir,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	runID := utils.GenerateRunID()
	log = log.With("run_id", runID)

	executor, err := newStageExecutor(cfg, log)
	if err != nil {
		return err
	}

	progress := tuned.NewProgressStore(runID, cfg.Budget.TotalTrials, direction)
	deps, err := improvement.DepsFromConfig(cfg)
	if err != nil {
		return err
	}
	deps.Executor = executor
	deps.Store = store
	deps.RunID = runID
	deps.Logger = log
	deps.Progress = progress.Record

	controller, err := improvement.NewController(cfg, deps)
	if err != nil {
		return err
	}

	server, err := tuned.Listen(progress, tuned.ServerOptions{
		HTTPAddr: a.v.GetString("http-addr"),
		GRPCAddr: a.v.GetString("grpc-addr"),
		Logger:   log,
	})
	if err != nil {
		return err
	}

	// the status servers outlive a signal until the loop reaches a boundary
	serveCtx, stopServing := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServing()

	var result *improvement.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(serveCtx)
	})
	g.Go(func() error {
		defer stopServing()
		progress.Start(hist.Trials)
		res, err := controller.Run(gctx)
		progress.Finish(res, err)
		if err != nil {
			return fmt.Errorf("tuning run %s: %w", runID, err)
		}
		result = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	printResult(out, cfg.Objective.Name, result)

	if cfg.Notify.URL != "" {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		notifier := tuned.NewNotifier(tuned.NotifierOptionsFromConfig(cfg.Notify, log))
		if err := notifier.Send(notifyCtx, cfg.Notify.URL, cfg.Notify.Secret, tuned.PayloadFromResult(result)); err != nil {
			log.Error("completion notification failed", "error", err)
		}
	}
	return nil
}

func newStageExecutor(cfg *config.Config, log *slog.Logger) (*stage.Executor, error) {
	opts, err := stage.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return stage.NewExecutor(&stage.CommandRunner{Logger: log}, stage.ExtractorFromConfig(cfg.Objective), opts,
		stage.WithLogger(log))
}

func printResult(out io.Writer, objective string, res *improvement.Result) {
	fmt.Fprintf(out, "run %s stopped: %s after %d trials (%d succeeded) in %s\n",
		res.RunID, res.StopReason, res.Trials, res.Successes, res.Duration.Round(time.Millisecond))
	if res.ConvergenceReason != "" {
		fmt.Fprintf(out, "converged: %s\n", res.ConvergenceReason)
	}
	if res.NoSuccess {
		fmt.Fprintln(out, "no successful trial")
		return
	}
	score, _ := res.Best.ScoreValue()
	fmt.Fprintf(out, "best trial %d: %s = %g at %s\n", res.Best.Index, objective, score, res.Best.Params)
}
