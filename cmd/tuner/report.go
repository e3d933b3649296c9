package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/tuning-core/internal/history"
	"github.com/GoSim-25-26J-441/tuning-core/internal/improvement"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
)

func newReportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the recorded trials and the best trial",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.report(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("history", "", "history file to read; defaults to the config history.path")
	cmd.Flags().String("status", "", "only list trials with this status")
	return cmd
}

func (a *app) report(ctx context.Context, out io.Writer) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	direction, err := models.ParseDirection(cfg.Objective.Direction)
	if err != nil {
		return err
	}

	path := a.v.GetString("history")
	if path == "" {
		path = cfg.History.Path
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no history at %s: %w", path, err)
	}

	store, err := history.New(history.Backend(cfg.History.Backend), path, direction, a.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	h, err := store.Load(ctx)
	if err != nil {
		return err
	}

	filter := models.TrialStatus(a.v.GetString("status"))
	if filter != "" && !filter.Terminal() {
		return fmt.Errorf("unknown trial status %q", filter)
	}
	writeTrialTable(out, cfg.Objective.Name, h.Trials, filter)
	writeSummary(out, cfg.Objective.Name, improvement.Summarize(h.Trials, direction))
	return nil
}

func writeTrialTable(out io.Writer, objective string, trials []models.Trial, filter models.TrialStatus) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "TRIAL\tSTATUS\t%s\tDURATION\tPARAMS\tERROR\n", objective)
	for _, t := range trials {
		if filter != "" && t.Status != filter {
			continue
		}
		score := "-"
		if v, ok := t.ScoreValue(); ok {
			score = strconv.FormatFloat(v, 'g', 6, 64)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			t.Index, t.Status, score, t.Duration().Round(time.Second), t.Params, t.Error)
	}
	tw.Flush()
}

func writeSummary(out io.Writer, objective string, s *improvement.Summary) {
	fmt.Fprintf(out, "\n%d trials, %d succeeded", s.Trials, s.Successes)
	for _, status := range []models.TrialStatus{models.TrialFailed, models.TrialTimedOut} {
		if n := s.Counts[status]; n > 0 {
			fmt.Fprintf(out, ", %d %s", n, status)
		}
	}
	fmt.Fprintln(out)

	if s.Best == nil {
		fmt.Fprintln(out, "no successful trial")
		return
	}
	best, _ := s.Best.ScoreValue()
	fmt.Fprintf(out, "best trial %d: %s = %g at %s\n", s.Best.Index, objective, best, s.Best.Params)
	fmt.Fprintf(out, "trend %s, mean %g, stddev %g, improvement over first success %.1f%%\n",
		s.Trend, s.AverageScore, s.ScoreStdDev, s.Improvement)
}
