package improvement

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/GoSim-25-26J-441/tuning-core/internal/history"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
)

// Trend labels for Summary.Trend
const (
	TrendImproving = "improving"
	TrendDegrading = "degrading"
	TrendStable    = "stable"
)

// Summary describes the successful trials of a run
type Summary struct {
	Trials    int                        `json:"trials"`
	Successes int                        `json:"successes"`
	Counts    map[models.TrialStatus]int `json:"counts"`
	Best      *models.Trial              `json:"best,omitempty"`
	Worst     *models.Trial              `json:"worst,omitempty"`
	// Trend is the direction of the scores over evaluation order
	Trend        string  `json:"trend"`
	AverageScore float64 `json:"average_score"`
	ScoreStdDev  float64 `json:"score_stddev"`
	// Improvement is the percentage gain of the best over the first success
	Improvement float64 `json:"improvement_pct"`
}

// Summarize compares the trials of a run
func Summarize(trials []models.Trial, direction models.Direction) *Summary {
	s := &Summary{
		Trials: len(trials),
		Counts: make(map[models.TrialStatus]int),
		Trend:  TrendStable,
	}
	for _, t := range trials {
		s.Counts[t.Status]++
	}

	var (
		scores []float64
		first  float64
		worst  = -1
	)
	for i, t := range trials {
		if !t.Succeeded() {
			continue
		}
		if len(scores) == 0 {
			first = *t.Score
		}
		scores = append(scores, *t.Score)
		if worst < 0 || direction.Better(*trials[worst].Score, *t.Score) {
			worst = i
		}
	}
	s.Successes = len(scores)
	if s.Successes == 0 {
		return s
	}

	best, _ := history.BestTrial(trials, direction)
	s.Best = &best
	s.Worst = &trials[worst]
	s.AverageScore, s.ScoreStdDev = stat.PopMeanStdDev(scores, nil)
	s.Improvement = ImprovementPercentage(first, *best.Score, direction)
	s.Trend = scoreTrend(scores, direction)
	return s
}

// scoreTrend fits a line through the scores in evaluation order. A slope
// beyond 1% of the mean magnitude per trial counts as a trend.
func scoreTrend(scores []float64, direction models.Direction) string {
	if len(scores) < 2 {
		return TrendStable
	}
	xs := make([]float64, len(scores))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, scores, nil, false)

	scale := math.Max(math.Abs(stat.Mean(scores, nil)), 1e-12)
	rel := slope / scale
	if direction == models.Maximize {
		rel = -rel
	}
	switch {
	case rel < -0.01:
		return TrendImproving
	case rel > 0.01:
		return TrendDegrading
	default:
		return TrendStable
	}
}

// ImprovementPercentage calculates the percentage improvement of score2 over score1
func ImprovementPercentage(score1, score2 float64, direction models.Direction) float64 {
	if score1 == 0 {
		return 0
	}
	diff := (score2 - score1) / math.Abs(score1) * 100
	if direction == models.Maximize {
		return diff
	}
	return -diff
}
