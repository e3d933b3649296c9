// Package history persists the ordered trial log of a tuning run and
// recomputes the best trial from it on every load.
package history

import (
	"context"
	"fmt"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/utils"
)

// Store is an append-only trial log
type Store interface {
	// Load replays the durable log, replacing any in-memory state
	Load(ctx context.Context) (*RunHistory, error)
	// Append durably records a finished trial. Its index must equal the
	// number of trials already recorded.
	Append(ctx context.Context, trial models.Trial) error
	Best() (models.Trial, bool)
	Trials() []models.Trial
	Close() error
}

// RunHistory is a snapshot of the trial log
type RunHistory struct {
	Trials    []models.Trial
	Direction models.Direction
	// Repaired is set when a torn final record was dropped during load
	Repaired bool
	best     int
}

// Len returns the number of recorded trials
func (h *RunHistory) Len() int {
	return len(h.Trials)
}

// Best returns the best successful trial, the earliest on ties
func (h *RunHistory) Best() (models.Trial, bool) {
	if h.best < 0 || h.best >= len(h.Trials) {
		return models.Trial{}, false
	}
	return h.Trials[h.best], true
}

// Counts returns the number of trials per status
func (h *RunHistory) Counts() map[models.TrialStatus]int {
	counts := make(map[models.TrialStatus]int)
	for _, t := range h.Trials {
		counts[t.Status]++
	}
	return counts
}

// Successes returns the number of trials with a usable score
func (h *RunHistory) Successes() int {
	n := 0
	for _, t := range h.Trials {
		if t.Succeeded() {
			n++
		}
	}
	return n
}

// BestTrial returns the best successful trial by direction; ties go to the
// earliest index
func BestTrial(trials []models.Trial, direction models.Direction) (models.Trial, bool) {
	if i := bestIndex(trials, direction); i >= 0 {
		return trials[i], true
	}
	return models.Trial{}, false
}

func bestIndex(trials []models.Trial, direction models.Direction) int {
	best := -1
	for i, t := range trials {
		if !t.Succeeded() {
			continue
		}
		if best < 0 || direction.Better(*t.Score, *trials[best].Score) {
			best = i
		}
	}
	return best
}

// tracker holds the in-memory log shared by both backends
type tracker struct {
	direction models.Direction
	trials    []models.Trial
	best      int
	repaired  bool
}

func newTracker(direction models.Direction) tracker {
	return tracker{direction: direction, best: -1}
}

func (t *tracker) reset() {
	t.trials = nil
	t.best = -1
	t.repaired = false
}

func (t *tracker) add(trial models.Trial) {
	t.trials = append(t.trials, trial)
	if !trial.Succeeded() {
		return
	}
	if t.best < 0 || t.direction.Better(*trial.Score, *t.trials[t.best].Score) {
		t.best = len(t.trials) - 1
	}
}

func (t *tracker) bestTrial() (models.Trial, bool) {
	if t.best < 0 {
		return models.Trial{}, false
	}
	return t.trials[t.best], true
}

func (t *tracker) snapshot() *RunHistory {
	trials := make([]models.Trial, len(t.trials))
	copy(trials, t.trials)
	return &RunHistory{Trials: trials, Direction: t.direction, Repaired: t.repaired, best: t.best}
}

func (t *tracker) copyTrials() []models.Trial {
	out := make([]models.Trial, len(t.trials))
	copy(out, t.trials)
	return out
}

// checkRecord validates a trial against the next expected index
func checkRecord(trial models.Trial, want int) error {
	if trial.Index != want {
		return fmt.Errorf("index %d is not contiguous (expected %d)", trial.Index, want)
	}
	if !trial.Status.Terminal() {
		return fmt.Errorf("status %q is not a final outcome", trial.Status)
	}
	if trial.Params.Len() == 0 {
		return fmt.Errorf("parameter vector is empty")
	}
	if trial.Status == models.TrialSucceeded {
		if trial.Score == nil {
			return fmt.Errorf("succeeded trial has no score")
		}
		if !utils.IsFinite(*trial.Score) {
			return fmt.Errorf("succeeded trial has non-finite score")
		}
	}
	return nil
}
