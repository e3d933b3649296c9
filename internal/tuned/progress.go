package tuned

import (
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/tuning-core/internal/history"
	"github.com/GoSim-25-26J-441/tuning-core/internal/improvement"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
)

// Phase is the lifecycle position of a tuning run
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseRunning  Phase = "running"
	PhaseFinished Phase = "finished"
	PhaseFailed   Phase = "failed"
)

// Progress is a point-in-time view of a run
type Progress struct {
	RunID      string                     `json:"run_id"`
	Phase      Phase                      `json:"phase"`
	Direction  models.Direction           `json:"direction"`
	Total      int                        `json:"total_trials"`
	Completed  int                        `json:"completed_trials"`
	Successes  int                        `json:"successful_trials"`
	Counts     map[models.TrialStatus]int `json:"counts"`
	Current    *models.Trial              `json:"last_trial,omitempty"`
	Best       *models.Trial              `json:"best,omitempty"`
	StopReason string                     `json:"stop_reason,omitempty"`
	Error      string                     `json:"error,omitempty"`
	StartedAt  time.Time                  `json:"started_at"`
	UpdatedAt  time.Time                  `json:"updated_at"`
}

// ProgressStore holds the live state of one run for the status endpoints
type ProgressStore struct {
	mu       sync.RWMutex
	progress Progress
	trials   []models.Trial
	watchers []func(Progress)
}

// NewProgressStore creates a store for a pending run
func NewProgressStore(runID string, total int, direction models.Direction) *ProgressStore {
	now := time.Now().UTC()
	return &ProgressStore{
		progress: Progress{
			RunID:     runID,
			Phase:     PhasePending,
			Direction: direction,
			Total:     total,
			Counts:    make(map[models.TrialStatus]int),
			StartedAt: now,
			UpdatedAt: now,
		},
	}
}

// Watch registers fn to be called with every phase change
func (s *ProgressStore) Watch(fn func(Progress)) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

// Start moves the run to running and seeds it with the replayed history
func (s *ProgressStore) Start(replayed []models.Trial) {
	s.mu.Lock()
	s.trials = append(s.trials[:0], replayed...)
	s.recount()
	if n := len(s.trials); n > 0 {
		last := s.trials[n-1]
		s.progress.Current = &last
	}
	snap := s.setPhase(PhaseRunning, "", "")
	s.mu.Unlock()
	s.notify(snap)
}

// Record applies a controller event. It matches improvement.Deps.Progress.
func (s *ProgressStore) Record(ev improvement.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Trial.Index == len(s.trials) {
		s.trials = append(s.trials, ev.Trial)
	}
	trial := ev.Trial
	s.progress.Current = &trial
	s.progress.Completed = ev.Completed
	s.progress.Successes = ev.Successes
	s.progress.Counts[ev.Trial.Status]++
	if ev.Best != nil {
		best := *ev.Best
		s.progress.Best = &best
	}
	s.progress.UpdatedAt = time.Now().UTC()
}

// Finish records the outcome of Controller.Run
func (s *ProgressStore) Finish(res *improvement.Result, err error) {
	s.mu.Lock()
	var snap Progress
	switch {
	case err != nil:
		snap = s.setPhase(PhaseFailed, "", err.Error())
	case res != nil:
		snap = s.setPhase(PhaseFinished, string(res.StopReason), "")
	default:
		snap = s.setPhase(PhaseFinished, "", "")
	}
	s.mu.Unlock()
	s.notify(snap)
}

// Snapshot returns a copy of the current progress
func (s *ProgressStore) Snapshot() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyProgress()
}

// Trials returns recorded trials in index order, optionally filtered by
// status and limited to the most recent limit entries (0 means all).
func (s *ProgressStore) Trials(status models.TrialStatus, limit int) []models.Trial {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Trial, 0, len(s.trials))
	for _, t := range s.trials {
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// All returns every recorded trial
func (s *ProgressStore) All() []models.Trial {
	return s.Trials("", 0)
}

// Best returns the best successful trial so far
func (s *ProgressStore) Best() (models.Trial, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.progress.Best == nil {
		return models.Trial{}, false
	}
	return *s.progress.Best, true
}

func (s *ProgressStore) recount() {
	clear(s.progress.Counts)
	s.progress.Successes = 0
	for _, t := range s.trials {
		s.progress.Counts[t.Status]++
		if t.Succeeded() {
			s.progress.Successes++
		}
	}
	s.progress.Completed = len(s.trials)
	s.progress.Best = nil
	if best, ok := history.BestTrial(s.trials, s.progress.Direction); ok {
		s.progress.Best = &best
	}
}

// setPhase must be called with mu held; it returns the snapshot to publish
func (s *ProgressStore) setPhase(phase Phase, stop, errMsg string) Progress {
	s.progress.Phase = phase
	s.progress.StopReason = stop
	s.progress.Error = errMsg
	s.progress.UpdatedAt = time.Now().UTC()
	return s.copyProgress()
}

func (s *ProgressStore) copyProgress() Progress {
	p := s.progress
	p.Counts = make(map[models.TrialStatus]int, len(s.progress.Counts))
	for k, v := range s.progress.Counts {
		p.Counts[k] = v
	}
	return p
}

func (s *ProgressStore) notify(p Progress) {
	s.mu.RLock()
	watchers := append([]func(Progress){}, s.watchers...)
	s.mu.RUnlock()
	for _, fn := range watchers {
		fn(p)
	}
}
