package stage

import (
	"context"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
)

// JobState is the externally reported state of one stage job
type JobState int

const (
	JobRunning JobState = iota
	JobSucceeded
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return "running"
	}
}

// StageRequest describes one stage launch
type StageRequest struct {
	Stage      string
	Command    string
	TrialIndex int
	TrialDir   string
	// OverridesPath is the materialized parameter override file. Set for
	// every stage; only the target stage is expected to read it.
	OverridesPath string
	Params        models.ParameterVector
	Target        bool
}

// Handle tracks a started stage job
type Handle interface {
	// Status reports the job state. A non-nil error alongside JobFailed
	// explains the failure.
	Status() (JobState, error)
}

// Runner starts stage jobs. Start must not block until the job finishes.
type Runner interface {
	Start(ctx context.Context, req StageRequest) (Handle, error)
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context, req StageRequest) (Handle, error)

// Start calls f(ctx, req)
func (f RunnerFunc) Start(ctx context.Context, req StageRequest) (Handle, error) {
	return f(ctx, req)
}

// HandleFunc adapts a function to the Handle interface
type HandleFunc func() (JobState, error)

// Status calls f()
func (f HandleFunc) Status() (JobState, error) {
	return f()
}

// Finished returns a handle that is already complete, failed when err is set
func Finished(err error) Handle {
	return HandleFunc(func() (JobState, error) {
		if err != nil {
			return JobFailed, err
		}
		return JobSucceeded, nil
	})
}
