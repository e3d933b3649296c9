package stage

import (
	"errors"
	"fmt"
	"time"
)

// ErrInterrupted is returned by Execute when cancellation was observed at a
// stage boundary. The trial is left unfinished and can be resumed.
var ErrInterrupted = errors.New("trial interrupted at stage boundary")

// StageFailure reports that a stage completed with an error
type StageFailure struct {
	Stage  string
	Reason string
	Err    error
}

func (e *StageFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s failed: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Reason)
}

func (e *StageFailure) Unwrap() error {
	return e.Err
}

// StageTimeout reports that a stage did not complete within its deadline
type StageTimeout struct {
	Stage    string
	Deadline time.Duration
	Artifact string
}

func (e *StageTimeout) Error() string {
	if e.Artifact != "" {
		return fmt.Sprintf("stage %s timed out after %s waiting for %s", e.Stage, e.Deadline, e.Artifact)
	}
	return fmt.Sprintf("stage %s timed out after %s", e.Stage, e.Deadline)
}

// MetricNotFoundError reports an artifact that is missing, unparsable, or
// holds no finite value for the metric
type MetricNotFoundError struct {
	Path   string
	Metric string
	Reason string
}

func (e *MetricNotFoundError) Error() string {
	return fmt.Sprintf("metric %s not found in %s: %s", e.Metric, e.Path, e.Reason)
}
