package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Direction is the optimization direction for the figure-of-merit
type Direction string

const (
	Minimize Direction = "minimize"
	Maximize Direction = "maximize"
)

// ParseDirection parses a direction string ("minimize"/"min", "maximize"/"max")
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimize", "min", "":
		return Minimize, nil
	case "maximize", "max":
		return Maximize, nil
	default:
		return "", fmt.Errorf("invalid direction %q (must be minimize or maximize)", s)
	}
}

// Better reports whether a is strictly better than b in this direction
func (d Direction) Better(a, b float64) bool {
	if d == Maximize {
		return a > b
	}
	return a < b
}

// Worst returns the worst possible score for this direction
func (d Direction) Worst() float64 {
	if d == Maximize {
		return math.Inf(-1)
	}
	return math.Inf(1)
}

// Param is one named coordinate of a ParameterVector
type Param struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// ParameterVector is an ordered, immutable mapping from parameter name to value.
// Accessors return copies so a vector can be shared freely between components.
type ParameterVector struct {
	names  []string
	values []float64
}

// NewParameterVector builds a vector from parallel name/value slices.
func NewParameterVector(names []string, values []float64) (ParameterVector, error) {
	if len(names) != len(values) {
		return ParameterVector{}, fmt.Errorf("parameter vector: %d names but %d values", len(names), len(values))
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return ParameterVector{}, fmt.Errorf("parameter vector: empty parameter name")
		}
		if seen[n] {
			return ParameterVector{}, fmt.Errorf("parameter vector: duplicate parameter %s", n)
		}
		seen[n] = true
	}
	v := ParameterVector{
		names:  make([]string, len(names)),
		values: make([]float64, len(values)),
	}
	copy(v.names, names)
	copy(v.values, values)
	return v, nil
}

// Len returns the number of coordinates
func (v ParameterVector) Len() int {
	return len(v.names)
}

// Names returns a copy of the parameter names in order
func (v ParameterVector) Names() []string {
	out := make([]string, len(v.names))
	copy(out, v.names)
	return out
}

// Values returns a copy of the values in order
func (v ParameterVector) Values() []float64 {
	out := make([]float64, len(v.values))
	copy(out, v.values)
	return out
}

// Value returns the value for the named parameter
func (v ParameterVector) Value(name string) (float64, bool) {
	for i, n := range v.names {
		if n == name {
			return v.values[i], true
		}
	}
	return 0, false
}

// Params returns the vector as ordered name/value pairs
func (v ParameterVector) Params() []Param {
	out := make([]Param, len(v.names))
	for i := range v.names {
		out[i] = Param{Name: v.names[i], Value: v.values[i]}
	}
	return out
}

// Equal reports whether both vectors have the same names and exactly equal values
func (v ParameterVector) Equal(o ParameterVector) bool {
	if len(v.names) != len(o.names) {
		return false
	}
	for i := range v.names {
		if v.names[i] != o.names[i] || v.values[i] != o.values[i] {
			return false
		}
	}
	return true
}

func (v ParameterVector) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i := range v.names {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%g", v.names[i], v.values[i])
	}
	b.WriteByte('}')
	return b.String()
}

// MarshalJSON encodes the vector as an ordered list of {name, value} pairs
func (v ParameterVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Params())
}

// UnmarshalJSON decodes the ordered {name, value} pair list
func (v *ParameterVector) UnmarshalJSON(data []byte) error {
	var params []Param
	if err := json.Unmarshal(data, &params); err != nil {
		return err
	}
	names := make([]string, len(params))
	values := make([]float64, len(params))
	for i, p := range params {
		names[i] = p.Name
		values[i] = p.Value
	}
	parsed, err := NewParameterVector(names, values)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// TrialStatus represents the lifecycle state of a trial
type TrialStatus string

const (
	TrialPending   TrialStatus = "pending"
	TrialRunning   TrialStatus = "running"
	TrialSucceeded TrialStatus = "succeeded"
	TrialFailed    TrialStatus = "failed"
	TrialTimedOut  TrialStatus = "timed_out"
)

// Terminal reports whether the status is a final outcome
func (s TrialStatus) Terminal() bool {
	switch s {
	case TrialSucceeded, TrialFailed, TrialTimedOut:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s TrialStatus) Valid() bool {
	return s == TrialPending || s == TrialRunning || s.Terminal()
}

// Trial is one evaluation of the stage sequence at a fixed parameter vector
type Trial struct {
	Index      int             `json:"index"`
	ID         string          `json:"id"`
	Params     ParameterVector `json:"params"`
	Status     TrialStatus     `json:"status"`
	Score      *float64        `json:"score"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"timestamp"`
}

// NewTrial creates a pending trial for the given evaluation index
func NewTrial(index int, params ParameterVector) Trial {
	return Trial{
		Index:     index,
		ID:        uuid.NewString(),
		Params:    params,
		Status:    TrialPending,
		StartedAt: time.Now().UTC(),
	}
}

// Succeeded reports whether the trial produced a usable score
func (t Trial) Succeeded() bool {
	return t.Status == TrialSucceeded && t.Score != nil && !math.IsNaN(*t.Score) && !math.IsInf(*t.Score, 0)
}

// ScoreValue returns the score and whether one is present
func (t Trial) ScoreValue() (float64, bool) {
	if t.Score == nil {
		return 0, false
	}
	return *t.Score, true
}

// Duration returns the wall-clock time the trial took, or zero while unfinished
func (t Trial) Duration() time.Duration {
	if t.FinishedAt.IsZero() || t.StartedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// Float64Ptr returns a pointer to v
func Float64Ptr(v float64) *float64 {
	return &v
}
