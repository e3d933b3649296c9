// Package space declares the tunable parameters of the target stage and
// generates the points the optimizer evaluates.
package space

import (
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/config"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/utils"
)

// Kind is the semantic type of a parameter
type Kind string

const (
	Continuous Kind = "continuous"
	Ordinal    Kind = "ordinal"
)

// Scale controls how a parameter is sampled and normalized
type Scale string

const (
	Linear Scale = "linear"
	Log    Scale = "log"
)

// Parameter is one bounded search dimension
type Parameter struct {
	Name  string
	Lower float64
	Upper float64
	Kind  Kind
	Scale Scale
	// Step is the spacing between ordinal levels (default 1)
	Step float64
}

func (p Parameter) zeroWidth() bool {
	return p.Lower == p.Upper
}

// levels returns the number of distinct ordinal values
func (p Parameter) levels() int {
	return int(math.Floor((p.Upper-p.Lower)/p.Step+1e-9)) + 1
}

func (p Parameter) level(k int) float64 {
	return math.Min(p.Lower+float64(k)*p.Step, p.Upper)
}

// snap rounds an ordinal value to the nearest level inside the bounds
func (p Parameter) snap(v float64) float64 {
	if p.Kind != Ordinal {
		return utils.ClampFloat64(v, p.Lower, p.Upper)
	}
	k := int(math.Round((v - p.Lower) / p.Step))
	k = max(0, min(k, p.levels()-1))
	return p.level(k)
}

func (p Parameter) toUnit(v float64) float64 {
	if p.zeroWidth() {
		return 0
	}
	if p.Scale == Log {
		return (math.Log(v) - math.Log(p.Lower)) / (math.Log(p.Upper) - math.Log(p.Lower))
	}
	return (v - p.Lower) / (p.Upper - p.Lower)
}

func (p Parameter) fromUnit(u float64) float64 {
	if p.Scale == Log {
		lo, hi := math.Log(p.Lower), math.Log(p.Upper)
		return math.Exp(lo + u*(hi-lo))
	}
	return p.Lower + u*(p.Upper-p.Lower)
}

func (p Parameter) invalid(reason string) *InvalidRangeError {
	return &InvalidRangeError{Parameter: p.Name, Lower: p.Lower, Upper: p.Upper, Reason: reason}
}

// Space is an immutable, ordered set of parameters
type Space struct {
	params []Parameter
	names  []string
}

// New validates the parameters and builds a Space
func New(params []Parameter) (*Space, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("parameter space must have at least one parameter")
	}

	s := &Space{
		params: make([]Parameter, len(params)),
		names:  make([]string, len(params)),
	}
	seen := make(map[string]bool, len(params))
	for i, p := range params {
		if p.Kind == "" {
			p.Kind = Continuous
		}
		if p.Scale == "" {
			p.Scale = Linear
		}
		if p.Kind == Ordinal && p.Step == 0 {
			p.Step = 1
		}

		switch {
		case p.Name == "":
			return nil, p.invalid("empty name")
		case seen[p.Name]:
			return nil, p.invalid("duplicate name")
		case math.IsNaN(p.Lower) || math.IsNaN(p.Upper) || math.IsInf(p.Lower, 0) || math.IsInf(p.Upper, 0):
			return nil, p.invalid("bounds must be finite")
		case p.Lower > p.Upper:
			return nil, p.invalid("lower bound exceeds upper bound")
		case p.Kind != Continuous && p.Kind != Ordinal:
			return nil, p.invalid(fmt.Sprintf("unknown kind %q", p.Kind))
		case p.Scale != Linear && p.Scale != Log:
			return nil, p.invalid(fmt.Sprintf("unknown scale %q", p.Scale))
		case p.Scale == Log && p.Lower <= 0:
			return nil, p.invalid("log scale requires a positive lower bound")
		case p.Kind == Ordinal && p.Step <= 0:
			return nil, p.invalid("ordinal step must be positive")
		}

		seen[p.Name] = true
		s.params[i] = p
		s.names[i] = p.Name
	}
	return s, nil
}

// FromConfig builds a Space from the configured parameter list
func FromConfig(params []config.Parameter) (*Space, error) {
	out := make([]Parameter, len(params))
	for i, p := range params {
		out[i] = Parameter{
			Name:  p.Name,
			Lower: p.Lower,
			Upper: p.Upper,
			Kind:  Kind(p.Type),
			Scale: Scale(p.Scale),
			Step:  p.Step,
		}
	}
	return New(out)
}

// Dim returns the number of parameters
func (s *Space) Dim() int {
	return len(s.params)
}

// Names returns the parameter names in declaration order
func (s *Space) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Parameters returns a copy of the parameter declarations
func (s *Space) Parameters() []Parameter {
	out := make([]Parameter, len(s.params))
	copy(out, s.params)
	return out
}

// Vector builds a ParameterVector from raw values, snapping ordinal
// coordinates and clamping everything into bounds
func (s *Space) Vector(values []float64) (models.ParameterVector, error) {
	if len(values) != len(s.params) {
		return models.ParameterVector{}, fmt.Errorf("expected %d values, got %d", len(s.params), len(values))
	}
	snapped := make([]float64, len(values))
	for i, p := range s.params {
		snapped[i] = p.snap(values[i])
	}
	return models.NewParameterVector(s.names, snapped)
}

// SampleRandom draws n independent points, uniform per parameter (log-uniform
// for log-scale parameters, uniform over levels for linear ordinals)
func (s *Space) SampleRandom(rng *utils.RandSource, n int) ([]models.ParameterVector, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > 1 {
		for _, p := range s.params {
			if p.zeroWidth() {
				return nil, p.invalid(fmt.Sprintf("zero width while sampling %d points", n))
			}
		}
	}

	out := make([]models.ParameterVector, 0, n)
	values := make([]float64, len(s.params))
	for i := 0; i < n; i++ {
		for j, p := range s.params {
			switch {
			case p.zeroWidth():
				values[j] = p.Lower
			case p.Kind == Ordinal && p.Scale == Linear:
				values[j] = p.level(rng.Intn(p.levels()))
			case p.Scale == Log:
				values[j] = rng.LogUniformFloat64(p.Lower, p.Upper)
			default:
				values[j] = rng.UniformFloat64(p.Lower, p.Upper)
			}
		}
		v, err := s.Vector(values)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// axis returns the grid coordinates of one parameter at the given resolution
func (p Parameter) axis(resolution int) []float64 {
	if p.zeroWidth() {
		return []float64{p.Lower}
	}

	if p.Kind == Ordinal {
		levels := p.levels()
		if levels <= resolution {
			out := make([]float64, levels)
			for k := range out {
				out[k] = p.level(k)
			}
			return out
		}
		// evenly spaced distinct levels
		out := make([]float64, 0, resolution)
		last := -1
		for _, u := range utils.LinSpace(0, 1, resolution) {
			k := int(math.Round(u * float64(levels-1)))
			if k != last {
				out = append(out, p.level(k))
				last = k
			}
		}
		return out
	}

	us := utils.LinSpace(0, 1, resolution)
	out := make([]float64, len(us))
	for i, u := range us {
		out[i] = utils.ClampFloat64(p.fromUnit(u), p.Lower, p.Upper)
	}
	return out
}

// GridSize returns the number of points CandidateGrid(resolution) would
// produce, saturating at math.MaxInt
func (s *Space) GridSize(resolution int) int {
	if resolution <= 0 {
		return 0
	}
	total := 1
	for _, p := range s.params {
		n := len(p.axis(resolution))
		if total > math.MaxInt/n {
			return math.MaxInt
		}
		total *= n
	}
	return total
}

// CandidateGrid returns the deterministic lattice with resolution points per
// dimension, first parameter varying slowest
func (s *Space) CandidateGrid(resolution int) ([]models.ParameterVector, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("grid resolution must be positive, got %d", resolution)
	}

	axes := make([][]float64, len(s.params))
	for i, p := range s.params {
		if resolution > 1 && p.zeroWidth() {
			return nil, p.invalid(fmt.Sprintf("zero width with grid resolution %d", resolution))
		}
		axes[i] = p.axis(resolution)
	}

	total := s.GridSize(resolution)
	out := make([]models.ParameterVector, 0, total)
	idx := make([]int, len(axes))
	values := make([]float64, len(axes))
	for {
		for i := range axes {
			values[i] = axes[i][idx[i]]
		}
		v, err := models.NewParameterVector(s.names, values)
		if err != nil {
			return nil, err
		}
		out = append(out, v)

		// odometer increment, last dimension fastest
		d := len(idx) - 1
		for d >= 0 {
			idx[d]++
			if idx[d] < len(axes[d]) {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			return out, nil
		}
	}
}

// Normalize maps a vector to the unit cube, log-transforming log-scale
// parameters first. Coordinates follow the space's parameter order.
func (s *Space) Normalize(v models.ParameterVector) []float64 {
	out := make([]float64, len(s.params))
	for i, p := range s.params {
		value, ok := v.Value(p.Name)
		if !ok {
			continue
		}
		out[i] = p.toUnit(value)
	}
	return out
}

// Contains reports whether v names exactly this space's parameters and every
// coordinate lies within its bounds
func (s *Space) Contains(v models.ParameterVector) bool {
	if v.Len() != len(s.params) {
		return false
	}
	for _, p := range s.params {
		value, ok := v.Value(p.Name)
		if !ok || math.IsNaN(value) || value < p.Lower || value > p.Upper {
			return false
		}
	}
	return true
}
