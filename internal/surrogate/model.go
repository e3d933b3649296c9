// Package surrogate fits a Gaussian-process regression over the observed
// trials and predicts the figure-of-merit with uncertainty.
package surrogate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/GoSim-25-26J-441/tuning-core/internal/space"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/utils"
)

const (
	minObservations = 2
	jitterSteps     = 6
)

// Options configures the model
type Options struct {
	Kernel     Kernel
	NoiseFloor float64
	// Lengthscales overrides the hyperparameter grid
	Lengthscales []float64
}

// Prediction is the posterior mean and standard deviation at one point
type Prediction struct {
	Mean float64
	Std  float64
}

// Observation is one succeeded trial as seen by the model
type Observation struct {
	Vector models.ParameterVector
	Score  float64
}

// Hyperparameters describes the current fit
type Hyperparameters struct {
	Kernel        Kernel
	Lengthscale   float64
	Noise         float64
	LogLikelihood float64
}

type fitState struct {
	hyper Hyperparameters
	chol  mat.Cholesky
	alpha *mat.VecDense
	yMean float64
	yStd  float64
}

// Model owns the observation set and the fitted state. It is not safe for
// concurrent use.
type Model struct {
	space *space.Space
	opts  Options

	obs []Observation
	xs  [][]float64

	state *fitState
}

// New creates an empty model over the given space
func New(sp *space.Space, opts Options) *Model {
	if opts.NoiseFloor <= 0 {
		opts.NoiseFloor = 1e-6
	}
	if len(opts.Lengthscales) == 0 {
		opts.Lengthscales = DefaultLengthscales()
	}
	return &Model{space: sp, opts: opts}
}

// Observe appends a succeeded trial and invalidates the fit
func (m *Model) Observe(v models.ParameterVector, score float64) error {
	if !utils.IsFinite(score) {
		return fmt.Errorf("observation score must be finite, got %v", score)
	}
	if !m.space.Contains(v) {
		return fmt.Errorf("observation %s is outside the parameter space", v)
	}
	m.obs = append(m.obs, Observation{Vector: v, Score: score})
	m.xs = append(m.xs, m.space.Normalize(v))
	m.state = nil
	return nil
}

// Len returns the number of observations
func (m *Model) Len() int {
	return len(m.obs)
}

// Observations returns a copy of the observation set in insertion order
func (m *Model) Observations() []Observation {
	out := make([]Observation, len(m.obs))
	copy(out, m.obs)
	return out
}

// Hyperparameters returns the current fit, if any
func (m *Model) Hyperparameters() (Hyperparameters, bool) {
	if m.state == nil {
		return Hyperparameters{}, false
	}
	return m.state.hyper, true
}

// Fit refits the model from scratch. The result depends only on the
// observation set, so two models fed the same observations in the same order
// agree exactly.
func (m *Model) Fit() error {
	n := len(m.obs)
	if n < minObservations {
		return &InsufficientDataError{Have: n, Need: minObservations}
	}

	scores := make([]float64, n)
	for i, o := range m.obs {
		scores[i] = o.Score
	}
	yMean := utils.Mean(scores)
	yStd := utils.StdDev(scores)
	if yStd < 1e-12 {
		yStd = 1
	}
	y := mat.NewVecDense(n, nil)
	for i, s := range scores {
		y.SetVec(i, (s-yMean)/yStd)
	}

	var best *fitState
	for _, ls := range m.opts.Lengthscales {
		st, err := m.factorize(ls, y)
		if err != nil {
			continue
		}
		if best == nil || st.hyper.LogLikelihood > best.hyper.LogLikelihood {
			best = st
		}
	}
	if best == nil {
		return fmt.Errorf("fit %d observations: %w", n, ErrNotPositiveDefinite)
	}

	best.yMean = yMean
	best.yStd = yStd
	m.state = best
	return nil
}

// factorize builds K + noise*I for one lengthscale, escalating jitter until
// the Cholesky factorization succeeds
func (m *Model) factorize(lengthscale float64, y *mat.VecDense) (*fitState, error) {
	n := len(m.xs)
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			k.SetSym(i, j, m.opts.Kernel.eval(distance(m.xs[i], m.xs[j]), lengthscale))
		}
	}

	noise := m.opts.NoiseFloor
	for attempt := 0; attempt <= jitterSteps; attempt++ {
		kn := mat.NewSymDense(n, nil)
		kn.CopySym(k)
		for i := 0; i < n; i++ {
			kn.SetSym(i, i, k.At(i, i)+noise)
		}

		st := &fitState{alpha: mat.NewVecDense(n, nil)}
		if st.chol.Factorize(kn) {
			if err := st.chol.SolveVecTo(st.alpha, y); err == nil {
				lml := -0.5*mat.Dot(y, st.alpha) - 0.5*st.chol.LogDet() - float64(n)/2*math.Log(2*math.Pi)
				if utils.IsFinite(lml) {
					st.hyper = Hyperparameters{
						Kernel:        m.opts.Kernel,
						Lengthscale:   lengthscale,
						Noise:         noise,
						LogLikelihood: lml,
					}
					return st, nil
				}
			}
		}
		noise *= 10
	}
	return nil, ErrNotPositiveDefinite
}

// Predict returns the posterior at v, fitting first if the observation set
// changed since the last fit
func (m *Model) Predict(v models.ParameterVector) (Prediction, error) {
	return m.PredictNormalized(m.space.Normalize(v))
}

// PredictNormalized is Predict for a point already mapped to the unit cube
func (m *Model) PredictNormalized(x []float64) (Prediction, error) {
	if len(m.obs) < minObservations {
		return Prediction{}, &InsufficientDataError{Have: len(m.obs), Need: minObservations}
	}
	if m.state == nil {
		if err := m.Fit(); err != nil {
			return Prediction{}, err
		}
	}
	st := m.state

	n := len(m.xs)
	kstar := mat.NewVecDense(n, nil)
	for i, xi := range m.xs {
		kstar.SetVec(i, st.hyper.Kernel.eval(distance(x, xi), st.hyper.Lengthscale))
	}

	mean := mat.Dot(kstar, st.alpha)

	var solved mat.VecDense
	if err := st.chol.SolveVecTo(&solved, kstar); err != nil {
		return Prediction{}, fmt.Errorf("predict: %w", err)
	}
	variance := 1 - mat.Dot(kstar, &solved)
	if variance < 0 {
		variance = 0
	}

	return Prediction{
		Mean: st.yMean + st.yStd*mean,
		Std:  st.yStd * math.Sqrt(variance),
	}, nil
}
