// Package acquisition turns surrogate predictions into the next point to
// evaluate.
package acquisition

import (
	"fmt"
	"math"
	"strings"

	"github.com/GoSim-25-26J-441/tuning-core/internal/space"
	"github.com/GoSim-25-26J-441/tuning-core/internal/surrogate"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/utils"
)

// Kind selects the acquisition function. The set is closed.
type Kind int

const (
	// UCB is the confidence-bound rule mean ∓ β·std
	UCB Kind = iota
	// EI is expected improvement over the incumbent
	EI
	// PI is probability of improvement over the incumbent
	PI
)

const (
	tieTolerance   = 1e-9
	fallbackDraws  = 64
	defaultMaxGrid = 4096
)

// ParseKind maps a configured acquisition name to a Kind
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(name) {
	case "", "ucb":
		return UCB, nil
	case "ei":
		return EI, nil
	case "pi":
		return PI, nil
	default:
		return 0, fmt.Errorf("unknown acquisition kind %q", name)
	}
}

func (k Kind) String() string {
	switch k {
	case EI:
		return "ei"
	case PI:
		return "pi"
	default:
		return "ucb"
	}
}

// Options configures a Strategy
type Options struct {
	Kind             Kind
	Direction        models.Direction
	Beta             float64
	Xi               float64
	GridResolution   int
	MaxGridPoints    int
	RandomCandidates int
	DedupTolerance   float64
}

// Model is the part of the surrogate the strategy needs
type Model interface {
	Predict(v models.ParameterVector) (surrogate.Prediction, error)
	Observations() []surrogate.Observation
}

// Selection is the chosen point with the values that led to it
type Selection struct {
	Vector     models.ParameterVector
	Score      float64
	Prediction surrogate.Prediction
	// Fallback is set when every candidate duplicated an evaluated point
	Fallback bool
}

// Strategy scores candidates and picks the direction optimum
type Strategy struct {
	space *space.Space
	opts  Options
}

// New creates a Strategy over the given space
func New(sp *space.Space, opts Options) *Strategy {
	if opts.Direction == "" {
		opts.Direction = models.Minimize
	}
	if opts.GridResolution <= 0 {
		opts.GridResolution = 10
	}
	if opts.MaxGridPoints <= 0 {
		opts.MaxGridPoints = defaultMaxGrid
	}
	if opts.RandomCandidates <= 0 {
		opts.RandomCandidates = 512
	}
	return &Strategy{space: sp, opts: opts}
}

// Options returns the effective options
func (s *Strategy) Options() Options {
	return s.opts
}

// Candidates returns the grid when it is small enough, otherwise random samples
func (s *Strategy) Candidates(rng *utils.RandSource) ([]models.ParameterVector, error) {
	if s.space.GridSize(s.opts.GridResolution) <= s.opts.MaxGridPoints {
		return s.space.CandidateGrid(s.opts.GridResolution)
	}
	return s.space.SampleRandom(rng, s.opts.RandomCandidates)
}

// Propose generates candidates and selects among them
func (s *Strategy) Propose(model Model, evaluated []models.ParameterVector, rng *utils.RandSource) (Selection, error) {
	candidates, err := s.Candidates(rng)
	if err != nil {
		return Selection{}, fmt.Errorf("generate candidates: %w", err)
	}
	return s.Select(model, candidates, evaluated, rng)
}

// Score returns the acquisition value of a prediction, oriented like the
// objective: lower is better when minimizing, higher when maximizing
func (s *Strategy) Score(pred surrogate.Prediction, incumbent float64) float64 {
	minimize := s.opts.Direction != models.Maximize

	switch s.opts.Kind {
	case EI, PI:
		improvement := pred.Mean - incumbent - s.opts.Xi
		if minimize {
			improvement = incumbent - pred.Mean - s.opts.Xi
		}

		var value float64
		if pred.Std <= 0 {
			if improvement > 0 {
				value = improvement
				if s.opts.Kind == PI {
					value = 1
				}
			}
		} else {
			z := improvement / pred.Std
			if s.opts.Kind == PI {
				value = normCDF(z)
			} else {
				value = improvement*normCDF(z) + pred.Std*normPDF(z)
			}
		}

		if minimize {
			return -value
		}
		return value

	default:
		if minimize {
			return pred.Mean - s.opts.Beta*pred.Std
		}
		return pred.Mean + s.opts.Beta*pred.Std
	}
}

// Select scores every candidate that is not within DedupTolerance of an
// evaluated vector and returns the best. Near-ties go to the larger predicted
// std; remaining exact ties are broken with rng.
func (s *Strategy) Select(model Model, candidates []models.ParameterVector, evaluated []models.ParameterVector, rng *utils.RandSource) (Selection, error) {
	seen := make([][]float64, len(evaluated))
	for i, v := range evaluated {
		seen[i] = s.space.Normalize(v)
	}

	incumbent, _ := s.incumbent(model)

	type scored struct {
		vector models.ParameterVector
		pred   surrogate.Prediction
		score  float64
	}
	var pool []scored
	for _, c := range candidates {
		if s.isDuplicate(c, seen) {
			continue
		}
		pred, err := model.Predict(c)
		if err != nil {
			return Selection{}, fmt.Errorf("predict candidate %s: %w", c, err)
		}
		pool = append(pool, scored{vector: c, pred: pred, score: s.Score(pred, incumbent)})
	}

	if len(pool) == 0 {
		return s.fallback(model, seen, incumbent, rng)
	}

	best := pool[0].score
	for _, p := range pool[1:] {
		if s.opts.Direction.Better(p.score, best) {
			best = p.score
		}
	}

	tol := tieTolerance * math.Max(1, math.Abs(best))
	var near []scored
	maxStd := math.Inf(-1)
	for _, p := range pool {
		if math.Abs(p.score-best) <= tol {
			near = append(near, p)
			maxStd = math.Max(maxStd, p.pred.Std)
		}
	}

	var ties []scored
	for _, p := range near {
		if p.pred.Std == maxStd {
			ties = append(ties, p)
		}
	}

	pick := ties[0]
	if len(ties) > 1 {
		pick = ties[rng.Intn(len(ties))]
	}
	return Selection{Vector: pick.vector, Score: pick.score, Prediction: pick.pred}, nil
}

// fallback draws fresh random points, preferring one that is not a duplicate
func (s *Strategy) fallback(model Model, seen [][]float64, incumbent float64, rng *utils.RandSource) (Selection, error) {
	var draw models.ParameterVector
	for i := 0; i < fallbackDraws; i++ {
		samples, err := s.space.SampleRandom(rng, 1)
		if err != nil {
			return Selection{}, fmt.Errorf("fallback sample: %w", err)
		}
		draw = samples[0]
		if !s.isDuplicate(draw, seen) {
			break
		}
	}

	pred, err := model.Predict(draw)
	if err != nil {
		return Selection{}, fmt.Errorf("predict fallback %s: %w", draw, err)
	}
	return Selection{Vector: draw, Score: s.Score(pred, incumbent), Prediction: pred, Fallback: true}, nil
}

func (s *Strategy) isDuplicate(v models.ParameterVector, seen [][]float64) bool {
	x := s.space.Normalize(v)
	for _, e := range seen {
		if utils.Distance(x, e) <= s.opts.DedupTolerance {
			return true
		}
	}
	return false
}

// incumbent is the best observed score in the configured direction
func (s *Strategy) incumbent(model Model) (float64, bool) {
	obs := model.Observations()
	if len(obs) == 0 {
		return 0, false
	}
	best := obs[0].Score
	for _, o := range obs[1:] {
		if s.opts.Direction.Better(o.Score, best) {
			best = o.Score
		}
	}
	return best, true
}

func normPDF(z float64) float64 {
	return math.Exp(-0.5*z*z) / math.Sqrt(2*math.Pi)
}

func normCDF(z float64) float64 {
	return 0.5 * math.Erfc(-z/math.Sqrt2)
}
