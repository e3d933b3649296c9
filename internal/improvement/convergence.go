package improvement

import (
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/config"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/utils"
)

// Step is one successful trial as seen by the convergence strategies. Loss
// is the score oriented so that lower is better.
type Step struct {
	Trial int
	Loss  float64
}

// StepsFromTrials returns the successful trials in order as loss steps
func StepsFromTrials(trials []models.Trial, direction models.Direction) []Step {
	steps := make([]Step, 0, len(trials))
	for _, t := range trials {
		if !t.Succeeded() {
			continue
		}
		loss := *t.Score
		if direction == models.Maximize {
			loss = -loss
		}
		steps = append(steps, Step{Trial: t.Index, Loss: loss})
	}
	return steps
}

// ConvergenceStrategy defines how to detect convergence
type ConvergenceStrategy interface {
	// CheckConvergence checks if optimization has converged based on the
	// successful trials so far
	CheckConvergence(history []Step) (bool, string)
	// Name returns the name of the convergence strategy
	Name() string
}

// ConvergenceConfig holds configuration for convergence detection
type ConvergenceConfig struct {
	// NoImprovementTrials is the number of successful trials without a new best before stopping
	NoImprovementTrials int
	// ImprovementThreshold is the minimum relative improvement to consider significant
	ImprovementThreshold float64
	// ScoreTolerance is the absolute tolerance for score changes to be considered equal
	ScoreTolerance float64
	// MinTrials is the minimum number of successful trials before convergence can be detected
	MinTrials int
	// PlateauTrials is the window of similar scores (plateau) before stopping
	PlateauTrials int
}

// DefaultConvergenceConfig returns a default convergence configuration
func DefaultConvergenceConfig() *ConvergenceConfig {
	return &ConvergenceConfig{
		NoImprovementTrials:  5,
		ImprovementThreshold: 0.01, // 1% improvement
		ScoreTolerance:       0.001,
		MinTrials:            3,
		PlateauTrials:        5,
	}
}

// ConvergenceFromConfig builds the configured strategy. It returns nil for
// "none"; minSuccesses gates every strategy.
func ConvergenceFromConfig(c config.Convergence, minSuccesses int) (ConvergenceStrategy, error) {
	cfg := &ConvergenceConfig{
		NoImprovementTrials:  c.NoImprovementTrials,
		ImprovementThreshold: c.ImprovementThreshold,
		ScoreTolerance:       c.ScoreTolerance,
		MinTrials:            minSuccesses,
		PlateauTrials:        c.PlateauTrials,
	}
	switch c.Strategy {
	case "", "none":
		return nil, nil
	case "no_improvement":
		return NewNoImprovementStrategy(cfg), nil
	case "plateau":
		return NewPlateauStrategy(cfg), nil
	case "improvement_threshold":
		return NewThresholdStrategy(cfg), nil
	case "variance":
		return NewVarianceStrategy(cfg), nil
	case "combined":
		return NewCombinedStrategy(cfg), nil
	default:
		return nil, fmt.Errorf("unknown convergence strategy %q", c.Strategy)
	}
}

// NoImprovementStrategy detects convergence when the best has not moved for N successful trials
type NoImprovementStrategy struct {
	config *ConvergenceConfig
}

// NewNoImprovementStrategy creates a new no-improvement convergence strategy
func NewNoImprovementStrategy(config *ConvergenceConfig) *NoImprovementStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &NoImprovementStrategy{config: config}
}

func (s *NoImprovementStrategy) Name() string {
	return "no_improvement"
}

func (s *NoImprovementStrategy) CheckConvergence(history []Step) (converged bool, reason string) {
	if len(history) < s.config.MinTrials || len(history) == 0 {
		return false, ""
	}

	// earliest best wins ties
	best := 0
	for i, step := range history {
		if step.Loss < history[best].Loss {
			best = i
		}
	}

	since := len(history) - 1 - best
	if since >= s.config.NoImprovementTrials {
		return true, fmt.Sprintf("no improvement for %d successful trials (best at trial %d)", since, history[best].Trial)
	}

	return false, ""
}

// PlateauStrategy detects convergence when recent scores lie within tolerance
type PlateauStrategy struct {
	config *ConvergenceConfig
}

// NewPlateauStrategy creates a new plateau convergence strategy
func NewPlateauStrategy(config *ConvergenceConfig) *PlateauStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &PlateauStrategy{config: config}
}

func (s *PlateauStrategy) Name() string {
	return "plateau"
}

func (s *PlateauStrategy) CheckConvergence(history []Step) (converged bool, reason string) {
	if len(history) < s.config.MinTrials {
		return false, ""
	}
	if s.config.PlateauTrials < 2 || len(history) < s.config.PlateauTrials {
		return false, ""
	}

	recent := history[len(history)-s.config.PlateauTrials:]
	lo, hi := recent[0].Loss, recent[0].Loss
	for _, step := range recent {
		lo = math.Min(lo, step.Loss)
		hi = math.Max(hi, step.Loss)
	}

	if spread := hi - lo; spread <= s.config.ScoreTolerance {
		return true, fmt.Sprintf("score plateaued for %d trials (range: %.6f)", s.config.PlateauTrials, spread)
	}

	return false, ""
}

// ThresholdStrategy detects convergence when the running best improves by
// less than the threshold over the recent window
type ThresholdStrategy struct {
	config *ConvergenceConfig
}

// NewThresholdStrategy creates a new improvement threshold convergence strategy
func NewThresholdStrategy(config *ConvergenceConfig) *ThresholdStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &ThresholdStrategy{config: config}
}

func (s *ThresholdStrategy) Name() string {
	return "improvement_threshold"
}

func (s *ThresholdStrategy) CheckConvergence(history []Step) (converged bool, reason string) {
	window := s.config.NoImprovementTrials
	if len(history) < s.config.MinTrials || window < 1 || len(history) <= window {
		return false, ""
	}

	running := make([]float64, len(history))
	for i, step := range history {
		running[i] = step.Loss
		if i > 0 {
			running[i] = math.Min(running[i-1], step.Loss)
		}
	}

	maxImprovement := 0.0
	for i := len(running) - window; i < len(running); i++ {
		prev := running[i-1]
		if prev == 0 {
			continue
		}
		maxImprovement = math.Max(maxImprovement, (prev-running[i])/math.Abs(prev))
	}

	if maxImprovement <= s.config.ImprovementThreshold {
		return true, fmt.Sprintf("improvements below threshold (max: %.4f%%, threshold: %.4f%%)", maxImprovement*100, s.config.ImprovementThreshold*100)
	}

	return false, ""
}

// CombinedStrategy uses multiple strategies and converges if any strategy detects convergence
type CombinedStrategy struct {
	strategies []ConvergenceStrategy
}

// NewCombinedStrategy creates a new combined convergence strategy
func NewCombinedStrategy(config *ConvergenceConfig) *CombinedStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &CombinedStrategy{
		strategies: []ConvergenceStrategy{
			NewNoImprovementStrategy(config),
			NewPlateauStrategy(config),
			NewThresholdStrategy(config),
		},
	}
}

func (s *CombinedStrategy) Name() string {
	return "combined"
}

func (s *CombinedStrategy) CheckConvergence(history []Step) (converged bool, reason string) {
	for _, strategy := range s.strategies {
		if converged, reason := strategy.CheckConvergence(history); converged {
			return true, fmt.Sprintf("%s: %s", strategy.Name(), reason)
		}
	}
	return false, ""
}

// AddStrategy adds a custom strategy to the combined strategy
func (s *CombinedStrategy) AddStrategy(strategy ConvergenceStrategy) {
	s.strategies = append(s.strategies, strategy)
}

// VarianceStrategy detects convergence when recent scores are stable
// relative to their magnitude
type VarianceStrategy struct {
	config *ConvergenceConfig
}

// NewVarianceStrategy creates a new variance-based convergence strategy
func NewVarianceStrategy(config *ConvergenceConfig) *VarianceStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &VarianceStrategy{config: config}
}

func (s *VarianceStrategy) Name() string {
	return "variance"
}

func (s *VarianceStrategy) CheckConvergence(history []Step) (converged bool, reason string) {
	if len(history) < s.config.MinTrials {
		return false, ""
	}

	window := min(s.config.PlateauTrials, len(history))
	if window < 2 {
		return false, ""
	}

	losses := make([]float64, window)
	for i, step := range history[len(history)-window:] {
		losses[i] = step.Loss
	}

	mean := math.Abs(utils.Mean(losses))
	if mean == 0 {
		return false, ""
	}
	if rel := utils.StdDev(losses) / mean; rel < s.config.ImprovementThreshold {
		return true, fmt.Sprintf("low score variance (relative stddev: %.4f%%)", rel*100)
	}

	return false, ""
}
