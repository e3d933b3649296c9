package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the immutable description of one tuning run
type Config struct {
	LogLevel    string      `yaml:"log_level"`
	Seed        int64       `yaml:"seed"`
	WorkDir     string      `yaml:"work_dir"`
	Objective   Objective   `yaml:"objective"`
	TargetStage string      `yaml:"target_stage"`
	Stages      []Stage     `yaml:"stages"`
	Parameters  []Parameter `yaml:"parameters"`
	Surrogate   Surrogate   `yaml:"surrogate"`
	Acquisition Acquisition `yaml:"acquisition"`
	Budget      Budget      `yaml:"budget"`
	Convergence Convergence `yaml:"convergence"`
	Executor    Executor    `yaml:"executor"`
	History     History     `yaml:"history"`
	Notify      Notify      `yaml:"notify"`
}

// Objective names the figure-of-merit and how to read it
type Objective struct {
	Name      string `yaml:"name"`
	Direction string `yaml:"direction"`     // minimize or maximize
	Format    string `yaml:"format"`        // json, yaml or text
	Key       string `yaml:"key,omitempty"` // dotted path inside the artifact; defaults to Name
}

// Stage is one externally executed pipeline step
type Stage struct {
	Name     string `yaml:"name"`
	Command  string `yaml:"command"`
	Timeout  string `yaml:"timeout"`            // e.g., "2h"
	Artifact string `yaml:"artifact,omitempty"` // final stage only; {trial_dir} is expanded
}

// Parameter declares one tunable knob of the target stage
type Parameter struct {
	Name  string  `yaml:"name"`
	Lower float64 `yaml:"lower"`
	Upper float64 `yaml:"upper"`
	Type  string  `yaml:"type"`  // continuous or ordinal
	Scale string  `yaml:"scale"` // linear or log
	Step  float64 `yaml:"step,omitempty"`
}

// Surrogate configures the Gaussian-process model
type Surrogate struct {
	Kernel     string  `yaml:"kernel"` // rbf or matern52
	NoiseFloor float64 `yaml:"noise_floor"`
}

// Acquisition configures candidate generation and scoring
type Acquisition struct {
	Kind             string  `yaml:"kind"` // ucb, ei or pi
	Beta             float64 `yaml:"beta"` // 0 is pure exploitation
	Xi               float64 `yaml:"xi"`
	GridResolution   int     `yaml:"grid_resolution"`
	MaxGridPoints    int     `yaml:"max_grid_points"`
	RandomCandidates int     `yaml:"random_candidates"`
	DedupTolerance   float64 `yaml:"dedup_tolerance"`
}

// Budget bounds the number and duration of trials
type Budget struct {
	InitialSamples int    `yaml:"initial_samples"` // 0 selects min(5, total_trials)
	TotalTrials    int    `yaml:"total_trials"`
	MinSuccesses   int    `yaml:"min_successes"`
	MaxWallClock   string `yaml:"max_wall_clock,omitempty"` // empty means no cap
}

// Convergence configures optional early stopping
type Convergence struct {
	Strategy             string  `yaml:"strategy"` // none, no_improvement, plateau, improvement_threshold, variance, combined
	NoImprovementTrials  int     `yaml:"no_improvement_trials"`
	PlateauTrials        int     `yaml:"plateau_trials"`
	ImprovementThreshold float64 `yaml:"improvement_threshold"`
	ScoreTolerance       float64 `yaml:"score_tolerance"`
}

// Executor configures stage polling and artifact cleanup
type Executor struct {
	PollInterval string  `yaml:"poll_interval"`
	SettlePolls  int     `yaml:"settle_polls"`
	Cleanup      Cleanup `yaml:"cleanup"`
}

// Cleanup bounds the retries used to remove a stale artifact
type Cleanup struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"` // constant, linear, exponential, exponential_jitter
	BaseDelay   string `yaml:"base_delay"`
	MaxDelay    string `yaml:"max_delay"`
	Timeout     string `yaml:"timeout"`
}

// History selects the durable trial store
type History struct {
	Backend string `yaml:"backend"` // jsonl or sqlite
	Path    string `yaml:"path"`
}

// Notify configures the completion webhook
type Notify struct {
	URL        string `yaml:"url,omitempty"`
	Secret     string `yaml:"secret,omitempty"`
	MaxRetries int    `yaml:"max_retries"` // 0 disables retries
}

// FinalStage returns the last stage of the sequence
func (c *Config) FinalStage() Stage {
	return c.Stages[len(c.Stages)-1]
}

// ParameterNames returns the configured parameter names in order
func (c *Config) ParameterNames() []string {
	names := make([]string, len(c.Parameters))
	for i, p := range c.Parameters {
		names[i] = p.Name
	}
	return names
}

// ArtifactPath expands the final stage artifact template for a trial directory
func (c *Config) ArtifactPath(trialDir string) string {
	return strings.ReplaceAll(c.FinalStage().Artifact, "{trial_dir}", trialDir)
}

// GetTimeout parses the stage timeout
func (s Stage) GetTimeout() (time.Duration, error) {
	return parseDuration("timeout", s.Timeout)
}

// GetMaxWallClock parses the wall-clock cap; zero means unbounded
func (b Budget) GetMaxWallClock() (time.Duration, error) {
	if b.MaxWallClock == "" {
		return 0, nil
	}
	return parseDuration("max_wall_clock", b.MaxWallClock)
}

// GetPollInterval parses the poll interval
func (e Executor) GetPollInterval() (time.Duration, error) {
	return parseDuration("poll_interval", e.PollInterval)
}

// GetBaseDelay parses the cleanup base delay
func (c Cleanup) GetBaseDelay() (time.Duration, error) {
	return parseDuration("base_delay", c.BaseDelay)
}

// GetMaxDelay parses the cleanup max delay
func (c Cleanup) GetMaxDelay() (time.Duration, error) {
	return parseDuration("max_delay", c.MaxDelay)
}

// GetTimeout parses the overall cleanup timeout
func (c Cleanup) GetTimeout() (time.Duration, error) {
	return parseDuration("timeout", c.Timeout)
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
