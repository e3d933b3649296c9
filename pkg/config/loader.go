package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
)

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value. Beta, Xi,
// SettlePolls and Notify.MaxRetries accept zero and are seeded by
// ParseConfigYAML instead.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "./tuning"
	}

	if cfg.Objective.Direction == "" {
		cfg.Objective.Direction = string(models.Minimize)
	}
	if cfg.Objective.Format == "" {
		cfg.Objective.Format = "json"
	}
	if cfg.Objective.Key == "" {
		cfg.Objective.Key = cfg.Objective.Name
	}

	for i := range cfg.Stages {
		if cfg.Stages[i].Timeout == "" {
			cfg.Stages[i].Timeout = "1h"
		}
	}
	if n := len(cfg.Stages); n > 0 {
		if cfg.TargetStage == "" {
			cfg.TargetStage = cfg.Stages[0].Name
		}
		if cfg.Stages[n-1].Artifact == "" {
			cfg.Stages[n-1].Artifact = filepath.Join("{trial_dir}", cfg.Stages[n-1].Name, "metrics."+artifactExt(cfg.Objective.Format))
		}
	}

	for i := range cfg.Parameters {
		p := &cfg.Parameters[i]
		if p.Type == "" {
			p.Type = "continuous"
		}
		if p.Scale == "" {
			p.Scale = "linear"
		}
		if p.Type == "ordinal" && p.Step == 0 {
			p.Step = 1
		}
	}

	if cfg.Surrogate.Kernel == "" {
		cfg.Surrogate.Kernel = "rbf"
	}
	if cfg.Surrogate.NoiseFloor == 0 {
		cfg.Surrogate.NoiseFloor = 1e-6
	}

	a := &cfg.Acquisition
	if a.Kind == "" {
		a.Kind = "ucb"
	}
	if a.GridResolution == 0 {
		a.GridResolution = 10
	}
	if a.MaxGridPoints == 0 {
		a.MaxGridPoints = 4096
	}
	if a.RandomCandidates == 0 {
		a.RandomCandidates = 512
	}
	if a.DedupTolerance == 0 {
		a.DedupTolerance = 1e-6
	}

	if cfg.Budget.TotalTrials == 0 {
		cfg.Budget.TotalTrials = 20
	}
	if cfg.Budget.InitialSamples == 0 {
		cfg.Budget.InitialSamples = min(5, cfg.Budget.TotalTrials)
	}
	if cfg.Budget.MinSuccesses == 0 {
		cfg.Budget.MinSuccesses = cfg.Budget.InitialSamples
	}

	c := &cfg.Convergence
	if c.Strategy == "" {
		c.Strategy = "none"
	}
	if c.NoImprovementTrials == 0 {
		c.NoImprovementTrials = 5
	}
	if c.PlateauTrials == 0 {
		c.PlateauTrials = 5
	}
	if c.ImprovementThreshold == 0 {
		c.ImprovementThreshold = 0.01
	}
	if c.ScoreTolerance == 0 {
		c.ScoreTolerance = 0.001
	}

	e := &cfg.Executor
	if e.PollInterval == "" {
		e.PollInterval = "30s"
	}
	if e.Cleanup.MaxAttempts == 0 {
		e.Cleanup.MaxAttempts = 5
	}
	if e.Cleanup.Backoff == "" {
		e.Cleanup.Backoff = "exponential"
	}
	if e.Cleanup.BaseDelay == "" {
		e.Cleanup.BaseDelay = "1s"
	}
	if e.Cleanup.MaxDelay == "" {
		e.Cleanup.MaxDelay = "10s"
	}
	if e.Cleanup.Timeout == "" {
		e.Cleanup.Timeout = "1m"
	}

	if cfg.History.Backend == "" {
		cfg.History.Backend = "jsonl"
	}
	if cfg.History.Path == "" {
		name := "history.jsonl"
		if cfg.History.Backend == "sqlite" {
			name = "history.db"
		}
		cfg.History.Path = filepath.Join(cfg.WorkDir, name)
	}
}

func artifactExt(format string) string {
	switch format {
	case "yaml":
		return "yaml"
	case "text":
		return "txt"
	default:
		return "json"
	}
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}

	if err := validateObjective(&cfg.Objective); err != nil {
		return fmt.Errorf("objective validation failed: %w", err)
	}
	if err := validateStages(cfg.Stages, cfg.TargetStage); err != nil {
		return fmt.Errorf("stages validation failed: %w", err)
	}
	if err := validateParameters(cfg.Parameters); err != nil {
		return fmt.Errorf("parameters validation failed: %w", err)
	}
	if err := validateModel(&cfg.Surrogate, &cfg.Acquisition); err != nil {
		return fmt.Errorf("model validation failed: %w", err)
	}
	if err := validateBudget(&cfg.Budget); err != nil {
		return fmt.Errorf("budget validation failed: %w", err)
	}
	if err := validateConvergence(&cfg.Convergence); err != nil {
		return fmt.Errorf("convergence validation failed: %w", err)
	}
	if err := validateExecutor(&cfg.Executor); err != nil {
		return fmt.Errorf("executor validation failed: %w", err)
	}

	switch cfg.History.Backend {
	case "jsonl", "sqlite":
	default:
		return fmt.Errorf("invalid history backend: %s (must be jsonl or sqlite)", cfg.History.Backend)
	}

	if cfg.Notify.MaxRetries < 0 {
		return fmt.Errorf("notify.max_retries cannot be negative")
	}

	return nil
}

func validateObjective(o *Objective) error {
	if o.Name == "" {
		return fmt.Errorf("objective name cannot be empty")
	}
	if _, err := models.ParseDirection(o.Direction); err != nil {
		return err
	}
	switch o.Format {
	case "json", "yaml", "text":
	default:
		return fmt.Errorf("invalid format: %s (must be json, yaml or text)", o.Format)
	}
	return nil
}

func validateStages(stages []Stage, target string) error {
	if len(stages) == 0 {
		return fmt.Errorf("at least one stage must be defined")
	}

	names := make(map[string]bool)
	for _, s := range stages {
		if s.Name == "" {
			return fmt.Errorf("stage name cannot be empty")
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate stage name: %s", s.Name)
		}
		names[s.Name] = true

		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("stage %s: command cannot be empty", s.Name)
		}
		timeout, err := s.GetTimeout()
		if err != nil {
			return fmt.Errorf("stage %s: %w", s.Name, err)
		}
		if timeout <= 0 {
			return fmt.Errorf("stage %s: timeout must be positive", s.Name)
		}
	}

	if !names[target] {
		return fmt.Errorf("target_stage %s is not in the stage list", target)
	}
	return nil
}

func validateParameters(params []Parameter) error {
	if len(params) == 0 {
		return fmt.Errorf("at least one parameter must be defined")
	}

	names := make(map[string]bool)
	for _, p := range params {
		if p.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate parameter name: %s", p.Name)
		}
		names[p.Name] = true

		if p.Lower > p.Upper {
			return fmt.Errorf("parameter %s: lower (%g) exceeds upper (%g)", p.Name, p.Lower, p.Upper)
		}
		switch p.Type {
		case "continuous", "ordinal":
		default:
			return fmt.Errorf("parameter %s: type must be continuous or ordinal, got %s", p.Name, p.Type)
		}
		switch p.Scale {
		case "linear":
		case "log":
			if p.Lower <= 0 {
				return fmt.Errorf("parameter %s: log scale requires a positive lower bound", p.Name)
			}
		default:
			return fmt.Errorf("parameter %s: scale must be linear or log, got %s", p.Name, p.Scale)
		}
		if p.Step < 0 {
			return fmt.Errorf("parameter %s: step cannot be negative", p.Name)
		}
	}
	return nil
}

func validateModel(s *Surrogate, a *Acquisition) error {
	switch s.Kernel {
	case "rbf", "matern52":
	default:
		return fmt.Errorf("invalid kernel: %s (must be rbf or matern52)", s.Kernel)
	}
	if s.NoiseFloor < 0 {
		return fmt.Errorf("noise_floor cannot be negative")
	}

	switch a.Kind {
	case "ucb", "ei", "pi":
	default:
		return fmt.Errorf("invalid acquisition kind: %s (must be ucb, ei or pi)", a.Kind)
	}
	if a.Beta < 0 {
		return fmt.Errorf("beta cannot be negative")
	}
	if a.Xi < 0 {
		return fmt.Errorf("xi cannot be negative")
	}
	if a.GridResolution < 1 {
		return fmt.Errorf("grid_resolution must be at least 1")
	}
	if a.MaxGridPoints < 1 {
		return fmt.Errorf("max_grid_points must be at least 1")
	}
	if a.RandomCandidates < 1 {
		return fmt.Errorf("random_candidates must be at least 1")
	}
	if a.DedupTolerance < 0 {
		return fmt.Errorf("dedup_tolerance cannot be negative")
	}
	return nil
}

func validateBudget(b *Budget) error {
	if b.TotalTrials < 1 {
		return fmt.Errorf("total_trials must be at least 1")
	}
	if b.InitialSamples < 0 {
		return fmt.Errorf("initial_samples cannot be negative")
	}
	if b.InitialSamples > b.TotalTrials {
		return fmt.Errorf("initial_samples (%d) exceeds total_trials (%d)", b.InitialSamples, b.TotalTrials)
	}
	if b.MinSuccesses < 0 {
		return fmt.Errorf("min_successes cannot be negative")
	}
	wallClock, err := b.GetMaxWallClock()
	if err != nil {
		return err
	}
	if wallClock < 0 {
		return fmt.Errorf("max_wall_clock cannot be negative")
	}
	return nil
}

func validateConvergence(c *Convergence) error {
	switch c.Strategy {
	case "none", "no_improvement", "plateau", "improvement_threshold", "variance", "combined":
	default:
		return fmt.Errorf("invalid convergence strategy: %s", c.Strategy)
	}
	if c.NoImprovementTrials < 1 || c.PlateauTrials < 1 {
		return fmt.Errorf("no_improvement_trials and plateau_trials must be at least 1")
	}
	if c.ImprovementThreshold < 0 || c.ScoreTolerance < 0 {
		return fmt.Errorf("improvement_threshold and score_tolerance cannot be negative")
	}
	return nil
}

func validateExecutor(e *Executor) error {
	poll, err := e.GetPollInterval()
	if err != nil {
		return err
	}
	if poll <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if e.SettlePolls < 0 {
		return fmt.Errorf("settle_polls cannot be negative")
	}

	c := e.Cleanup
	if c.MaxAttempts < 1 {
		return fmt.Errorf("cleanup.max_attempts must be at least 1")
	}
	switch c.Backoff {
	case "constant", "linear", "exponential", "exponential_jitter":
	default:
		return fmt.Errorf("invalid cleanup backoff: %s (must be constant, linear, exponential or exponential_jitter)", c.Backoff)
	}
	if _, err := c.GetBaseDelay(); err != nil {
		return fmt.Errorf("cleanup.%w", err)
	}
	if _, err := c.GetMaxDelay(); err != nil {
		return fmt.Errorf("cleanup.%w", err)
	}
	timeout, err := c.GetTimeout()
	if err != nil {
		return fmt.Errorf("cleanup.%w", err)
	}
	if timeout <= 0 {
		return fmt.Errorf("cleanup.timeout must be positive")
	}
	return nil
}
