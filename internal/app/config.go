package app

import (
	"errors"
	"fmt"
	"math"
)

// Commands understood by App.Run.
const (
	CommandGenerate = "generate"
	CommandRun      = "run"
	CommandEnsemble = "ensemble"
	CommandInspect  = "inspect"
	CommandRuns     = "runs"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Command string
	// ModelPaths are .hcl files or directories of them. For the runs
	// command the first entry, if any, filters by program name.
	ModelPaths []string
	OutputDir  string // generate

	LogFormat       string
	LogLevel        string
	HealthcheckPort int

	StopTime    float64
	Seed        uint64
	Step        float64
	RecordEvery float64
	MaxEvents   int64

	Trajectories int // ensemble
	Workers      int

	Store  string // memory | sqlite
	DBPath string

	PlotPath  string
	PlotAgent string // plot property means of this agent instead of populations

	ObserveURL       string
	ObserveNamespace string
	ObserveInsecure  bool
}

func NewConfig(cfg Config) (*Config, error) {
	switch cfg.Command {
	case CommandGenerate, CommandRun, CommandEnsemble, CommandInspect:
		if len(cfg.ModelPaths) == 0 {
			return nil, fmt.Errorf("%w: the %s command needs a model path", ErrInvalidConfig, cfg.Command)
		}
	case CommandRuns:
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidConfig, cfg.Command)
	}

	if cfg.Command == CommandGenerate && cfg.OutputDir == "" {
		return nil, fmt.Errorf("%w: output directory is required", ErrInvalidConfig)
	}
	if cfg.StopTime < 0 || math.IsNaN(cfg.StopTime) || math.IsInf(cfg.StopTime, 0) {
		return nil, fmt.Errorf("%w: stop time must be a finite non-negative number, got %g", ErrInvalidConfig, cfg.StopTime)
	}
	if cfg.Step <= 0 {
		return nil, fmt.Errorf("%w: integration step must be positive, got %g", ErrInvalidConfig, cfg.Step)
	}
	if cfg.RecordEvery < 0 {
		return nil, fmt.Errorf("%w: record interval must not be negative", ErrInvalidConfig)
	}
	if cfg.MaxEvents < 0 {
		return nil, fmt.Errorf("%w: event limit must not be negative", ErrInvalidConfig)
	}
	if cfg.Command == CommandEnsemble && cfg.Trajectories <= 0 {
		return nil, fmt.Errorf("%w: trajectories must be positive, got %d", ErrInvalidConfig, cfg.Trajectories)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("%w: workers must not be negative", ErrInvalidConfig)
	}
	switch cfg.Store {
	case "", "memory":
	case "sqlite":
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("%w: the sqlite store needs a database path", ErrInvalidConfig)
		}
	default:
		return nil, fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, cfg.Store)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("%w: healthcheck port %d", ErrInvalidConfig, cfg.HealthcheckPort)
	}

	return &cfg, nil
}
