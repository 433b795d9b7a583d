package app

import (
	"context"
	"fmt"

	"github.com/vk/cellpop/internal/ctxlog"
	"github.com/vk/cellpop/internal/hcl"
)

// Run executes the configured command.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.With(ctxlog.WithLogger(ctx, a.logger), "command", a.config.Command)
	a.ctx = ctx
	logger := ctxlog.FromContext(ctx)
	logger.Debug("App.Run method started.")

	a.healthCheckServer()
	defer a.closeHealthCheckServer()

	if a.config.Command == CommandRuns {
		return a.listRuns(ctx)
	}

	m, err := hcl.Load(ctx, a.config.ModelPaths...)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	a.ready.Store(true)
	logger.Info("Model loaded.", "model", m.Name, "agents", len(m.Agents()))

	switch a.config.Command {
	case CommandGenerate:
		err = a.generate(ctx, m)
	case CommandRun:
		err = a.simulate(ctx, m)
	case CommandEnsemble:
		err = a.ensemble(ctx, m)
	case CommandInspect:
		err = a.inspect(ctx, m)
	default:
		err = fmt.Errorf("%w: unknown command %q", ErrInvalidConfig, a.config.Command)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", a.config.Command, m.Name, err)
	}

	logger.Debug("App.Run method finished.")
	return nil
}
