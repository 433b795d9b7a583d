package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	config     *Config
	ctx        context.Context
	httpServer *http.Server
	ready      atomic.Bool
}

// NewApp is the constructor for the main application. Command output goes
// to outW and logs to logW.
func NewApp(outW, logW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	logger.Debug("Logger configured successfully.")
	return &App{
		outW:   outW,
		logger: logger,
		config: cfg,
		ctx:    context.Background(),
	}
}
