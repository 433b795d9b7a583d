package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/cellpop/internal/app"
	"github.com/vk/cellpop/pkg/sim"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

const usageText = `
cellpop - compile and simulate hybrid stochastic/ODE agent population models.

Usage:
  cellpop <command> [options] MODEL_PATH...
  cellpop runs [options] [PROGRAM]

Commands:
  generate   Write the Go simulation program of the model into -o DIR.
  run        Simulate the model once and print the result as JSON.
  ensemble   Simulate many trajectories concurrently and print a summary.
  inspect    Print the agents, events and parameters of the model.
  runs       List stored runs, optionally of one program.

Arguments:
  MODEL_PATH
    Path to a single .hcl file or a directory containing .hcl files.

Options:
`

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("cellpop", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, usageText)
		flagSet.PrintDefaults()
	}

	outFlag := flagSet.String("o", "generated", "Output directory of the generate command.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	stopFlag := flagSet.Float64("stop", 100, "Simulated time at which a run stops.")
	seedFlag := flagSet.Uint64("seed", 0, "Random seed; ensemble trajectory i uses seed+i.")
	dtFlag := flagSet.Float64("dt", sim.DefaultStep, "Maximum integration step.")
	recordFlag := flagSet.Float64("record-every", 1, "Snapshot interval. 0 records only the first and last state.")
	maxEventsFlag := flagSet.Int64("max-events", 0, "Stop a run after this many events. 0 is unlimited.")
	trajectoriesFlag := flagSet.Int("trajectories", 10, "Number of ensemble trajectories.")
	workersFlag := flagSet.Int("workers", 0, "Concurrent ensemble workers. 0 uses every CPU.")
	storeFlag := flagSet.String("store", "memory", "Run store backend. Options: 'memory' or 'sqlite'.")
	dbPathFlag := flagSet.String("db-path", "cellpop.db", "Database file of the sqlite store.")
	plotFlag := flagSet.String("plot", "", "Write a PNG chart of the populations to this file.")
	plotAgentFlag := flagSet.String("plot-agent", "", "Chart the mean properties of this agent instead of populations.")
	observeURLFlag := flagSet.String("observe-url", "", "Stream snapshots to this socket.io server.")
	observeNSFlag := flagSet.String("observe-namespace", "/", "socket.io namespace of -observe-url.")
	observeInsecureFlag := flagSet.Bool("observe-insecure", false, "Skip TLS verification of -observe-url.")

	if len(args) == 0 {
		slog.Debug("No command provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}
	command := args[0]
	switch command {
	case "-h", "-help", "--help", "help":
		flagSet.Usage()
		return nil, true, nil
	case app.CommandGenerate, app.CommandRun, app.CommandEnsemble, app.CommandInspect, app.CommandRuns:
	default:
		flagSet.Usage()
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", command)}
	}

	if err := flagSet.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.", "command", command)

	paths := flagSet.Args()
	if len(paths) == 0 && command != app.CommandRuns {
		flagSet.Usage()
		return nil, false, &ExitError{Code: 2, Message: "a model path is required"}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		Command:          command,
		ModelPaths:       paths,
		OutputDir:        *outFlag,
		LogFormat:        logFormat,
		LogLevel:         logLevel,
		HealthcheckPort:  *healthPortFlag,
		StopTime:         *stopFlag,
		Seed:             *seedFlag,
		Step:             *dtFlag,
		RecordEvery:      *recordFlag,
		MaxEvents:        *maxEventsFlag,
		Trajectories:     *trajectoriesFlag,
		Workers:          *workersFlag,
		Store:            strings.ToLower(*storeFlag),
		DBPath:           *dbPathFlag,
		PlotPath:         *plotFlag,
		PlotAgent:        *plotAgentFlag,
		ObserveURL:       *observeURLFlag,
		ObserveNamespace: *observeNSFlag,
		ObserveInsecure:  *observeInsecureFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
