// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the command lifecycle (load a model, then
// generate, inspect, run or ensemble-run it), decoupled from any specific
// entrypoint like a CLI or server.
package app
