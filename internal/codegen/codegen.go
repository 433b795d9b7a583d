// Package codegen emits a standalone Go simulation program for a model.
//
// The program consists of a fixed set of files in package main: the
// parameter declaration and definition artifacts, the agent table, the rule
// tables and a driver that runs the model with pkg/sim and prints the result
// as JSON. Expressions are translated to native Go closures; parameters are
// read from a package-level Params value bound with first-seen-wins.
package codegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dave/jennifer/jen"
	"github.com/vk/cellpop/internal/ctxlog"
	"github.com/vk/cellpop/internal/fsutil"
	"github.com/vk/cellpop/internal/model"
)

var (
	ErrUnsupported   = errors.New("cannot generate code")
	ErrNameCollision = errors.New("generated identifier collision")
)

// Header is the first line of every generated file.
const Header = "Code generated by cellpop. DO NOT EDIT."

// Generated file names.
const (
	ParametersFile      = "parameters.go"
	ParameterValuesFile = "parameters_values.go"
	AgentsFile          = "agents.go"
	EventsFile          = "events.go"
	MainFile            = "main.go"
)

// File is one generated source file.
type File struct {
	Name   string
	Source []byte
}

// Generate renders every artifact of m. Nothing is written.
func Generate(m *model.Model) ([]File, error) {
	g := &generator{m: m}
	if err := g.checkNames(); err != nil {
		return nil, err
	}

	artifacts := []struct {
		name  string
		build func(f *jen.File) error
	}{
		{ParametersFile, g.parameters},
		{ParameterValuesFile, g.parameterValues},
		{AgentsFile, g.agents},
		{EventsFile, g.events},
		{MainFile, g.main},
	}
	out := make([]File, 0, len(artifacts))
	for _, a := range artifacts {
		f := jen.NewFile("main")
		f.HeaderComment(Header)
		if err := a.build(f); err != nil {
			return nil, fmt.Errorf("%s: %w", a.name, err)
		}
		var buf bytes.Buffer
		if err := f.Render(&buf); err != nil {
			return nil, fmt.Errorf("render %s: %w", a.name, err)
		}
		out = append(out, File{Name: a.name, Source: buf.Bytes()})
	}
	return out, nil
}

// WriteAllCode generates the program of m into targetFolder, creating the
// folder if needed and overwriting files of the same name. Generation
// completes before the first file is written.
func WriteAllCode(ctx context.Context, m *model.Model, targetFolder string) error {
	logger := ctxlog.FromContext(ctx)

	files, err := Generate(m)
	if err != nil {
		return fmt.Errorf("generate %s: %w", m.Name, err)
	}
	if err := fsutil.EnsureDir(targetFolder); err != nil {
		return fmt.Errorf("target folder: %w", err)
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(targetFolder, f.Name)
		if err := os.WriteFile(path, f.Source, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		logger.Debug("Wrote generated file.", "path", path, "bytes", len(f.Source))
	}
	logger.Info("Generated simulation program.", "model", m.Name, "folder", targetFolder, "files", len(files))
	return nil
}

type generator struct {
	m *model.Model
}

// checkNames rejects models whose agent and property constants would
// collide with each other or with the fixed package-level identifiers.
func (g *generator) checkNames() error {
	taken := map[string]string{}
	for _, id := range []string{"Params", "params", "agents", "deterministic", "stochastic", "continuous", "terminal", "main"} {
		taken[id] = "generated declaration"
	}
	claim := func(id, what string) error {
		if prev, ok := taken[id]; ok {
			return fmt.Errorf("%w: %s for %s is already used by %s", ErrNameCollision, id, what, prev)
		}
		taken[id] = what
		return nil
	}
	for _, a := range g.m.Agents() {
		if err := claim(agentConst(a.Name), "agent "+a.Name); err != nil {
			return err
		}
		for _, p := range a.Properties {
			if err := claim(propConst(a.Name, p), "property "+a.Name+"."+p); err != nil {
				return err
			}
		}
	}
	return nil
}
