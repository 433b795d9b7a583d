package hcl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/cellpop/internal/ctxlog"
	"github.com/vk/cellpop/internal/fsutil"
	"github.com/vk/cellpop/internal/model"
	"github.com/vk/cellpop/internal/network"
)

var (
	ErrNoFiles  = errors.New("no model files found")
	ErrConflict = errors.New("conflicting model definitions")
)

// Extension is the suffix of model files inside a directory.
const Extension = ".hcl"

type loader struct {
	parser *hclparse.Parser
	ctx    *hcl.EvalContext
	roots  []*fileRoot
	names  []string
}

// Load reads the model described by the given files and directories.
// Directories contribute every .hcl file below them, in lexical order.
func Load(ctx context.Context, paths ...string) (*model.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.ResolveInputs(Extension, paths...)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFiles, strings.Join(paths, ", "))
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	l := &loader{parser: hclparse.NewParser()}
	parsed := make([]*hcl.File, 0, len(files))
	for _, path := range files {
		f, diags := l.parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
		}
		parsed = append(parsed, f)
	}

	l.ctx, err = evalLocals(parsed)
	if err != nil {
		return nil, err
	}

	for i, f := range parsed {
		var root fileRoot
		if diags := gohcl.DecodeBody(f.Body, l.ctx, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", files[i], diags)
		}
		l.roots = append(l.roots, &root)
		l.names = append(l.names, files[i])
	}

	name, err := l.modelName(files[0])
	if err != nil {
		return nil, err
	}
	m, err := l.build(ctx, name)
	if err != nil {
		return nil, err
	}
	logger.Debug("HCL loading complete.", "model", m.Name, "agents", len(m.Agents()),
		"deterministic", len(m.DeterministicEvents()), "stochastic", len(m.StochasticEvents()),
		"continuous", len(m.ContinuousChanges()))
	return m, nil
}

// modelName returns the single `model` attribute of the files, or the base
// name of the first file when none sets it.
func (l *loader) modelName(first string) (string, error) {
	name := ""
	for i, r := range l.roots {
		if r.Model == nil {
			continue
		}
		if name != "" && name != *r.Model {
			return "", fmt.Errorf("%s: %w: model %q was already named %q", l.names[i], ErrConflict, *r.Model, name)
		}
		name = *r.Model
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(first), filepath.Ext(first))
	}
	return name, nil
}

func (l *loader) build(ctx context.Context, name string) (*model.Model, error) {
	var m *model.Model
	networkBlocks := 0
	for _, r := range l.roots {
		networkBlocks += r.networkBlocks()
	}
	if networkBlocks > 0 {
		n, err := l.buildNetwork(name)
		if err != nil {
			return nil, err
		}
		m, err = network.Translate(n)
		if err != nil {
			return nil, fmt.Errorf("translate network %s: %w", name, err)
		}
		ctxlog.FromContext(ctx).Debug("Translated reaction network.", "model", name, "blocks", networkBlocks)
	} else {
		m = model.New(name)
	}
	if err := l.buildGeneric(m); err != nil {
		return nil, err
	}
	return m, nil
}

// each calls fn for every file, prefixing errors with the file name.
func (l *loader) each(fn func(r *fileRoot) error) error {
	for i, r := range l.roots {
		if err := fn(r); err != nil {
			return fmt.Errorf("%s: %w", l.names[i], err)
		}
	}
	return nil
}

func (l *loader) buildGeneric(m *model.Model) error {
	steps := []func(r *fileRoot) error{
		func(r *fileRoot) error {
			for _, b := range r.Agents {
				initial, err := l.sources(b.Initial)
				if err != nil {
					return fmt.Errorf("agent %s: %w", b.Name, err)
				}
				if _, err := m.AddAgent(model.AgentSpec{Name: b.Name, Unique: b.Unique, Properties: b.Properties,
					Count: b.Count, Initial: initial}); err != nil {
					return err
				}
			}
			return nil
		},
		func(r *fileRoot) error {
			for _, b := range r.Deterministic {
				ps, err := params(b.Parameters, l.ctx)
				if err != nil {
					return fmt.Errorf("deterministic event %s: %w", b.Name, err)
				}
				trigger, err := l.source(b.Trigger)
				if err != nil {
					return fmt.Errorf("deterministic event %s: %w", b.Name, err)
				}
				if _, err := m.AddDeterministicEvent(model.DeterministicEventSpec{Name: b.Name, Agent: b.Agent, Kind: b.Kind,
					Parameters: ps, Trigger: trigger, Realization: b.Realization}); err != nil {
					return err
				}
			}
			return nil
		},
		func(r *fileRoot) error {
			for _, b := range r.Stochastic {
				ps, err := params(b.Parameters, l.ctx)
				if err != nil {
					return fmt.Errorf("stochastic event %s: %w", b.Name, err)
				}
				propensity, err := l.source(b.Propensity)
				if err != nil {
					return fmt.Errorf("stochastic event %s: %w", b.Name, err)
				}
				if _, err := m.AddStochasticEvent(model.StochasticEventSpec{Name: b.Name, Agent: b.Agent, Kind: b.Kind,
					Parameters: ps, Propensity: propensity, Realization: b.Realization}); err != nil {
					return err
				}
			}
			return nil
		},
		func(r *fileRoot) error {
			for _, b := range r.Continuous {
				ps, err := params(b.Parameters, l.ctx)
				if err != nil {
					return fmt.Errorf("continuous change %s: %w", b.Name, err)
				}
				rate, err := l.source(b.Rate)
				if err != nil {
					return fmt.Errorf("continuous change %s: %w", b.Name, err)
				}
				if _, err := m.AddContinuousChange(model.ContinuousChangeSpec{Name: b.Name, Agent: b.Agent, Property: b.Property,
					Source: b.Source, Parameters: ps, Rate: rate}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	for _, step := range steps {
		if err := l.each(step); err != nil {
			return err
		}
	}

	terminalSet := false
	return l.each(func(r *fileRoot) error {
		for _, b := range r.Terminal {
			if terminalSet {
				return fmt.Errorf("%s: %w: more than one terminal_condition", b.When.Range(), ErrConflict)
			}
			src, err := l.source(b.When)
			if err != nil {
				return fmt.Errorf("terminal condition: %w", err)
			}
			if err := m.SetTerminalCondition(src); err != nil {
				return err
			}
			terminalSet = true
		}
		return nil
	})
}

// sources maps the keys of an object to the source text of its values.
func (l *loader) sources(e hcl.Expression) (map[string]string, error) {
	items, err := entries(e)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(items))
	for _, it := range items {
		src, err := l.source(it.Value)
		if err != nil {
			return nil, fmt.Errorf("initial value of %s: %w", it.Key, err)
		}
		out[it.Key] = src
	}
	return out, nil
}
