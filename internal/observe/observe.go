// Package observe provides sim.Observer implementations: structured
// progress logging, fan-out and live publishing to a socket.io server.
package observe

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vk/cellpop/internal/ctxlog"
	"github.com/vk/cellpop/pkg/sim"
)

// Log returns an observer that writes one record per snapshot with the
// population of every agent type. A nil logger falls back to the logger
// stored in the observed context.
func Log(logger *slog.Logger, prog *sim.Program) sim.Observer {
	return sim.ObserverFunc(func(ctx context.Context, s sim.Snapshot) error {
		l := logger
		if l == nil {
			l = ctxlog.FromContext(ctx)
		}
		attrs := make([]any, 0, len(s.Populations)+1)
		attrs = append(attrs, slog.Float64("time", s.Time))
		for i, n := range s.Populations {
			attrs = append(attrs, slog.Int(prog.Agents[i].Name, n))
		}
		l.Debug("Snapshot recorded.", attrs...)
		return nil
	})
}

// Tee forwards every snapshot to each non-nil observer in turn. All
// observers see the snapshot; their errors are joined.
func Tee(observers ...sim.Observer) sim.Observer {
	var live []sim.Observer
	for _, o := range observers {
		if o != nil {
			live = append(live, o)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return sim.ObserverFunc(func(ctx context.Context, s sim.Snapshot) error {
		var errs []error
		for _, o := range live {
			if err := o.Observe(ctx, s); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
