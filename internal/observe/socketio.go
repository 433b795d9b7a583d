package observe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/vk/cellpop/internal/ctxlog"
	"github.com/vk/cellpop/pkg/sim"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

const (
	// SnapshotEvent carries one Frame per recorded snapshot.
	SnapshotEvent = "snapshot"
	// ResultEvent carries a Frame with the final populations of a run.
	ResultEvent = "result"

	defaultConnectTimeout = 15 * time.Second
)

var ErrConnect = errors.New("socket.io connection failed")

// PublisherConfig selects the socket.io endpoint snapshots are sent to.
type PublisherConfig struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	// ConnectTimeout bounds the initial handshake. Defaults to 15s.
	ConnectTimeout time.Duration
}

// Frame is the payload of every published event.
type Frame struct {
	Run         string         `json:"run"`
	Program     string         `json:"program"`
	Time        float64        `json:"time"`
	Populations map[string]int `json:"populations"`
	Reason      string         `json:"reason,omitempty"`
}

type emitter interface {
	Emit(ev string, args ...any) error
}

// Publisher streams snapshots of running simulations to a socket.io server.
type Publisher struct {
	io   *socket.Socket
	emit emitter
}

// Dial connects to cfg.URL and waits for the handshake to complete.
func Dial(ctx context.Context, cfg PublisherConfig) (*Publisher, error) {
	logger := ctxlog.FromContext(ctx).With("component", "publisher", "url", cfg.URL)
	logger.Info("Connecting to socket.io server...")

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("%w: url %q needs a scheme and a host", ErrConnect, cfg.URL)
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 2)
	notify := func(err error) {
		select {
		case connectChan <- err:
		default:
		}
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "/"
	}
	io := manager.Socket(namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected.", "sid", io.Id())
		notify(nil)
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		logger.Debug("Connection attempt failed.", "error", err)
		notify(err)
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("%w: %w", ErrConnect, err)
		}
		return &Publisher{io: io, emit: io}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("%w: %w", ErrConnect, ctx.Err())
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("%w: timed out after %s", ErrConnect, timeout)
	}
}

// Observer returns an observer that emits a SnapshotEvent frame tagged with
// run for every snapshot of prog.
func (p *Publisher) Observer(run string, prog *sim.Program) sim.Observer {
	return sim.ObserverFunc(func(ctx context.Context, s sim.Snapshot) error {
		f := newFrame(run, prog, s.Time, s.Populations)
		if err := p.emit.Emit(SnapshotEvent, f); err != nil {
			return fmt.Errorf("publishing snapshot at t=%g: %w", s.Time, err)
		}
		return nil
	})
}

// PublishResult emits the final state of a finished run.
func (p *Publisher) PublishResult(run string, prog *sim.Program, res *sim.Result) error {
	f := newFrame(run, prog, res.FinalTime, res.Populations)
	f.Reason = string(res.Reason)
	if err := p.emit.Emit(ResultEvent, f); err != nil {
		return fmt.Errorf("publishing result: %w", err)
	}
	return nil
}

// Close disconnects from the server.
func (p *Publisher) Close() {
	if p.io != nil {
		p.io.Disconnect()
	}
}

func newFrame(run string, prog *sim.Program, t float64, pops []int) Frame {
	f := Frame{Run: run, Program: prog.Name, Time: t, Populations: make(map[string]int, len(pops))}
	for i, n := range pops {
		f.Populations[prog.Agents[i].Name] = n
	}
	return f
}
