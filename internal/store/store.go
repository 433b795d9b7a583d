// Package store persists simulation runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vk/cellpop/pkg/sim"
)

const CurrentSchemaVersion = 1

var (
	ErrNotInitialized  = errors.New("store is not initialized")
	ErrVersionMismatch = errors.New("record version mismatch")
)

// Run is one stored trajectory.
type Run struct {
	ID            string `json:"id"`
	SchemaVersion int    `json:"schema_version"`
	// Batch groups the trajectories of one ensemble; empty for single runs.
	Batch     string      `json:"batch,omitempty"`
	Program   string      `json:"program"`
	Seed      uint64      `json:"seed"`
	CreatedAt time.Time   `json:"created_at"`
	Result    *sim.Result `json:"result"`
}

// RunInfo is the listing entry of a stored run.
type RunInfo struct {
	ID        string         `json:"id"`
	Batch     string         `json:"batch,omitempty"`
	Program   string         `json:"program"`
	Seed      uint64         `json:"seed"`
	Reason    sim.StopReason `json:"reason"`
	FinalTime float64        `json:"final_time"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store persists runs.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, bool, error)
	// ListRuns returns the runs of a program (all programs when empty),
	// oldest first.
	ListRuns(ctx context.Context, program string) ([]RunInfo, error)
	DeleteRun(ctx context.Context, id string) error
	Close() error
}

// NewRun wraps a result into a record with a fresh identifier.
func NewRun(batch string, res *sim.Result) Run {
	return Run{
		ID:            uuid.NewString(),
		SchemaVersion: CurrentSchemaVersion,
		Batch:         batch,
		Program:       res.Program,
		Seed:          res.Seed,
		CreatedAt:     time.Now().UTC(),
		Result:        res,
	}
}

// NewBatchID returns an identifier for a group of runs.
func NewBatchID() string { return uuid.NewString() }

func (r Run) info() RunInfo {
	info := RunInfo{ID: r.ID, Batch: r.Batch, Program: r.Program, Seed: r.Seed, CreatedAt: r.CreatedAt}
	if r.Result != nil {
		info.Reason = r.Result.Reason
		info.FinalTime = r.Result.FinalTime
	}
	return info
}

func validate(r Run) error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("run id %q: %w", r.ID, err)
	}
	if r.SchemaVersion != CurrentSchemaVersion {
		return fmt.Errorf("%w: schema %d", ErrVersionMismatch, r.SchemaVersion)
	}
	if r.Result == nil {
		return fmt.Errorf("run %s has no result", r.ID)
	}
	return nil
}

func encodeResult(res *sim.Result) ([]byte, error) {
	return json.Marshal(res)
}

func decodeResult(data []byte) (*sim.Result, error) {
	var res sim.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// New opens a store backend by name: "memory" (the default) or "sqlite".
func New(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(sqlitePath), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}
