package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vk/cellpop/pkg/sim"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps runs in a SQLite database. Snapshots are stored one row
// per time point so that they can be queried without decoding whole runs.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	// Ensemble workers save concurrently; a single connection serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) error {
	if err := validate(run); err != nil {
		return err
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	// Snapshots live in their own table; the payload keeps the rest.
	result := *run.Result
	snapshots := result.Snapshots
	result.Snapshots = nil
	payload, err := encodeResult(&result)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, schema_version, batch, program, seed, reason, final_time, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			batch = excluded.batch,
			program = excluded.program,
			seed = excluded.seed,
			reason = excluded.reason,
			final_time = excluded.final_time,
			created_at = excluded.created_at,
			payload = excluded.payload
	`, run.ID, run.SchemaVersion, run.Batch, run.Program, int64(run.Seed), string(result.Reason), result.FinalTime,
		run.CreatedAt.UTC().Format(time.RFC3339Nano), payload)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE run_id = ?`, run.ID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshots (run_id, seq, time, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, snap := range snapshots {
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, run.ID, i, snap.Time, data); err != nil {
			return fmt.Errorf("save snapshot %d of run %s: %w", i, run.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Run{}, false, err
	}

	var (
		run       Run
		seed      int64
		createdAt string
		payload   []byte
	)
	err = db.QueryRowContext(ctx, `
		SELECT id, schema_version, batch, program, seed, created_at, payload FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.SchemaVersion, &run.Batch, &run.Program, &seed, &createdAt, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}
	if run.SchemaVersion != CurrentSchemaVersion {
		return Run{}, false, fmt.Errorf("%w: run %s has schema %d", ErrVersionMismatch, id, run.SchemaVersion)
	}
	run.Seed = uint64(seed)
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Run{}, false, fmt.Errorf("run %s: created_at: %w", id, err)
	}
	if run.Result, err = decodeResult(payload); err != nil {
		return Run{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}

	rows, err := db.QueryContext(ctx, `SELECT payload FROM snapshots WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return Run{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return Run{}, false, err
		}
		var snap sim.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return Run{}, false, fmt.Errorf("decode snapshot of run %s: %w", id, err)
		}
		run.Result.Snapshots = append(run.Result.Snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, program string) ([]RunInfo, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, batch, program, seed, reason, final_time, created_at FROM runs
		WHERE ? = '' OR program = ?
		ORDER BY created_at, id
	`, program, program)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			info      RunInfo
			seed      int64
			reason    string
			createdAt string
		)
		if err := rows.Scan(&info.ID, &info.Batch, &info.Program, &seed, &reason, &info.FinalTime, &createdAt); err != nil {
			return nil, err
		}
		info.Seed = uint64(seed)
		info.Reason = sim.StopReason(reason)
		if info.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("run %s: created_at: %w", info.ID, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE run_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			batch TEXT NOT NULL,
			program TEXT NOT NULL,
			seed INTEGER NOT NULL,
			reason TEXT NOT NULL,
			final_time REAL NOT NULL,
			created_at TEXT NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS runs_program ON runs (program, created_at);
		CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			time REAL NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
	`)
	return err
}
