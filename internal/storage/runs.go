// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/billdash/internal/poller"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotFound = errors.New("run not found")
	ErrClosed   = errors.New("store is closed")
)

// =============================================================================
// RUN RECORD
// =============================================================================

// Run is one submitted job as last observed by the dashboard.
type Run struct {
	ID        string       `json:"id"`
	FlowRunID string       `json:"flow_run_id"`
	WorkerID  string       `json:"worker_id,omitempty"`
	BillName  string       `json:"bill_name"`
	Replicas  int          `json:"replicas"`
	State     poller.State `json:"-"`
	Completed []int        `json:"completed"`
	Report    string       `json:"report,omitempty"`
	TimedOut  bool         `json:"timed_out,omitempty"`
	LastError string       `json:"last_error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// StateName is the state as a display string.
func (r *Run) StateName() string { return r.State.String() }

// MarshalJSON includes the state by name.
func (r Run) MarshalJSON() ([]byte, error) {
	type alias Run
	return json.Marshal(struct {
		alias
		State string `json:"state"`
	}{alias(r), r.State.String()})
}

// RunFromSnapshot converts a session snapshot to a run record.
func RunFromSnapshot(snap poller.Snapshot) Run {
	r := Run{
		ID:        snap.RunID,
		FlowRunID: snap.JobID,
		WorkerID:  snap.WorkerID,
		BillName:  snap.BillName,
		Replicas:  snap.Replicas,
		State:     snap.State,
		Completed: append([]int(nil), snap.Completed...),
		Report:    snap.Report,
		TimedOut:  snap.TimedOut,
		LastError: snap.LastError,
		CreatedAt: snap.StartedAt,
		UpdatedAt: snap.UpdatedAt,
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return r
}

// =============================================================================
// RUN STORE
// =============================================================================

// RunStore persists run history in SQLite.
type RunStore struct {
	db     *sql.DB
	path   string
	log    *zap.Logger
	mu     sync.Mutex
	closed bool
}

// DefaultPath returns ~/.billdash/history.db.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".billdash", "history.db")
	}
	return filepath.Join(home, ".billdash", "history.db")
}

// Open opens (creating if needed) the history database at path.
func Open(path string, opts ...Option) (*RunStore, error) {
	if path == "" {
		path = DefaultPath()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &RunStore{db: db, path: path, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Option configures a RunStore.
type Option func(*RunStore)

// WithLogger sets the store's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *RunStore) {
		if l != nil {
			s.log = l.Named("storage")
		}
	}
}

func (s *RunStore) initSchema() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return err
	}
	_, err := s.db.Exec(InitMetadata)
	return err
}

// Path returns the database path.
func (s *RunStore) Path() string { return s.path }

// Close closes the database.
func (s *RunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *RunStore) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

const upsertRun = `
INSERT INTO runs (id, flow_run_id, worker_id, bill_name, replicas, state, completed,
                  report, timed_out, last_error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    flow_run_id = excluded.flow_run_id,
    worker_id   = excluded.worker_id,
    bill_name   = excluded.bill_name,
    replicas    = excluded.replicas,
    state       = excluded.state,
    completed   = excluded.completed,
    report      = excluded.report,
    timed_out   = excluded.timed_out,
    last_error  = excluded.last_error,
    updated_at  = excluded.updated_at
`

// Save inserts or updates a run. CreatedAt is preserved on update.
func (s *RunStore) Save(ctx context.Context, r *Run) error {
	if err := s.usable(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	completed, err := json.Marshal(nonNil(r.Completed))
	if err != nil {
		return fmt.Errorf("encode completed: %w", err)
	}

	_, err = s.db.ExecContext(ctx, upsertRun,
		r.ID, r.FlowRunID, r.WorkerID, r.BillName, r.Replicas, r.State.String(), string(completed),
		r.Report, boolInt(r.TimedOut), r.LastError, r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

// RecordSnapshot stores a session snapshot. Idle snapshots and snapshots
// without a job are ignored.
func (s *RunStore) RecordSnapshot(ctx context.Context, snap poller.Snapshot) error {
	if snap.State == poller.StateIdle || snap.JobID == "" {
		return nil
	}
	r := RunFromSnapshot(snap)
	if err := s.Save(ctx, &r); err != nil {
		s.log.Warn("record snapshot failed", zap.String("run", r.ID), zap.Error(err))
		return err
	}
	return nil
}

// Delete removes a run.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	if err := s.usable(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Prune keeps the newest keep runs and deletes the rest.
func (s *RunStore) Prune(ctx context.Context, keep int) (int64, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
DELETE FROM runs WHERE id NOT IN (
    SELECT id FROM runs ORDER BY created_at DESC, id DESC LIMIT ?
)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("pruned run history", zap.Int64("deleted", n), zap.Int("kept", keep))
	}
	return n, nil
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

const selectRun = `
SELECT id, flow_run_id, worker_id, bill_name, replicas, state, completed,
       report, timed_out, last_error, created_at, updated_at
FROM runs`

// Get returns the run with the given ID or flow run ID.
func (s *RunStore) Get(ctx context.Context, id string) (*Run, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, selectRun+`
WHERE id = ? OR flow_run_id = ?
ORDER BY created_at DESC LIMIT 1`, id, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// Latest returns the most recently created run.
func (s *RunStore) Latest(ctx context.Context) (*Run, error) {
	runs, err := s.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

// List returns up to limit runs, newest first. limit <= 0 lists all.
func (s *RunStore) List(ctx context.Context, limit int) ([]*Run, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectRun+`
ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r         Run
		state     string
		completed string
		timedOut  int
		created   int64
		updated   int64
	)
	err := sc.Scan(&r.ID, &r.FlowRunID, &r.WorkerID, &r.BillName, &r.Replicas, &state, &completed,
		&r.Report, &timedOut, &r.LastError, &created, &updated)
	if err != nil {
		return nil, err
	}
	if st, ok := poller.ParseState(state); ok {
		r.State = st
	}
	if err := json.Unmarshal([]byte(completed), &r.Completed); err != nil {
		return nil, fmt.Errorf("decode completed for run %s: %w", r.ID, err)
	}
	r.TimedOut = timedOut != 0
	r.CreatedAt = time.Unix(0, created)
	r.UpdatedAt = time.Unix(0, updated)
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}
