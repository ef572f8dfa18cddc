// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package poller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/billdash/internal/jobclient"
	"github.com/jeranaias/billdash/internal/report"
	"github.com/jeranaias/billdash/internal/stages"
)

// =============================================================================
// STATE
// =============================================================================

// State is the position of a session in the polling state machine.
type State int

const (
	StateIdle State = iota
	StateAwaitingWorkers
	StatePollingStatus
	StateAllComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitingWorkers:
		return "AWAITING_WORKERS"
	case StatePollingStatus:
		return "POLLING_STATUS"
	case StateAllComplete:
		return "ALL_COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, bool) {
	for st := StateIdle; st <= StateAllComplete; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return StateIdle, false
}

// Submission errors. All are returned before any network call is made.
var (
	ErrJobInFlight     = errors.New("job already submitted")
	ErrNoFile          = errors.New("no bill file selected")
	ErrNotPDF          = errors.New("only PDF files are accepted")
	ErrInvalidReplicas = errors.New("replicas must be between 0 and 100")
)

// MaxReplicas bounds the replica count accepted by Submit.
const MaxReplicas = 100

// =============================================================================
// COLLABORATORS
// =============================================================================

// JobService is the part of the job service the session drives.
type JobService interface {
	SubmitJob(ctx context.Context, bill jobclient.Document, replicas int) (*jobclient.SubmitResponse, error)
	ListWorkers(ctx context.Context, jobID string) ([]jobclient.Worker, error)
	GetStatus(ctx context.Context, workerID string) ([]byte, error)
}

// Recorder persists session snapshots, e.g. to run history.
type Recorder interface {
	RecordSnapshot(ctx context.Context, snap Snapshot) error
}

// Config holds polling intervals and policies.
type Config struct {
	WorkerDelay      time.Duration
	WorkerInterval   time.Duration
	StatusInterval   time.Duration
	RequestTimeout   time.Duration
	StopWhenComplete bool

	// StageTimeout ends the run when no stage completes for this long.
	// Zero polls indefinitely.
	StageTimeout time.Duration
}

// DefaultConfig returns the polling cadence of the web dashboard.
func DefaultConfig() Config {
	return Config{
		WorkerDelay:      2 * time.Second,
		WorkerInterval:   2 * time.Second,
		StatusInterval:   5 * time.Second,
		RequestTimeout:   15 * time.Second,
		StopWhenComplete: true,
	}
}

// SubmitRequest describes a bill submission.
type SubmitRequest struct {
	Path     string
	Replicas int
}

// Snapshot is an immutable view of a session for observers.
type Snapshot struct {
	State     State
	RunID     string
	JobID     string
	WorkerID  string
	BillName  string
	Replicas  int
	Completed []int
	Active    int
	Report    string
	TimedOut  bool
	LastError string
	StartedAt time.Time
	UpdatedAt time.Time
}

// InFlight reports whether a job is submitted and not yet finished.
func (s Snapshot) InFlight() bool {
	return s.State == StateAwaitingWorkers || s.State == StatePollingStatus
}

// =============================================================================
// SESSION
// =============================================================================

// Session is the owned state container for one dashboard.
type Session struct {
	cfg   Config
	svc   JobService
	table *stages.Table
	asm   *report.Assembler
	sched *Scheduler
	rec   Recorder
	log   *zap.Logger

	mu           sync.Mutex
	state        State
	generation   uint64
	asmRun       uint64
	submitting   bool
	runID        string
	jobID        string
	workerID     string
	billName     string
	replicas     int
	completed    stages.Set
	active       int
	timedOut     bool
	lastErr      error
	startedAt    time.Time
	updatedAt    time.Time
	lastProgress time.Time
	done         *doneSignal
	observers    []func(Snapshot)
}

// Option configures a Session.
type Option func(*Session)

// WithRecorder persists snapshots through rec.
func WithRecorder(rec Recorder) Option {
	return func(s *Session) { s.rec = rec }
}

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSession creates an idle session. asm receives the newly completed stages.
func NewSession(cfg Config, svc JobService, table *stages.Table, asm *report.Assembler, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg,
		svc:       svc,
		table:     table,
		asm:       asm,
		log:       zap.NewNop(),
		completed: stages.Set{},
		done:      newDoneSignal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("poller")
	s.sched = NewScheduler(s.log)
	if s.cfg.RequestTimeout == 0 {
		s.cfg.RequestTimeout = 15 * time.Second
	}
	asm.OnChange(s.notify)
	return s
}

// OnUpdate registers an observer called after every state or report change.
func (s *Session) OnUpdate(fn func(Snapshot)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Stages returns the stage table the session aggregates against.
func (s *Session) Stages() *stages.Table { return s.table }

// Submit validates the request, uploads the bill and starts worker discovery.
func (s *Session) Submit(ctx context.Context, req SubmitRequest) error {
	s.mu.Lock()
	if s.jobID != "" || s.submitting {
		s.mu.Unlock()
		return ErrJobInFlight
	}
	if err := validateRequest(req); err != nil {
		s.mu.Unlock()
		return err
	}
	s.submitting = true
	s.mu.Unlock()

	resp, doc, err := s.upload(ctx, req)
	if err != nil {
		s.mu.Lock()
		s.submitting = false
		s.lastErr = err
		s.mu.Unlock()
		s.notify()
		return err
	}

	s.begin(resp.FlowRunID, doc.Name, req.Replicas)
	return nil
}

func validateRequest(req SubmitRequest) error {
	if strings.TrimSpace(req.Path) == "" {
		return ErrNoFile
	}
	if !strings.EqualFold(filepath.Ext(req.Path), ".pdf") {
		return ErrNotPDF
	}
	if req.Replicas < 0 || req.Replicas > MaxReplicas {
		return ErrInvalidReplicas
	}
	return nil
}

func (s *Session) upload(ctx context.Context, req SubmitRequest) (*jobclient.SubmitResponse, jobclient.Document, error) {
	doc, err := jobclient.ReadDocument(req.Path)
	if err != nil {
		return nil, doc, fmt.Errorf("%w: %v", ErrNoFile, err)
	}
	if !bytes.HasPrefix(doc.Data, []byte("%PDF-")) {
		return nil, doc, ErrNotPDF
	}

	resp, err := s.svc.SubmitJob(ctx, doc, req.Replicas)
	if err != nil {
		s.log.Error("error submitting job", zap.String("bill", doc.Name), zap.Error(err))
		return nil, doc, err
	}
	return resp, doc, nil
}

// Attach starts polling an already submitted job, as if Submit had returned jobID.
func (s *Session) Attach(jobID, billName string, replicas int) error {
	if jobID == "" {
		return errors.New("job id is empty")
	}
	s.mu.Lock()
	if s.jobID != "" || s.submitting {
		s.mu.Unlock()
		return ErrJobInFlight
	}
	s.submitting = true
	s.mu.Unlock()

	s.begin(jobID, billName, replicas)
	return nil
}

func (s *Session) begin(jobID, billName string, replicas int) {
	now := time.Now()
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.asmRun = s.asm.Reset()
	s.submitting = false
	s.state = StateAwaitingWorkers
	s.runID = uuid.NewString()
	s.jobID = jobID
	s.workerID = ""
	s.billName = billName
	s.replicas = replicas
	s.completed = stages.Set{}
	s.active = 0
	s.timedOut = false
	s.lastErr = nil
	s.startedAt = now
	s.updatedAt = now
	s.lastProgress = now
	s.done.fire()
	s.done = newDoneSignal()
	s.sched.Start(TimerWorkers, s.cfg.WorkerDelay, s.cfg.WorkerInterval, func() { s.workerTick(gen) })
	s.mu.Unlock()

	s.log.Info("job started",
		zap.String("flow_run_id", jobID), zap.String("bill", billName), zap.Int("replicas", replicas))
	s.notify()
}

// current returns the live identifiers if gen is still the active run.
func (s *Session) current(gen uint64, want ...State) (jobID, workerID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return "", "", false
	}
	for _, st := range want {
		if s.state == st {
			return s.jobID, s.workerID, true
		}
	}
	return "", "", false
}

func (s *Session) workerTick(gen uint64) {
	jobID, _, ok := s.current(gen, StateAwaitingWorkers)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	workers, err := s.svc.ListWorkers(ctx, jobID)
	cancel()
	if err != nil {
		s.log.Warn("worker discovery failed", zap.String("flow_run_id", jobID), zap.Error(err))
		s.setError(gen, err)
		s.checkTimeout(gen)
		return
	}
	if len(workers) == 0 {
		s.checkTimeout(gen)
		return
	}

	s.mu.Lock()
	if gen != s.generation || s.state != StateAwaitingWorkers {
		s.mu.Unlock()
		return
	}
	s.workerID = workers[0].ID
	s.state = StatePollingStatus
	s.lastErr = nil
	s.updatedAt = time.Now()
	workerID := s.workerID
	s.sched.Stop(TimerWorkers)
	s.sched.Start(TimerStatus, 0, s.cfg.StatusInterval, func() { s.statusTick(gen) })
	s.mu.Unlock()

	s.log.Info("polling worker", zap.String("flow_run_id", jobID), zap.String("worker", workerID),
		zap.Int("workers", len(workers)))
	s.notify()
}

func (s *Session) statusTick(gen uint64) {
	_, workerID, ok := s.current(gen, StatePollingStatus, StateAllComplete)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	raw, err := s.svc.GetStatus(ctx, workerID)
	cancel()
	if err != nil {
		s.log.Warn("status poll failed", zap.String("worker", workerID), zap.Error(err))
		s.setError(gen, err)
		s.checkTimeout(gen)
		return
	}

	s.mu.Lock()
	prev := s.completed.Clone()
	s.mu.Unlock()

	res, err := stages.Aggregate(s.table, prev, raw)
	if err != nil {
		s.log.Debug("ignoring status payload", zap.String("worker", workerID), zap.Error(err))
	}
	if !res.Updated {
		s.checkTimeout(gen)
		return
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	s.completed = res.Completed
	s.active = res.Active
	s.lastErr = nil
	s.updatedAt = now
	if len(res.Newly) > 0 {
		s.lastProgress = now
	}
	finished := res.AllComplete() && s.state != StateAllComplete
	if finished {
		s.state = StateAllComplete
		if s.cfg.StopWhenComplete {
			s.sched.Stop(TimerStatus)
		}
	}
	done := s.done
	run := s.asmRun
	s.mu.Unlock()

	// The run token keeps a tick that lost the race with Reset or a new
	// submission out of the next run's report.
	if len(res.Newly) > 0 {
		s.log.Info("stages completed", zap.Ints("stages", res.Newly), zap.Int("active", res.Active))
		s.asm.AdvanceRun(context.Background(), run, res.Newly)
	}

	if finished {
		s.log.Info("all stages complete", zap.String("worker", workerID))
		done.fire()
	}
	if len(res.Newly) > 0 || finished {
		s.notify()
	} else {
		s.checkTimeout(gen)
	}
}

func (s *Session) setError(gen uint64, err error) {
	s.mu.Lock()
	if gen == s.generation {
		s.lastErr = err
	}
	s.mu.Unlock()
	s.notify()
}

// checkTimeout ends the run when no stage has completed within StageTimeout.
func (s *Session) checkTimeout(gen uint64) {
	if s.cfg.StageTimeout <= 0 {
		return
	}

	s.mu.Lock()
	if gen != s.generation || s.state == StateAllComplete || s.state == StateIdle ||
		time.Since(s.lastProgress) < s.cfg.StageTimeout {
		s.mu.Unlock()
		return
	}
	s.state = StateAllComplete
	s.timedOut = true
	s.updatedAt = time.Now()
	done := s.done
	active := s.active
	run := s.asmRun
	s.sched.StopAll()
	s.mu.Unlock()

	s.log.Warn("stage timed out", zap.Int("active", active), zap.Duration("timeout", s.cfg.StageTimeout))
	s.asm.FlushRun(run)
	done.fire()
	s.notify()
}

// Wait blocks until the run reaches ALL_COMPLETE (or times out), then waits
// for outstanding output fetches and returns the final snapshot.
func (s *Session) Wait(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	done := s.done
	idle := s.state == StateIdle
	s.mu.Unlock()
	if idle {
		return s.Snapshot(), errors.New("no job in progress")
	}

	select {
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	case <-done.ch:
	}
	s.asm.Wait()
	return s.Snapshot(), nil
}

// Reset stops all timers and returns the session to IDLE, discarding the report.
func (s *Session) Reset() {
	s.mu.Lock()
	s.sched.StopAll()
	s.generation++
	s.state = StateIdle
	s.submitting = false
	s.runID = ""
	s.jobID = ""
	s.workerID = ""
	s.billName = ""
	s.replicas = 0
	s.completed = stages.Set{}
	s.active = 0
	s.timedOut = false
	s.lastErr = nil
	s.updatedAt = time.Now()
	s.done.fire()
	s.done = newDoneSignal()
	s.asmRun = s.asm.Reset()
	s.mu.Unlock()

	s.notify()
}

type doneSignal struct {
	ch   chan struct{}
	once sync.Once
}

func newDoneSignal() *doneSignal { return &doneSignal{ch: make(chan struct{})} }

func (d *doneSignal) fire() { d.once.Do(func() { close(d.ch) }) }

// Close tears the session down. Timers are stopped and in-flight fetches cancelled.
func (s *Session) Close() {
	s.mu.Lock()
	s.generation++
	s.done.fire()
	s.mu.Unlock()

	s.sched.Close()
	s.asm.Close()
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		State:     s.state,
		RunID:     s.runID,
		JobID:     s.jobID,
		WorkerID:  s.workerID,
		BillName:  s.billName,
		Replicas:  s.replicas,
		Completed: s.completed.Sorted(),
		Active:    s.active,
		TimedOut:  s.timedOut,
		StartedAt: s.startedAt,
		UpdatedAt: s.updatedAt,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	snap.Report = s.asm.Markdown()
	return snap
}

func (s *Session) notify() {
	snap := s.Snapshot()

	s.mu.Lock()
	observers := make([]func(Snapshot), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}

	if s.rec != nil && snap.RunID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.rec.RecordSnapshot(ctx, snap); err != nil {
			s.log.Warn("failed to record run", zap.String("run_id", snap.RunID), zap.Error(err))
		}
		cancel()
	}
}
