// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package report assembles the analysis report from per-stage outputs.
//
// Each stage that transitions to complete triggers at most one fetch of its
// output. Fetches run concurrently; fragments are committed to the buffer in
// ascending stage order no matter which response lands first.
package report

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/billdash/internal/stages"
)

// Fetcher retrieves the generated text stored under an output key.
// An empty string with a nil error is treated as a failed fetch.
type Fetcher interface {
	FetchText(ctx context.Context, key string) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, key string) (string, error)

// FetchText calls f.
func (f FetcherFunc) FetchText(ctx context.Context, key string) (string, error) {
	return f(ctx, key)
}

// Fragment is one committed piece of the report.
type Fragment struct {
	StageIndex int
	Stage      string
	Key        string
	Text       string
}

// Outcome records how a requested stage resolved.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeAppended
	OutcomeDropped
	OutcomeNoOutput
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAppended:
		return "appended"
	case OutcomeDropped:
		return "dropped"
	case OutcomeNoOutput:
		return "no-output"
	default:
		return "pending"
	}
}

type slot struct {
	outcome Outcome
	text    string
}

// Assembler owns the report buffer for one job run at a time.
type Assembler struct {
	table   *stages.Table
	fetcher Fetcher
	log     *zap.Logger

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	ctx        context.Context
	slots      map[int]*slot // requested stages, by index
	next       int           // lowest index not yet committed
	sealed     bool
	fragments  []Fragment
	onChange   []func()
	wg         sync.WaitGroup
}

// NewAssembler creates an assembler for the given stage table.
func NewAssembler(table *stages.Table, fetcher Fetcher, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Assembler{
		table:   table,
		fetcher: fetcher,
		log:     logger.Named("report"),
	}
	a.resetLocked()
	return a
}

// OnChange registers a callback invoked after fragments are committed.
// Callbacks run outside the assembler lock.
func (a *Assembler) OnChange(fn func()) {
	a.mu.Lock()
	a.onChange = append(a.onChange, fn)
	a.mu.Unlock()
}

// Advance requests the outputs of newly completed stages in the current run.
// Indices that were already requested in this run are ignored, so a stage is
// never fetched twice.
func (a *Assembler) Advance(ctx context.Context, newly []int) {
	a.mu.Lock()
	run := a.generation
	a.mu.Unlock()
	a.AdvanceRun(ctx, run, newly)
}

// AdvanceRun is Advance for the run identified by run, as returned by Reset
// or Run. It is a no-op once that run has been replaced.
func (a *Assembler) AdvanceRun(ctx context.Context, run uint64, newly []int) {
	a.mu.Lock()
	if run != a.generation {
		a.mu.Unlock()
		a.log.Debug("ignoring stages from a previous run", zap.Ints("stages", newly))
		return
	}
	if a.sealed {
		a.mu.Unlock()
		return
	}
	gen := a.generation
	runCtx := a.ctx

	var committed bool
	for _, idx := range newly {
		st, ok := a.table.Stage(idx)
		if !ok {
			a.log.Warn("ignoring unknown stage index", zap.Int("stage", idx))
			continue
		}
		if _, seen := a.slots[idx]; seen {
			continue
		}

		s := &slot{}
		a.slots[idx] = s
		if st.OutputKey == "" {
			s.outcome = OutcomeNoOutput
			a.log.Debug("stage has no output key", zap.String("stage", st.Name))
			committed = true
			continue
		}

		a.wg.Add(1)
		go a.fetch(ctx, runCtx, gen, st)
	}
	if committed {
		committed = a.commitLocked()
	}
	callbacks := a.callbacksLocked(committed)
	a.mu.Unlock()

	notify(callbacks)
}

func (a *Assembler) fetch(ctx, runCtx context.Context, gen uint64, st stages.Stage) {
	defer a.wg.Done()

	fctx, cancel := mergeCancel(ctx, runCtx)
	defer cancel()

	text, err := a.fetcher.FetchText(fctx, st.OutputKey)

	a.mu.Lock()
	if gen != a.generation {
		a.mu.Unlock()
		return
	}
	s := a.slots[st.Index]
	switch {
	case err != nil:
		s.outcome = OutcomeDropped
		a.log.Error("failed to fetch stage output",
			zap.String("stage", st.Name), zap.String("key", st.OutputKey), zap.Error(err))
	case text == "":
		s.outcome = OutcomeDropped
		a.log.Warn("no data received for stage output",
			zap.String("stage", st.Name), zap.String("key", st.OutputKey))
	default:
		s.outcome = OutcomeAppended
		s.text = text
	}
	committed := a.commitLocked()
	callbacks := a.callbacksLocked(committed)
	a.mu.Unlock()

	notify(callbacks)
}

// commitLocked moves resolved slots into the buffer in index order, stopping
// at the first stage that has not resolved yet.
func (a *Assembler) commitLocked() bool {
	changed := false
	for a.next < a.table.Len() {
		s, requested := a.slots[a.next]
		if !requested || s.outcome == OutcomePending {
			break
		}
		if a.appendLocked(a.next, s) {
			changed = true
		}
		a.next++
	}
	return changed
}

func (a *Assembler) appendLocked(idx int, s *slot) bool {
	if s.outcome != OutcomeAppended {
		return false
	}
	st, _ := a.table.Stage(idx)
	a.fragments = append(a.fragments, Fragment{
		StageIndex: st.Index,
		Stage:      st.Name,
		Key:        st.OutputKey,
		Text:       s.text,
	})
	s.text = ""
	return true
}

// Flush commits every resolved fragment still held back by an unresolved
// lower stage, in index order, and seals the run. Results arriving after a
// flush are discarded. Used when a run ends before every stage completed.
func (a *Assembler) Flush() {
	a.mu.Lock()
	run := a.generation
	a.mu.Unlock()
	a.FlushRun(run)
}

// FlushRun is Flush for the run identified by run. It is a no-op once that
// run has been replaced.
func (a *Assembler) FlushRun(run uint64) {
	a.mu.Lock()
	if run != a.generation {
		a.mu.Unlock()
		return
	}
	changed := false
	for i := a.next; i < a.table.Len(); i++ {
		if s, ok := a.slots[i]; ok && a.appendLocked(i, s) {
			changed = true
		}
	}
	a.next = a.table.Len()
	a.sealed = true
	a.generation++
	callbacks := a.callbacksLocked(changed)
	a.mu.Unlock()

	notify(callbacks)
}

func (a *Assembler) callbacksLocked(changed bool) []func() {
	if !changed || len(a.onChange) == 0 {
		return nil
	}
	out := make([]func(), len(a.onChange))
	copy(out, a.onChange)
	return out
}

func notify(callbacks []func()) {
	for _, fn := range callbacks {
		fn()
	}
}

// Wait blocks until every in-flight fetch has resolved.
func (a *Assembler) Wait() {
	a.wg.Wait()
}

// Reset discards the buffer and any in-flight fetches and starts a new run.
// It returns the identifier of the new run.
func (a *Assembler) Reset() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
	return a.generation
}

// Run returns the identifier of the current run.
func (a *Assembler) Run() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}

func (a *Assembler) resetLocked() {
	if a.cancel != nil {
		a.cancel()
	}
	a.generation++
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.slots = make(map[int]*slot)
	a.next = 0
	a.sealed = false
	a.fragments = nil
}

// Close cancels in-flight fetches and waits for them to return.
func (a *Assembler) Close() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.generation++
	a.mu.Unlock()
	a.wg.Wait()
}

// Fragments returns a copy of the committed fragments in stage order.
func (a *Assembler) Fragments() []Fragment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Fragment, len(a.fragments))
	copy(out, a.fragments)
	return out
}

// Markdown returns the committed report text.
func (a *Assembler) Markdown() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var sb strings.Builder
	for _, f := range a.fragments {
		sb.WriteString(f.Text)
	}
	return sb.String()
}

// Empty reports whether nothing has been committed yet.
func (a *Assembler) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.fragments) == 0
}

// Outcomes returns how each requested stage resolved so far.
func (a *Assembler) Outcomes() map[int]Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int]Outcome, len(a.slots))
	for i, s := range a.slots {
		out[i] = s.outcome
	}
	return out
}

// mergeCancel returns a context cancelled when either parent is done.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
