// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package report

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/billdash/internal/stages"
)

// gatedFetcher blocks each key until its gate is released, so tests can
// control the order in which responses arrive.
type gatedFetcher struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	texts map[string]string
	errs  map[string]error
	calls map[string]int
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{
		gates: make(map[string]chan struct{}),
		texts: make(map[string]string),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (g *gatedFetcher) gate(key string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[key]
	if !ok {
		ch = make(chan struct{})
		g.gates[key] = ch
	}
	return ch
}

func (g *gatedFetcher) release(key string) { close(g.gate(key)) }

func (g *gatedFetcher) FetchText(ctx context.Context, key string) (string, error) {
	g.mu.Lock()
	g.calls[key]++
	g.mu.Unlock()

	select {
	case <-g.gate(key):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.texts[key], g.errs[key]
}

func (g *gatedFetcher) callCount(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[key]
}

func instantFetcher(texts map[string]string) Fetcher {
	return FetcherFunc(func(ctx context.Context, key string) (string, error) {
		return texts[key], nil
	})
}

func TestAdvance_SingleStageOneFetch(t *testing.T) {
	var calls atomic.Int32
	f := FetcherFunc(func(ctx context.Context, key string) (string, error) {
		calls.Add(1)
		assert.Equal(t, "bill-1", key)
		return "# Bill\n", nil
	})
	a := NewAssembler(stages.Default(), f, nil)

	a.Advance(context.Background(), []int{0})
	a.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "# Bill\n", a.Markdown())
}

func TestAdvance_NeverFetchesTwice(t *testing.T) {
	g := newGatedFetcher()
	g.texts["legal-1"] = "legal"
	a := NewAssembler(stages.Default(), g, nil)

	a.Advance(context.Background(), []int{1})
	a.Advance(context.Background(), []int{1})
	g.release("legal-1")
	a.Wait()
	a.Advance(context.Background(), []int{1})
	a.Wait()

	assert.Equal(t, 1, g.callCount("legal-1"))
}

func TestAdvance_OrderIndependentOfArrival(t *testing.T) {
	g := newGatedFetcher()
	g.texts["bill-1"] = "A"
	g.texts["legal-1"] = "B"
	g.texts["social-1"] = "C"
	a := NewAssembler(stages.Default(), g, nil)

	a.Advance(context.Background(), []int{0, 1, 2})

	// Reverse arrival order.
	g.release("social-1")
	g.release("legal-1")
	time.Sleep(20 * time.Millisecond)
	assert.True(t, a.Empty(), "nothing may commit before stage 0 resolves")

	g.release("bill-1")
	a.Wait()

	assert.Equal(t, "ABC", a.Markdown())
	frags := a.Fragments()
	require.Len(t, frags, 3)
	for i, f := range frags {
		assert.Equal(t, i, f.StageIndex)
	}
}

func TestAdvance_HoldsLaterStageUntilLowerCompletes(t *testing.T) {
	a := NewAssembler(stages.Default(), instantFetcher(map[string]string{
		"bill-1": "0", "legal-1": "1", "social-1": "2", "economic-1": "3",
	}), nil)

	a.Advance(context.Background(), []int{0, 1})
	a.Wait()
	// Economic finishes before Social.
	a.Advance(context.Background(), []int{3})
	a.Wait()
	assert.Equal(t, "01", a.Markdown())

	a.Advance(context.Background(), []int{2})
	a.Wait()
	assert.Equal(t, "0123", a.Markdown())
}

func TestAdvance_FailureDropsStageWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	f := FetcherFunc(func(ctx context.Context, key string) (string, error) {
		calls.Add(1)
		switch key {
		case "legal-1":
			return "", errors.New("connection reset")
		case "social-1":
			return "", nil
		}
		return key + ";", nil
	})
	a := NewAssembler(stages.Default(), f, nil)

	a.Advance(context.Background(), []int{0, 1, 2, 3})
	a.Wait()
	a.Advance(context.Background(), []int{1, 2})
	a.Wait()

	assert.Equal(t, "bill-1;economic-1;", a.Markdown())
	assert.Equal(t, int32(4), calls.Load())

	out := a.Outcomes()
	assert.Equal(t, OutcomeDropped, out[1])
	assert.Equal(t, OutcomeDropped, out[2])
	assert.Equal(t, OutcomeAppended, out[3])
}

func TestAdvance_KeylessStageResolvesImmediately(t *testing.T) {
	tbl, err := stages.NewTable([]stages.Def{
		{Name: "Preprocessing"},
		{Name: "Legal", OutputKey: "legal-1"},
	})
	require.NoError(t, err)

	var calls atomic.Int32
	f := FetcherFunc(func(ctx context.Context, key string) (string, error) {
		calls.Add(1)
		return "legal", nil
	})
	a := NewAssembler(tbl, f, nil)

	a.Advance(context.Background(), []int{1})
	a.Wait()
	assert.True(t, a.Empty())

	a.Advance(context.Background(), []int{0})
	a.Wait()
	assert.Equal(t, "legal", a.Markdown())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, OutcomeNoOutput, a.Outcomes()[0])
}

func TestOnChangeCalledOnCommit(t *testing.T) {
	a := NewAssembler(stages.Default(), instantFetcher(map[string]string{"bill-1": "x"}), nil)
	var n atomic.Int32
	a.OnChange(func() { n.Add(1) })

	a.Advance(context.Background(), []int{0})
	a.Wait()
	assert.Equal(t, int32(1), n.Load())
}

func TestReset_DiscardsInFlight(t *testing.T) {
	g := newGatedFetcher()
	g.texts["bill-1"] = "stale"
	a := NewAssembler(stages.Default(), g, nil)

	a.Advance(context.Background(), []int{0})
	a.Reset()
	a.Wait() // reset cancelled the fetch context

	assert.True(t, a.Empty())

	g2 := instantFetcher(map[string]string{"bill-1": "fresh"})
	a.fetcher = g2
	a.Advance(context.Background(), []int{0})
	a.Wait()
	assert.Equal(t, "fresh", a.Markdown())
}

func TestFlush_CommitsHeldFragmentsAndSeals(t *testing.T) {
	a := NewAssembler(stages.Default(), instantFetcher(map[string]string{
		"bill-1": "0", "economic-1": "3", "report-1": "4",
	}), nil)

	a.Advance(context.Background(), []int{0, 3})
	a.Wait()
	assert.Equal(t, "0", a.Markdown())

	a.Flush()
	assert.Equal(t, "03", a.Markdown())

	a.Advance(context.Background(), []int{4})
	a.Wait()
	assert.Equal(t, "03", a.Markdown())
}

func TestAdvance_UnknownIndexIgnored(t *testing.T) {
	a := NewAssembler(stages.Default(), instantFetcher(nil), nil)
	a.Advance(context.Background(), []int{42, -3})
	a.Wait()
	assert.Empty(t, a.Outcomes())
}

func TestAdvanceRun_IgnoresReplacedRun(t *testing.T) {
	var calls atomic.Int32
	a := NewAssembler(stages.Default(), FetcherFunc(func(ctx context.Context, key string) (string, error) {
		calls.Add(1)
		return key, nil
	}), nil)

	old := a.Run()
	cur := a.Reset()
	require.NotEqual(t, old, cur)
	assert.Equal(t, cur, a.Run())

	a.AdvanceRun(context.Background(), old, []int{0})
	a.Wait()
	assert.Empty(t, a.Outcomes())
	assert.Zero(t, calls.Load())

	// The stage is still fetched once it completes in the live run.
	a.AdvanceRun(context.Background(), cur, []int{0})
	a.Wait()
	assert.Equal(t, "bill-1", a.Markdown())
	assert.Equal(t, int32(1), calls.Load())
}

func TestFlushRun_IgnoresReplacedRun(t *testing.T) {
	a := NewAssembler(stages.Default(), instantFetcher(map[string]string{"bill-1": "0"}), nil)
	old := a.Run()
	a.Reset()

	a.FlushRun(old)
	a.Advance(context.Background(), []int{0})
	a.Wait()
	assert.Equal(t, "0", a.Markdown(), "a stale flush must not seal the live run")
}
