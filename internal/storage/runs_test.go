// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/billdash/internal/poller"
)

func openTestStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := &Run{
		FlowRunID: "flow-1",
		WorkerID:  "w-1",
		BillName:  "hr1.pdf",
		Replicas:  2,
		State:     poller.StatePollingStatus,
		Completed: []int{0, 1},
		Report:    "# Bill",
	}
	require.NoError(t, s.Save(ctx, r))
	require.NotEmpty(t, r.ID)

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "flow-1", got.FlowRunID)
	assert.Equal(t, poller.StatePollingStatus, got.State)
	assert.Equal(t, []int{0, 1}, got.Completed)
	assert.Equal(t, "# Bill", got.Report)

	byFlow, err := s.Get(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, byFlow.ID)
}

func TestSaveUpdatesInPlace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Now().Add(-time.Hour)
	r := &Run{ID: "run-1", FlowRunID: "f", State: poller.StateAwaitingWorkers, CreatedAt: created}
	require.NoError(t, s.Save(ctx, r))

	r.State = poller.StateAllComplete
	r.Report = "done"
	r.CreatedAt = time.Now()
	r.UpdatedAt = time.Now()
	require.NoError(t, s.Save(ctx, r))

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, poller.StateAllComplete, runs[0].State)
	assert.Equal(t, "done", runs[0].Report)
	assert.Equal(t, created.UnixNano(), runs[0].CreatedAt.UnixNano(), "created_at is kept on update")
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, &Run{
			ID:        id,
			FlowRunID: "flow-" + id,
			State:     poller.StateAllComplete,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "a", runs[2].ID)

	limited, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)
}

func TestRecordSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSnapshot(ctx, poller.Snapshot{State: poller.StateIdle}))
	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)

	snap := poller.Snapshot{
		State:     poller.StateAllComplete,
		RunID:     "run-9",
		JobID:     "flow-9",
		BillName:  "bill.pdf",
		Replicas:  1,
		Completed: []int{0, 1, 2, 3, 4},
		Report:    "report",
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, s.RecordSnapshot(ctx, snap))

	got, err := s.Get(ctx, "run-9")
	require.NoError(t, err)
	assert.Equal(t, "report", got.Report)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got.Completed)
}

func TestNotFoundAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, &Run{ID: "x", FlowRunID: "f", State: poller.StateIdle}))
	require.NoError(t, s.Delete(ctx, "x"))
	assert.ErrorIs(t, s.Delete(ctx, "x"), ErrNotFound)
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(ctx, &Run{
			FlowRunID: "f",
			State:     poller.StateAllComplete,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	n, err := s.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestClosedStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.List(context.Background(), 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRunJSONUsesStateName(t *testing.T) {
	data, err := json.Marshal(Run{ID: "r", State: poller.StateAllComplete})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"ALL_COMPLETE"`)
}
