// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mockserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/billdash/internal/jobclient"
	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/report"
	"github.com/jeranaias/billdash/internal/stages"
	"github.com/jeranaias/billdash/internal/telemetry"
)

func startServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s := New(opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func newClient(ts *httptest.Server) *jobclient.Client {
	cfg := jobclient.DefaultConfig()
	cfg.BaseURL = ts.URL + "/api"
	cfg.Timeout = 2 * time.Second
	cfg.RetryDelay = 10 * time.Millisecond
	return jobclient.NewClientWithConfig(cfg)
}

func TestAuthFlow(t *testing.T) {
	_, ts := startServer(t, Options{Step: time.Second, RequireAuth: true})
	c := newClient(ts)
	ctx := context.Background()

	_, err := c.ListWorkers(ctx, "nope")
	var ce *jobclient.ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, jobclient.ErrTypeUnauthorized, ce.Type)

	require.NoError(t, c.Register(ctx, "clerk", "hunter22"))
	assert.Error(t, c.Register(ctx, "clerk", "again"))

	_, err = c.Login(ctx, "clerk", "wrong")
	assert.Error(t, err)

	tok, err := c.Login(ctx, "clerk", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "bearer", tok.TokenType)

	_, err = c.ListWorkers(ctx, "nope")
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, jobclient.ErrTypeNotFound, ce.Type)

	require.NoError(t, c.Logout(ctx))
	c.SetToken(tok.AccessToken)
	_, err = c.ListWorkers(ctx, "nope")
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, jobclient.ErrTypeUnauthorized, ce.Type)
}

func TestStatusProgression(t *testing.T) {
	s, ts := startServer(t, Options{Step: time.Minute, ReplicaDelay: time.Minute})
	base := time.Now()
	s.setClock(func() time.Time { return base })
	c := newClient(ts)
	ctx := context.Background()

	resp, err := c.SubmitJob(ctx, jobclient.Document{Name: "hb-12.pdf", Data: []byte("%PDF-1.4")}, 2)
	require.NoError(t, err)

	workers, err := c.ListWorkers(ctx, resp.FlowRunID)
	require.NoError(t, err)
	assert.Empty(t, workers)

	s.setClock(func() time.Time { return base.Add(time.Minute) })
	workers, err = c.ListWorkers(ctx, resp.FlowRunID)
	require.NoError(t, err)
	require.Len(t, workers, 2)
	assert.Equal(t, "replica_1", workers[0].Key)

	table := stages.Default()
	for done := 0; done <= table.Len(); done++ {
		s.setClock(func() time.Time { return base.Add(time.Minute + time.Duration(done)*time.Minute) })
		raw, err := c.GetStatus(ctx, workers[0].ID)
		require.NoError(t, err)
		res, err := stages.Aggregate(table, nil, raw)
		require.NoError(t, err)
		assert.Len(t, res.Completed, done)
	}

	text, err := c.FetchText(ctx, "report-1")
	require.NoError(t, err)
	assert.Contains(t, text, "Report Generation")

	_, err = c.FetchText(ctx, "missing-1")
	assert.Error(t, err)
}

func TestStartRunsValidation(t *testing.T) {
	_, ts := startServer(t, Options{})
	resp, err := http.Post(ts.URL+"/api/start_runs?replicas=x", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestMetricsQueries(t *testing.T) {
	_, ts := startServer(t, Options{})
	cfg := telemetry.DefaultConfig()
	cfg.BaseURL = ts.URL + "/metrics"
	tc := telemetry.NewClient(cfg, nil)
	ctx := context.Background()

	power, err := tc.QueryValue(ctx, telemetry.DefaultPowerQuery)
	require.NoError(t, err)
	assert.InDelta(t, 1150, power, 251)

	cpu, err := tc.QueryValue(ctx, telemetry.DefaultCPUQuery)
	require.NoError(t, err)
	assert.InDelta(t, 55, cpu, 31)

	one, err := tc.QueryValue(ctx, telemetry.ThroughputQueryFor(telemetry.DefaultThroughputQuery, 1))
	require.NoError(t, err)
	assert.Greater(t, one, 0.0)

	_, err = tc.QueryValue(ctx, "up")
	assert.ErrorIs(t, err, telemetry.ErrNoData)
}

func TestSessionEndToEnd(t *testing.T) {
	_, ts := startServer(t, Options{Step: 40 * time.Millisecond, ReplicaDelay: 20 * time.Millisecond})
	c := newClient(ts)

	bill := filepath.Join(t.TempDir(), "sb-204.pdf")
	require.NoError(t, os.WriteFile(bill, []byte("%PDF-1.4 bill"), 0600))

	table := stages.Default()
	asm := report.NewAssembler(table, c, nil)
	sess := poller.NewSession(poller.Config{
		WorkerInterval:   10 * time.Millisecond,
		StatusInterval:   15 * time.Millisecond,
		RequestTimeout:   time.Second,
		StopWhenComplete: true,
	}, c, table, asm)
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, sess.Submit(ctx, poller.SubmitRequest{Path: bill, Replicas: 1}))
	snap, err := sess.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, poller.StateAllComplete, snap.State)
	assert.Len(t, snap.Completed, table.Len())
	assert.Equal(t, "sb-204.pdf", snap.BillName)
	assert.Contains(t, snap.Report, "# sb-204")
	assert.Contains(t, snap.Report, "## Economic and Budgetary Impact Agent")
}
