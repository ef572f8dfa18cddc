// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PowerFloor is the initial gauge maximum in watts.
const PowerFloor = 1000.0

// Panels is an immutable view of the latest readings.
type Panels struct {
	PowerWatts    float64
	PowerMaxWatts float64
	CPUUsed       float64
	CPUIdle       float64
	Throughput    float64
	History       []float64
	Hardware      Hardware
	UpdatedAt     time.Time
	// Err is the most recent refresh error, if the last refresh failed.
	Err error
}

// PowerFraction is the gauge fill in [0, 1].
func (p Panels) PowerFraction() float64 {
	if p.PowerMaxWatts <= 0 {
		return 0
	}
	return min(max(p.PowerWatts/p.PowerMaxWatts, 0), 1)
}

// Querier runs metric queries. *Client implements it.
type Querier interface {
	QueryValue(ctx context.Context, promql string) (float64, error)
}

// Monitor refreshes the panels on an interval.
type Monitor struct {
	q    Querier
	cfg  Config
	log  *zap.Logger
	jobs atomic.Int64

	mu       sync.Mutex
	panels   Panels
	history  *Ring
	onUpdate []func(Panels)
}

// NewMonitor creates a monitor. Call Run to start polling.
func NewMonitor(q Querier, cfg Config, logger *zap.Logger) *Monitor {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		q:       q,
		cfg:     cfg,
		log:     logger.Named("telemetry"),
		history: NewRing(cfg.History),
	}
	m.panels = Panels{PowerMaxWatts: PowerFloor, Hardware: DefaultHardware()}
	m.jobs.Store(1)
	return m
}

// SetJobs sets the divisor used by the throughput query.
func (m *Monitor) SetJobs(n int) {
	if n < 1 {
		n = 1
	}
	m.jobs.Store(int64(n))
}

// SetQueries replaces the query set, e.g. after a config reload.
func (m *Monitor) SetQueries(power, cpu, throughput string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if power != "" {
		m.cfg.PowerQuery = power
	}
	if cpu != "" {
		m.cfg.CPUQuery = cpu
	}
	if throughput != "" {
		m.cfg.ThroughputQuery = throughput
	}
}

// OnUpdate registers fn to receive panels after every refresh.
func (m *Monitor) OnUpdate(fn func(Panels)) {
	m.mu.Lock()
	m.onUpdate = append(m.onUpdate, fn)
	m.mu.Unlock()
}

// Panels returns the latest readings.
func (m *Monitor) Panels() Panels {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.panels
	p.History = m.history.Values()
	return p
}

// Run refreshes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

// Refresh queries all panels concurrently. A failed query keeps that
// panel's previous value; the first error is reported in Panels.Err.
func (m *Monitor) Refresh(ctx context.Context) Panels {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var (
		power, cpu, tput       float64
		powerOK, cpuOK, tputOK bool
	)
	// Plain group: a failed panel does not cancel its siblings.
	var g errgroup.Group
	g.Go(func() error {
		v, err := m.q.QueryValue(ctx, cfg.PowerQuery)
		if err != nil {
			return err
		}
		power, powerOK = v, true
		return nil
	})
	g.Go(func() error {
		v, err := m.q.QueryValue(ctx, cfg.CPUQuery)
		if err != nil {
			return err
		}
		cpu, cpuOK = v, true
		return nil
	})
	g.Go(func() error {
		v, err := m.q.QueryValue(ctx, ThroughputQueryFor(cfg.ThroughputQuery, int(m.jobs.Load())))
		if err != nil {
			return err
		}
		tput, tputOK = v, true
		return nil
	})
	err := g.Wait()

	m.mu.Lock()
	if powerOK {
		m.panels.PowerWatts = power
		if power > m.panels.PowerMaxWatts {
			m.panels.PowerMaxWatts = power
		}
	}
	if cpuOK {
		used := min(max(cpu, 0), 100)
		m.panels.CPUUsed = used
		m.panels.CPUIdle = 100 - used
	}
	if tputOK {
		m.panels.Throughput = tput
		m.history.Push(tput)
	}
	m.panels.Err = err
	m.panels.UpdatedAt = time.Now()
	p := m.panels
	p.History = m.history.Values()
	observers := append([]func(Panels){}, m.onUpdate...)
	m.mu.Unlock()

	if err != nil {
		m.log.Debug("telemetry refresh incomplete", zap.Error(err))
	}
	for _, fn := range observers {
		fn(p)
	}
	return p
}
