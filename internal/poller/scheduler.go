// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package poller drives a submitted job through worker discovery and status
// polling. Timers are owned by a Scheduler and addressed by name, so a
// session can stop "workers" polling without touching "status" polling.
package poller

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Well-known timer names used by Session.
const (
	TimerWorkers = "workers"
	TimerStatus  = "status"
)

// Scheduler owns a set of named, cancellable timers.
//
// Each timer runs its callback in its own goroutine: once after delay, then
// every interval (if interval > 0). Callbacks of one timer never overlap.
// A callback may stop its own timer; it must not call Close.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*timer
	closed bool
	wg     sync.WaitGroup
	log    *zap.Logger
}

type timer struct {
	stop    chan struct{}
	stopped atomic.Bool
}

func (t *timer) halt() {
	if t.stopped.CompareAndSwap(false, true) {
		close(t.stop)
	}
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		timers: make(map[string]*timer),
		log:    logger.Named("scheduler"),
	}
}

// Start (re)starts the named timer. An existing timer with the same name is
// stopped first. Start on a closed scheduler is a no-op.
func (s *Scheduler) Start(name string, delay, interval time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.timers[name]; ok {
		old.halt()
	}

	t := &timer{stop: make(chan struct{})}
	s.timers[name] = t
	s.wg.Add(1)
	go s.run(name, t, delay, interval, fn)

	s.log.Debug("timer started",
		zap.String("timer", name), zap.Duration("delay", delay), zap.Duration("interval", interval))
}

func (s *Scheduler) run(name string, t *timer, delay, interval time.Duration, fn func()) {
	defer s.wg.Done()
	defer s.forget(name, t)

	if delay > 0 {
		wait := time.NewTimer(delay)
		select {
		case <-t.stop:
			wait.Stop()
			return
		case <-wait.C:
		}
	}
	if t.stopped.Load() {
		return
	}
	fn()

	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if t.stopped.Load() {
				return
			}
			fn()
		}
	}
}

func (s *Scheduler) forget(name string, t *timer) {
	s.mu.Lock()
	if cur, ok := s.timers[name]; ok && cur == t {
		delete(s.timers, name)
	}
	s.mu.Unlock()
}

// Stop cancels the named timer. It does not wait for a running callback.
func (s *Scheduler) Stop(name string) {
	s.mu.Lock()
	t, ok := s.timers[name]
	if ok {
		delete(s.timers, name)
	}
	s.mu.Unlock()

	if ok {
		t.halt()
		s.log.Debug("timer stopped", zap.String("timer", name))
	}
}

// StopAll cancels every timer.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	timers := s.timers
	s.timers = make(map[string]*timer)
	s.mu.Unlock()

	for _, t := range timers {
		t.halt()
	}
}

// Active reports whether the named timer is scheduled.
func (s *Scheduler) Active(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[name]
	return ok && !t.stopped.Load()
}

// Names returns the scheduled timer names, sorted.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.timers))
	for n, t := range s.timers {
		if !t.stopped.Load() {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Close stops every timer and waits for their goroutines to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.StopAll()
	s.wg.Wait()
}
