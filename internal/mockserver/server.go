// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mockserver is an in-process stand-in for the bill analysis
// backend. It serves the job API under /api and an instant-query metrics
// endpoint under /metrics, with stage progress driven by wall-clock time.
package mockserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/billdash/internal/stages"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures the fake backend.
type Options struct {
	// Step is the time each stage takes to complete.
	Step time.Duration
	// ReplicaDelay is how long after submission replica IDs appear.
	ReplicaDelay time.Duration
	// RequireAuth rejects job endpoints without a valid bearer token.
	RequireAuth bool
	// Stages is the pipeline reported by get_status. Nil uses the default table.
	Stages *stages.Table
	Logger *zap.Logger
}

// DefaultOptions returns a pipeline that finishes in about fifteen seconds.
func DefaultOptions() Options {
	return Options{
		Step:         3 * time.Second,
		ReplicaDelay: time.Second,
	}
}

// =============================================================================
// SERVER
// =============================================================================

type job struct {
	id       string
	bill     string
	size     int
	replicas map[string]string
	started  time.Time
}

// Server is the fake backend.
type Server struct {
	opts   Options
	log    *zap.Logger
	engine *gin.Engine
	start  time.Time

	clockMu sync.RWMutex
	now     func() time.Time

	mu      sync.Mutex
	users   map[string][]byte
	tokens  map[string]string
	jobs    map[string]*job
	workers map[string]*job
	outputs map[string]string

	// published records job ID + output key pairs already stored.
	published map[string]bool
}

// New builds the server and its routes.
func New(opts Options) *Server {
	d := DefaultOptions()
	if opts.Step <= 0 {
		opts.Step = d.Step
	}
	if opts.ReplicaDelay < 0 {
		opts.ReplicaDelay = 0
	}
	if opts.Stages == nil {
		opts.Stages = stages.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Server{
		opts:    opts,
		log:     opts.Logger.Named("mockserver"),
		now:     time.Now,
		users:   make(map[string][]byte),
		tokens:  make(map[string]string),
		jobs:    make(map[string]*job),
		workers: make(map[string]*job),
		outputs: make(map[string]string),

		published: make(map[string]bool),
	}
	s.start = s.now()
	s.engine = s.routes()
	return s
}

func (s *Server) clock() time.Time {
	s.clockMu.RLock()
	defer s.clockMu.RUnlock()
	return s.now()
}

func (s *Server) setClock(now func() time.Time) {
	s.clockMu.Lock()
	s.now = now
	s.clockMu.Unlock()
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestID(), s.logging(), gin.Recovery())

	api := r.Group("/api")
	api.POST("/auth/register", s.register)
	api.POST("/auth/token", s.token)

	jobs := api.Group("")
	if s.opts.RequireAuth {
		jobs.Use(s.requireAuth())
	}
	jobs.POST("/auth/logout", s.logout)
	jobs.POST("/start_runs", s.startRuns)
	jobs.GET("/get_replica_ids", s.replicaIDs)
	jobs.GET("/get_status", s.status)
	jobs.GET("/get_output", s.output)

	r.GET("/metrics/api/v1/query", s.query)
	return r
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("mock backend listening", zap.String("addr", addr), zap.Duration("step", s.opts.Step))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

const requestIDKey = "requestId"

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

func (s *Server) logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request.complete",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		s.mu.Lock()
		user, ok := s.tokens[token]
		s.mu.Unlock()
		if token == "" || !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}
		c.Set("user", user)
		c.Next()
	}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

func (s *Server) register(c *gin.Context) {
	user, pass := c.PostForm("username"), c.PostForm("password")
	if user == "" || pass == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "username and password are required"})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.MinCost)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user]; exists {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "User already exists"})
		return
	}
	s.users[user] = hash
	c.JSON(http.StatusOK, gin.H{"detail": "User registered successfully"})
}

func (s *Server) token(c *gin.Context) {
	user, pass := c.PostForm("username"), c.PostForm("password")

	s.mu.Lock()
	hash, ok := s.users[user]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(hash, []byte(pass)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Unauthorized"})
		return
	}

	tok := uuid.NewString()
	s.mu.Lock()
	s.tokens[tok] = user
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"access_token": tok, "token_type": "bearer"})
}

func (s *Server) logout(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"detail": "Logged out successfully"})
}

// =============================================================================
// JOB HANDLERS
// =============================================================================

func (s *Server) startRuns(c *gin.Context) {
	replicas, err := strconv.Atoi(c.Query("replicas"))
	if err != nil || replicas < 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "replicas must be a non-negative integer"})
		return
	}
	fh, err := c.FormFile("bill")
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "bill file is required"})
		return
	}
	if replicas == 0 {
		replicas = 1
	}

	j := &job{
		id:       uuid.NewString(),
		bill:     filepath.Base(fh.Filename),
		size:     int(fh.Size),
		replicas: make(map[string]string, replicas),
		started:  s.clock(),
	}
	s.mu.Lock()
	for i := 1; i <= replicas; i++ {
		id := uuid.NewString()
		j.replicas[fmt.Sprintf("replica_%d", i)] = id
		s.workers[id] = j
	}
	s.jobs[j.id] = j
	s.mu.Unlock()

	s.log.Info("run started", zap.String("flow_run_id", j.id), zap.String("bill", j.bill), zap.Int("replicas", replicas))
	c.JSON(http.StatusOK, gin.H{"flow_run_id": j.id, "state": "SCHEDULED"})
}

func (s *Server) replicaIDs(c *gin.Context) {
	s.mu.Lock()
	j, ok := s.jobs[c.Query("flow_run_id")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "flow run not found"})
		return
	}
	if s.clock().Sub(j.started) < s.opts.ReplicaDelay {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, j.replicas)
}

func (s *Server) status(c *gin.Context) {
	workerID := c.Query("flow_run_id")
	s.mu.Lock()
	j, ok := s.workers[workerID]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "flow run not found"})
		return
	}

	done := s.completedStages(j)
	out := make(map[string]string, s.opts.Stages.Len())
	for _, st := range s.opts.Stages.Stages() {
		state := "PENDING"
		switch {
		case st.Index < done:
			state = stages.CompletedState
			s.publish(j, st)
		case st.Index == done:
			state = "RUNNING"
		}
		out[st.StatusPrefix+"-"+workerID[:8]] = state
	}
	c.JSON(http.StatusOK, out)
}

// completedStages is the number of leading stages finished for j.
func (s *Server) completedStages(j *job) int {
	elapsed := s.clock().Sub(j.started) - s.opts.ReplicaDelay
	if elapsed < 0 {
		return 0
	}
	n := int(elapsed / s.opts.Step)
	if n > s.opts.Stages.Len() {
		n = s.opts.Stages.Len()
	}
	return n
}

// publish stores the artifact for a finished stage. Like the real backend,
// artifacts are keyed globally, so the latest run wins.
func (s *Server) publish(j *job, st stages.Stage) {
	if st.OutputKey == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mark := j.id + "/" + st.OutputKey
	if s.published[mark] {
		return
	}
	s.published[mark] = true
	s.outputs[st.OutputKey] = artifact(j, st)
}

func (s *Server) output(c *gin.Context) {
	key := c.Query("key")
	s.mu.Lock()
	text, ok := s.outputs[key]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, gin.H{key: gin.H{"data": text, "description": "analysis output"}})
}

// =============================================================================
// METRICS
// =============================================================================

func (s *Server) query(c *gin.Context) {
	q := c.Query("query")
	now := s.clock()
	t := now.Sub(s.start).Seconds()

	var (
		value float64
		ok    = true
	)
	switch {
	case strings.Contains(q, "ipmi_power_watts"):
		value = 1150 + 250*math.Sin(t/7)
	case strings.Contains(q, "node_cpu_seconds_total"):
		value = 55 + 30*math.Sin(t/5)
	case strings.Contains(q, "generation_throughput"):
		value = 420 + 80*math.Cos(t/3)
		if jobs := divisor(q); jobs > 1 {
			value /= float64(jobs)
		}
	default:
		ok = false
	}

	result := []gin.H{}
	if ok {
		ts := float64(now.UnixNano()) / 1e9
		result = append(result, gin.H{
			"metric": gin.H{},
			"value":  []any{ts, strconv.FormatFloat(value, 'f', 3, 64)},
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   gin.H{"resultType": "vector", "result": result},
	})
}

// divisor returns N for a query ending in "/N".
func divisor(q string) int {
	i := strings.LastIndex(q, "/")
	if i < 0 {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(q[i+1:]))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
