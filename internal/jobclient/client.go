// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jobclient provides the HTTP client for the remote bill analysis service.
package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the job service client.
type ClientError struct {
	Type    ErrorType
	Op      string
	Status  int
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches on error type so errors.Is(err, ErrUnauthorized) works for any op.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Type == e.Type && t.Op == "" && t.Status == 0
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNetwork
	ErrTypeTimeout
	ErrTypeUnauthorized
	ErrTypeNotFound
	ErrTypeServer
	ErrTypeDecode
	ErrTypeValidation
)

func (t ErrorType) String() string {
	switch t {
	case ErrTypeNetwork:
		return "network"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeUnauthorized:
		return "unauthorized"
	case ErrTypeNotFound:
		return "not_found"
	case ErrTypeServer:
		return "server"
	case ErrTypeDecode:
		return "decode"
	case ErrTypeValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Sentinel errors for easy checking.
var (
	ErrNetwork      = &ClientError{Type: ErrTypeNetwork, Message: "job service unreachable"}
	ErrTimeout      = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrUnauthorized = &ClientError{Type: ErrTypeUnauthorized, Message: "not authorized"}
	ErrNotFound     = &ClientError{Type: ErrTypeNotFound, Message: "not found"}
	ErrServer       = &ClientError{Type: ErrTypeServer, Message: "server error"}
	ErrDecode       = &ClientError{Type: ErrTypeDecode, Message: "invalid response"}
	ErrValidation   = &ClientError{Type: ErrTypeValidation, Message: "invalid request"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the job service client.
type ClientConfig struct {
	// BaseURL is the API root, e.g. http://localhost:8100/api
	BaseURL string

	// Timeout for individual requests (default: 30s)
	Timeout time.Duration

	// UploadTimeout for bill submission (default: 2m)
	UploadTimeout time.Duration

	// MaxRetries for WaitReady and submit (default: 3)
	MaxRetries int

	// RetryDelay between retries (default: 1s)
	RetryDelay time.Duration

	// Token is the initial bearer token, if any.
	Token string

	// Logger receives request diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:       "http://localhost:8100/api",
		Timeout:       30 * time.Second,
		UploadTimeout: 2 * time.Minute,
		MaxRetries:    3,
		RetryDelay:    1 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the analysis job service.
//
// The Client is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	log        *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a new client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8100/api"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = 2 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 1 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config:     &cfg,
		httpClient: &http.Client{},
		log:        logger.Named("jobclient"),
		token:      cfg.Token,
	}
}

// BaseURL returns the API root the client targets.
func (c *Client) BaseURL() string { return c.config.BaseURL }

// SetToken replaces the bearer token used on every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// =============================================================================
// JOB OPERATIONS
// =============================================================================

// SubmitJob uploads a bill and starts the analysis flow with the given replica count.
func (c *Client) SubmitJob(ctx context.Context, bill Document, replicas int) (*SubmitResponse, error) {
	const op = "submit job"
	if bill.Name == "" || len(bill.Data) == 0 {
		return nil, &ClientError{Type: ErrTypeValidation, Op: op, Message: "bill document is empty"}
	}
	if replicas < 0 {
		return nil, &ClientError{Type: ErrTypeValidation, Op: op, Message: "replicas must not be negative"}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("bill", filepath.Base(bill.Name))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Op: op, Message: "failed to build form", Cause: err}
	}
	if _, err := part.Write(bill.Data); err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Op: op, Message: "failed to build form", Cause: err}
	}
	if err := mw.Close(); err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Op: op, Message: "failed to build form", Cause: err}
	}

	q := url.Values{"replicas": {strconv.Itoa(replicas)}}
	ctx, cancel := context.WithTimeout(ctx, c.config.UploadTimeout)
	defer cancel()

	// Only dial failures are retried: the upload never reached the server,
	// so a second attempt cannot start a duplicate run.
	var out SubmitResponse
	err = retry.Do(
		func() error {
			return c.do(ctx, op, http.MethodPost, "/start_runs", q, bytes.NewReader(body.Bytes()), mw.FormDataContentType(), &out)
		},
		retry.Context(ctx),
		retry.Attempts(uint(max(c.config.MaxRetries, 1))),
		retry.Delay(c.config.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isDialError),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("submit retry", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, err
	}
	if out.FlowRunID == "" {
		return nil, &ClientError{Type: ErrTypeDecode, Op: op, Message: "response has no flow_run_id"}
	}

	c.log.Info("job submitted",
		zap.String("flow_run_id", out.FlowRunID),
		zap.String("state", out.State),
		zap.Int("replicas", replicas))
	return &out, nil
}

// ListWorkers returns the worker (replica flow run) identifiers for a job,
// ordered by their map key so the first element is deterministic.
func (c *Client) ListWorkers(ctx context.Context, jobID string) ([]Worker, error) {
	const op = "list workers"
	if jobID == "" {
		return nil, &ClientError{Type: ErrTypeValidation, Op: op, Message: "job id is empty"}
	}

	var raw map[string]string
	q := url.Values{"flow_run_id": {jobID}}
	if err := c.getJSON(ctx, op, "/get_replica_ids", q, &raw); err != nil {
		return nil, err
	}

	workers := make([]Worker, 0, len(raw))
	for k, v := range raw {
		if v == "" {
			continue
		}
		workers = append(workers, Worker{Key: k, ID: v})
	}
	sort.Slice(workers, func(i, j int) bool { return naturalLess(workers[i].Key, workers[j].Key) })
	return workers, nil
}

// GetStatus returns the raw status payload for a worker. The payload is left
// undecoded so the aggregator can apply its own malformed-payload policy.
func (c *Client) GetStatus(ctx context.Context, workerID string) ([]byte, error) {
	const op = "get status"
	if workerID == "" {
		return nil, &ClientError{Type: ErrTypeValidation, Op: op, Message: "worker id is empty"}
	}

	var raw json.RawMessage
	q := url.Values{"flow_run_id": {workerID}}
	if err := c.getJSON(ctx, op, "/get_status", q, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// GetOutput fetches the generated text stored under key.
func (c *Client) GetOutput(ctx context.Context, key string) (*Output, error) {
	const op = "get output"
	if key == "" {
		return nil, &ClientError{Type: ErrTypeValidation, Op: op, Message: "output key is empty"}
	}

	var raw map[string]*Output
	q := url.Values{"key": {key}}
	if err := c.getJSON(ctx, op, "/get_output", q, &raw); err != nil {
		return nil, err
	}

	out, ok := raw[key]
	if !ok || out == nil {
		return nil, &ClientError{Type: ErrTypeNotFound, Op: op, Message: fmt.Sprintf("no output for key %q", key)}
	}
	return out, nil
}

// FetchText returns the data of an output key, failing on an empty payload.
func (c *Client) FetchText(ctx context.Context, key string) (string, error) {
	out, err := c.GetOutput(ctx, key)
	if err != nil {
		return "", err
	}
	if out.Data == "" {
		return "", &ClientError{Type: ErrTypeNotFound, Op: "get output", Message: fmt.Sprintf("empty output for key %q", key)}
	}
	return out.Data, nil
}

// =============================================================================
// AUTH
// =============================================================================

// Login exchanges credentials for a bearer token and stores it on the client.
func (c *Client) Login(ctx context.Context, username, password string) (*TokenResponse, error) {
	const op = "login"
	if username == "" || password == "" {
		return nil, &ClientError{Type: ErrTypeValidation, Op: op, Message: "username and password are required"}
	}

	form := url.Values{"username": {username}, "password": {password}}
	var out TokenResponse
	err := c.do(ctx, op, http.MethodPost, "/auth/token", nil,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &out)
	if err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, &ClientError{Type: ErrTypeDecode, Op: op, Message: "response has no access_token"}
	}

	c.SetToken(out.AccessToken)
	c.log.Info("logged in", zap.String("user", username))
	return &out, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, username, password string) error {
	const op = "register"
	if username == "" || password == "" {
		return &ClientError{Type: ErrTypeValidation, Op: op, Message: "username and password are required"}
	}
	form := url.Values{"username": {username}, "password": {password}}
	return c.do(ctx, op, http.MethodPost, "/auth/register", nil,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil)
}

// Logout invalidates the current token on the server and clears it locally.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, "logout", http.MethodPost, "/auth/logout", nil,
		strings.NewReader("{}"), "application/json", nil)
	c.SetToken("")
	return err
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// Ping checks that the service answers HTTP at all. Any response below 500
// counts as reachable, since most endpoints need parameters or auth.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/get_replica_ids", nil)
	if err != nil {
		return &ClientError{Type: ErrTypeNetwork, Op: "ping", Message: "failed to create request", Cause: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError("ping", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return &ClientError{Type: ErrTypeServer, Op: "ping", Status: resp.StatusCode, Message: resp.Status}
	}
	return nil
}

// WaitReady pings the service with backoff until it answers or attempts run out.
func (c *Client) WaitReady(ctx context.Context) error {
	return retry.Do(
		func() error { return c.Ping(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(max(c.config.MaxRetries, 1))),
		retry.Delay(c.config.RetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug("job service not ready", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

func (c *Client) getJSON(ctx context.Context, op, path string, q url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	return c.do(ctx, op, http.MethodGet, path, q, nil, "", out)
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, body io.Reader, contentType string, out any) error {
	u := c.config.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return &ClientError{Type: ErrTypeNetwork, Op: op, Message: "failed to create request", Cause: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(op, err)
	}
	defer resp.Body.Close()

	c.log.Debug("request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Type: ErrTypeDecode, Op: op, Message: "failed to decode response", Cause: err}
	}
	return nil
}

func (c *Client) transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Op: op, Message: "request timed out", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &ClientError{Type: ErrTypeNetwork, Op: op, Message: "job service unreachable", Cause: err}
}

// isDialError reports whether err is a failure to open the connection.
func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func statusError(op string, resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := resp.Status
	if d := strings.TrimSpace(string(detail)); d != "" {
		msg += ": " + d
	}

	typ := ErrTypeUnknown
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		typ = ErrTypeUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		typ = ErrTypeNotFound
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		typ = ErrTypeValidation
	case resp.StatusCode >= 500:
		typ = ErrTypeServer
	}
	return &ClientError{Type: typ, Op: op, Status: resp.StatusCode, Message: msg}
}

// naturalLess orders "replica_2" before "replica_10".
func naturalLess(a, b string) bool {
	ai, aok := trailingInt(a)
	bi, bok := trailingInt(b)
	if aok && bok && strings.TrimRight(a, "0123456789") == strings.TrimRight(b, "0123456789") {
		return ai < bi
	}
	return a < b
}

func trailingInt(s string) (int, bool) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s[i:])
	return n, err == nil
}

// ReadDocument loads a bill from disk for SubmitJob.
func ReadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return Document{Name: filepath.Base(path), Data: data}, nil
}
