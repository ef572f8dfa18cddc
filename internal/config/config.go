// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/jeranaias/billdash/internal/export"
	"github.com/jeranaias/billdash/internal/jobclient"
	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/stages"
	"github.com/jeranaias/billdash/internal/telemetry"
	"github.com/jeranaias/billdash/internal/util"
)

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration written as a string ("5s", "2m") in TOML and JSON.
type Duration struct {
	time.Duration
}

// D wraps a time.Duration.
func D(d time.Duration) Duration { return Duration{d} }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "0" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete billdash configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Server    ServerConfig    `toml:"server" json:"server"`
	Poll      PollConfig      `toml:"poll" json:"poll"`
	Stages    []stages.Def    `toml:"stages" json:"stages"`
	Export    ExportConfig    `toml:"export" json:"export"`
	Telemetry TelemetryConfig `toml:"telemetry" json:"telemetry"`
	UI        UIConfig        `toml:"ui" json:"ui"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
	Logging   LoggingConfig   `toml:"logging" json:"logging"`
}

// ServerConfig locates the job service.
type ServerConfig struct {
	// Host is the backend host; API and metrics URLs derive from it.
	Host string `toml:"host" json:"host"`
	// Port is the backend port.
	Port int `toml:"port" json:"port"`
	// APIBase overrides http://<host>:<port>/api
	APIBase string `toml:"api_base" json:"api_base,omitempty"`
	// MetricsBase overrides http://<host>:<port>/metrics
	MetricsBase   string   `toml:"metrics_base" json:"metrics_base,omitempty"`
	Timeout       Duration `toml:"timeout" json:"timeout"`
	UploadTimeout Duration `toml:"upload_timeout" json:"upload_timeout"`
	MaxRetries    int      `toml:"max_retries" json:"max_retries"`
	// TokenFile is where the encrypted bearer token is kept.
	TokenFile string `toml:"token_file" json:"token_file,omitempty"`
	// Token is only ever set from BILLDASH_TOKEN and is never saved.
	Token string `toml:"-" json:"-"`
}

// PollConfig controls the job polling cadence.
type PollConfig struct {
	WorkerDelay      Duration `toml:"worker_delay" json:"worker_delay"`
	WorkerInterval   Duration `toml:"worker_interval" json:"worker_interval"`
	StatusInterval   Duration `toml:"status_interval" json:"status_interval"`
	RequestTimeout   Duration `toml:"request_timeout" json:"request_timeout"`
	StopWhenComplete bool     `toml:"stop_when_complete" json:"stop_when_complete"`
	// StageTimeout ends a run that makes no progress for this long. 0 polls forever.
	StageTimeout Duration `toml:"stage_timeout" json:"stage_timeout"`
}

// ExportConfig contains report export settings.
type ExportConfig struct {
	OutputDir string `toml:"output_dir" json:"output_dir"`
	Filename  string `toml:"filename" json:"filename"`
	// Format is pdf, md, html or json.
	Format string `toml:"format" json:"format"`
	// Source is buffer (assembled report) or final (report stage only).
	Source string `toml:"source" json:"source"`
	// Scale is the raster oversampling factor for PDF output.
	Scale     float64 `toml:"scale" json:"scale"`
	OpenAfter bool    `toml:"open_after" json:"open_after"`
	Theme     string  `toml:"theme" json:"theme"`
}

// TelemetryConfig contains the metrics panel settings.
type TelemetryConfig struct {
	Enabled         bool     `toml:"enabled" json:"enabled"`
	Interval        Duration `toml:"interval" json:"interval"`
	PowerQuery      string   `toml:"power_query" json:"power_query"`
	CPUQuery        string   `toml:"cpu_query" json:"cpu_query"`
	ThroughputQuery string   `toml:"throughput_query" json:"throughput_query"`
	History         int      `toml:"history" json:"history"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto"
	Theme string `toml:"theme" json:"theme"`
	// Compact draws the stepper as a single line.
	Compact bool `toml:"compact" json:"compact"`
}

// StorageConfig contains run history settings.
type StorageConfig struct {
	Path string `toml:"path" json:"path"`
	// KeepRuns prunes history beyond this many runs (0 keeps all).
	KeepRuns int `toml:"keep_runs" json:"keep_runs"`
}

// LoggingConfig contains log file settings.
type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
	File  string `toml:"file" json:"file"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	pc := poller.DefaultConfig()
	tc := telemetry.DefaultConfig()
	return &Config{
		Version: "1",

		Server: ServerConfig{
			Host:          "localhost",
			Port:          8100,
			Timeout:       D(30 * time.Second),
			UploadTimeout: D(2 * time.Minute),
			MaxRetries:    3,
		},

		Poll: PollConfig{
			WorkerDelay:      D(pc.WorkerDelay),
			WorkerInterval:   D(pc.WorkerInterval),
			StatusInterval:   D(pc.StatusInterval),
			RequestTimeout:   D(pc.RequestTimeout),
			StopWhenComplete: true,
		},

		Stages: stages.DefaultDefs(),

		Export: ExportConfig{
			OutputDir: ".",
			Filename:  export.DefaultFilename,
			Format:    "pdf",
			Source:    string(export.SourceBuffer),
			Scale:     2,
			Theme:     "light",
		},

		Telemetry: TelemetryConfig{
			Enabled:         true,
			Interval:        D(tc.Interval),
			PowerQuery:      tc.PowerQuery,
			CPUQuery:        tc.CPUQuery,
			ThroughputQuery: tc.ThroughputQuery,
			History:         tc.History,
		},

		UI: UIConfig{
			Theme: "dark",
		},

		Storage: StorageConfig{
			KeepRuns: 200,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the billdash configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".billdash"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ActivePath returns the config file Load would read, or the TOML path if
// none exists yet.
func ActivePath() (string, error) {
	tomlPath, err := ConfigPathTOML()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath, nil
	}
	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, err := os.Stat(jsonPath); err == nil {
			return jsonPath, nil
		}
	}
	return tomlPath, nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last. A file that fails to decode is
// reported alongside the default configuration.
func Load() (*Config, error) {
	var loadErr error

	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			cfg, err := LoadFromPath(tomlPath)
			if err == nil {
				return cfg, nil
			}
			loadErr = err
		}
	}

	if loadErr == nil {
		if jsonPath, err := ConfigPathJSON(); err == nil {
			if _, statErr := os.Stat(jsonPath); statErr == nil {
				cfg, err := LoadFromPath(jsonPath)
				if err == nil {
					return cfg, nil
				}
				loadErr = err
			}
		}
	}

	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if err := ensureSecurePermissions(path); err != nil {
		zap.L().Warn("config permissions", zap.String("path", path), zap.Error(err))
	}

	var err error
	if strings.HasSuffix(path, ".json") {
		err = LoadJSON(cfg, path)
	} else {
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureSecurePermissions tightens a config file to 0600. Ignored on Windows.
func ensureSecurePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// finish applies env overrides, fills defaults and validates.
func (c *Config) finish() error {
	c.ApplyEnvOverrides()
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadTOML decodes a TOML file over cfg. A [[stages]] list in the file
// replaces the stage table entirely.
func LoadTOML(cfg *Config, path string) error {
	defaults := cfg.Stages
	cfg.Stages = nil
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		cfg.Stages = defaults
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if cfg.Stages == nil {
		cfg.Stages = defaults
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		zap.L().Warn("unknown config keys ignored", zap.String("path", path), zap.Strings("keys", keys))
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	defaults := cfg.Stages
	cfg.Stages = nil
	if err := json.Unmarshal(data, cfg); err != nil {
		cfg.Stages = defaults
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	if cfg.Stages == nil {
		cfg.Stages = defaults
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var sb strings.Builder
	sb.WriteString("# billdash configuration file\n")
	sb.WriteString("# Durations use Go syntax: 500ms, 5s, 2m\n\n")

	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, []byte(sb.String()), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg as indented JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if strings.TrimSpace(c.Server.Host) == "" {
		add("server.host", "must not be empty")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	for field, raw := range map[string]string{"server.api_base": c.Server.APIBase, "server.metrics_base": c.Server.MetricsBase} {
		if raw == "" {
			continue
		}
		if err := validateHTTPURL(raw); err != nil {
			add(field, "%v", err)
		}
	}
	if c.Server.Timeout.Duration <= 0 {
		add("server.timeout", "must be positive")
	}
	if c.Server.MaxRetries < 1 || c.Server.MaxRetries > 20 {
		add("server.max_retries", "must be between 1 and 20, got %d", c.Server.MaxRetries)
	}

	// Poll
	for field, d := range map[string]Duration{
		"poll.worker_interval": c.Poll.WorkerInterval,
		"poll.status_interval": c.Poll.StatusInterval,
		"poll.request_timeout": c.Poll.RequestTimeout,
	} {
		if d.Duration <= 0 {
			add(field, "must be positive")
		}
	}
	if c.Poll.WorkerDelay.Duration < 0 {
		add("poll.worker_delay", "must not be negative")
	}
	if c.Poll.StageTimeout.Duration < 0 {
		add("poll.stage_timeout", "must not be negative")
	}

	// Stages
	if _, err := stages.NewTable(c.Stages); err != nil {
		add("stages", "%v", err)
	}

	// Export
	if _, err := export.ParseSource(c.Export.Source); err != nil {
		add("export.source", "%v", err)
	}
	if _, err := export.ForFormat(c.Export.Format, nil); err != nil {
		add("export.format", "%v", err)
	}
	if c.Export.Scale < 1 || c.Export.Scale > 4 {
		add("export.scale", "must be between 1 and 4, got %g", c.Export.Scale)
	}
	if c.Export.Theme != "light" && c.Export.Theme != "dark" {
		add("export.theme", "invalid theme '%s', must be one of: light, dark", c.Export.Theme)
	}

	// Telemetry
	if c.Telemetry.Enabled && c.Telemetry.Interval.Duration < time.Second {
		add("telemetry.interval", "must be at least 1s")
	}
	if c.Telemetry.History < 1 || c.Telemetry.History > 1000 {
		add("telemetry.history", "must be between 1 and 1000, got %d", c.Telemetry.History)
	}

	// UI
	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		add("ui.theme", "invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme)
	}

	// Storage
	if c.Storage.KeepRuns < 0 {
		add("storage.keep_runs", "must not be negative")
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL must include a host")
	}
	return nil
}

// SetDefaults sets default values for any missing or zero-value configuration fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}

	if c.Server.Host == "" {
		c.Server.Host = defaults.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Server.Timeout.Duration == 0 {
		c.Server.Timeout = defaults.Server.Timeout
	}
	if c.Server.UploadTimeout.Duration == 0 {
		c.Server.UploadTimeout = defaults.Server.UploadTimeout
	}
	if c.Server.MaxRetries == 0 {
		c.Server.MaxRetries = defaults.Server.MaxRetries
	}

	if c.Poll.WorkerInterval.Duration == 0 {
		c.Poll.WorkerInterval = defaults.Poll.WorkerInterval
	}
	if c.Poll.StatusInterval.Duration == 0 {
		c.Poll.StatusInterval = defaults.Poll.StatusInterval
	}
	if c.Poll.RequestTimeout.Duration == 0 {
		c.Poll.RequestTimeout = defaults.Poll.RequestTimeout
	}

	if len(c.Stages) == 0 {
		c.Stages = defaults.Stages
	}

	if c.Export.OutputDir == "" {
		c.Export.OutputDir = defaults.Export.OutputDir
	}
	if c.Export.Filename == "" {
		c.Export.Filename = defaults.Export.Filename
	}
	if c.Export.Format == "" {
		c.Export.Format = defaults.Export.Format
	}
	if c.Export.Source == "" {
		c.Export.Source = defaults.Export.Source
	}
	if c.Export.Scale == 0 {
		c.Export.Scale = defaults.Export.Scale
	}
	if c.Export.Theme == "" {
		c.Export.Theme = defaults.Export.Theme
	}

	if c.Telemetry.Interval.Duration == 0 {
		c.Telemetry.Interval = defaults.Telemetry.Interval
	}
	if c.Telemetry.PowerQuery == "" {
		c.Telemetry.PowerQuery = defaults.Telemetry.PowerQuery
	}
	if c.Telemetry.CPUQuery == "" {
		c.Telemetry.CPUQuery = defaults.Telemetry.CPUQuery
	}
	if c.Telemetry.ThroughputQuery == "" {
		c.Telemetry.ThroughputQuery = defaults.Telemetry.ThroughputQuery
	}
	if c.Telemetry.History == 0 {
		c.Telemetry.History = defaults.Telemetry.History
	}

	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
//   - BILLDASH_HOST: overrides server.host
//   - BILLDASH_API_BASE: overrides server.api_base
//   - BILLDASH_METRICS_BASE: overrides server.metrics_base
//   - BILLDASH_TOKEN: bearer token for this process only
//   - BILLDASH_THEME: overrides ui.theme
//   - BILLDASH_OUTPUT_DIR: overrides export.output_dir
//   - BILLDASH_LOG_LEVEL: overrides logging.level
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("BILLDASH_HOST"); host != "" {
		c.Server.Host = host
	}
	if base := os.Getenv("BILLDASH_API_BASE"); base != "" {
		c.Server.APIBase = base
	}
	if base := os.Getenv("BILLDASH_METRICS_BASE"); base != "" {
		c.Server.MetricsBase = base
	}
	if token := os.Getenv("BILLDASH_TOKEN"); token != "" {
		c.Server.Token = token
	}
	if theme := os.Getenv("BILLDASH_THEME"); theme != "" {
		c.UI.Theme = theme
	}
	if dir := os.Getenv("BILLDASH_OUTPUT_DIR"); dir != "" {
		c.Export.OutputDir = dir
	}
	if level := os.Getenv("BILLDASH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

func (c *Config) hostURL() string {
	return fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
}

// APIURL is the job service root.
func (c *Config) APIURL() string {
	if c.Server.APIBase != "" {
		return strings.TrimRight(c.Server.APIBase, "/")
	}
	return c.hostURL() + "/api"
}

// MetricsURL is the metrics proxy root.
func (c *Config) MetricsURL() string {
	if c.Server.MetricsBase != "" {
		return strings.TrimRight(c.Server.MetricsBase, "/")
	}
	return c.hostURL() + "/metrics"
}

// StageTable builds the validated stage table.
func (c *Config) StageTable() (*stages.Table, error) {
	return stages.NewTable(c.Stages)
}

// JobClientConfig returns the job service client settings.
func (c *Config) JobClientConfig(logger *zap.Logger) *jobclient.ClientConfig {
	cfg := jobclient.DefaultConfig()
	cfg.BaseURL = c.APIURL()
	cfg.Timeout = c.Server.Timeout.Duration
	cfg.UploadTimeout = c.Server.UploadTimeout.Duration
	cfg.MaxRetries = c.Server.MaxRetries
	cfg.Token = c.Server.Token
	cfg.Logger = logger
	return cfg
}

// PollerConfig returns the session polling cadence.
func (c *Config) PollerConfig() poller.Config {
	return poller.Config{
		WorkerDelay:      c.Poll.WorkerDelay.Duration,
		WorkerInterval:   c.Poll.WorkerInterval.Duration,
		StatusInterval:   c.Poll.StatusInterval.Duration,
		RequestTimeout:   c.Poll.RequestTimeout.Duration,
		StopWhenComplete: c.Poll.StopWhenComplete,
		StageTimeout:     c.Poll.StageTimeout.Duration,
	}
}

// TelemetryConfig returns the metrics client settings.
func (c *Config) TelemetryConfig() telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.BaseURL = c.MetricsURL()
	tc.Interval = c.Telemetry.Interval.Duration
	tc.PowerQuery = c.Telemetry.PowerQuery
	tc.CPUQuery = c.Telemetry.CPUQuery
	tc.ThroughputQuery = c.Telemetry.ThroughputQuery
	tc.History = c.Telemetry.History
	return tc
}

// ExportOptions returns the exporter options.
func (c *Config) ExportOptions() *export.Options {
	opts := export.DefaultOptions()
	opts.OutputDir = c.Export.OutputDir
	opts.Filename = c.Export.Filename
	opts.OpenAfterExport = c.Export.OpenAfter
	opts.Theme = c.Export.Theme
	if src, err := export.ParseSource(c.Export.Source); err == nil {
		opts.Source = src
	}
	return opts
}

// Geometry returns the PDF page geometry at the configured scale.
func (c *Config) Geometry() export.Geometry {
	g := export.LegalGeometry()
	if c.Export.Scale > 0 {
		g.Scale = c.Export.Scale
	}
	return g
}

// Exporter returns the exporter for format, or export.format when empty.
// PDF output uses the configured raster scale.
func (c *Config) Exporter(format string) (export.Exporter, error) {
	if format == "" {
		format = c.Export.Format
	}
	if f := strings.ToLower(strings.TrimPrefix(format, ".")); f == "pdf" {
		return export.NewPDFExporter(c.Geometry()), nil
	}
	return export.ForFormat(format, c.ExportOptions())
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "poll.status_interval").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "ui.theme").
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if key == "" || len(parts) == 0 {
		return reflect.Value{}, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct || field.Type() == durationType {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

var durationType = reflect.TypeOf(Duration{})

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		if field.Type() == durationType {
			var d Duration
			if err := d.UnmarshalText([]byte(strVal)); err != nil {
				return err
			}
			field.Set(reflect.ValueOf(d))
			return nil
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal := strVal == "1" || strings.EqualFold(strVal, "true") || strings.EqualFold(strVal, "yes")
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns the scalar configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"server.host",
		"server.port",
		"server.api_base",
		"server.metrics_base",
		"server.timeout",
		"server.upload_timeout",
		"server.max_retries",
		"server.token_file",
		"poll.worker_delay",
		"poll.worker_interval",
		"poll.status_interval",
		"poll.request_timeout",
		"poll.stop_when_complete",
		"poll.stage_timeout",
		"export.output_dir",
		"export.filename",
		"export.format",
		"export.source",
		"export.scale",
		"export.open_after",
		"export.theme",
		"telemetry.enabled",
		"telemetry.interval",
		"telemetry.power_query",
		"telemetry.cpu_query",
		"telemetry.throughput_query",
		"telemetry.history",
		"ui.theme",
		"ui.compact",
		"storage.path",
		"storage.keep_runs",
		"logging.level",
		"logging.file",
	}
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Stages = append([]stages.Def(nil), c.Stages...)
	return &clone
}

// String returns the config as indented JSON. The bearer token is never included.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
