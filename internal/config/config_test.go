// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/billdash/internal/export"
	"github.com/jeranaias/billdash/internal/stages"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BILLDASH_HOST", "BILLDASH_API_BASE", "BILLDASH_METRICS_BASE", "BILLDASH_TOKEN",
		"BILLDASH_THEME", "BILLDASH_OUTPUT_DIR", "BILLDASH_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

// =============================================================================
// DEFAULTS AND DERIVED SETTINGS
// =============================================================================

func TestConfig_Default(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://localhost:8100/api", cfg.APIURL())
	assert.Equal(t, "http://localhost:8100/metrics", cfg.MetricsURL())
	assert.Equal(t, 5*time.Second, cfg.Poll.StatusInterval.Duration)
	assert.Equal(t, time.Duration(0), cfg.Poll.StageTimeout.Duration)
	assert.Len(t, cfg.Stages, len(stages.DefaultDefs()))
	assert.Equal(t, "pdf", cfg.Export.Format)
}

func TestConfig_URLOverrides(t *testing.T) {
	cfg := Default()
	cfg.Server.Host = "analysis.lan"
	cfg.Server.Port = 9000
	assert.Equal(t, "http://analysis.lan:9000/api", cfg.APIURL())

	cfg.Server.APIBase = "https://gateway.example/api/"
	cfg.Server.MetricsBase = "https://gateway.example/prom"
	assert.Equal(t, "https://gateway.example/api", cfg.APIURL())
	assert.Equal(t, "https://gateway.example/prom", cfg.MetricsURL())
}

func TestConfig_Converters(t *testing.T) {
	cfg := Default()
	cfg.Server.Token = "tok"
	cfg.Poll.StageTimeout = D(10 * time.Minute)
	cfg.Telemetry.History = 12
	cfg.Export.Scale = 3
	cfg.Export.Source = "final"

	jc := cfg.JobClientConfig(nil)
	assert.Equal(t, cfg.APIURL(), jc.BaseURL)
	assert.Equal(t, "tok", jc.Token)
	assert.Equal(t, 30*time.Second, jc.Timeout)

	pc := cfg.PollerConfig()
	assert.Equal(t, 10*time.Minute, pc.StageTimeout)
	assert.True(t, pc.StopWhenComplete)

	tc := cfg.TelemetryConfig()
	assert.Equal(t, cfg.MetricsURL(), tc.BaseURL)
	assert.Equal(t, 12, tc.History)

	assert.Equal(t, 3.0, cfg.Geometry().Scale)
	assert.Equal(t, export.SourceFinal, cfg.ExportOptions().Source)

	table, err := cfg.StageTable()
	require.NoError(t, err)
	assert.Equal(t, len(cfg.Stages), table.Len())
}

func TestConfig_Exporter(t *testing.T) {
	cfg := Default()
	cfg.Export.Scale = 1

	e, err := cfg.Exporter("")
	require.NoError(t, err)
	pdf, ok := e.(*export.PDFExporter)
	require.True(t, ok)
	assert.Equal(t, 1.0, pdf.Geometry().Scale)

	e, err = cfg.Exporter("md")
	require.NoError(t, err)
	assert.Equal(t, ".md", e.FileExtension())

	_, err = cfg.Exporter("docx")
	assert.Error(t, err)
}

// =============================================================================
// LOADING
// =============================================================================

func TestLoadFromPath_TOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.toml", `
[server]
host = "10.0.0.5"
timeout = "45s"

[poll]
status_interval = "1s"
stage_timeout = "20m"

[telemetry]
enabled = false
history = 6

[[stages]]
name = "Preprocessing"
output_key = "bill-1"

[[stages]]
name = "Report"
status_prefix = "report"
output_key = "report-1"
`)
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", cfg.Server.Host)
	assert.Equal(t, 8100, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.Timeout.Duration)
	assert.Equal(t, time.Second, cfg.Poll.StatusInterval.Duration)
	assert.Equal(t, 20*time.Minute, cfg.Poll.StageTimeout.Duration)
	assert.Equal(t, 2*time.Second, cfg.Poll.WorkerInterval.Duration)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 6, cfg.Telemetry.History)

	require.Len(t, cfg.Stages, 2)
	assert.Equal(t, "Report", cfg.Stages[1].Name)
	assert.Empty(t, cfg.Stages[0].Detail)
}

func TestLoadFromPath_JSON(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.json", `{"ui": {"theme": "light"}, "poll": {"worker_delay": "500ms"}}`)
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "light", cfg.UI.Theme)
	assert.Equal(t, 500*time.Millisecond, cfg.Poll.WorkerDelay.Duration)
	assert.Len(t, cfg.Stages, len(stages.DefaultDefs()))
}

func TestLoadFromPath_Invalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"syntax", "[server\nhost = "},
		{"bad duration", "[poll]\nstatus_interval = \"soon\"\n"},
		{"bad theme", "[ui]\ntheme = \"neon\"\n"},
		{"duplicate stage", "[[stages]]\nname = \"A\"\n[[stages]]\nname = \"A\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromPath(writeFile(t, "config.toml", tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFromPath_TightensPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	clearEnv(t)
	path := writeFile(t, "config.toml", "[ui]\ntheme = \"dark\"\n")
	require.NoError(t, os.Chmod(path, 0644))

	_, err := LoadFromPath(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.Server.Host = "bills.internal"
	cfg.Server.Token = "secret"
	cfg.Poll.StageTimeout = D(90 * time.Second)
	cfg.Export.OpenAfter = true

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	require.NoError(t, SaveTOML(cfg, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `stage_timeout = "1m30s"`)
	assert.NotContains(t, string(raw), "secret")

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "bills.internal", loaded.Server.Host)
	assert.Equal(t, 90*time.Second, loaded.Poll.StageTimeout.Duration)
	assert.True(t, loaded.Export.OpenAfter)
	assert.Equal(t, cfg.Stages, loaded.Stages)
	assert.Empty(t, loaded.Server.Token)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("BILLDASH_HOST", "envhost")
	t.Setenv("BILLDASH_API_BASE", "http://api.env:1/api")
	t.Setenv("BILLDASH_METRICS_BASE", "http://metrics.env:2/m")
	t.Setenv("BILLDASH_TOKEN", "envtoken")
	t.Setenv("BILLDASH_THEME", "light")
	t.Setenv("BILLDASH_OUTPUT_DIR", "/tmp/reports")
	t.Setenv("BILLDASH_LOG_LEVEL", "debug")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "envhost", cfg.Server.Host)
	assert.Equal(t, "http://api.env:1/api", cfg.APIURL())
	assert.Equal(t, "http://metrics.env:2/m", cfg.MetricsURL())
	assert.Equal(t, "envtoken", cfg.Server.Token)
	assert.Equal(t, "light", cfg.UI.Theme)
	assert.Equal(t, "/tmp/reports", cfg.Export.OutputDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty host", func(c *Config) { c.Server.Host = " " }, "server.host"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"api base scheme", func(c *Config) { c.Server.APIBase = "ftp://x/api" }, "server.api_base"},
		{"metrics base host", func(c *Config) { c.Server.MetricsBase = "http://" }, "server.metrics_base"},
		{"retries", func(c *Config) { c.Server.MaxRetries = 0 }, "server.max_retries"},
		{"status interval", func(c *Config) { c.Poll.StatusInterval = D(0) }, "poll.status_interval"},
		{"stage timeout", func(c *Config) { c.Poll.StageTimeout = D(-time.Second) }, "poll.stage_timeout"},
		{"no stages", func(c *Config) { c.Stages = nil }, "stages"},
		{"source", func(c *Config) { c.Export.Source = "draft" }, "export.source"},
		{"format", func(c *Config) { c.Export.Format = "docx" }, "export.format"},
		{"scale", func(c *Config) { c.Export.Scale = 8 }, "export.scale"},
		{"telemetry interval", func(c *Config) { c.Telemetry.Interval = D(100 * time.Millisecond) }, "telemetry.interval"},
		{"history", func(c *Config) { c.Telemetry.History = 0 }, "telemetry.history"},
		{"ui theme", func(c *Config) { c.UI.Theme = "neon" }, "ui.theme"},
		{"keep runs", func(c *Config) { c.Storage.KeepRuns = -1 }, "storage.keep_runs"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidateErrors
			require.ErrorAs(t, err, &verrs)
			fields := make([]string, 0, len(verrs))
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestConfig_SetDefaultsFillsZeroes(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.NotEmpty(t, cfg.Stages)
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	require.NoError(t, d.UnmarshalText([]byte("0")))
	assert.Zero(t, d.Duration)

	assert.Error(t, d.UnmarshalText([]byte("fortnight")))

	out, err := D(5 * time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "5s", string(out))
}

// =============================================================================
// GET / SET
// =============================================================================

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("ui.theme", "light"))
	assert.Equal(t, "light", cfg.UI.Theme)

	require.NoError(t, cfg.Set("poll.status_interval", "750ms"))
	assert.Equal(t, 750*time.Millisecond, cfg.Poll.StatusInterval.Duration)

	require.NoError(t, cfg.Set("server.port", "9100"))
	assert.Equal(t, 9100, cfg.Server.Port)

	require.NoError(t, cfg.Set("export.scale", "1.5"))
	assert.Equal(t, 1.5, cfg.Export.Scale)

	require.NoError(t, cfg.Set("telemetry.enabled", "no"))
	assert.False(t, cfg.Telemetry.Enabled)

	require.NoError(t, cfg.Set("storage.keep_runs", 10))
	v, err := cfg.Get("storage.keep_runs")
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	_, err = cfg.Get("server.nope")
	assert.Error(t, err)
	_, err = cfg.Get("poll.status_interval.seconds")
	assert.Error(t, err)
	assert.Error(t, cfg.Set("server.port", "ninety"))
}

func TestGetAllKeysResolve(t *testing.T) {
	cfg := Default()
	for _, key := range GetAllKeys() {
		_, err := cfg.Get(key)
		assert.NoError(t, err, key)
	}
}

func TestConfig_Clone(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.Stages[0].Name = "changed"
	clone.UI.Theme = "light"

	assert.NotEqual(t, "changed", cfg.Stages[0].Name)
	assert.Equal(t, "dark", cfg.UI.Theme)
}

func TestConfig_StringRedactsToken(t *testing.T) {
	cfg := Default()
	cfg.Server.Token = "bearer-secret"
	assert.NotContains(t, cfg.String(), "bearer-secret")
}
