// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"errors"
	"strings"
	"sync"

	"github.com/jeranaias/billdash/internal/export"
	"github.com/jeranaias/billdash/internal/jobclient"
	"github.com/jeranaias/billdash/internal/poller"
)

// =============================================================================
// ERROR CATEGORIES
// =============================================================================

// ErrorCategory groups errors for display.
type ErrorCategory string

const (
	CategoryNetwork    ErrorCategory = "Network"
	CategoryPermission ErrorCategory = "Permission"
	CategoryTimeout    ErrorCategory = "Timeout"
	CategoryInput      ErrorCategory = "Input"
	CategoryResource   ErrorCategory = "Resource"
	CategoryUnknown    ErrorCategory = "Error"
)

// =============================================================================
// ERROR PATTERN MATCHER
// =============================================================================

// ErrorPattern maps a family of errors to a short fix.
type ErrorPattern struct {
	// Targets are matched with errors.Is before any keyword.
	Targets []error

	// Keywords match case-insensitively anywhere in the message.
	Keywords []string

	Category ErrorCategory
	Title    string
	Hint     string
}

// ErrorPatternMatcher finds the first pattern matching an error.
type ErrorPatternMatcher struct {
	mu       sync.RWMutex
	patterns []ErrorPattern
}

var (
	defaultMatcher     *ErrorPatternMatcher
	defaultMatcherOnce sync.Once
)

// GetDefaultMatcher returns the shared matcher.
func GetDefaultMatcher() *ErrorPatternMatcher {
	defaultMatcherOnce.Do(func() {
		defaultMatcher = NewErrorPatternMatcher()
	})
	return defaultMatcher
}

// NewErrorPatternMatcher creates a matcher with the built-in patterns.
func NewErrorPatternMatcher() *ErrorPatternMatcher {
	m := &ErrorPatternMatcher{}
	m.registerDefaultPatterns()
	return m
}

// Patterns are checked in order, so specific ones come first.
func (m *ErrorPatternMatcher) registerDefaultPatterns() {
	m.AddPattern(ErrorPattern{
		Targets:  []error{jobclient.ErrUnauthorized},
		Keywords: []string{"401", "not logged in", "not authorized"},
		Category: CategoryPermission,
		Title:    "Not Logged In",
		Hint:     "Run: billdash login",
	})
	m.AddPattern(ErrorPattern{
		Targets:  []error{jobclient.ErrNetwork},
		Keywords: []string{"connection refused", "no such host", "unreachable"},
		Category: CategoryNetwork,
		Title:    "Job Service Unreachable",
		Hint:     "Check server.host, or try: billdash mock",
	})
	m.AddPattern(ErrorPattern{
		Targets:  []error{jobclient.ErrTimeout},
		Keywords: []string{"deadline exceeded", "timed out", "timeout"},
		Category: CategoryTimeout,
		Title:    "Request Timed Out",
		Hint:     "Raise server.timeout or server.upload_timeout",
	})
	m.AddPattern(ErrorPattern{
		Targets:  []error{poller.ErrNotPDF, poller.ErrNoFile},
		Category: CategoryInput,
		Title:    "Bad Bill File",
		Hint:     "Pick a PDF with o",
	})
	m.AddPattern(ErrorPattern{
		Targets:  []error{export.ErrEmptyReport},
		Category: CategoryInput,
		Title:    "Nothing To Export",
		Hint:     "Wait for at least one stage, or set export.source = \"final\"",
	})
	m.AddPattern(ErrorPattern{
		Keywords: []string{"permission denied", "read-only file system"},
		Category: CategoryPermission,
		Title:    "Permission Denied",
		Hint:     "Check export.output_dir is writable",
	})
	m.AddPattern(ErrorPattern{
		Keywords: []string{"no space left"},
		Category: CategoryResource,
		Title:    "Disk Full",
		Hint:     "Free space or change export.output_dir",
	})
}

// AddPattern appends a pattern after the existing ones.
func (m *ErrorPatternMatcher) AddPattern(p ErrorPattern) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, p)
}

// Match returns the first pattern matching err, or nil.
func (m *ErrorPatternMatcher) Match(err error) *ErrorPattern {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())

	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.patterns {
		p := &m.patterns[i]
		for _, target := range p.Targets {
			if errors.Is(err, target) {
				return p
			}
		}
		for _, kw := range p.Keywords {
			if strings.Contains(msg, strings.ToLower(kw)) {
				return p
			}
		}
	}
	return nil
}

// ErrorToastFor builds an error toast for err with the matching hint appended.
func ErrorToastFor(prefix string, err error) Toast {
	msg := prefix + err.Error()
	if p := GetDefaultMatcher().Match(err); p != nil && p.Hint != "" {
		msg += " (" + p.Hint + ")"
	}
	return NewErrorToast(msg)
}
