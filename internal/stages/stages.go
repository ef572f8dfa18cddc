// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stages defines the fixed analysis pipeline and turns raw status
// payloads from the job service into completed-stage sets.
package stages

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// STAGE TABLE
// =============================================================================

// AllDone is the active index reported once every stage has completed.
const AllDone = -1

// CompletedState is the state string the job service reports for a finished stage.
const CompletedState = "COMPLETED"

// Stage is one named step in the analysis pipeline.
type Stage struct {
	Index        int
	Name         string
	StatusPrefix string // matched against the status key text before the first "-"
	OutputKey    string // empty when the stage contributes no report text
	Detail       string
}

// Def is the configuration form of a stage, before indices are assigned.
type Def struct {
	Name         string `toml:"name" json:"name"`
	StatusPrefix string `toml:"status_prefix" json:"status_prefix"`
	OutputKey    string `toml:"output_key" json:"output_key"`
	Detail       string `toml:"detail,omitempty" json:"detail,omitempty"`
}

// Table is the validated, ordered stage list. It is immutable after NewTable.
type Table struct {
	stages   []Stage
	byPrefix map[string]int
}

// Table validation errors.
var (
	ErrNoStages        = errors.New("stage table is empty")
	ErrDuplicateStage  = errors.New("duplicate stage")
	ErrInvalidStageDef = errors.New("invalid stage definition")
)

// NewTable validates defs and builds a Table. StatusPrefix defaults to Name.
func NewTable(defs []Def) (*Table, error) {
	if len(defs) == 0 {
		return nil, ErrNoStages
	}

	t := &Table{
		stages:   make([]Stage, 0, len(defs)),
		byPrefix: make(map[string]int, len(defs)),
	}
	names := make(map[string]bool, len(defs))
	keys := make(map[string]bool, len(defs))

	for i, d := range defs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: stage %d has no name", ErrInvalidStageDef, i)
		}
		prefix := strings.TrimSpace(d.StatusPrefix)
		if prefix == "" {
			prefix = name
		}
		if strings.Contains(prefix, "-") {
			return nil, fmt.Errorf("%w: status prefix %q contains '-'", ErrInvalidStageDef, prefix)
		}
		if names[name] {
			return nil, fmt.Errorf("%w: name %q", ErrDuplicateStage, name)
		}
		if _, ok := t.byPrefix[prefix]; ok {
			return nil, fmt.Errorf("%w: status prefix %q", ErrDuplicateStage, prefix)
		}
		key := strings.TrimSpace(d.OutputKey)
		if key != "" {
			if keys[key] {
				return nil, fmt.Errorf("%w: output key %q", ErrDuplicateStage, key)
			}
			keys[key] = true
		}

		names[name] = true
		t.byPrefix[prefix] = i
		t.stages = append(t.stages, Stage{
			Index:        i,
			Name:         name,
			StatusPrefix: prefix,
			OutputKey:    key,
			Detail:       d.Detail,
		})
	}

	return t, nil
}

// DefaultDefs returns the five-stage bill analysis pipeline.
func DefaultDefs() []Def {
	return []Def{
		{
			Name:      "Preprocessing",
			OutputKey: "bill-1",
		},
		{
			Name:      "Legal and Compliance Agent",
			OutputKey: "legal-1",
			Detail: "Assessing constitutionality, conflicts with existing national and state law, " +
				"and the enforceability of the bill's key provisions.",
		},
		{
			Name:      "Social and Environmental Impact Agent",
			OutputKey: "social-1",
			Detail: "Analysing effects on vulnerable populations, environmental sustainability, " +
				"and access to social services.",
		},
		{
			Name:      "Economic and Budgetary Impact Agent",
			OutputKey: "economic-1",
			Detail: "Estimating implementation cost, effects on growth and employment, " +
				"and long-term fiscal sustainability.",
		},
		{
			Name:      "Report Generation",
			OutputKey: "report-1",
		},
	}
}

// Default returns the table built from DefaultDefs.
func Default() *Table {
	t, err := NewTable(DefaultDefs())
	if err != nil {
		panic(err) // static table
	}
	return t
}

// Len returns the number of stages.
func (t *Table) Len() int { return len(t.stages) }

// Stage returns the stage at index i.
func (t *Table) Stage(i int) (Stage, bool) {
	if i < 0 || i >= len(t.stages) {
		return Stage{}, false
	}
	return t.stages[i], true
}

// Stages returns a copy of the ordered stage list.
func (t *Table) Stages() []Stage {
	out := make([]Stage, len(t.stages))
	copy(out, t.stages)
	return out
}

// Names returns the display names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.stages))
	for i, s := range t.stages {
		out[i] = s.Name
	}
	return out
}

// IndexForKey maps a status key such as "Preprocessing-1" to its stage index.
func (t *Table) IndexForKey(statusKey string) (int, bool) {
	prefix, _, _ := strings.Cut(statusKey, "-")
	i, ok := t.byPrefix[prefix]
	return i, ok
}

// FinalKey returns the output key of the last stage that has one.
func (t *Table) FinalKey() string {
	for i := len(t.stages) - 1; i >= 0; i-- {
		if t.stages[i].OutputKey != "" {
			return t.stages[i].OutputKey
		}
	}
	return ""
}

// =============================================================================
// COMPLETED SET
// =============================================================================

// Set is a set of stage indices.
type Set map[int]struct{}

// NewSet returns a set holding the given indices.
func NewSet(indices ...int) Set {
	s := make(Set, len(indices))
	for _, i := range indices {
		s[i] = struct{}{}
	}
	return s
}

// Has reports whether i is in the set.
func (s Set) Has(i int) bool {
	_, ok := s[i]
	return ok
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for i := range s {
		out[i] = struct{}{}
	}
	return out
}

// Sorted returns the indices in ascending order.
func (s Set) Sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Contains reports whether every index of other is in s.
func (s Set) Contains(other Set) bool {
	for i := range other {
		if !s.Has(i) {
			return false
		}
	}
	return true
}
