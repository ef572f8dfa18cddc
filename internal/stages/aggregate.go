// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stages

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedStatus is returned when a status payload is not a JSON object.
var ErrMalformedStatus = errors.New("malformed status payload")

// Result is the outcome of one aggregation pass.
type Result struct {
	// Completed is the union of the previous set and every stage reported COMPLETED.
	Completed Set

	// Newly holds the stages that just transitioned to complete, ascending.
	Newly []int

	// Active is the lowest incomplete index, or AllDone.
	Active int

	// Updated is false when the payload was empty or malformed and nothing was applied.
	Updated bool
}

// AllComplete reports whether every stage has completed.
func (r Result) AllComplete() bool { return r.Active == AllDone }

// Aggregate decodes a raw status payload and folds it into prev.
// An empty or non-object payload leaves prev untouched; the returned error is
// ErrMalformedStatus for the latter so callers can log it.
func Aggregate(t *Table, prev Set, raw []byte) (Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return unchanged(t, prev), nil
	}
	if trimmed[0] != '{' {
		return unchanged(t, prev), ErrMalformedStatus
	}

	// Values that are not strings are skipped rather than rejecting the whole map.
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &generic); err != nil {
		return unchanged(t, prev), fmt.Errorf("%w: %v", ErrMalformedStatus, err)
	}
	status := make(map[string]string, len(generic))
	for k, v := range generic {
		var s string
		if json.Unmarshal(v, &s) == nil {
			status[k] = s
		}
	}

	return AggregateMap(t, prev, status), nil
}

// AggregateMap folds an already decoded status map into prev.
func AggregateMap(t *Table, prev Set, status map[string]string) Result {
	if len(status) == 0 {
		return unchanged(t, prev)
	}

	completed := prev.Clone()
	for key, state := range status {
		if state != CompletedState {
			continue
		}
		if i, ok := t.IndexForKey(key); ok {
			completed[i] = struct{}{}
		}
	}

	var newly []int
	for _, i := range completed.Sorted() {
		if !prev.Has(i) {
			newly = append(newly, i)
		}
	}

	return Result{
		Completed: completed,
		Newly:     newly,
		Active:    ActiveIndex(t, completed),
		Updated:   true,
	}
}

// ActiveIndex returns the lowest index not in completed, or AllDone.
func ActiveIndex(t *Table, completed Set) int {
	for i := 0; i < t.Len(); i++ {
		if !completed.Has(i) {
			return i
		}
	}
	return AllDone
}

func unchanged(t *Table, prev Set) Result {
	if prev == nil {
		prev = Set{}
	}
	return Result{
		Completed: prev.Clone(),
		Active:    ActiveIndex(t, prev),
	}
}
