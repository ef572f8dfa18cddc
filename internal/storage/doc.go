// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage keeps a local history of submitted jobs.
//
// Each run is a row in a SQLite database (pure Go driver) keyed by the
// session's run ID. The dashboard session records every state change
// through RecordSnapshot, so a finished report can be exported again later
// without contacting the job service.
//
// # Usage
//
//	store, err := storage.Open(storage.DefaultPath())
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	runs, err := store.List(ctx, 20)
package storage
