// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package jobclient

// Document is a bill file to upload.
type Document struct {
	Name string
	Data []byte
}

// SubmitResponse is returned by POST /start_runs.
type SubmitResponse struct {
	FlowRunID string `json:"flow_run_id"`
	State     string `json:"state"`
}

// Worker is one replica flow run of a submitted job.
type Worker struct {
	Key string // e.g. "replica_1"
	ID  string
}

// Output is one stored stage artifact.
type Output struct {
	Data        string `json:"data"`
	Description string `json:"description,omitempty"`
}

// TokenResponse is returned by POST /auth/token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}
