// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across billdash.
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync, used for config,
//     the token store and exported reports
//
// String Utilities:
//   - TruncateRunes, TruncateWidth: display-safe truncation with ellipsis
//   - StringWidth, PadRight: display cell arithmetic for aligned tables
package util
