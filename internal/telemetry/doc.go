// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry reads cluster metrics for the dashboard side panels.
//
// Metrics come from a Prometheus-compatible instant query endpoint proxied
// by the job service. Three panels are kept up to date:
//
//   - Power: average IPMI power draw with a running maximum (floor 1000 W)
//   - CPU: utilization as used and idle percentages
//   - Throughput: generation tokens/s per active job, with recent history
//
// # Usage
//
//	mon := telemetry.NewMonitor(telemetry.NewClient(cfg, logger), cfg, logger)
//	mon.OnUpdate(func(p telemetry.Panels) { ... })
//	go mon.Run(ctx)
//
// Fetch failures leave the previous panel values in place.
package telemetry
