// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "time"

// Leaderboard windows.
const (
	WindowAllTime    = "alltime"
	WindowRolling30  = "rolling-30d"
	WindowRolling365 = "rolling-365d"
)

// Leaderboard metrics. Each names an additive counter of the monthly
// rollup and user aggregate records.
const (
	MetricClockHours      = "clock_hours"
	MetricElapsedHours    = "elapsed_hours"
	MetricGpuClockHours   = "gpu_clock_hours"
	MetricGpuElapsedHours = "gpu_elapsed_hours"
	MetricFailedJobs      = "failed_jobs"
)

var (
	Windows = []string{WindowAllTime, WindowRolling30, WindowRolling365}
	Metrics = []string{
		MetricClockHours, MetricElapsedHours,
		MetricGpuClockHours, MetricGpuElapsedHours,
		MetricFailedJobs,
	}
)

// LeaderboardRow is one ranked entry. Rank is 1-based; equal values
// share the ordering by ascending username but still get distinct
// consecutive ranks.
type LeaderboardRow struct {
	Rank  int     `json:"rank"`
	User  string  `json:"user"`
	Value float64 `json:"value"`
}

// Leaderboard is one persisted (window, metric) ranking, summed
// across all clusters under the storage root.
type Leaderboard struct {
	AsOf   time.Time        `json:"asof"`
	Window string           `json:"window"`
	Metric string           `json:"metric"`
	Rows   []LeaderboardRow `json:"rows"`
}
