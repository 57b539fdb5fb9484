// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "time"

// UserMonth carries the per-user accumulators of one month on one
// cluster. All counters are additive and never decrease across
// updates.
type UserMonth struct {
	Username        string  `json:"username"`
	Jobs            int64   `json:"jobs"`
	GpuJobs         int64   `json:"gpu_jobs"`
	FailedJobs      int64   `json:"failed_jobs"`
	ElapsedHours    float64 `json:"elapsed_hours"`
	ClockHours      float64 `json:"clock_hours"`
	GpuElapsedHours float64 `json:"gpu_elapsed_hours"`
	GpuClockHours   float64 `json:"gpu_clock_hours"`
	SumReqMemMB     float64 `json:"sum_req_mem_mb"`
	SumAvgMemMB     float64 `json:"sum_avg_mem_mb"`
	SumMaxMemMB     float64 `json:"sum_max_mem_mb"`
}

// Add folds one job record into the accumulators.
func (u *UserMonth) Add(rec *JobRecord) {
	u.Jobs++
	if rec.GPUCount > 0 {
		u.GpuJobs++
	}
	if rec.Failed {
		u.FailedJobs++
	}
	u.ElapsedHours += rec.ElapsedHours
	u.ClockHours += rec.ClockHours
	u.GpuElapsedHours += rec.GPUElapsedHours
	u.GpuClockHours += rec.GPUClockHours
	u.SumReqMemMB += rec.ReqMemMB
	u.SumAvgMemMB += rec.AvgMemMB
	u.SumMaxMemMB += rec.MaxMemMB
}

// Sub returns the per-metric difference u - v. Used to derive the
// deltas that propagate into the all-time aggregates.
func (u *UserMonth) Sub(v *UserMonth) *UserMonth {
	return &UserMonth{
		Username:        u.Username,
		Jobs:            u.Jobs - v.Jobs,
		GpuJobs:         u.GpuJobs - v.GpuJobs,
		FailedJobs:      u.FailedJobs - v.FailedJobs,
		ElapsedHours:    u.ElapsedHours - v.ElapsedHours,
		ClockHours:      u.ClockHours - v.ClockHours,
		GpuElapsedHours: u.GpuElapsedHours - v.GpuElapsedHours,
		GpuClockHours:   u.GpuClockHours - v.GpuClockHours,
		SumReqMemMB:     u.SumReqMemMB - v.SumReqMemMB,
		SumAvgMemMB:     u.SumAvgMemMB - v.SumAvgMemMB,
		SumMaxMemMB:     u.SumMaxMemMB - v.SumMaxMemMB,
	}
}

// MonthlyRollup is the persisted aggregate of one (cluster, month).
// Usernames are unique within Users and the slice is kept sorted for
// stable serialization.
type MonthlyRollup struct {
	AsOf  time.Time    `json:"asof"`
	Month string       `json:"month"`
	Users []*UserMonth `json:"users"`
}
