// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "time"

const UserAggregateSchemaVersion = 1

// UserCounts are the job counters of one user on one cluster.
type UserCounts struct {
	Jobs       int64 `json:"jobs"`
	GpuJobs    int64 `json:"gpu_jobs"`
	FailedJobs int64 `json:"failed_jobs"`
}

// UserTotals are the additive hour and memory totals of one user on
// one cluster.
type UserTotals struct {
	ElapsedHours    float64 `json:"elapsed_hours"`
	ClockHours      float64 `json:"clock_hours"`
	GpuElapsedHours float64 `json:"gpu_elapsed_hours"`
	GpuClockHours   float64 `json:"gpu_clock_hours"`
	SumReqMemMB     float64 `json:"sum_req_mem_mb"`
	SumAvgMemMB     float64 `json:"sum_avg_mem_mb"`
	SumMaxMemMB     float64 `json:"sum_max_mem_mb"`
}

// ClusterTotals is one cluster's sub-object inside a user aggregate.
// It always equals the sum of that user's monthly rollup entries on
// the cluster.
type ClusterTotals struct {
	AsOf   time.Time  `json:"asof"`
	Counts UserCounts `json:"counts"`
	Totals UserTotals `json:"totals"`
}

// AddDelta folds a per-tick delta into the totals.
func (ct *ClusterTotals) AddDelta(d *UserMonth, asof time.Time) {
	ct.Counts.Jobs += d.Jobs
	ct.Counts.GpuJobs += d.GpuJobs
	ct.Counts.FailedJobs += d.FailedJobs
	ct.Totals.ElapsedHours += d.ElapsedHours
	ct.Totals.ClockHours += d.ClockHours
	ct.Totals.GpuElapsedHours += d.GpuElapsedHours
	ct.Totals.GpuClockHours += d.GpuClockHours
	ct.Totals.SumReqMemMB += d.SumReqMemMB
	ct.Totals.SumAvgMemMB += d.SumAvgMemMB
	ct.Totals.SumMaxMemMB += d.SumMaxMemMB
	ct.AsOf = asof
}

// UserAggregate is the persisted all-time file of one user, keyed by
// cluster. Each cluster only ever writes its own sub-object.
type UserAggregate struct {
	SchemaVersion int                       `json:"schema_version"`
	Username      string                    `json:"username"`
	Clusters      map[string]*ClusterTotals `json:"clusters"`
}

// NewUserAggregate returns an empty aggregate for username.
func NewUserAggregate(username string) *UserAggregate {
	return &UserAggregate{
		SchemaVersion: UserAggregateSchemaVersion,
		Username:      username,
		Clusters:      make(map[string]*ClusterTotals),
	}
}
