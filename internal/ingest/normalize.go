// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingest maps raw accounting rows onto normalized job
// records.
package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/ClusterCockpit/cc-scoreboard/internal/accounting"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/log"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/schema"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/units"
)

// States that count as failed. CANCELLED is a user action, not a
// failure.
var failedStates = map[string]bool{
	"FAILED":        true,
	"NODE_FAIL":     true,
	"OUT_OF_MEMORY": true,
	"PREEMPTED":     true,
	"TIMEOUT":       true,
}

const sacctTimeFmt = "2006-01-02T15:04:05"

// Normalize turns one raw row into a job record. Job steps (dotted
// JobID) and rows without a usable elapsed time return nil; such rows
// carry no accountable work of their own.
func Normalize(row *accounting.RawRow) *schema.JobRecord {
	if strings.Contains(row.JobID, ".") {
		return nil
	}

	elapsedSec, err := strconv.ParseInt(row.ElapsedRaw, 10, 64)
	if err != nil {
		log.Warnw("skipping row with unparseable ElapsedRaw",
			"jobid", row.JobID, "elapsedraw", row.ElapsedRaw)
		return nil
	}

	allocCPUs, _ := strconv.Atoi(row.AllocCPUS)
	nnodes, _ := strconv.Atoi(row.NNodes)

	elapsedHours := float64(elapsedSec) / 3600.0
	gpus := units.GPUCount(row.AllocTRES)

	rec := &schema.JobRecord{
		JobID:        row.JobID,
		Username:     units.NormalizeUsername(row.User),
		ElapsedHours: elapsedHours,
		AllocCPUs:    allocCPUs,
		NNodes:       nnodes,
		ClockHours:   float64(allocCPUs) * elapsedHours,
		GPUCount:     gpus,
		ReqMemMB:     units.ResolveReqMemMB(row.ReqMem, allocCPUs, nnodes),
		Failed:       failedStates[stateToken(row.State)],
	}

	if gpus > 0 {
		rec.GPUElapsedHours = elapsedHours
		rec.GPUClockHours = float64(gpus) * elapsedHours
	}

	if mb, ok := units.ParseMemoryMB(row.AveRSS); ok {
		rec.AvgMemMB = mb
	}
	if mb, ok := units.ParseMemoryMB(row.MaxRSS); ok {
		rec.MaxMemMB = mb
	}

	if t, err := time.Parse(sacctTimeFmt, row.End); err == nil {
		rec.EndTime = t.UTC()
	}

	return rec
}

// stateToken reduces states like "CANCELLED by 4711" to their first
// token.
func stateToken(state string) string {
	state, _, _ = strings.Cut(strings.TrimSpace(state), " ")
	return state
}
