// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest

import (
	"testing"

	"github.com/ClusterCockpit/cc-scoreboard/internal/accounting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBasic(t *testing.T) {
	row := &accounting.RawRow{
		JobID: "1", User: "Alice@REALM", State: "COMPLETED",
		ElapsedRaw: "3600", AllocCPUS: "4", NNodes: "1",
		ReqMem: "4000Mc", MaxRSS: "2G", AveRSS: "1G",
		AllocTRES: "billing=4",
		End:       "2024-01-15T12:00:00",
	}

	rec := Normalize(row)
	require.NotNil(t, rec)
	assert.Equal(t, "alice", rec.Username)
	assert.InDelta(t, 1.0, rec.ElapsedHours, 1e-9)
	assert.InDelta(t, 4.0, rec.ClockHours, 1e-9)
	assert.Equal(t, 0, rec.GPUCount)
	assert.InDelta(t, 0.0, rec.GPUClockHours, 1e-9)
	assert.InDelta(t, 16000.0, rec.ReqMemMB, 1e-9)
	assert.InDelta(t, 2000.0, rec.MaxMemMB, 1e-9)
	assert.InDelta(t, 1000.0, rec.AvgMemMB, 1e-9)
	assert.False(t, rec.Failed)
	assert.Equal(t, 15, rec.EndTime.Day())
}

func TestNormalizeGPUJob(t *testing.T) {
	row := &accounting.RawRow{
		JobID: "3", User: "bob", State: "COMPLETED",
		ElapsedRaw: "7200", AllocCPUS: "1", NNodes: "1",
		ReqMem: "1Gn", MaxRSS: "0", AveRSS: "0",
		AllocTRES: "gres/gpu=2",
	}

	rec := Normalize(row)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.GPUCount)
	assert.InDelta(t, 2.0, rec.GPUElapsedHours, 1e-9)
	assert.InDelta(t, 4.0, rec.GPUClockHours, 1e-9)
	assert.InDelta(t, 1000.0, rec.ReqMemMB, 1e-9)
}

func TestNormalizeDropsSteps(t *testing.T) {
	row := &accounting.RawRow{JobID: "3.batch", User: "bob", ElapsedRaw: "7200"}
	assert.Nil(t, Normalize(row))

	row = &accounting.RawRow{JobID: "17.extern", User: "bob", ElapsedRaw: "60"}
	assert.Nil(t, Normalize(row))
}

func TestNormalizeDropsBadElapsed(t *testing.T) {
	row := &accounting.RawRow{JobID: "5", User: "bob", ElapsedRaw: "n/a"}
	assert.Nil(t, Normalize(row))
}

func TestNormalizeFailedStates(t *testing.T) {
	testCases := []struct {
		state  string
		failed bool
	}{
		{"COMPLETED", false},
		{"FAILED", true},
		{"NODE_FAIL", true},
		{"OUT_OF_MEMORY", true},
		{"PREEMPTED", true},
		{"TIMEOUT", true},
		{"CANCELLED", false},
		{"CANCELLED by 4711", false},
		{"RUNNING", false},
	}

	for _, tc := range testCases {
		row := &accounting.RawRow{
			JobID: "1", User: "u", State: tc.state,
			ElapsedRaw: "60", AllocCPUS: "1", NNodes: "1",
		}
		rec := Normalize(row)
		require.NotNil(t, rec, tc.state)
		assert.Equal(t, tc.failed, rec.Failed, tc.state)
	}
}

func TestNormalizeBadMemoryFieldsKeepRow(t *testing.T) {
	row := &accounting.RawRow{
		JobID: "9", User: "carol", State: "COMPLETED",
		ElapsedRaw: "1800", AllocCPUS: "2", NNodes: "1",
		ReqMem: "garbage", MaxRSS: "??", AveRSS: "",
	}

	rec := Normalize(row)
	require.NotNil(t, rec)
	assert.InDelta(t, 0.0, rec.ReqMemMB, 1e-9)
	assert.InDelta(t, 0.0, rec.MaxMemMB, 1e-9)
	assert.InDelta(t, 0.0, rec.AvgMemMB, 1e-9)
	assert.InDelta(t, 1.0, rec.ClockHours, 1e-9)
}
