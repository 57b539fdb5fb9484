// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package rollup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ClusterCockpit/cc-scoreboard/internal/accounting"
	"github.com/ClusterCockpit/cc-scoreboard/internal/ingest"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), "fritz")
	require.NoError(t, err)
	s.expectedJobs = 10000
	s.now = func() time.Time { return time.Date(2024, 4, 2, 12, 0, 0, 0, time.UTC) }
	return s
}

// The rows of the basic aggregation scenario, including a job step
// that must not count.
func testRecords() []*schema.JobRecord {
	rows := []*accounting.RawRow{
		{JobID: "1", User: "alice", State: "COMPLETED", ElapsedRaw: "3600",
			AllocCPUS: "4", NNodes: "1", ReqMem: "4000Mc", MaxRSS: "2G", AveRSS: "1G",
			AllocTRES: "billing=4"},
		{JobID: "2", User: "alice", State: "FAILED", ElapsedRaw: "1800",
			AllocCPUS: "2", NNodes: "1", ReqMem: "8Gn", MaxRSS: "0", AveRSS: "0"},
		{JobID: "3", User: "bob", State: "COMPLETED", ElapsedRaw: "7200",
			AllocCPUS: "1", NNodes: "1", ReqMem: "1Gn", MaxRSS: "0", AveRSS: "0",
			AllocTRES: "gres/gpu=2"},
		{JobID: "3.batch", User: "bob", State: "COMPLETED", ElapsedRaw: "7200",
			AllocCPUS: "1", NNodes: "1", ReqMem: "1Gn", MaxRSS: "0", AveRSS: "0",
			AllocTRES: "gres/gpu=2"},
	}

	records := make([]*schema.JobRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, ingest.Normalize(r))
	}
	return records
}

func findUser(t *testing.T, r *schema.MonthlyRollup, name string) *schema.UserMonth {
	t.Helper()
	for _, u := range r.Users {
		if u.Username == name {
			return u
		}
	}
	t.Fatalf("user %s not in rollup", name)
	return nil
}

func TestApplyBasicAggregation(t *testing.T) {
	s := testStore(t)

	stats, err := s.Apply("2024-03", testRecords())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.JobsSeen)
	assert.Equal(t, 3, stats.JobsNew)

	r, err := ReadMonthly(s.monthlyPath("2024-03"))
	require.NoError(t, err)
	require.Len(t, r.Users, 2)

	alice := findUser(t, r, "alice")
	assert.EqualValues(t, 2, alice.Jobs)
	assert.EqualValues(t, 0, alice.GpuJobs)
	assert.EqualValues(t, 1, alice.FailedJobs)
	assert.InDelta(t, 1.5, alice.ElapsedHours, 1e-9)
	assert.InDelta(t, 5.0, alice.ClockHours, 1e-9)
	assert.InDelta(t, 0.0, alice.GpuClockHours, 1e-9)
	assert.InDelta(t, 24000.0, alice.SumReqMemMB, 1e-9)
	assert.InDelta(t, 1000.0, alice.SumAvgMemMB, 1e-9)
	assert.InDelta(t, 2000.0, alice.SumMaxMemMB, 1e-9)

	bob := findUser(t, r, "bob")
	assert.EqualValues(t, 1, bob.Jobs)
	assert.EqualValues(t, 1, bob.GpuJobs)
	assert.EqualValues(t, 0, bob.FailedJobs)
	assert.InDelta(t, 2.0, bob.ElapsedHours, 1e-9)
	assert.InDelta(t, 2.0, bob.ClockHours, 1e-9)
	assert.InDelta(t, 2.0, bob.GpuElapsedHours, 1e-9)
	assert.InDelta(t, 4.0, bob.GpuClockHours, 1e-9)
	assert.InDelta(t, 1000.0, bob.SumReqMemMB, 1e-9)

	agg, err := ReadUserAggregate(s.userPath("alice"))
	require.NoError(t, err)
	ct := agg.Clusters["fritz"]
	require.NotNil(t, ct)
	assert.EqualValues(t, 2, ct.Counts.Jobs)
	assert.InDelta(t, 5.0, ct.Totals.ClockHours, 1e-9)
}

func readTree(t *testing.T, root string) map[string][]byte {
	t.Helper()
	files := map[string][]byte{}
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		if !info.IsDir() {
			b, err := os.ReadFile(path)
			require.NoError(t, err)
			files[path] = b
		}
		return nil
	})
	return files
}

func TestApplyIdempotence(t *testing.T) {
	s := testStore(t)

	_, err := s.Apply("2024-03", testRecords())
	require.NoError(t, err)
	before := readTree(t, s.root)

	stats, err := s.Apply("2024-03", testRecords())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.JobsNew)

	after := readTree(t, s.root)
	require.Equal(t, len(before), len(after))
	for path, b := range before {
		assert.Equal(t, b, after[path], path)
	}
}

func TestApplyAccumulatesAcrossTicks(t *testing.T) {
	s := testStore(t)

	recs := testRecords()
	_, err := s.Apply("2024-03", recs[:1])
	require.NoError(t, err)

	stats, err := s.Apply("2024-03", recs)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.JobsNew)

	r, err := ReadMonthly(s.monthlyPath("2024-03"))
	require.NoError(t, err)
	alice := findUser(t, r, "alice")
	assert.EqualValues(t, 2, alice.Jobs)

	agg, err := ReadUserAggregate(s.userPath("alice"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, agg.Clusters["fritz"].Counts.Jobs)
}

func TestReconstructionInvariant(t *testing.T) {
	s := testStore(t)

	_, err := s.Apply("2024-02", testRecords()[:2])
	require.NoError(t, err)

	more := []*schema.JobRecord{
		{JobID: "10", Username: "alice", ElapsedHours: 3, AllocCPUs: 8, NNodes: 1, ClockHours: 24},
		{JobID: "11", Username: "bob", ElapsedHours: 1, AllocCPUs: 1, NNodes: 1, ClockHours: 1},
	}
	_, err = s.Apply("2024-03", more)
	require.NoError(t, err)

	sums := s.sumMonthly()
	for _, username := range []string{"alice", "bob"} {
		agg, err := ReadUserAggregate(s.userPath(username))
		require.NoError(t, err)
		ct := agg.Clusters["fritz"]
		require.NotNil(t, ct, username)
		assert.EqualValues(t, sums[username].Jobs, ct.Counts.Jobs, username)
		assert.InDelta(t, sums[username].ClockHours, ct.Totals.ClockHours, 1e-9, username)
		assert.InDelta(t, sums[username].ElapsedHours, ct.Totals.ElapsedHours, 1e-9, username)
	}
}

func TestCorruptFilterQuarantinesMonth(t *testing.T) {
	s := testStore(t)

	_, err := s.Apply("2024-03", testRecords())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.seenPath("2024-03"), []byte("garbage"), 0644))

	stats, err := s.Apply("2024-03", testRecords())
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03"}, stats.Quarantined)
	// The month restarted from empty, so all jobs count as new again
	// and nothing is double-counted.
	assert.Equal(t, 3, stats.JobsNew)

	r, err := ReadMonthly(s.monthlyPath("2024-03"))
	require.NoError(t, err)
	alice := findUser(t, r, "alice")
	assert.EqualValues(t, 2, alice.Jobs)

	agg, err := ReadUserAggregate(s.userPath("alice"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, agg.Clusters["fritz"].Counts.Jobs)

	assert.FileExists(t, s.seenPath("2024-03")+".bad")
	assert.FileExists(t, s.monthlyPath("2024-03")+".bad")
}

func TestCorruptRollupQuarantinesMonth(t *testing.T) {
	s := testStore(t)

	_, err := s.Apply("2024-03", testRecords())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.monthlyPath("2024-03"), []byte("{nope"), 0644))

	stats, err := s.Apply("2024-03", testRecords())
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03"}, stats.Quarantined)
	assert.Equal(t, 3, stats.JobsNew)
}

func TestRebuildUsers(t *testing.T) {
	s := testStore(t)

	_, err := s.Apply("2024-02", testRecords())
	require.NoError(t, err)

	// Wreck a user aggregate, then rebuild everything from the
	// monthly files.
	require.NoError(t, os.WriteFile(s.userPath("alice"), []byte("{broken"), 0644))
	require.NoError(t, s.RebuildUsers())

	agg, err := ReadUserAggregate(s.userPath("alice"))
	require.NoError(t, err)
	ct := agg.Clusters["fritz"]
	require.NotNil(t, ct)
	assert.EqualValues(t, 2, ct.Counts.Jobs)
	assert.InDelta(t, 5.0, ct.Totals.ClockHours, 1e-9)
}

func TestMonths(t *testing.T) {
	s := testStore(t)

	_, err := s.Apply("2024-03", testRecords()[:1])
	require.NoError(t, err)
	_, err = s.Apply("2024-01", testRecords()[2:])
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-01", "2024-03"}, s.Months())
}
