// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package leaderboard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ClusterCockpit/cc-scoreboard/internal/rollup"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC)

func apply(t *testing.T, root, cluster, month string, recs []*schema.JobRecord) {
	t.Helper()
	s, err := rollup.NewStore(root, cluster)
	require.NoError(t, err)
	_, err = s.Apply(month, recs)
	require.NoError(t, err)
}

func rec(id, user string, clock, elapsed float64, failed bool) *schema.JobRecord {
	return &schema.JobRecord{
		JobID: id, Username: user,
		ClockHours: clock, ElapsedHours: elapsed, Failed: failed,
	}
}

func readBoard(t *testing.T, root, window, metric string) *schema.Leaderboard {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, "leaderboards", window+"_"+metric+".json"))
	require.NoError(t, err)
	var board schema.Leaderboard
	require.NoError(t, json.Unmarshal(b, &board))
	return &board
}

func build(t *testing.T, root string, minJobs int64) {
	t.Helper()
	b := NewBuilder(root, minJobs)
	b.now = func() time.Time { return now }
	require.NoError(t, b.Build())
}

func TestRankingTieBreak(t *testing.T) {
	root := t.TempDir()
	apply(t, root, "fritz", "2024-04", []*schema.JobRecord{
		rec("1", "cara", 12345.6, 1, false),
		rec("2", "bob", 12001.2, 1, false),
		rec("3", "abel", 12001.2, 1, false),
	})

	build(t, root, 0)

	board := readBoard(t, root, schema.WindowAllTime, schema.MetricClockHours)
	require.Len(t, board.Rows, 3)
	assert.Equal(t, schema.LeaderboardRow{Rank: 1, User: "cara", Value: 12345.6}, board.Rows[0])
	assert.Equal(t, schema.LeaderboardRow{Rank: 2, User: "abel", Value: 12001.2}, board.Rows[1])
	assert.Equal(t, schema.LeaderboardRow{Rank: 3, User: "bob", Value: 12001.2}, board.Rows[2])
}

func TestCrossClusterSum(t *testing.T) {
	root := t.TempDir()
	apply(t, root, "fritz", "2024-04", []*schema.JobRecord{rec("1", "alice", 10, 1, false)})
	apply(t, root, "alex", "2024-04", []*schema.JobRecord{rec("1", "alice", 5, 1, false)})

	build(t, root, 0)

	board := readBoard(t, root, schema.WindowAllTime, schema.MetricClockHours)
	require.Len(t, board.Rows, 1)
	// Same JobID on two clusters is two distinct jobs; values add up.
	assert.InDelta(t, 15.0, board.Rows[0].Value, 1e-9)
}

func TestRollingWindowEdges(t *testing.T) {
	root := t.TempDir()
	// One rollup 13 months back, one in the previous month.
	apply(t, root, "fritz", "2023-03", []*schema.JobRecord{rec("old", "alice", 100, 10, false)})
	apply(t, root, "fritz", "2024-03", []*schema.JobRecord{rec("new", "alice", 7, 1, false)})

	build(t, root, 0)

	b365 := readBoard(t, root, schema.WindowRolling365, schema.MetricClockHours)
	require.Len(t, b365.Rows, 1)
	assert.InDelta(t, 7.0, b365.Rows[0].Value, 1e-9)

	// The 30d table includes the most recent months with data even
	// though the current month is empty.
	b30 := readBoard(t, root, schema.WindowRolling30, schema.MetricClockHours)
	require.NotEmpty(t, b30.Rows)
	assert.GreaterOrEqual(t, b30.Rows[0].Value, 7.0)

	all := readBoard(t, root, schema.WindowAllTime, schema.MetricClockHours)
	require.Len(t, all.Rows, 1)
	assert.InDelta(t, 107.0, all.Rows[0].Value, 1e-9)
}

func TestFailedJobsMetric(t *testing.T) {
	root := t.TempDir()
	apply(t, root, "fritz", "2024-04", []*schema.JobRecord{
		rec("1", "alice", 1, 1, true),
		rec("2", "alice", 1, 1, true),
		rec("3", "bob", 1, 1, false),
	})

	build(t, root, 0)

	board := readBoard(t, root, schema.WindowAllTime, schema.MetricFailedJobs)
	require.Len(t, board.Rows, 1)
	assert.Equal(t, "alice", board.Rows[0].User)
	assert.InDelta(t, 2.0, board.Rows[0].Value, 1e-9)
}

func TestMinJobsThreshold(t *testing.T) {
	root := t.TempDir()
	apply(t, root, "fritz", "2024-04", []*schema.JobRecord{
		rec("1", "alice", 10, 1, false),
		rec("2", "alice", 10, 1, false),
		rec("3", "alice", 10, 1, false),
		rec("4", "bob", 99, 1, false),
	})

	build(t, root, 3)

	board := readBoard(t, root, schema.WindowAllTime, schema.MetricClockHours)
	require.Len(t, board.Rows, 1)
	assert.Equal(t, "alice", board.Rows[0].User)
}

func TestOptOut(t *testing.T) {
	root := t.TempDir()
	apply(t, root, "fritz", "2024-04", []*schema.JobRecord{
		rec("1", "alice", 10, 1, false),
		rec("2", "bob", 20, 1, false),
	})

	require.NoError(t, os.MkdirAll(filepath.Join(root, "config"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "config", "optout.txt"),
		[]byte("# comment\nBOB\n"), 0644))

	build(t, root, 0)

	board := readBoard(t, root, schema.WindowAllTime, schema.MetricClockHours)
	require.Len(t, board.Rows, 1)
	assert.Equal(t, "alice", board.Rows[0].User)

	// Aggregates still hold the opted-out user.
	_, err := rollup.ReadUserAggregate(filepath.Join(root, "clusters", "fritz", "agg", "users", "bob.json"))
	assert.NoError(t, err)
}

func TestAllFifteenFilesWritten(t *testing.T) {
	root := t.TempDir()
	apply(t, root, "fritz", "2024-04", []*schema.JobRecord{rec("1", "alice", 1, 1, false)})

	build(t, root, 0)

	for _, w := range schema.Windows {
		for _, m := range schema.Metrics {
			assert.FileExists(t, filepath.Join(root, "leaderboards", w+"_"+m+".json"))
		}
	}
}
