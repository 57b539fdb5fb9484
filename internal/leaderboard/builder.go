// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package leaderboard merges the per-cluster aggregates into the
// ranked window/metric tables the viewer reads. Other clusters'
// subtrees are only ever read here.
package leaderboard

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ClusterCockpit/cc-scoreboard/internal/rollup"
	"github.com/ClusterCockpit/cc-scoreboard/internal/util"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/log"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/schema"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/units"
)

// Builder computes all fifteen leaderboard files under root.
type Builder struct {
	root    string
	minJobs int64
	optout  map[string]struct{}

	now func() time.Time
}

func NewBuilder(root string, minJobs int64) *Builder {
	return &Builder{
		root:    root,
		minJobs: minJobs,
		optout:  loadOptout(root),
		now:     time.Now,
	}
}

// loadOptout reads config/optout.txt, one username per line. Users on
// it are kept in the aggregates but never published.
func loadOptout(root string) map[string]struct{} {
	optout := make(map[string]struct{})

	f, err := os.Open(filepath.Join(root, "config", "optout.txt"))
	if err != nil {
		return optout
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		u := units.NormalizeUsername(sc.Text())
		if u != "" && !strings.HasPrefix(u, "#") {
			optout[u] = struct{}{}
		}
	}
	return optout
}

func (b *Builder) clusters() []string {
	names := []string{}
	entries, err := os.ReadDir(filepath.Join(b.root, "clusters"))
	if err != nil {
		return names
	}
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func monthMetric(u *schema.UserMonth, metric string) float64 {
	switch metric {
	case schema.MetricClockHours:
		return u.ClockHours
	case schema.MetricElapsedHours:
		return u.ElapsedHours
	case schema.MetricGpuClockHours:
		return u.GpuClockHours
	case schema.MetricGpuElapsedHours:
		return u.GpuElapsedHours
	case schema.MetricFailedJobs:
		return float64(u.FailedJobs)
	}
	return 0
}

func totalsMetric(ct *schema.ClusterTotals, metric string) float64 {
	switch metric {
	case schema.MetricClockHours:
		return ct.Totals.ClockHours
	case schema.MetricElapsedHours:
		return ct.Totals.ElapsedHours
	case schema.MetricGpuClockHours:
		return ct.Totals.GpuClockHours
	case schema.MetricGpuElapsedHours:
		return ct.Totals.GpuElapsedHours
	case schema.MetricFailedJobs:
		return float64(ct.Counts.FailedJobs)
	}
	return 0
}

// Build recomputes and writes every (window, metric) file.
func (b *Builder) Build() error {
	clusters := b.clusters()
	now := b.now().UTC()

	// All-time values and job counts come from the user aggregates;
	// the reconstruction invariant makes them equal to the monthly
	// sums.
	alltime := make(map[string]map[string]float64) // metric -> user -> value
	for _, m := range schema.Metrics {
		alltime[m] = make(map[string]float64)
	}
	jobs := make(map[string]int64)

	for _, cluster := range clusters {
		usersDir := filepath.Join(b.root, "clusters", cluster, "agg", "users")
		entries, err := os.ReadDir(usersDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			agg, err := rollup.ReadUserAggregate(filepath.Join(usersDir, e.Name()))
			if err != nil {
				log.Warnw("skipping unreadable user aggregate",
					"cluster", cluster, "file", e.Name(), "error", err.Error())
				continue
			}
			ct := agg.Clusters[cluster]
			if ct == nil {
				continue
			}
			jobs[agg.Username] += ct.Counts.Jobs
			for _, m := range schema.Metrics {
				alltime[m][agg.Username] += totalsMetric(ct, m)
			}
		}
	}

	// Rolling windows sum the monthly rollups whose month overlaps
	// the trailing interval, at month granularity.
	monthly := b.loadMonthly(clusters)
	rolling30 := b.windowValues(monthly, now, 30*24*time.Hour, true)
	rolling365 := b.windowValues(monthly, now, 365*24*time.Hour, false)

	dir := filepath.Join(b.root, "leaderboards")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	for _, window := range schema.Windows {
		for _, metric := range schema.Metrics {
			var values map[string]float64
			switch window {
			case schema.WindowAllTime:
				values = alltime[metric]
			case schema.WindowRolling30:
				values = rolling30[metric]
			case schema.WindowRolling365:
				values = rolling365[metric]
			}

			board := &schema.Leaderboard{
				AsOf:   now,
				Window: window,
				Metric: metric,
				Rows:   b.rank(values, jobs),
			}

			path := filepath.Join(dir, window+"_"+metric+".json")
			if err := util.AtomicWriteJSON(path, board); err != nil {
				return err
			}
		}
	}

	return nil
}

type clusterMonth struct {
	month string
	users []*schema.UserMonth
}

func (b *Builder) loadMonthly(clusters []string) []clusterMonth {
	months := []clusterMonth{}
	for _, cluster := range clusters {
		dir := filepath.Join(b.root, "clusters", cluster, "agg", "rollups", "monthly")
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			r, err := rollup.ReadMonthly(filepath.Join(dir, e.Name()))
			if err != nil {
				log.Warnw("skipping unreadable monthly rollup",
					"cluster", cluster, "file", e.Name(), "error", err.Error())
				continue
			}
			months = append(months, clusterMonth{month: r.Month, users: r.Users})
		}
	}
	return months
}

// windowValues sums the months overlapping [now - span, now]. With
// padRecent the two most recent months holding any data always
// count, so a fresh month boundary never empties the board.
func (b *Builder) windowValues(monthly []clusterMonth, now time.Time, span time.Duration, padRecent bool) map[string]map[string]float64 {
	include := make(map[string]bool)
	cutoff := now.Add(-span)

	for _, cm := range monthly {
		start, end, err := util.MonthWindow(cm.month)
		if err != nil {
			continue
		}
		if end.After(cutoff) && !start.After(now) {
			include[cm.month] = true
		}
	}

	if padRecent {
		withData := []string{}
		seen := make(map[string]bool)
		for _, cm := range monthly {
			if !seen[cm.month] && !cm.monthEmpty() {
				seen[cm.month] = true
				withData = append(withData, cm.month)
			}
		}
		sort.Sort(sort.Reverse(sort.StringSlice(withData)))
		for i := 0; i < len(withData) && i < 2; i++ {
			include[withData[i]] = true
		}
	}

	values := make(map[string]map[string]float64)
	for _, m := range schema.Metrics {
		values[m] = make(map[string]float64)
	}
	for _, cm := range monthly {
		if !include[cm.month] {
			continue
		}
		for _, u := range cm.users {
			for _, m := range schema.Metrics {
				values[m][u.Username] += monthMetric(u, m)
			}
		}
	}
	return values
}

func (cm clusterMonth) monthEmpty() bool {
	for _, u := range cm.users {
		if u.Jobs > 0 {
			return false
		}
	}
	return true
}

// rank orders users by descending value with ascending-username
// tie-break, dropping opted-out users, users below the minimum job
// count and zero values.
func (b *Builder) rank(values map[string]float64, jobs map[string]int64) []schema.LeaderboardRow {
	rows := make([]schema.LeaderboardRow, 0, len(values))
	for user, value := range values {
		if value <= 0 {
			continue
		}
		if _, out := b.optout[user]; out {
			continue
		}
		if jobs[user] < b.minJobs {
			continue
		}
		rows = append(rows, schema.LeaderboardRow{User: user, Value: value})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Value != rows[j].Value {
			return rows[i].Value > rows[j].Value
		}
		return rows[i].User < rows[j].User
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}
