// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rollup persists the monthly per-user accumulators and the
// all-time user aggregates of one cluster. Monthly files are the
// source of truth; user aggregates are derived from them and can be
// rebuilt at any time.
package rollup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ClusterCockpit/cc-scoreboard/internal/config"
	"github.com/ClusterCockpit/cc-scoreboard/internal/dedupe"
	"github.com/ClusterCockpit/cc-scoreboard/internal/util"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/log"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/schema"
)

// Store gives access to one cluster's aggregate subtree.
type Store struct {
	root    string
	cluster string

	expectedJobs uint64
	fpRate       float64

	now func() time.Time
}

// ApplyStats summarizes one Apply call.
type ApplyStats struct {
	JobsSeen int
	JobsNew  int

	// Months whose artifacts were quarantined during loading. The
	// orchestrator schedules a full re-scan for each.
	Quarantined []string
}

func NewStore(root string, cluster string) (*Store, error) {
	s := &Store{
		root:         root,
		cluster:      cluster,
		expectedJobs: config.Keys.ExpectedJobs,
		fpRate:       config.Keys.TargetFPRate,
		now:          time.Now,
	}

	for _, dir := range []string{s.seenDir(), s.monthlyDir(), s.usersDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *Store) clusterDir() string { return filepath.Join(s.root, "clusters", s.cluster) }
func (s *Store) seenDir() string    { return filepath.Join(s.clusterDir(), "state", "seen") }
func (s *Store) monthlyDir() string {
	return filepath.Join(s.clusterDir(), "agg", "rollups", "monthly")
}
func (s *Store) usersDir() string { return filepath.Join(s.clusterDir(), "agg", "users") }

func (s *Store) seenPath(month string) string {
	return filepath.Join(s.seenDir(), month+".bloom")
}

func (s *Store) monthlyPath(month string) string {
	return filepath.Join(s.monthlyDir(), month+".json")
}

func (s *Store) userPath(username string) string {
	return filepath.Join(s.usersDir(), username+".json")
}

// ReadMonthly parses one monthly rollup file.
func ReadMonthly(path string) (*schema.MonthlyRollup, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if config.Keys.Validate {
		if err := schema.Validate(schema.Monthly, bytes.NewReader(b)); err != nil {
			return nil, err
		}
	}
	var r schema.MonthlyRollup
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ReadUserAggregate parses one user aggregate file.
func ReadUserAggregate(path string) (*schema.UserAggregate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if config.Keys.Validate {
		if err := schema.Validate(schema.UserAgg, bytes.NewReader(b)); err != nil {
			return nil, err
		}
	}
	var a schema.UserAggregate
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, err
	}
	if a.Clusters == nil {
		a.Clusters = make(map[string]*schema.ClusterTotals)
	}
	return &a, nil
}

// Apply folds records into the month's rollup, skipping every JobID
// already present in the month's dedupe filter, and propagates the
// per-user deltas into the all-time aggregates. Persistence order is
// monthly rollup, then user files, then the dedupe filter. A crash
// after the monthly write but before the filter write leaves this
// call's JobIDs unrecorded while their contributions are already in
// the monthly and user files, so a re-scan of the window counts them
// a second time; completed calls are not affected.
func (s *Store) Apply(month string, records []*schema.JobRecord) (*ApplyStats, error) {
	stats := &ApplyStats{}

	filter, rollup, err := s.loadMonth(month, stats)
	if err != nil {
		return nil, err
	}

	accs := make(map[string]*schema.UserMonth, len(rollup.Users))
	for _, u := range rollup.Users {
		accs[u.Username] = u
	}

	initial := make(map[string]schema.UserMonth)
	touched := make(map[string]bool)

	for _, rec := range records {
		if rec == nil || rec.JobID == "" || rec.Username == "" {
			continue
		}
		stats.JobsSeen++

		if filter.Add(rec.JobID) {
			continue
		}
		stats.JobsNew++

		acc := accs[rec.Username]
		if acc == nil {
			acc = &schema.UserMonth{Username: rec.Username}
			accs[rec.Username] = acc
			rollup.Users = append(rollup.Users, acc)
		}
		if !touched[rec.Username] {
			touched[rec.Username] = true
			initial[rec.Username] = *acc
		}
		acc.Add(rec)
	}

	if stats.JobsNew == 0 {
		return stats, nil
	}

	asof := s.now().UTC()
	rollup.AsOf = asof
	sort.Slice(rollup.Users, func(i, j int) bool {
		return rollup.Users[i].Username < rollup.Users[j].Username
	})
	if err := util.AtomicWriteJSON(s.monthlyPath(month), rollup); err != nil {
		return nil, fmt.Errorf("persist monthly rollup %s: %w", month, err)
	}

	usernames := make([]string, 0, len(touched))
	for u := range touched {
		usernames = append(usernames, u)
	}
	sort.Strings(usernames)

	for _, username := range usernames {
		before := initial[username]
		delta := accs[username].Sub(&before)
		if err := s.applyUserDelta(username, delta, asof); err != nil {
			return nil, err
		}
	}

	if err := filter.Persist(s.seenPath(month)); err != nil {
		return nil, fmt.Errorf("persist dedupe filter %s: %w", month, err)
	}

	return stats, nil
}

// loadMonth loads the month's dedupe filter and rollup. Corruption of
// either quarantines both, so the month rebuilds from an empty
// baseline instead of double-counting, and triggers a user-aggregate
// rebuild because the monthly contributions changed underneath them.
func (s *Store) loadMonth(month string, stats *ApplyStats) (*dedupe.Filter, *schema.MonthlyRollup, error) {
	quarantined := false

	filter, err := dedupe.Load(s.seenPath(month))
	if err != nil {
		if !errors.Is(err, dedupe.ErrCorrupt) {
			return nil, nil, err
		}
		log.Errorw("dedupe filter corrupt, rebuilding month",
			"cluster", s.cluster, "month", month, "error", err.Error())
		quarantined = true
	}

	var rollup *schema.MonthlyRollup
	if !quarantined && util.CheckFileExists(s.monthlyPath(month)) {
		rollup, err = ReadMonthly(s.monthlyPath(month))
		if err != nil {
			log.Errorw("monthly rollup corrupt, rebuilding month",
				"cluster", s.cluster, "month", month, "error", err.Error())
			quarantined = true
		}
	}

	if quarantined {
		if err := util.Quarantine(s.seenPath(month)); err != nil {
			return nil, nil, err
		}
		if err := util.Quarantine(s.monthlyPath(month)); err != nil {
			return nil, nil, err
		}
		filter, rollup = nil, nil
		stats.Quarantined = append(stats.Quarantined, month)
		if err := s.RebuildUsers(); err != nil {
			return nil, nil, err
		}
	}

	if filter == nil {
		filter = dedupe.New(s.expectedJobs, s.fpRate)
	}
	if rollup == nil {
		rollup = &schema.MonthlyRollup{Month: month, Users: []*schema.UserMonth{}}
	}

	return filter, rollup, nil
}

func (s *Store) applyUserDelta(username string, delta *schema.UserMonth, asof time.Time) error {
	path := s.userPath(username)

	var agg *schema.UserAggregate
	if util.CheckFileExists(path) {
		var err error
		agg, err = ReadUserAggregate(path)
		if err != nil {
			log.Errorw("user aggregate corrupt, recomputing from monthly rollups",
				"cluster", s.cluster, "user", username, "error", err.Error())
			if err := util.Quarantine(path); err != nil {
				return err
			}
			// The monthly rollup was persisted before this point, so
			// a recomputation already contains this tick's delta.
			agg = schema.NewUserAggregate(username)
			if ct := s.recomputeUser(username, asof); ct != nil {
				agg.Clusters[s.cluster] = ct
			}
			return util.AtomicWriteJSON(path, agg)
		}
	}
	if agg == nil {
		agg = schema.NewUserAggregate(username)
	}

	ct := agg.Clusters[s.cluster]
	if ct == nil {
		ct = &schema.ClusterTotals{}
		agg.Clusters[s.cluster] = ct
	}
	ct.AddDelta(delta, asof)

	return util.AtomicWriteJSON(path, agg)
}

// recomputeUser sums one user's entries over all monthly rollup files
// of this cluster. Returns nil when no month mentions the user.
func (s *Store) recomputeUser(username string, asof time.Time) *schema.ClusterTotals {
	sums := s.sumMonthly()
	um := sums[username]
	if um == nil {
		return nil
	}
	return clusterTotalsFrom(um, asof)
}

func clusterTotalsFrom(um *schema.UserMonth, asof time.Time) *schema.ClusterTotals {
	return &schema.ClusterTotals{
		AsOf: asof,
		Counts: schema.UserCounts{
			Jobs:       um.Jobs,
			GpuJobs:    um.GpuJobs,
			FailedJobs: um.FailedJobs,
		},
		Totals: schema.UserTotals{
			ElapsedHours:    um.ElapsedHours,
			ClockHours:      um.ClockHours,
			GpuElapsedHours: um.GpuElapsedHours,
			GpuClockHours:   um.GpuClockHours,
			SumReqMemMB:     um.SumReqMemMB,
			SumAvgMemMB:     um.SumAvgMemMB,
			SumMaxMemMB:     um.SumMaxMemMB,
		},
	}
}

// sumMonthly folds every readable monthly rollup of this cluster into
// per-user grand totals.
func (s *Store) sumMonthly() map[string]*schema.UserMonth {
	sums := make(map[string]*schema.UserMonth)

	entries, err := os.ReadDir(s.monthlyDir())
	if err != nil {
		return sums
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		r, err := ReadMonthly(filepath.Join(s.monthlyDir(), e.Name()))
		if err != nil {
			log.Warnw("skipping unreadable monthly rollup during rebuild",
				"cluster", s.cluster, "file", e.Name(), "error", err.Error())
			continue
		}
		for _, u := range r.Users {
			sum := sums[u.Username]
			if sum == nil {
				sum = &schema.UserMonth{Username: u.Username}
				sums[u.Username] = sum
			}
			sum.Jobs += u.Jobs
			sum.GpuJobs += u.GpuJobs
			sum.FailedJobs += u.FailedJobs
			sum.ElapsedHours += u.ElapsedHours
			sum.ClockHours += u.ClockHours
			sum.GpuElapsedHours += u.GpuElapsedHours
			sum.GpuClockHours += u.GpuClockHours
			sum.SumReqMemMB += u.SumReqMemMB
			sum.SumAvgMemMB += u.SumAvgMemMB
			sum.SumMaxMemMB += u.SumMaxMemMB
		}
	}

	return sums
}

// RebuildUsers rewrites this cluster's sub-object in every user
// aggregate from the monthly rollups, restoring the reconstruction
// invariant after a quarantine.
func (s *Store) RebuildUsers() error {
	asof := s.now().UTC()
	sums := s.sumMonthly()

	usernames := make(map[string]bool, len(sums))
	for u := range sums {
		usernames[u] = true
	}
	if entries, err := os.ReadDir(s.usersDir()); err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				usernames[strings.TrimSuffix(e.Name(), ".json")] = true
			}
		}
	}

	for username := range usernames {
		path := s.userPath(username)

		agg, err := ReadUserAggregate(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				if qerr := util.Quarantine(path); qerr != nil {
					return qerr
				}
			}
			agg = schema.NewUserAggregate(username)
		}

		if um := sums[username]; um != nil {
			agg.Clusters[s.cluster] = clusterTotalsFrom(um, asof)
		} else {
			delete(agg.Clusters, s.cluster)
		}

		if err := util.AtomicWriteJSON(path, agg); err != nil {
			return err
		}
	}

	return nil
}

// Months lists the months that have a rollup file, ascending.
func (s *Store) Months() []string {
	months := []string{}
	entries, err := os.ReadDir(s.monthlyDir())
	if err != nil {
		return months
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			months = append(months, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(months)
	return months
}

// HasUser reports whether a user aggregate file exists.
func (s *Store) HasUser(username string) bool {
	return util.CheckFileExists(s.userPath(username))
}

// Sweep removes stale temp files below this cluster's subtree.
func (s *Store) Sweep() {
	util.SweepTmpFiles(s.clusterDir())
}
