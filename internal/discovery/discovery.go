// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package discovery finds usernames that should be on the scoreboard
// but have no aggregate yet, and queues a targeted backfill for them.
// Candidates come from the home directory listing and from a distinct
// users projection of the accounting tool.
package discovery

import (
	"context"
	"os"
	"regexp"
	"sort"
	"syscall"
	"time"

	"github.com/ClusterCockpit/cc-scoreboard/internal/config"
	"github.com/ClusterCockpit/cc-scoreboard/internal/util"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/log"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/units"
)

// UserSource is the accounting-side username projection.
type UserSource interface {
	Users(ctx context.Context, start time.Time, end time.Time) ([]string, error)
}

// AggregateStore answers whether a user already has an all-time file.
type AggregateStore interface {
	HasUser(username string) bool
}

// BackfillQueue receives the targeted windows of newly found users.
type BackfillQueue interface {
	IsQueued(username string) bool
	EnqueueMonths(username string, months []string) error
}

// Candidates merges and filters the usernames of both sources. The
// accounting source failing is tolerated with a warning; home
// directories alone still advance discovery.
func Candidates(ctx context.Context, src UserSource, now time.Time) []string {
	seen := make(map[string]struct{})

	sysUser := regexp.MustCompile(config.Keys.SystemUserPattern)

	if config.Keys.HomePath != "" {
		entries, err := os.ReadDir(config.Keys.HomePath)
		if err != nil {
			log.Warnw("home directory listing failed",
				"path", config.Keys.HomePath, "error", err.Error())
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if config.Keys.MinUID > 0 {
				if info, err := e.Info(); err == nil {
					if st, ok := info.Sys().(*syscall.Stat_t); ok && st.Uid < config.Keys.MinUID {
						continue
					}
				}
			}
			u := units.NormalizeUsername(e.Name())
			if u != "" && !sysUser.MatchString(u) {
				seen[u] = struct{}{}
			}
		}
	}

	if src != nil {
		start, err := time.Parse("2006-01-02", config.Keys.BackfillStart)
		if err != nil {
			start = now.AddDate(-1, 0, 0)
		}
		users, err := src.Users(ctx, start, now)
		if err != nil {
			log.Warnw("accounting user projection failed", "error", err.Error())
		}
		for _, u := range users {
			if u != "" && !sysUser.MatchString(u) {
				seen[u] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for u := range seen {
		names = append(names, u)
	}
	sort.Strings(names)
	return names
}

// EnqueueMissing queues one window per month from the backfill start
// to the current month for every candidate without an aggregate file.
// Returns the number of users queued.
func EnqueueMissing(candidates []string, store AggregateStore, queue BackfillQueue, now time.Time) (int, error) {
	start, err := time.Parse("2006-01-02", config.Keys.BackfillStart)
	if err != nil {
		return 0, err
	}
	months, err := util.MonthsBetween(util.MonthOf(start), util.MonthOf(now))
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, u := range candidates {
		if store.HasUser(u) || queue.IsQueued(u) {
			continue
		}
		if err := queue.EnqueueMonths(u, months); err != nil {
			return queued, err
		}
		log.Infow("queued targeted backfill", "user", u, "months", len(months))
		queued++
	}
	return queued, nil
}
