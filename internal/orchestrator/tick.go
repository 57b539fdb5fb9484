// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package orchestrator runs one poller tick: take the cluster lock,
// advance backfill or catch up on the running month, discover new
// users, work off targeted backfill windows and rebuild the
// leaderboards.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ClusterCockpit/cc-scoreboard/internal/accounting"
	"github.com/ClusterCockpit/cc-scoreboard/internal/config"
	"github.com/ClusterCockpit/cc-scoreboard/internal/cursor"
	"github.com/ClusterCockpit/cc-scoreboard/internal/discovery"
	"github.com/ClusterCockpit/cc-scoreboard/internal/ingest"
	"github.com/ClusterCockpit/cc-scoreboard/internal/leaderboard"
	"github.com/ClusterCockpit/cc-scoreboard/internal/lockfile"
	"github.com/ClusterCockpit/cc-scoreboard/internal/metrics"
	"github.com/ClusterCockpit/cc-scoreboard/internal/repository"
	"github.com/ClusterCockpit/cc-scoreboard/internal/rollup"
	"github.com/ClusterCockpit/cc-scoreboard/internal/util"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/log"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/schema"
)

// Fetcher is the accounting adapter surface the tick needs.
type Fetcher interface {
	Fetch(ctx context.Context, start time.Time, end time.Time, user string) ([]accounting.RawRow, error)
	Users(ctx context.Context, start time.Time, end time.Time) ([]string, error)
}

// Queue is the deferred-backfill queue surface the tick needs.
type Queue interface {
	Enqueue(username string, month string) error
	EnqueueMonths(username string, months []string) error
	Pending(limit int) ([]repository.QueueEntry, error)
	MarkDone(id int64) error
	IsQueued(username string) bool
}

// Orchestrator wires one cluster's tick.
type Orchestrator struct {
	Root    string
	Cluster string
	Fetcher Fetcher
	Queue   Queue

	Now   func() time.Time
	Sleep func(time.Duration)
}

func (o *Orchestrator) lockPath() string {
	return filepath.Join(o.Root, "clusters", o.Cluster, "state", "lock")
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Tick performs one full invocation. ErrLockHeld passes through
// untouched so the caller can map it to its own exit status.
func (o *Orchestrator) Tick(ctx context.Context) error {
	t0 := time.Now()

	lock, err := lockfile.Acquire(o.lockPath())
	if err != nil {
		return err
	}
	defer lock.Release()

	tick := metrics.NewTick(o.Cluster)

	store, err := rollup.NewStore(o.Root, o.Cluster)
	if err != nil {
		return err
	}

	// Heal leftovers of a crashed or disk-full run before anything
	// is read.
	store.Sweep()
	util.SweepTmpFiles(filepath.Join(o.Root, "leaderboards"))

	c, err := cursor.Load(o.Root, o.Cluster, config.Keys.BackfillStart)
	if err != nil {
		return err
	}

	now := o.now().UTC()
	step, err := cursor.Decide(c, now)
	if err != nil {
		return err
	}

	cursor.MarkInProgress(c, step)
	if err := cursor.Save(o.Root, o.Cluster, c); err != nil {
		return err
	}

	phase := "catchup"
	if step.ColdStart {
		phase = "backfill"
	}

	seen, added, err := o.ingestWindow(ctx, store, step.Month, step.Start, step.End, "")
	if err != nil {
		return err
	}
	tick.JobsSeen.Add(float64(seen))
	tick.JobsNew.Add(float64(added))

	cursor.MarkDone(c, step, now)
	if err := cursor.Save(o.Root, o.Cluster, c); err != nil {
		return err
	}

	log.Infow("window ingested",
		"cluster", o.Cluster, "phase", phase, "month", step.Month,
		"jobs_seen", seen, "jobs_new", added)

	if err := ctx.Err(); err != nil {
		return err
	}

	candidates := discovery.Candidates(ctx, o.Fetcher, now)
	if _, err := discovery.EnqueueMissing(candidates, store, o.Queue, now); err != nil {
		return err
	}

	drained, err := o.drainQueue(ctx, store, tick)
	if err != nil {
		return err
	}
	if drained > 0 {
		log.Infow("targeted backfill advanced", "cluster", o.Cluster, "windows", drained)
	}

	if err := leaderboard.NewBuilder(o.Root, config.Keys.MinJobsForBoard).Build(); err != nil {
		return fmt.Errorf("rebuild leaderboards: %w", err)
	}

	tick.TickSeconds.Set(time.Since(t0).Seconds())
	tick.LastSuccess.Set(float64(now.Unix()))
	promPath := filepath.Join(o.Root, "clusters", o.Cluster, "state", "metrics.prom")
	if err := tick.Write(promPath); err != nil {
		log.Warnw("writing metrics textfile failed", "error", err.Error())
	}

	return nil
}

// ingestWindow fetches one window, normalizes it and applies it to
// the month's rollup. Quarantined months go back on the queue as
// full-month re-scans.
func (o *Orchestrator) ingestWindow(ctx context.Context, store *rollup.Store, month string, start, end time.Time, user string) (int, int, error) {
	rows, err := o.Fetcher.Fetch(ctx, start, end, user)
	if err != nil {
		return 0, 0, err
	}

	records := make([]*schema.JobRecord, 0, len(rows))
	for i := range rows {
		if rec := ingest.Normalize(&rows[i]); rec != nil {
			records = append(records, rec)
		}
	}

	stats, err := store.Apply(month, records)
	if err != nil {
		return 0, 0, err
	}

	for _, m := range stats.Quarantined {
		if qerr := o.Queue.Enqueue("", m); qerr != nil {
			log.Errorf("queueing re-scan of quarantined month %s: %v", m, qerr)
		}
	}

	return stats.JobsSeen, stats.JobsNew, nil
}

// drainQueue works off up to the configured budget of deferred
// windows. Cancellation stops between windows, never inside one.
func (o *Orchestrator) drainQueue(ctx context.Context, store *rollup.Store, tick *metrics.Tick) (int, error) {
	budget := config.Keys.QueueDrainBudget
	if budget <= 0 {
		return 0, nil
	}

	entries, err := o.Queue.Pending(budget)
	if err != nil {
		return 0, err
	}

	drained := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return drained, err
		}

		start, end, err := util.MonthWindow(e.Month)
		if err != nil {
			log.Errorf("dropping queue entry with bad month %q: %v", e.Month, err)
			if err := o.Queue.MarkDone(e.ID); err != nil {
				return drained, err
			}
			continue
		}

		seen, added, err := o.ingestWindow(ctx, store, e.Month, start, end, e.Username)
		if err != nil {
			return drained, err
		}
		tick.JobsSeen.Add(float64(seen))
		tick.JobsNew.Add(float64(added))
		tick.QueueDrained.Inc()

		if err := o.Queue.MarkDone(e.ID); err != nil {
			return drained, err
		}
		drained++

		if config.Keys.BackfillSleep > 0 && o.Sleep != nil {
			o.Sleep(config.Keys.BackfillSleep)
		}
	}

	return drained, nil
}
