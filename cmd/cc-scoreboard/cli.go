// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"flag"
	"time"
)

type pollFlags struct {
	cluster       string
	root          string
	backfillStart string
	rateLimit     int
	once          bool
	sacctPath     string
	fetchTimeout  time.Duration
	homePath      string
	minJobs       int64
	drainBudget   int
	validate      bool
	logLevel      string
}

func newPollFlagSet(f *pollFlags) *flag.FlagSet {
	fs := flag.NewFlagSet("poll", flag.ExitOnError)
	fs.StringVar(&f.cluster, "cluster", "", "Name of the cluster this poller is responsible for (required)")
	fs.StringVar(&f.root, "root", "", "Root of the shared scoreboard directory tree (required)")
	fs.StringVar(&f.backfillStart, "backfill-start", "", "First day of history to ingest, `YYYY-MM-DD` (required)")
	fs.IntVar(&f.rateLimit, "rate-limit", 2, "Accounting tool calls per minute")
	fs.BoolVar(&f.once, "once", true, "Run exactly one tick (looping is left to cron)")
	fs.StringVar(&f.sacctPath, "sacct", "sacct", "Path of the accounting executable")
	fs.DurationVar(&f.fetchTimeout, "fetch-timeout", 120*time.Second, "Timeout per accounting call")
	fs.StringVar(&f.homePath, "home-path", "/home", "Directory whose entries seed user discovery; empty disables")
	fs.Int64Var(&f.minJobs, "min-jobs", 3, "Minimum job count for leaderboard entries")
	fs.IntVar(&f.drainBudget, "drain-budget", 6, "Targeted-backfill windows worked off per tick")
	fs.BoolVar(&f.validate, "validate", false, "Validate JSON artifacts against their schemas on load")
	fs.StringVar(&f.logLevel, "loglevel", "info", "Logging level: `[debug, info, warn, err, crit]`")
	return fs
}
