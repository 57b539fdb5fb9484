// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import "time"

// ProgramConfig collects every tunable of one poller invocation.
// Values come from the poll subcommand flags; scheduling and config
// files are left to the site's cron wrapper.
type ProgramConfig struct {
	// Cluster this poller is responsible for.
	Cluster string

	// Root of the shared storage tree holding all cluster subtrees
	// and the leaderboards directory.
	Root string

	// First day of history to backfill, "YYYY-MM-DD".
	BackfillStart string

	// Accounting tool calls permitted per minute.
	RateLimit int

	// Path of the accounting executable.
	SacctPath string

	// Timeout for a single accounting call.
	FetchTimeout time.Duration

	// Attempts per accounting call before the tick aborts.
	MaxAttempts int

	// Capacity hint for a fresh monthly dedupe filter.
	ExpectedJobs uint64

	// Target false-positive rate of the dedupe filter.
	TargetFPRate float64

	// Directory whose entries seed username discovery. Empty
	// disables the home-directory source.
	HomePath string

	// Usernames matching this pattern are treated as system
	// accounts and never tracked.
	SystemUserPattern string

	// Home directories owned by a uid below this are system
	// accounts as well.
	MinUID uint32

	// Users with fewer jobs than this stay out of leaderboards.
	MinJobsForBoard int64

	// Upper bound of targeted-backfill months worked off per tick.
	QueueDrainBudget int

	// Pause between months during cold-start.
	BackfillSleep time.Duration

	// Validate JSON artifacts against their schemas on load.
	Validate bool
}

var Keys ProgramConfig = ProgramConfig{
	RateLimit:         2,
	SacctPath:         "sacct",
	FetchTimeout:      120 * time.Second,
	MaxAttempts:       5,
	ExpectedJobs:      2_000_000,
	TargetFPRate:      1e-4,
	SystemUserPattern: `^(root|daemon|bin|sys|sync|games|man|lp|mail|news|proxy|www-data|backup|list|irc|nobody|sshd|systemd-.*|slurm|munge|postfix|ntp|_.*)$`,
	MinUID:            1000,
	MinJobsForBoard:   3,
	QueueDrainBudget:  6,
	BackfillSleep:     0,
	Validate:          false,
}
