// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// cc-scoreboard ingests batch accounting data of one HPC cluster into
// the shared scoreboard tree and rebuilds the leaderboards. It is
// meant to run from cron; one invocation is one tick.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ClusterCockpit/cc-scoreboard/internal/accounting"
	"github.com/ClusterCockpit/cc-scoreboard/internal/config"
	"github.com/ClusterCockpit/cc-scoreboard/internal/lockfile"
	"github.com/ClusterCockpit/cc-scoreboard/internal/orchestrator"
	"github.com/ClusterCockpit/cc-scoreboard/internal/repository"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/log"
)

var (
	version = "dev"
	commit  = "none"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitLockHeld = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return exitFailure
	}

	switch args[0] {
	case "poll":
		return runPoll(args[1:])
	case "version", "-version", "--version":
		fmt.Printf("cc-scoreboard %s (%s)\n", version, commit)
		return exitOK
	default:
		usage()
		return exitFailure
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: cc-scoreboard poll -cluster <name> -root <path> -backfill-start <YYYY-MM-DD> [options]")
	fmt.Fprintln(os.Stderr, "       cc-scoreboard version")
}

func runPoll(args []string) int {
	var f pollFlags
	fs := newPollFlagSet(&f)
	fs.Parse(args)

	log.Init(f.logLevel)

	if f.cluster == "" || f.root == "" || f.backfillStart == "" {
		fs.Usage()
		return exitFailure
	}
	if _, err := time.Parse("2006-01-02", f.backfillStart); err != nil {
		log.Errorf("invalid -backfill-start %q: %v", f.backfillStart, err)
		return exitFailure
	}

	config.Keys.Cluster = f.cluster
	config.Keys.Root = f.root
	config.Keys.BackfillStart = f.backfillStart
	config.Keys.RateLimit = f.rateLimit
	config.Keys.SacctPath = f.sacctPath
	config.Keys.FetchTimeout = f.fetchTimeout
	config.Keys.HomePath = f.homePath
	config.Keys.MinJobsForBoard = f.minJobs
	config.Keys.QueueDrainBudget = f.drainBudget
	config.Keys.Validate = f.validate

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateDir := filepath.Join(f.root, "clusters", f.cluster, "state")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		log.Errorf("creating state directory: %v", err)
		return exitFailure
	}
	if err := repository.Connect(filepath.Join(stateDir, "queue.db")); err != nil {
		log.Errorf("opening backfill queue: %v", err)
		return exitFailure
	}

	o := &orchestrator.Orchestrator{
		Root:    f.root,
		Cluster: f.cluster,
		Fetcher: accounting.NewAdapter(f.cluster, f.sacctPath, f.rateLimit, f.fetchTimeout, config.Keys.MaxAttempts),
		Queue:   repository.GetQueueRepository(),
		Sleep:   time.Sleep,
	}

	if err := o.Tick(ctx); err != nil {
		if errors.Is(err, lockfile.ErrLockHeld) {
			log.Infow("tick skipped", "cluster", f.cluster, "reason", "lock held")
			return exitLockHeld
		}
		log.Errorw("tick failed", "cluster", f.cluster, "error", err.Error())
		return exitFailure
	}

	return exitOK
}
