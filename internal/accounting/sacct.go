// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package accounting drives the site's batch accounting tool as a
// subprocess and turns its pipe-delimited output into raw rows. All
// calls on one cluster share a token bucket so concurrent backfill
// and discovery cannot exceed the per-cluster budget of the shared
// accounting service.
package accounting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/ClusterCockpit/cc-scoreboard/pkg/log"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/units"
	"golang.org/x/time/rate"
)

// fieldList is the fixed -o projection, in row order.
const fieldList = "JobID,User,State,ElapsedRaw,AllocCPUS,NNodes,ReqMem,MaxRSS,AveRSS,AllocTRES,Submit,Start,End"

const numFields = 13

// RawRow is one accounting record before normalization.
type RawRow struct {
	JobID      string
	User       string
	State      string
	ElapsedRaw string
	AllocCPUS  string
	NNodes     string
	ReqMem     string
	MaxRSS     string
	AveRSS     string
	AllocTRES  string
	Submit     string
	Start      string
	End        string
}

// FetchError signals that the accounting tool kept failing until the
// retries ran out or the context ended. The orchestrator aborts the
// tick on it.
type FetchError struct {
	Cluster  string
	Attempts int
	ExitCode int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("accounting fetch on %s failed after %d attempts (exit %d): %v",
		e.Cluster, e.Attempts, e.ExitCode, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// runFunc executes one command and returns its stdout; tests inject a
// fake. The error carries the exit status for real subprocesses.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w (stderr: %s)", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Adapter wraps the accounting CLI for one cluster.
type Adapter struct {
	cluster     string
	sacctPath   string
	limiter     *rate.Limiter
	timeout     time.Duration
	maxAttempts int

	run   runFunc
	sleep func(time.Duration)
}

// NewAdapter builds an adapter allowing callsPerMinute invocations,
// refilled continuously.
func NewAdapter(cluster string, sacctPath string, callsPerMinute int, timeout time.Duration, maxAttempts int) *Adapter {
	if callsPerMinute < 1 {
		callsPerMinute = 1
	}
	return &Adapter{
		cluster:     cluster,
		sacctPath:   sacctPath,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(callsPerMinute)), 1),
		timeout:     timeout,
		maxAttempts: maxAttempts,
		run:         execRun,
		sleep:       time.Sleep,
	}
}

const dateFmt = "2006-01-02"

// Fetch lists completed jobs in [start, end), both UTC dates. A
// non-empty user restricts the listing to that user's jobs.
func (a *Adapter) Fetch(ctx context.Context, start time.Time, end time.Time, user string) ([]RawRow, error) {
	args := []string{
		"-a", "-n", "-P",
		"-S", start.UTC().Format(dateFmt),
		"-E", end.UTC().Format(dateFmt),
		"-o", fieldList,
	}
	if user != "" {
		args = append(args, "-u", user)
	}

	out, err := a.call(ctx, "fetch", start, end, args)
	if err != nil {
		return nil, err
	}
	return a.parseRows(out), nil
}

// Users lists the distinct usernames with any job in [start, end).
// Used by discovery; shares the token bucket with Fetch.
func (a *Adapter) Users(ctx context.Context, start time.Time, end time.Time) ([]string, error) {
	args := []string{
		"-a", "-n", "-P",
		"-S", start.UTC().Format(dateFmt),
		"-E", end.UTC().Format(dateFmt),
		"-o", "User",
	}

	out, err := a.call(ctx, "users", start, end, args)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, line := range strings.Split(string(out), "\n") {
		u := units.NormalizeUsername(line)
		if u == "" {
			continue
		}
		seen[u] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for u := range seen {
		names = append(names, u)
	}
	sort.Strings(names)
	return names, nil
}

// call runs one rate-limited, retried invocation and logs its outcome.
func (a *Adapter) call(ctx context.Context, phase string, start, end time.Time, args []string) ([]byte, error) {
	var lastErr error
	attempts := 0
	backoff := 2 * time.Second

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		t0 := time.Now()
		out, err := a.run(callCtx, a.sacctPath, args...)
		cancel()
		attempts = attempt

		exitCode := 0
		if err != nil {
			exitCode = -1
			var ee *exec.ExitError
			if errors.As(err, &ee) {
				exitCode = ee.ExitCode()
			}
		}

		log.Infow("accounting call",
			"cluster", a.cluster,
			"phase", phase,
			"start", start.UTC().Format(dateFmt),
			"end", end.UTC().Format(dateFmt),
			"exit_code", exitCode,
			"duration_ms", time.Since(t0).Milliseconds())

		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt < a.maxAttempts {
			a.sleep(backoff)
			backoff *= 2
			if backoff > 60*time.Second {
				backoff = 60 * time.Second
			}
		}
	}

	exitCode := -1
	var ee *exec.ExitError
	if errors.As(lastErr, &ee) {
		exitCode = ee.ExitCode()
	}
	return nil, &FetchError{Cluster: a.cluster, Attempts: attempts, ExitCode: exitCode, Err: lastErr}
}

func (a *Adapter) parseRows(out []byte) []RawRow {
	rows := make([]RawRow, 0, 128)
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) != numFields {
			log.Warnw("malformed accounting row",
				"cluster", a.cluster, "fields", len(fields), "row", line)
			continue
		}
		rows = append(rows, RawRow{
			JobID: fields[0], User: fields[1], State: fields[2],
			ElapsedRaw: fields[3], AllocCPUS: fields[4], NNodes: fields[5],
			ReqMem: fields[6], MaxRSS: fields[7], AveRSS: fields[8],
			AllocTRES: fields[9], Submit: fields[10], Start: fields[11],
			End: fields[12],
		})
	}
	return rows
}
