// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cursor tracks how far a cluster's history has been
// ingested. Cold-start walks month by month from the backfill start;
// once the month before the current one is complete, the poller only
// re-scans the running month.
package cursor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ClusterCockpit/cc-scoreboard/internal/util"
	"github.com/ClusterCockpit/cc-scoreboard/pkg/schema"
)

const fileName = "poll_cursor.json"

// Step is the fetch window the state machine selected for one tick.
type Step struct {
	// ColdStart is true while historic months are being filled.
	ColdStart bool

	// Month the window belongs to, "YYYY-MM".
	Month string

	// Fetch bounds, start inclusive, end exclusive.
	Start time.Time
	End   time.Time
}

// Path returns the cursor location inside a cluster subtree.
func Path(root string, cluster string) string {
	return filepath.Join(root, "clusters", cluster, "state", fileName)
}

// Load reads a cluster's cursor; a missing file yields a fresh cursor
// starting at backfillStart ("YYYY-MM-DD").
func Load(root string, cluster string, backfillStart string) (*schema.Cursor, error) {
	b, err := os.ReadFile(Path(root, cluster))
	if os.IsNotExist(err) {
		return &schema.Cursor{BackfillStart: backfillStart}, nil
	}
	if err != nil {
		return nil, err
	}

	var c schema.Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse cursor: %w", err)
	}
	if c.BackfillStart == "" {
		c.BackfillStart = backfillStart
	}
	return &c, nil
}

// Save persists the cursor atomically.
func Save(root string, cluster string, c *schema.Cursor) error {
	path := Path(root, cluster)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return util.AtomicWriteJSON(path, c)
}

// Decide selects the next fetch window. During cold-start it is the
// month after the last completed one; caught up it is the running
// month up to tomorrow (end exclusive, day granularity).
func Decide(c *schema.Cursor, now time.Time) (*Step, error) {
	now = now.UTC()
	currentMonth := util.MonthOf(now)
	prevMonth, err := util.PrevMonth(currentMonth)
	if err != nil {
		return nil, err
	}

	if !c.ColdstartDone && c.LastCompleteMonth < prevMonth {
		month := ""
		if c.LastCompleteMonth == "" {
			start, err := time.Parse("2006-01-02", c.BackfillStart)
			if err != nil {
				return nil, fmt.Errorf("invalid backfill start %q: %w", c.BackfillStart, err)
			}
			month = util.MonthOf(start)
		} else {
			month, err = util.NextMonth(c.LastCompleteMonth)
			if err != nil {
				return nil, err
			}
		}

		if month < currentMonth {
			start, end, err := util.MonthWindow(month)
			if err != nil {
				return nil, err
			}
			return &Step{ColdStart: true, Month: month, Start: start, End: end}, nil
		}
	}

	start, _, err := util.MonthWindow(currentMonth)
	if err != nil {
		return nil, err
	}
	end := now.Truncate(24 * time.Hour).AddDate(0, 0, 1)
	return &Step{Month: currentMonth, Start: start, End: end}, nil
}

// MarkDone records a finished step. A cold-start month advances
// last_complete_month; reaching the month before the current one
// finishes cold-start. The running month is never marked complete.
func MarkDone(c *schema.Cursor, step *Step, now time.Time) {
	c.InProgress = nil
	if !step.ColdStart {
		return
	}

	c.LastCompleteMonth = step.Month

	prevMonth, err := util.PrevMonth(util.MonthOf(now))
	if err == nil && c.LastCompleteMonth >= prevMonth {
		c.ColdstartDone = true
	}
}

// MarkInProgress notes the window a tick is about to fetch.
func MarkInProgress(c *schema.Cursor, step *Step) {
	phase := "catchup"
	if step.ColdStart {
		phase = "backfill"
	}
	c.InProgress = &schema.InProgress{Month: step.Month, Phase: phase}
}
