// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

// InProgress marks a month whose ingestion started but has not been
// confirmed complete.
type InProgress struct {
	Month string `json:"month"`
	Phase string `json:"phase"`
}

// Cursor is the persisted per-cluster poll position. Months are
// "YYYY-MM" strings, BackfillStart is a "YYYY-MM-DD" date.
type Cursor struct {
	LastCompleteMonth string      `json:"last_complete_month,omitempty"`
	InProgress        *InProgress `json:"in_progress,omitempty"`
	ColdstartDone     bool        `json:"coldstart_done"`
	BackfillStart     string      `json:"backfill_start"`
}
