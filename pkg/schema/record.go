// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "time"

// JobRecord is the normalized form of one accounting row. It only
// lives between fetch and apply and is never persisted.
type JobRecord struct {
	JobID           string
	Username        string
	EndTime         time.Time
	ElapsedHours    float64
	AllocCPUs       int
	NNodes          int
	ClockHours      float64
	GPUCount        int
	GPUElapsedHours float64
	GPUClockHours   float64
	ReqMemMB        float64
	AvgMemMB        float64
	MaxMemMB        float64
	Failed          bool
}
