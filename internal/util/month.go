// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package util

import (
	"fmt"
	"time"
)

// Months are handled as "YYYY-MM" strings throughout; the string form
// sorts chronologically, which the cursor and the leaderboard windows
// rely on.

func MonthOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// ParseMonth returns the first instant of a "YYYY-MM" month in UTC.
func ParseMonth(month string) (time.Time, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q: %w", month, err)
	}
	return t.UTC(), nil
}

func NextMonth(month string) (string, error) {
	t, err := ParseMonth(month)
	if err != nil {
		return "", err
	}
	return MonthOf(t.AddDate(0, 1, 0)), nil
}

func PrevMonth(month string) (string, error) {
	t, err := ParseMonth(month)
	if err != nil {
		return "", err
	}
	return MonthOf(t.AddDate(0, -1, 0)), nil
}

// MonthWindow returns the [start, end) day bounds of a month, end
// being the first day of the following month.
func MonthWindow(month string) (time.Time, time.Time, error) {
	start, err := ParseMonth(month)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 1, 0), nil
}

// MonthsBetween lists the months from first to last inclusive. An
// empty slice is returned when first is after last.
func MonthsBetween(first string, last string) ([]string, error) {
	start, err := ParseMonth(first)
	if err != nil {
		return nil, err
	}
	end, err := ParseMonth(last)
	if err != nil {
		return nil, err
	}

	months := []string{}
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		months = append(months, MonthOf(m))
	}
	return months, nil
}
