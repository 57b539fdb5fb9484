// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteTextfile(t *testing.T) {
	tick := NewTick("fritz")
	tick.JobsSeen.Add(120)
	tick.JobsNew.Add(7)
	tick.TickSeconds.Set(3.5)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	if err := tick.Write(path); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)

	for _, want := range []string{
		`scoreboard_jobs_seen_total{cluster="fritz"} 120`,
		`scoreboard_jobs_new_total{cluster="fritz"} 7`,
		`scoreboard_tick_duration_seconds{cluster="fritz"} 3.5`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in textfile output:\n%s", want, out)
		}
	}
}
