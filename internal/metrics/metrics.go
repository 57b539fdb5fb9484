// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes per-tick counters as a Prometheus textfile
// next to the cluster state, for a node-exporter textfile collector.
package metrics

import (
	"bytes"

	"github.com/ClusterCockpit/cc-scoreboard/internal/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Tick carries the instruments of one poller invocation.
type Tick struct {
	registry *prometheus.Registry

	JobsSeen     prometheus.Counter
	JobsNew      prometheus.Counter
	QueueDrained prometheus.Counter
	TickSeconds  prometheus.Gauge
	LastSuccess  prometheus.Gauge
}

func NewTick(cluster string) *Tick {
	labels := prometheus.Labels{"cluster": cluster}
	t := &Tick{
		registry: prometheus.NewRegistry(),
		JobsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "scoreboard_jobs_seen_total",
			Help:        "Normalized job records (job steps excluded) inspected during this tick",
			ConstLabels: labels,
		}),
		JobsNew: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "scoreboard_jobs_new_total",
			Help:        "Jobs newly folded into rollups during this tick",
			ConstLabels: labels,
		}),
		QueueDrained: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "scoreboard_backfill_windows_total",
			Help:        "Targeted backfill windows worked off during this tick",
			ConstLabels: labels,
		}),
		TickSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "scoreboard_tick_duration_seconds",
			Help:        "Wall time of the last tick",
			ConstLabels: labels,
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "scoreboard_last_success_timestamp_seconds",
			Help:        "Unix time of the last successful tick",
			ConstLabels: labels,
		}),
	}

	t.registry.MustRegister(t.JobsSeen, t.JobsNew, t.QueueDrained, t.TickSeconds, t.LastSuccess)
	return t
}

// Write renders the registry in text exposition format and writes it
// atomically.
func (t *Tick) Write(path string) error {
	fams, err := t.registry.Gather()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, f := range fams {
		if err := enc.Encode(f); err != nil {
			return err
		}
	}

	return util.AtomicWriteFile(path, buf.Bytes())
}
