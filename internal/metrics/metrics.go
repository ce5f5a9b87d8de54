/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the health monitor.
//
// All metrics are registered with the default registry and served on the
// /metrics endpoint in watch mode.
//
// Metric naming follows Prometheus conventions:
//   - esmhealth_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ChecksTotal counts source evaluations by source and status.
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esmhealth_checks_total",
			Help: "Total source evaluations by source and status.",
		},
		[]string{"source", "status"},
	)

	// IdleMinutes is the most recently computed idle time per source.
	IdleMinutes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "esmhealth_idle_minutes",
			Help: "Minutes since the source's last observed activity.",
		},
		[]string{"source"},
	)

	// QueryFailuresTotal counts ESM query failures by source.
	QueryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esmhealth_query_failures_total",
			Help: "Total ESM query failures by source.",
		},
		[]string{"source"},
	)

	// RunDurationSeconds is a histogram of full evaluation-run duration.
	RunDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "esmhealth_run_duration_seconds",
			Help:    "Duration of complete evaluation runs in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// LastRunTimestamp is the Unix time of the last completed run.
	LastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "esmhealth_last_run_timestamp_seconds",
			Help: "Unix timestamp of the last completed evaluation run.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ChecksTotal,
		IdleMinutes,
		QueryFailuresTotal,
		RunDurationSeconds,
		LastRunTimestamp,
	)
}

// RecordCheck records the outcome of one source evaluation.
func RecordCheck(source, status string, idleMinutes int, idleKnown bool) {
	ChecksTotal.WithLabelValues(source, status).Inc()
	if idleKnown {
		IdleMinutes.WithLabelValues(source).Set(float64(idleMinutes))
	}
}

// RecordQueryFailure records one failed ESM query.
func RecordQueryFailure(source string) {
	QueryFailuresTotal.WithLabelValues(source).Inc()
}

// RecordRunComplete records the end of a full evaluation run.
func RecordRunComplete(duration time.Duration) {
	RunDurationSeconds.Observe(duration.Seconds())
	LastRunTimestamp.SetToCurrentTime()
}
