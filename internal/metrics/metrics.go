/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the corvusforge
// orchestrator.
//
// Metrics register with a package-level registry rather than the global
// default, so cmd/corvusforge controls exactly what gets served on the
// metrics endpoint.
//
// Metric naming follows Prometheus conventions:
//   - corvusforge_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the registry every metric below is registered against.
var Registry = prometheus.NewRegistry()

var (
	// StageTransitionsTotal counts stage transitions by stage and target state.
	StageTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corvusforge_stage_transitions_total",
			Help: "Total stage transitions by stage and to_state.",
		},
		[]string{"stage", "to_state"},
	)

	// StageDurationSeconds is a histogram of RUNNING->terminal duration by stage.
	StageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corvusforge_stage_duration_seconds",
			Help:    "Duration of a stage's RUNNING state in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
		[]string{"stage"},
	)

	// LedgerAppendsTotal counts ledger appends by outcome.
	LedgerAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corvusforge_ledger_appends_total",
			Help: "Total ledger append attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// CascadeBlocksTotal counts cascade-induced BLOCKED transitions.
	CascadeBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corvusforge_cascade_blocks_total",
			Help: "Total stages forced BLOCKED by a downstream cascade.",
		},
		[]string{"stage"},
	)

	// WaiverRegistrationsTotal counts waiver registrations by verification outcome.
	WaiverRegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corvusforge_waiver_registrations_total",
			Help: "Total waiver registrations by signature verification outcome.",
		},
		[]string{"verified"},
	)

	// SinkDispatchesTotal counts sink dispatch attempts by sink name and outcome.
	SinkDispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corvusforge_sink_dispatches_total",
			Help: "Total sink dispatch attempts by sink and outcome.",
		},
		[]string{"sink", "outcome"},
	)

	// AnchorExportsTotal counts anchor export calls by outcome.
	AnchorExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corvusforge_anchor_exports_total",
			Help: "Total anchor export calls by outcome.",
		},
		[]string{"outcome"},
	)

	// ActiveRuns is the number of currently executing pipeline runs.
	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corvusforge_active_runs",
			Help: "Number of pipeline runs currently executing.",
		},
	)
)

func init() {
	Registry.MustRegister(
		StageTransitionsTotal,
		StageDurationSeconds,
		LedgerAppendsTotal,
		CascadeBlocksTotal,
		WaiverRegistrationsTotal,
		SinkDispatchesTotal,
		AnchorExportsTotal,
		ActiveRuns,
	)
}

// RecordStageTransition records a single stage transition.
func RecordStageTransition(stage, toState string) {
	StageTransitionsTotal.WithLabelValues(stage, toState).Inc()
}

// RecordStageDuration records how long a stage spent RUNNING before
// reaching a terminal state.
func RecordStageDuration(stage string, d time.Duration) {
	StageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordLedgerAppend records the outcome ("ok" or "error") of one append call.
func RecordLedgerAppend(outcome string) {
	LedgerAppendsTotal.WithLabelValues(outcome).Inc()
}

// RecordCascadeBlock records one stage forced BLOCKED by an upstream stage's failure.
func RecordCascadeBlock(stage string) {
	CascadeBlocksTotal.WithLabelValues(stage).Inc()
}

// RecordWaiverRegistration records a waiver registration's verification outcome.
func RecordWaiverRegistration(verified bool) {
	label := "false"
	if verified {
		label = "true"
	}
	WaiverRegistrationsTotal.WithLabelValues(label).Inc()
}

// RecordSinkDispatch records one sink's dispatch outcome.
func RecordSinkDispatch(sink, outcome string) {
	SinkDispatchesTotal.WithLabelValues(sink, outcome).Inc()
}

// RecordAnchorExport records one anchor export call's outcome.
func RecordAnchorExport(outcome string) {
	AnchorExportsTotal.WithLabelValues(outcome).Inc()
}
