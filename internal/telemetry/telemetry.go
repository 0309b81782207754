// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry exposes opt-in Prometheus metrics for the Sync
// Engine. All public functions are no-ops until Enable is called, so
// instrumented call sites never need a nil check.
package telemetry

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls whether metrics are collected and, optionally, served.
type Config struct {
	Enabled bool
	// MetricsAddr, when non-empty, starts a dedicated HTTP server serving
	// /metrics. Leave empty to have internal/api mount the handler
	// instead.
	MetricsAddr string
}

var (
	enabled atomic.Bool

	stepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "syncengine_steps_total",
		Help: "Total orchestrator steps, by role outcome (leader, follower).",
	}, []string{"role"})

	stepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "syncengine_step_duration_seconds",
		Help:    "Wall-clock duration of leader steps (load+group+feedback+writeback).",
		Buckets: prometheus.DefBuckets,
	})

	observationsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "syncengine_observations_processed_total",
		Help: "Total observations successfully decoded and grouped.",
	})

	observationsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "syncengine_observations_rejected_total",
		Help: "Total observations skipped as InvalidObservation.",
	})

	groupsFormed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "syncengine_groups_formed_total",
		Help: "Total groups emitted across all steps.",
	})

	leaderTransitions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "syncengine_leader_transitions_total",
		Help: "Total Follower-to-Leader transitions observed by this node.",
	})

	filterUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "syncengine_filter_updates_total",
		Help: "Total syncfilter.Update calls applied during feedback.",
	})

	storeOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "syncengine_store_op_duration_seconds",
		Help:    "Duration of store operations, by op name.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		stepsTotal, stepDuration, observationsProcessed, observationsRejected,
		groupsFormed, leaderTransitions, filterUpdates, storeOpDuration,
	)
}

// Enable turns metrics collection on (or off) and optionally starts a
// dedicated /metrics HTTP server. Safe to call multiple times.
func Enable(cfg Config) {
	enabled.Store(cfg.Enabled)
	if cfg.Enabled && cfg.MetricsAddr != "" {
		startMetricsServer(cfg.MetricsAddr)
	}
}

// Enabled reports whether telemetry is currently active.
func Enabled() bool { return enabled.Load() }

// Handler returns the promhttp handler for mounting on an existing mux
// (used by internal/api rather than running a dedicated server).
func Handler() http.Handler { return promhttp.Handler() }

func startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}

// RecordStep records one orchestrator step outcome and its duration.
func RecordStep(role string, d time.Duration) {
	if !enabled.Load() {
		return
	}
	stepsTotal.WithLabelValues(role).Inc()
	if role == "leader" {
		stepDuration.Observe(d.Seconds())
	}
}

// RecordObservations records the processed/rejected counts for one step.
func RecordObservations(processed, rejected int) {
	if !enabled.Load() {
		return
	}
	if processed > 0 {
		observationsProcessed.Add(float64(processed))
	}
	if rejected > 0 {
		observationsRejected.Add(float64(rejected))
	}
}

// RecordGroups records the number of groups formed in one step.
func RecordGroups(n int) {
	if !enabled.Load() || n <= 0 {
		return
	}
	groupsFormed.Add(float64(n))
}

// RecordLeaderTransition records a Follower-to-Leader transition.
func RecordLeaderTransition() {
	if !enabled.Load() {
		return
	}
	leaderTransitions.Inc()
}

// RecordFilterUpdate records one syncfilter.Update application.
func RecordFilterUpdate() {
	if !enabled.Load() {
		return
	}
	filterUpdates.Inc()
}

// TimeStoreOp returns a func to defer-call with the elapsed duration of a
// single store operation.
func TimeStoreOp(op string) func() {
	if !enabled.Load() {
		return func() {}
	}
	start := time.Now()
	return func() {
		storeOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
