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

// Package orchestrator wires the election, pool, grouper, and filter
// components into the single public step() operation (spec §4.6), and
// provides a Runner that ticks it on an interval.
package orchestrator

import (
	"context"
	"log"
	"time"

	"syncengine/internal/election"
	"syncengine/internal/grouper"
	"syncengine/internal/pool"
	"syncengine/internal/syncfilter"
	"syncengine/internal/telemetry"
	"syncengine/pkg/kvstore"
)

// Publisher is notified of each step's computed groups for best-effort,
// one-way downstream publication. It never feeds back into the engine —
// publication failures are logged, not returned from Step.
type Publisher interface {
	PublishGroups(ctx context.Context, nodeID string, groups []grouper.Group) error
}

// Archiver persists a historical record of each step's computed groups.
// Like Publisher, it is one-way and best-effort.
type Archiver interface {
	ArchiveGroups(ctx context.Context, nodeID string, groups []grouper.Group) error
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithGrouperConfig overrides the default grouper tuning constants.
func WithGrouperConfig(cfg grouper.Config) Option {
	return func(e *Engine) { e.grouperConfig = cfg }
}

// WithPublisher attaches a group-publication sink.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithArchiver attaches a group-archive sink.
func WithArchiver(a Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// Engine implements the Step Orchestrator (C6). A Sync Engine instance is
// constructed with (store_url-backed store, node_id, heartbeat_ttl) per
// spec §6's construction contract.
type Engine struct {
	store         kvstore.Store
	coordinator   *election.Coordinator
	nodeID        string
	grouperConfig grouper.Config
	publisher     Publisher
	archiver      Archiver
	lastStepAt    time.Time
}

// NewEngine constructs an Engine. nodeID must be non-empty and unique per
// node within the cluster.
func NewEngine(store kvstore.Store, nodeID string, heartbeatTTL time.Duration, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		coordinator:   election.New(store, nodeID, heartbeatTTL),
		nodeID:        nodeID,
		grouperConfig: grouper.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Step runs one invocation (spec §4.6): election check, pool load,
// grouping, filter feedback, and sync-state write-back. A non-leader
// invocation returns (nil, nil) — an empty result is a valid outcome, not
// an error (spec §6 "result contract").
func (e *Engine) Step(ctx context.Context) ([]grouper.Group, error) {
	wasLeader := e.coordinator.Role() == election.Leader

	role, err := e.coordinator.Check(ctx)
	if err != nil {
		return nil, err
	}
	if role != election.Leader {
		telemetry.RecordStep("follower", 0)
		return nil, nil
	}
	if !wasLeader {
		telemetry.RecordLeaderTransition()
		log.Printf("orchestrator: node %s became leader", e.nodeID)
	}

	start := time.Now()

	p, err := pool.Load(ctx, e.store)
	if err != nil {
		return nil, err
	}
	telemetry.RecordObservations(len(p.Observations), p.Rejected)

	// Predict (spec §4.3 time update / invariant I6): inflate each
	// sensor's offset variance by the elapsed wall time since this node's
	// last leader step. Elapsed time is process-local bookkeeping, not
	// persisted state (the store's sync:state: record keeps the three
	// fields spec §6 fixes it to); the first step on a freshly elected
	// leader applies zero elapsed time rather than guess at history.
	var elapsed time.Duration
	if !e.lastStepAt.IsZero() {
		elapsed = start.Sub(e.lastStepAt)
	}
	e.lastStepAt = start
	for sensorID, state := range p.SyncStates {
		p.SyncStates[sensorID] = syncfilter.Predict(state, elapsed.Seconds())
	}

	observations := make([]grouper.Observation, 0, len(p.Observations))
	byKey := make(map[string]pool.Observation, len(p.Observations))
	for _, o := range p.Observations {
		state := p.SyncStates[o.SensorID]
		mu, variance := syncfilter.Project(state, o.TLocal, o.Sigma)
		key := o.Key()
		observations = append(observations, grouper.Observation{SensorID: o.SensorID, Mu: mu, Variance: variance, ObsKey: key})
		byKey[key] = o
	}

	groups := grouper.GroupObservations(observations, e.grouperConfig)
	telemetry.RecordGroups(len(groups))

	updated := make(map[string]syncfilter.State, len(p.SyncStates))
	for sensorID, state := range p.SyncStates {
		updated[sensorID] = state
	}
	for _, g := range groups {
		for _, m := range g.Members {
			// Route feedback to the exact observation this membership was
			// computed from (spec §3/§4.2: a sensor may have more than one
			// live observation at once), not just any observation sharing
			// m.SensorID.
			obs, ok := byKey[m.ObsKey]
			if !ok {
				continue
			}
			updated[m.SensorID] = syncfilter.Update(updated[m.SensorID], obs.TLocal, g.TGlobal, obs.Sigma, m.Probability)
			telemetry.RecordFilterUpdate()
		}
	}
	for sensorID, state := range updated {
		if err := pool.WriteSyncState(ctx, e.store, sensorID, state); err != nil {
			return nil, err
		}
	}

	telemetry.RecordStep("leader", time.Since(start))

	if e.publisher != nil {
		if err := e.publisher.PublishGroups(ctx, e.nodeID, groups); err != nil {
			log.Printf("orchestrator: publish failed: %v", err)
		}
	}
	if e.archiver != nil {
		if err := e.archiver.ArchiveGroups(ctx, e.nodeID, groups); err != nil {
			log.Printf("orchestrator: archive failed: %v", err)
		}
	}

	return groups, nil
}

// Resign releases the election lease immediately if this node holds it.
// Intended for graceful shutdown.
func (e *Engine) Resign(ctx context.Context) error {
	return e.coordinator.Resign(ctx)
}

// Role reports this node's election role as of the last Step.
func (e *Engine) Role() election.Role { return e.coordinator.Role() }
