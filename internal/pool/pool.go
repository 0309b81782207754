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

// Package pool loads the live observation set and per-sensor sync state
// from the shared store (spec §4.2). It is the only place that decodes
// obs: and sync:state: records, and the only place InvalidObservation is
// raised and logged rather than returned.
package pool

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"syncengine/internal/syncfilter"
	"syncengine/internal/telemetry"
	"syncengine/pkg/kvstore"
)

const (
	obsPrefix   = "obs:"
	statePrefix = "sync:state:"
)

// Observation is a decoded sensor report (spec §3).
type Observation struct {
	SensorID   string
	SensorType string
	TLocal     float64
	Sigma      float64
	PayloadRef string
}

// Key returns the observation's identity per spec §3: the pair
// (sensor_id, t_local_nanoseconds) where t_local_nanoseconds =
// round(t_local * 1e9). A sensor_id alone is not a stable identity —
// obs:<sensor_id>:<t_local_ns> (spec §4.2) permits more than one live
// observation per sensor at once, so callers that need to route a
// grouping result back to the exact observation it came from (rather
// than an arbitrary one sharing the same sensor_id) should key on this
// instead.
func (o Observation) Key() string {
	return fmt.Sprintf("%s\x00%d", o.SensorID, int64(math.Round(o.TLocal*1e9)))
}

// Pool is the batch of live observations and sync states loaded for one
// step (spec §4.2). SyncStates always has an entry for every sensor_id
// present in Observations, defaulted where the store had none.
type Pool struct {
	Observations []Observation
	SyncStates   map[string]syncfilter.State
	Rejected     int // count of InvalidObservation records skipped during this load
}

// Load scans obs: and sync:state: and returns the live pool. Malformed or
// invalid records are logged and excluded, never fatal (spec §7:
// InvalidObservation is non-fatal). A StoreUnavailable from the underlying
// store aborts the whole load and is returned to the caller wrapped with
// %w, so errors.Is(err, kvstore.ErrStoreUnavailable) still distinguishes
// it from a clean empty pool.
func Load(ctx context.Context, store kvstore.Store) (Pool, error) {
	scanDone := telemetry.TimeStoreOp("scan_by_prefix")
	obsKeys, err := store.ScanPrefix(ctx, obsPrefix)
	scanDone()
	if err != nil {
		return Pool{}, fmt.Errorf("pool: scan %s: %w", obsPrefix, err)
	}

	observations := make([]Observation, 0, len(obsKeys))
	sensorIDs := make(map[string]struct{}, len(obsKeys))
	rejected := 0
	for _, key := range obsKeys {
		getDone := telemetry.TimeStoreOp("get")
		data, ok, err := store.Get(ctx, key)
		getDone()
		if err != nil {
			return Pool{}, fmt.Errorf("pool: get %s: %w", key, err)
		}
		if !ok {
			continue // expired between scan and get
		}
		obs, err := decodeObservation(data)
		if err != nil {
			log.Printf("pool: invalid observation at %s: %v", key, err)
			rejected++
			continue
		}
		observations = append(observations, obs)
		sensorIDs[obs.SensorID] = struct{}{}
	}

	states := make(map[string]syncfilter.State, len(sensorIDs))
	for sensorID := range sensorIDs {
		key := statePrefix + sensorID
		getDone := telemetry.TimeStoreOp("get")
		data, ok, err := store.Get(ctx, key)
		getDone()
		if err != nil {
			return Pool{}, fmt.Errorf("pool: get %s: %w", key, err)
		}
		if !ok {
			states[sensorID] = syncfilter.DefaultState()
			continue
		}
		state, err := decodeSyncState(data)
		if err != nil {
			log.Printf("pool: malformed sync state at %s, using default: %v", key, err)
			states[sensorID] = syncfilter.DefaultState()
			continue
		}
		states[sensorID] = state
	}

	return Pool{Observations: observations, SyncStates: states, Rejected: rejected}, nil
}

// WriteSyncState persists an updated sync state (spec §4.6 step 4). Writes
// are unconditional overwrites with no TTL, as sync state is long-lived
// (spec §5 "Sync-state writes by the current leader are unconditional
// overwrites").
func WriteSyncState(ctx context.Context, store kvstore.Store, sensorID string, state syncfilter.State) error {
	fields := kvstore.Record{
		"offset_mean": formatFloat(state.OffsetMean),
		"offset_var":  formatFloat(state.OffsetVar),
		"drift":       formatFloat(state.Drift),
	}
	order := []string{"offset_mean", "offset_var", "drift"}
	setDone := telemetry.TimeStoreOp("set")
	defer setDone()
	return store.Set(ctx, statePrefix+sensorID, kvstore.EncodeRecord(order, fields))
}

func decodeObservation(data []byte) (Observation, error) {
	r := kvstore.DecodeRecord(data)

	sensorID, ok := r.String("sensor_id")
	if !ok || strings.TrimSpace(sensorID) == "" {
		return Observation{}, fmt.Errorf("empty sensor_id")
	}
	tLocal, err := r.Float64("t_local")
	if err != nil {
		return Observation{}, err
	}
	if math.IsNaN(tLocal) || math.IsInf(tLocal, 0) {
		return Observation{}, fmt.Errorf("t_local is NaN/Inf")
	}
	sigma, err := r.Float64("sigma")
	if err != nil {
		return Observation{}, err
	}
	if math.IsNaN(sigma) || sigma < 0 {
		return Observation{}, fmt.Errorf("sigma is negative or NaN: %v", sigma)
	}
	sensorType, _ := r.String("sensor_type")
	payloadRef, _ := r.String("payload_ref")

	return Observation{
		SensorID:   sensorID,
		SensorType: sensorType,
		TLocal:     tLocal,
		Sigma:      sigma,
		PayloadRef: payloadRef,
	}, nil
}

func decodeSyncState(data []byte) (syncfilter.State, error) {
	r := kvstore.DecodeRecord(data)
	offsetMean, err := r.Float64("offset_mean")
	if err != nil {
		return syncfilter.State{}, err
	}
	offsetVar, err := r.Float64("offset_var")
	if err != nil {
		return syncfilter.State{}, err
	}
	drift, err := r.Float64("drift")
	if err != nil {
		return syncfilter.State{}, err
	}
	return syncfilter.State{OffsetMean: offsetMean, OffsetVar: offsetVar, Drift: drift}, nil
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.12g", f)
}
