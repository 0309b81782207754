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

package election

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"syncengine/pkg/kvstore"
)

// peerRecord tracks when a node's heartbeat diagnostic key was last seen
// by this process. Adapted from the rate limiter's managedVSA bookkeeping
// (core/store.go): an atomic UnixNano timestamp readable without locking
// the map, updated on every sighting.
type peerRecord struct {
	lastSeen int64
}

// PeerRegistry keeps an in-memory view of every node_id this process has
// observed holding a heartbeat key, for diagnostics (spec §6:
// election:bully:hb:<node_id> is described as a "per-node diagnostic
// heartbeat"). It is not consulted for any correctness decision — only
// Coordinator.Check and the store's TTL matter for that. It is reachable
// through Runner.Peers; the admin HTTP server does not serve it.
type PeerRegistry struct {
	peers sync.Map // node_id -> *peerRecord
}

// NewPeerRegistry returns an empty registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{}
}

// Refresh scans election:bully:hb:* and records every live node_id with
// the current time. Nodes previously seen but no longer present in the
// scan (lease expired) are dropped.
func (r *PeerRegistry) Refresh(ctx context.Context, store kvstore.Store) error {
	keys, err := store.ScanPrefix(ctx, heartbeatKey)
	if err != nil {
		return err
	}
	live := make(map[string]struct{}, len(keys))
	now := time.Now().UnixNano()
	for _, key := range keys {
		nodeID := strings.TrimPrefix(key, heartbeatKey)
		live[nodeID] = struct{}{}
		actual, _ := r.peers.LoadOrStore(nodeID, &peerRecord{lastSeen: now})
		atomic.StoreInt64(&actual.(*peerRecord).lastSeen, now)
	}
	r.peers.Range(func(key, _ interface{}) bool {
		if _, ok := live[key.(string)]; !ok {
			r.peers.Delete(key)
		}
		return true
	})
	return nil
}

// Snapshot returns every currently known node_id and the time it was last
// observed.
func (r *PeerRegistry) Snapshot() map[string]time.Time {
	out := make(map[string]time.Time)
	r.peers.Range(func(key, value interface{}) bool {
		rec := value.(*peerRecord)
		out[key.(string)] = time.Unix(0, atomic.LoadInt64(&rec.lastSeen))
		return true
	})
	return out
}

// Count returns the number of nodes currently known to the registry.
func (r *PeerRegistry) Count() int {
	n := 0
	r.peers.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
