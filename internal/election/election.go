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

// Package election implements the single-key renewable lease that
// guarantees at-most-one active Sync Engine leader per cluster (spec
// §4.5). It relies on nothing but the Store's SetIfAbsentWithTTL
// atomicity; there is no external consensus protocol.
package election

import (
	"context"
	"time"

	"syncengine/internal/telemetry"
	"syncengine/pkg/kvstore"
)

const (
	masterKey    = "election:master"
	heartbeatKey = "election:bully:hb:"
)

// Role is this node's position in the Follower → Candidate → Leader →
// Follower state machine (spec §4.5). Candidate is transient: a single
// Check call either lands on Leader (lease acquired) or Follower (lease
// held elsewhere or contended), so it is never observed between calls.
type Role int

const (
	Follower Role = iota
	Leader
)

func (r Role) String() string {
	if r == Leader {
		return "leader"
	}
	return "follower"
}

// Coordinator tracks this node's election role against a shared store.
// It is not safe for concurrent Check calls from multiple goroutines —
// the same restriction the orchestrator places on Step (spec §5: "each
// node is single-threaded with respect to step()").
type Coordinator struct {
	store      kvstore.Store
	nodeID     string
	leaseTTL   time.Duration
	role       Role
}

// New returns a Coordinator that starts as a Follower. nodeID must be
// non-empty and unique per node within the cluster (spec §6 construction
// contract).
func New(store kvstore.Store, nodeID string, leaseTTL time.Duration) *Coordinator {
	return &Coordinator{store: store, nodeID: nodeID, leaseTTL: leaseTTL, role: Follower}
}

// Role reports the coordinator's role as of the last Check.
func (c *Coordinator) Role() Role { return c.role }

// Check runs one election step (spec §4.5) and returns the resulting
// role. A Follower attempts to acquire the lease; a Leader renews it. Any
// store error is returned unwrapped (kvstore.ErrStoreUnavailable or a
// *kvstore.StoreError) and leaves the coordinator demoted to Follower,
// per spec §4.5 failure semantics ("store unavailable ⇒ stay/become
// Follower, return empty").
func (c *Coordinator) Check(ctx context.Context) (Role, error) {
	switch c.role {
	case Leader:
		return c.renew(ctx)
	default:
		return c.acquire(ctx)
	}
}

func (c *Coordinator) acquire(ctx context.Context) (Role, error) {
	done := telemetry.TimeStoreOp("set_if_absent_with_ttl")
	acquired, err := c.store.SetIfAbsentWithTTL(ctx, masterKey, []byte(c.nodeID), c.leaseTTL)
	done()
	if err != nil {
		c.role = Follower
		return Follower, err
	}
	if acquired {
		if err := c.writeHeartbeat(ctx); err != nil {
			c.role = Follower
			return Follower, err
		}
		c.role = Leader
		return Leader, nil
	}
	c.role = Follower
	return Follower, nil
}

// renew re-asserts the lease. It is not atomic compare-and-swap against
// the current value — spec §4.5 describes renewal as "re-setting
// election:master = node_id". It reads the key first and only re-sets it
// if it still holds this node's id; if another node has taken the lease
// since our last Check (clock skew, partition), or it has lapsed, renew
// demotes instead of clobbering it. The read and the write are two
// separate store calls.
func (c *Coordinator) renew(ctx context.Context) (Role, error) {
	value, ok, err := c.store.Get(ctx, masterKey)
	if err != nil {
		c.role = Follower
		return Follower, err
	}
	if !ok || string(value) != c.nodeID {
		// Lease lapsed or was claimed by another node; demote without
		// side effects (spec §4.5: "If renewal fails ... demote to
		// Follower without side effects").
		c.role = Follower
		return Follower, nil
	}
	if err := c.store.SetWithTTL(ctx, masterKey, []byte(c.nodeID), c.leaseTTL); err != nil {
		c.role = Follower
		return Follower, err
	}
	if err := c.writeHeartbeat(ctx); err != nil {
		c.role = Follower
		return Follower, err
	}
	return Leader, nil
}

func (c *Coordinator) writeHeartbeat(ctx context.Context) error {
	return c.store.SetWithTTL(ctx, heartbeatKey+c.nodeID, []byte(time.Now().UTC().Format(time.RFC3339Nano)), c.leaseTTL)
}

// Resign releases the lease immediately if this node currently holds it,
// so another node's next Check can take over without waiting for the
// lease to expire. Used on graceful shutdown; not part of the spec's
// normal control flow.
func (c *Coordinator) Resign(ctx context.Context) error {
	if c.role != Leader {
		return nil
	}
	value, ok, err := c.store.Get(ctx, masterKey)
	if err != nil {
		return err
	}
	if ok && string(value) == c.nodeID {
		if err := c.store.Delete(ctx, masterKey); err != nil {
			return err
		}
	}
	c.role = Follower
	return nil
}
