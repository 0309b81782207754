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
	"testing"
	"time"

	"syncengine/pkg/kvstore"
)

func TestCheck_FirstNodeBecomesLeader(t *testing.T) {
	store := kvstore.NewMemStore()
	c := New(store, "node-a", time.Second)

	role, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role != Leader {
		t.Fatalf("expected Leader, got %v", role)
	}
}

// I5/P5: at most one node can hold the lease at once.
func TestCheck_SecondNodeStaysFollower(t *testing.T) {
	store := kvstore.NewMemStore()
	a := New(store, "node-a", time.Second)
	b := New(store, "node-b", time.Second)

	roleA, err := a.Check(context.Background())
	if err != nil || roleA != Leader {
		t.Fatalf("node-a: role=%v err=%v", roleA, err)
	}
	roleB, err := b.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if roleB != Follower {
		t.Fatalf("expected node-b to stay Follower, got %v", roleB)
	}
}

func TestCheck_LeaderRenewsLease(t *testing.T) {
	store := kvstore.NewMemStore()
	a := New(store, "node-a", time.Second)

	if _, err := a.Check(context.Background()); err != nil {
		t.Fatalf("first check: %v", err)
	}
	role, err := a.Check(context.Background())
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if role != Leader {
		t.Fatalf("expected renewal to keep leadership, got %v", role)
	}
}

// Scenario 6: after the lease is deleted, another node takes over.
func TestCheck_TakeoverAfterLeaseDeleted(t *testing.T) {
	store := kvstore.NewMemStore()
	a := New(store, "node-a", time.Second)
	b := New(store, "node-b", time.Second)

	if _, err := a.Check(context.Background()); err != nil {
		t.Fatalf("node-a check: %v", err)
	}
	if role, err := b.Check(context.Background()); err != nil || role != Follower {
		t.Fatalf("expected node-b Follower before takeover, got role=%v err=%v", role, err)
	}

	if err := store.Delete(context.Background(), "election:master"); err != nil {
		t.Fatalf("delete lease: %v", err)
	}

	role, err := b.Check(context.Background())
	if err != nil {
		t.Fatalf("takeover check: %v", err)
	}
	if role != Leader {
		t.Fatalf("expected node-b to take over leadership, got %v", role)
	}
}

func TestCheck_LeaseExpiryAllowsTakeover(t *testing.T) {
	store := kvstore.NewMemStore()
	a := New(store, "node-a", 10*time.Millisecond)
	b := New(store, "node-b", time.Second)

	if _, err := a.Check(context.Background()); err != nil {
		t.Fatalf("node-a check: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	role, err := b.Check(context.Background())
	if err != nil {
		t.Fatalf("node-b check after expiry: %v", err)
	}
	if role != Leader {
		t.Fatalf("expected node-b to acquire expired lease, got %v", role)
	}
}

func TestResign_ReleasesLease(t *testing.T) {
	store := kvstore.NewMemStore()
	a := New(store, "node-a", time.Second)
	b := New(store, "node-b", time.Second)

	if _, err := a.Check(context.Background()); err != nil {
		t.Fatalf("node-a check: %v", err)
	}
	if err := a.Resign(context.Background()); err != nil {
		t.Fatalf("resign: %v", err)
	}
	role, err := b.Check(context.Background())
	if err != nil {
		t.Fatalf("node-b check: %v", err)
	}
	if role != Leader {
		t.Fatalf("expected node-b to acquire lease after resignation, got %v", role)
	}
}

func TestPeerRegistry_RefreshAndSnapshot(t *testing.T) {
	store := kvstore.NewMemStore()
	a := New(store, "node-a", time.Second)
	if _, err := a.Check(context.Background()); err != nil {
		t.Fatalf("node-a check: %v", err)
	}

	registry := NewPeerRegistry()
	if err := registry.Refresh(context.Background(), store); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if registry.Count() != 1 {
		t.Fatalf("expected 1 peer, got %d", registry.Count())
	}
	snap := registry.Snapshot()
	if _, ok := snap["node-a"]; !ok {
		t.Fatalf("expected node-a in snapshot, got %+v", snap)
	}
}

func TestPeerRegistry_DropsExpiredPeers(t *testing.T) {
	store := kvstore.NewMemStore()
	a := New(store, "node-a", 10*time.Millisecond)
	if _, err := a.Check(context.Background()); err != nil {
		t.Fatalf("node-a check: %v", err)
	}

	registry := NewPeerRegistry()
	if err := registry.Refresh(context.Background(), store); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if registry.Count() != 1 {
		t.Fatalf("expected 1 peer, got %d", registry.Count())
	}

	time.Sleep(30 * time.Millisecond)
	if err := registry.Refresh(context.Background(), store); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if registry.Count() != 0 {
		t.Fatalf("expected expired peer dropped, got %d", registry.Count())
	}
}
