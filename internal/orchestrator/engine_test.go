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

package orchestrator

import (
	"context"
	"math"
	"testing"
	"time"

	"syncengine/internal/grouper"
	"syncengine/pkg/kvstore"
)

func putObservation(t *testing.T, store kvstore.Store, key string, fields kvstore.Record) {
	t.Helper()
	order := []string{"sensor_id", "sensor_type", "t_local", "sigma", "payload_ref"}
	if err := store.Set(context.Background(), key, kvstore.EncodeRecord(order, fields)); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

// Scenario 1: empty store.
func TestStep_EmptyStoreReturnsEmptyGroups(t *testing.T) {
	store := kvstore.NewMemStore()
	e := NewEngine(store, "node-a", time.Second)

	groups, err := e.Step(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("expected no groups, got %d", len(groups))
	}
}

func TestStep_NonLeaderReturnsNilWithoutTouchingStore(t *testing.T) {
	store := kvstore.NewMemStore()
	leader := NewEngine(store, "node-a", time.Second)
	follower := NewEngine(store, "node-b", time.Second)

	if _, err := leader.Step(context.Background()); err != nil {
		t.Fatalf("leader step: %v", err)
	}

	putObservation(t, store, "obs:s:1", kvstore.Record{"sensor_id": "s", "t_local": "10.0", "sigma": "0.01"})

	groups, err := follower.Step(context.Background())
	if err != nil {
		t.Fatalf("follower step: %v", err)
	}
	if groups != nil {
		t.Fatalf("expected nil groups for a non-leader step, got %+v", groups)
	}
}

// Scenario 2, via the full orchestrated path.
func TestStep_SingleObservationYieldsOneGroup(t *testing.T) {
	store := kvstore.NewMemStore()
	e := NewEngine(store, "node-a", time.Second)

	putObservation(t, store, "obs:s:10000000000", kvstore.Record{
		"sensor_id": "s", "t_local": "10.0", "sigma": "0.01",
	})

	groups, err := e.Step(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d: %+v", len(groups), groups)
	}
	if len(groups[0].Members) != 1 || groups[0].Members[0].Probability != 1.0 {
		t.Fatalf("unexpected members: %+v", groups[0].Members)
	}

	data, ok, err := store.Get(context.Background(), "sync:state:s")
	if err != nil || !ok {
		t.Fatalf("expected sync state written back: ok=%v err=%v", ok, err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty sync state record")
	}
}

// Idempotence (spec §4.6): calling Step twice back-to-back with no new
// observations yields a stable grouping.
func TestStep_IdempotentAcrossConsecutiveCalls(t *testing.T) {
	store := kvstore.NewMemStore()
	e := NewEngine(store, "node-a", time.Second)

	putObservation(t, store, "obs:a:1", kvstore.Record{"sensor_id": "a", "t_local": "10.0", "sigma": "0.01"})
	putObservation(t, store, "obs:b:1", kvstore.Record{"sensor_id": "b", "t_local": "10.02", "sigma": "0.01"})

	first, err := e.Step(context.Background())
	if err != nil {
		t.Fatalf("first step: %v", err)
	}
	second, err := e.Step(context.Background())
	if err != nil {
		t.Fatalf("second step: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("group count changed across idempotent calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if len(first[i].Members) != len(second[i].Members) {
			t.Fatalf("member count changed for group %d", i)
		}
	}
}

func TestStep_InvalidObservationIsSkippedNotFatal(t *testing.T) {
	store := kvstore.NewMemStore()
	e := NewEngine(store, "node-a", time.Second)

	putObservation(t, store, "obs:bad:1", kvstore.Record{"sensor_id": "bad", "t_local": "10.0", "sigma": "-1"})
	putObservation(t, store, "obs:good:1", kvstore.Record{"sensor_id": "good", "t_local": "10.0", "sigma": "0.01"})

	groups, err := e.Step(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	total := 0
	for _, g := range groups {
		total += len(g.Members)
	}
	if total != 1 {
		t.Fatalf("expected only the well-formed observation grouped, got %d members", total)
	}
}

// A sensor with two concurrently-live observations (spec §4.2's
// obs:<sensor_id>:<t_local_ns> key layout permits this) must have each
// observation's own t_local/sigma routed back to syncfilter.Update, not
// an arbitrary one of the two sharing the sensor_id.
func TestStep_DuplicateSensorObservationsFeedbackCorrectObservation(t *testing.T) {
	store := kvstore.NewMemStore()
	e := NewEngine(store, "node-a", time.Second)

	putObservation(t, store, "obs:s:1", kvstore.Record{"sensor_id": "s", "t_local": "10.0", "sigma": "0.01"})
	putObservation(t, store, "obs:s:2", kvstore.Record{"sensor_id": "s", "t_local": "20.0", "sigma": "0.01"})

	groups, err := e.Step(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected the two far-apart observations to land in separate groups, got %d: %+v", len(groups), groups)
	}

	data, ok, err := store.Get(context.Background(), "sync:state:s")
	if err != nil || !ok {
		t.Fatalf("expected sync state written back: ok=%v err=%v", ok, err)
	}
	r := kvstore.DecodeRecord(data)
	offsetMean, err := r.Float64("offset_mean")
	if err != nil {
		t.Fatalf("decode offset_mean: %v", err)
	}
	// Both observations had probability 1 in their own singleton group, so
	// each Update call had y = tHat - tLocal = 0. If feedback had instead
	// been routed through a single clobbered observation for both updates
	// (e.g. always t_local=20.0), the second update's innovation would be
	// t_global(10.0) - 20.0 = -10.0, driving offset_mean sharply negative.
	if math.Abs(offsetMean) > 0.01 {
		t.Fatalf("expected offset_mean to stay near zero, got %v (feedback likely routed to the wrong observation)", offsetMean)
	}
}

type fakeSink struct {
	called bool
	groups []grouper.Group
}

func (f *fakeSink) PublishGroups(_ context.Context, _ string, groups []grouper.Group) error {
	f.called = true
	f.groups = groups
	return nil
}

func (f *fakeSink) ArchiveGroups(_ context.Context, _ string, groups []grouper.Group) error {
	f.called = true
	f.groups = groups
	return nil
}

func TestStep_InvokesPublisherAndArchiver(t *testing.T) {
	store := kvstore.NewMemStore()
	pub := &fakeSink{}
	arc := &fakeSink{}
	e := NewEngine(store, "node-a", time.Second, WithPublisher(pub), WithArchiver(arc))

	putObservation(t, store, "obs:s:1", kvstore.Record{"sensor_id": "s", "t_local": "10.0", "sigma": "0.01"})

	if _, err := e.Step(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pub.called || !arc.called {
		t.Fatalf("expected publisher and archiver both invoked: pub=%v arc=%v", pub.called, arc.called)
	}
	if len(pub.groups) != 1 {
		t.Fatalf("expected publisher to see 1 group, got %d", len(pub.groups))
	}
}
