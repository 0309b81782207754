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

package publish

import (
	"encoding/json"
	"testing"
	"time"

	"syncengine/internal/grouper"
)

func TestBuildGroupMessage_CarriesMembersAndFreshID(t *testing.T) {
	g := grouper.Group{
		TGlobal: 10.5,
		Members: []grouper.Member{
			{SensorID: "a", Probability: 0.7},
			{SensorID: "b", Probability: 0.3},
		},
	}
	at := time.Unix(1700000000, 0).UTC()

	m1 := buildGroupMessage("node-a", g, at)
	m2 := buildGroupMessage("node-a", g, at)

	if m1.IdempotencyID == "" || m2.IdempotencyID == "" {
		t.Fatal("expected non-empty idempotency ids")
	}
	if m1.IdempotencyID == m2.IdempotencyID {
		t.Fatal("expected distinct idempotency ids per message")
	}
	if m1.NodeID != "node-a" || m1.TGlobal != 10.5 {
		t.Fatalf("unexpected message: %+v", m1)
	}
	if len(m1.Members) != 2 || m1.Members[0].SensorID != "a" {
		t.Fatalf("unexpected members: %+v", m1.Members)
	}

	data, err := json.Marshal(m1)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["node_id"] != "node-a" {
		t.Fatalf("unexpected json shape: %v", decoded)
	}
}
