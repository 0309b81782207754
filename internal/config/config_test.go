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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsNodeIDWhenOmitted(t *testing.T) {
	cfg, err := Load([]string{"--redis-addr=127.0.0.1:6379"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NodeID == "" {
		t.Fatal("expected a generated node id when --node-id is omitted")
	}
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	cfg, err := Load([]string{"--node-id=node-a", "--heartbeat-ttl=2s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NodeID != "node-a" {
		t.Fatalf("unexpected node id: %q", cfg.NodeID)
	}
	if cfg.HeartbeatTTL != 2*time.Second {
		t.Fatalf("unexpected heartbeat ttl: %v", cfg.HeartbeatTTL)
	}
	if cfg.RedisAddr != "127.0.0.1:6379" {
		t.Fatalf("unexpected default redis addr: %q", cfg.RedisAddr)
	}
}

func TestLoad_YAMLOverlayIsOverriddenByExplicitFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync-node.yaml")
	if err := os.WriteFile(path, []byte("node-id: yaml-node\nstep-interval: 5s\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := Load([]string{"--config-yaml=" + path, "--node-id=cli-node"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NodeID != "cli-node" {
		t.Fatalf("expected explicit flag to win, got %q", cfg.NodeID)
	}
	if cfg.StepInterval != 5*time.Second {
		t.Fatalf("expected yaml default to apply, got %v", cfg.StepInterval)
	}
}
