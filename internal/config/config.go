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

// Package config defines the sync-node's flag set and an optional
// --config-yaml overlay, the same two-stage pattern
// (cmd/timemachine/main.go's findConfigYAML + applyYAMLDefaults) that lets
// a YAML file supply defaults while the command line still wins.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds every sync-node flag. The Python SyncEngine constructor
// signature (redis_url, node_id, heartbeat_ttl) is preserved as
// RedisAddr/NodeID/HeartbeatTTL.
type Config struct {
	RedisAddr         string
	NodeID            string
	HeartbeatTTL      time.Duration
	StepInterval      time.Duration
	PeerSweepInterval time.Duration

	KafkaBrokers string
	KafkaTopic   string

	PostgresConnString string
	JSONLPath          string

	MetricsEnabled bool
	MetricsAddr    string

	AdminAddr string

	ConfigYAML string
}

// RegisterFlags binds every Config field onto fs, so parsing fs writes
// straight into cfg. Kept separate from Load so tests can register flags
// onto a scratch FlagSet without touching the global flag.CommandLine.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "127.0.0.1:6379", "address of the Redis-backed key/value store")
	fs.StringVar(&cfg.NodeID, "node-id", "", "this node's identity for leader election and publication (defaults to a generated id)")
	fs.DurationVar(&cfg.HeartbeatTTL, "heartbeat-ttl", 5*time.Second, "election lease and heartbeat TTL")
	fs.DurationVar(&cfg.StepInterval, "step-interval", time.Second, "how often to run a Step")
	fs.DurationVar(&cfg.PeerSweepInterval, "peer-sweep-interval", 2*time.Second, "how often to refresh the peer heartbeat registry")

	fs.StringVar(&cfg.KafkaBrokers, "kafka-brokers", "", "comma-separated Kafka seed brokers; empty disables publication")
	fs.StringVar(&cfg.KafkaTopic, "kafka-topic", "sync-engine.groups", "Kafka topic for published groups")

	fs.StringVar(&cfg.PostgresConnString, "postgres-dsn", "", "Postgres connection string for the audit archive; empty disables it")
	fs.StringVar(&cfg.JSONLPath, "jsonl-path", "", "file path for the JSONL group log; empty disables it")

	fs.BoolVar(&cfg.MetricsEnabled, "metrics", false, "enable Prometheus metrics")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9090", "address for the dedicated /metrics server")

	fs.StringVar(&cfg.AdminAddr, "admin-addr", ":8080", "address for the admin HTTP server (/healthz, /metrics, /last-groups)")

	fs.StringVar(&cfg.ConfigYAML, "config-yaml", "", "path to a YAML file supplying default flag values")
}

// Load parses args against a fresh Config, applying any --config-yaml
// overlay before the explicit command-line flags so the command line
// always wins.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("sync-node", flag.ContinueOnError)
	RegisterFlags(fs, cfg)

	if path := findConfigYAML(args); path != "" {
		if err := applyYAMLDefaults(fs, path); err != nil {
			return nil, fmt.Errorf("config: apply --config-yaml: %w", err)
		}
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	return cfg, nil
}

func findConfigYAML(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "--config-yaml=") {
			return strings.TrimPrefix(arg, "--config-yaml=")
		}
		if arg == "--config-yaml" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// applyYAMLDefaults reads path as a flat YAML map of flag-name -> value
// and sets each onto fs, so --config-yaml supplies defaults that explicit
// flags on the command line still override.
func applyYAMLDefaults(fs *flag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		flagName := strings.ReplaceAll(key, "_", "-")
		flagDef := fs.Lookup(flagName)
		if flagDef == nil {
			continue
		}
		if err := fs.Set(flagName, formatFlagValue(value)); err != nil {
			return fmt.Errorf("set flag %s: %w", flagName, err)
		}
	}
	return nil
}

func formatFlagValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
