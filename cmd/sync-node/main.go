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

// Package main provides the entry point for a Sync Engine node.
//
// It wires the election coordinator, observation pool, soft-clustering
// grouper, and per-sensor filters into the orchestrator's Step operation,
// runs it on an interval, and optionally fans each step's groups out to
// Kafka and/or a Postgres/JSONL archive. Adapted from
// cmd/ratelimiter-api/main.go's flag-parse / start-workers /
// signal-driven graceful shutdown shape.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"syncengine/internal/api"
	"syncengine/internal/archive"
	"syncengine/internal/config"
	"syncengine/internal/grouper"
	"syncengine/internal/orchestrator"
	"syncengine/internal/publish"
	"syncengine/internal/telemetry"
	"syncengine/pkg/kvstore"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	dedicatedMetricsAddr := ""
	if cfg.MetricsAddr != cfg.AdminAddr {
		dedicatedMetricsAddr = cfg.MetricsAddr
	}
	telemetry.Enable(telemetry.Config{
		Enabled:     cfg.MetricsEnabled,
		MetricsAddr: dedicatedMetricsAddr,
	})

	store := kvstore.NewRedisStore(cfg.RedisAddr)

	var opts []orchestrator.Option

	if cfg.KafkaBrokers != "" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		pub, err := publish.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		if err != nil {
			log.Fatalf("publish: %v", err)
		}
		defer pub.Close()
		opts = append(opts, orchestrator.WithPublisher(pub))
	}

	var archivers []orchestrator.Archiver
	if cfg.PostgresConnString != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pgArchive, err := archive.NewPostgresArchive(ctx, cfg.PostgresConnString)
		cancel()
		if err != nil {
			log.Fatalf("archive: postgres: %v", err)
		}
		defer pgArchive.Close()
		archivers = append(archivers, pgArchive)
	}
	if cfg.JSONLPath != "" {
		sink, err := archive.NewJSONLSink(cfg.JSONLPath)
		if err != nil {
			log.Fatalf("archive: jsonl: %v", err)
		}
		defer sink.Close()
		archivers = append(archivers, sink)
	}
	if len(archivers) > 0 {
		opts = append(opts, orchestrator.WithArchiver(fanOutArchiver(archivers)))
	}

	engine := orchestrator.NewEngine(store, cfg.NodeID, cfg.HeartbeatTTL, opts...)

	adminServer := api.NewServer(engine)
	runner := orchestrator.NewRunner(engine, store, cfg.StepInterval, cfg.PeerSweepInterval, adminServer.RecordGroups)
	runner.Start()

	httpServer := adminServer.ListenAndServe(cfg.AdminAddr)
	go func() {
		log.Printf("sync-node: admin server listening on %s", cfg.AdminAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("sync-node: admin server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("sync-node: shutting down")
	runner.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("sync-node: admin server shutdown: %v", err)
	}
	log.Println("sync-node: stopped")
}

// fanOutArchiver lets main attach both a Postgres archive and a JSONL
// sink simultaneously without the orchestrator needing to know about
// more than one Archiver. The first failing archiver's error is
// returned, but every archiver still runs.
type fanOutArchiver []orchestrator.Archiver

func (f fanOutArchiver) ArchiveGroups(ctx context.Context, nodeID string, groups []grouper.Group) error {
	var firstErr error
	for _, a := range f {
		if err := a.ArchiveGroups(ctx, nodeID, groups); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
