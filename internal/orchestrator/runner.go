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
	"log"
	"sync"
	"sync/atomic"
	"time"

	"syncengine/internal/election"
	"syncengine/internal/grouper"
	"syncengine/pkg/kvstore"
)

// Runner ticks Engine.Step on a fixed interval and periodically refreshes
// a PeerRegistry, mirroring the background commit/eviction ticker loops
// of the rate limiter's Worker (core/worker.go) — graceful Start/Stop
// over a stop channel and WaitGroup, idempotent Stop via CompareAndSwap.
type Runner struct {
	engine       *Engine
	store        kvstore.Store
	peers        *election.PeerRegistry
	stepInterval time.Duration
	peerInterval time.Duration
	onGroups     func([]grouper.Group)

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// NewRunner returns a Runner that has not yet been started. onGroups, if
// non-nil, is invoked with the result of every step that returned at
// least one group; empty results and failed steps are not passed on.
func NewRunner(engine *Engine, store kvstore.Store, stepInterval, peerInterval time.Duration, onGroups func([]grouper.Group)) *Runner {
	return &Runner{
		engine:       engine,
		store:        store,
		peers:        election.NewPeerRegistry(),
		stepInterval: stepInterval,
		peerInterval: peerInterval,
		onGroups:     onGroups,
		stopChan:     make(chan struct{}),
	}
}

// Peers exposes the runner's peer registry. The admin HTTP server does not
// read it.
func (r *Runner) Peers() *election.PeerRegistry { return r.peers }

// Start launches the background step and peer-sweep loops.
func (r *Runner) Start() {
	log.Println("orchestrator: starting runner")
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.stepLoop()
	}()
	go func() {
		defer r.wg.Done()
		r.peerSweepLoop()
	}()
}

// Stop gracefully stops the runner, releasing the election lease if this
// node currently holds it.
func (r *Runner) Stop() {
	if !atomic.CompareAndSwapUint32(&r.stopped, 0, 1) {
		return
	}
	log.Println("orchestrator: stopping runner")
	close(r.stopChan)
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.engine.Resign(ctx); err != nil {
		log.Printf("orchestrator: resign on shutdown failed: %v", err)
	}
}

func (r *Runner) stepLoop() {
	ticker := time.NewTicker(r.stepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.runStep()
		case <-r.stopChan:
			return
		}
	}
}

func (r *Runner) runStep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	groups, err := r.engine.Step(ctx)
	if err != nil {
		log.Printf("orchestrator: step failed: %v", err)
		return
	}
	if len(groups) > 0 && r.onGroups != nil {
		r.onGroups(groups)
	}
}

func (r *Runner) peerSweepLoop() {
	ticker := time.NewTicker(r.peerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := r.peers.Refresh(ctx, r.store); err != nil {
				log.Printf("orchestrator: peer registry refresh failed: %v", err)
			}
			cancel()
		case <-r.stopChan:
			return
		}
	}
}
