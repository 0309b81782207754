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

// Package api implements the sync-node's admin HTTP server: liveness,
// metrics, and a debug view of the last computed groups. Adapted from the
// rate limiter's internal/ratelimiter/api/server.go — same
// ServeMux-registration-plus-ListenAndServe shape, new routes.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"syncengine/internal/election"
	"syncengine/internal/grouper"
	"syncengine/internal/telemetry"
)

// RoleReporter exposes the orchestrator's current election role.
type RoleReporter interface {
	Role() election.Role
}

// Server handles the sync-node's admin HTTP surface.
type Server struct {
	engine RoleReporter

	mu        sync.RWMutex
	lastGroups []grouper.Group
	lastRun    time.Time
}

// NewServer constructs a Server reporting on engine's role and whatever
// groups are recorded via RecordGroups.
func NewServer(engine RoleReporter) *Server {
	return &Server{engine: engine}
}

// RecordGroups stores the most recent Step result for the /last-groups
// debug endpoint. Safe for concurrent use; called from the orchestrator's
// Runner after each tick whose step returned at least one group.
func (s *Server) RecordGroups(groups []grouper.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastGroups = groups
	s.lastRun = time.Now()
}

// RegisterRoutes sets up the HTTP routes for the server on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/last-groups", s.handleLastGroups)
	if telemetry.Enabled() {
		mux.Handle("/metrics", telemetry.Handler())
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Sync-Engine-Role", s.engine.Role().String())
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type lastGroupsResponse struct {
	Role     string          `json:"role"`
	LastRun  time.Time       `json:"last_run"`
	Groups   []grouper.Group `json:"groups"`
}

func (s *Server) handleLastGroups(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := lastGroupsResponse{
		Role:    s.engine.Role().String(),
		LastRun: s.lastRun,
		Groups:  s.lastGroups,
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListenAndServe builds an HTTP server for addr with the admin routes and
// timeouts configured, and returns it without starting it. The caller
// runs its ListenAndServe and later calls Shutdown on it.
func (s *Server) ListenAndServe(addr string) *http.Server {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return httpServer
}
