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

package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"syncengine/internal/grouper"
)

// groupRecord is the JSONL wire shape for one archived group. Kept
// separate from grouper.Group so the on-disk format doesn't move when the
// in-memory type does.
type groupRecord struct {
	NodeID     string    `json:"node_id"`
	TGlobal    float64   `json:"t_global"`
	Members    []member  `json:"members"`
	RecordedAt time.Time `json:"recorded_at"`
}

type member struct {
	SensorID    string  `json:"sensor_id"`
	Probability float64 `json:"probability"`
}

// JSONLSink is a buffered, append-only JSONL log of computed groups, for
// offline replay and debugging without standing up Postgres. Grounded on
// the rate-limiter's sinks package (SBatchFileSink/VEnvFileSink): both
// buffered JSON-line file writers with a periodic flush, here generalized
// into a single sink since groups are the only record kind this engine
// needs to log.
type JSONLSink struct {
	mu        sync.Mutex
	f         *os.File
	w         *bufio.Writer
	lastFlush time.Time
}

// NewJSONLSink opens (or creates) the file at path in append mode with a
// buffered writer. Call Close() when done.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLSink{f: f, w: bufio.NewWriterSize(f, 1<<20), lastFlush: time.Now()}, nil
}

// ArchiveGroups implements orchestrator.Archiver, writing one JSON line
// per group.
func (s *JSONLSink) ArchiveGroups(_ context.Context, nodeID string, groups []grouper.Group) error {
	if len(groups) == 0 {
		return nil
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	for _, g := range groups {
		rec := groupRecord{NodeID: nodeID, TGlobal: g.TGlobal, RecordedAt: now}
		for _, m := range g.Members {
			rec.Members = append(rec.Members, member{SensorID: m.SensorID, Probability: m.Probability})
		}
		if err := enc.Encode(&rec); err != nil {
			return err
		}
	}
	if time.Since(s.lastFlush) > 100*time.Millisecond {
		_ = s.w.Flush()
		s.lastFlush = time.Now()
	}
	return nil
}

// Flush forces buffered data to be written to disk.
func (s *JSONLSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFlush = time.Now()
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.f.Close()
}

// ReadAllGroups reads the entire group log file as a slice, for replay.
func ReadAllGroups(path string) ([]groupRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []groupRecord
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 1<<20)
	scanner.Buffer(buf, 1<<26)
	for scanner.Scan() {
		var rec groupRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err == nil {
			out = append(out, rec)
		}
	}
	return out, scanner.Err()
}
