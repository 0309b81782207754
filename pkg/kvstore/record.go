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

package kvstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is a self-describing UTF-8 text encoding of a flat field set
// (spec §6: "self-describing text record of key/value fields"). One field
// per line, `name=value`. This keeps observation and sync-state records
// human-readable in the store and independent of any particular binary
// framing, matching the original Python system's plain JSON-over-Redis
// wire shape closely enough to swap codecs without touching callers.
type Record map[string]string

// EncodeRecord renders fields in a stable order so two encodes of the same
// logical record produce byte-identical output.
func EncodeRecord(order []string, fields Record) []byte {
	var b strings.Builder
	for _, k := range order {
		v, ok := fields[k]
		if !ok {
			continue
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// DecodeRecord parses the `name=value` line format produced by EncodeRecord.
// Malformed lines (no '=') are skipped rather than rejecting the whole
// record, since a single stray line should not make an otherwise valid
// observation unreadable.
func DecodeRecord(data []byte) Record {
	fields := make(Record)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}
		fields[line[:idx]] = line[idx+1:]
	}
	return fields
}

// Float64 parses a field as a float64, returning an error that names the
// field on failure so callers can attribute InvalidObservation reasons.
func (r Record) Float64(name string) (float64, error) {
	v, ok := r[name]
	if !ok {
		return 0, fmt.Errorf("missing field %q", name)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", name, err)
	}
	return f, nil
}

// String returns a field's raw string value.
func (r Record) String(name string) (string, bool) {
	v, ok := r[name]
	return v, ok
}
