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

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	order := []string{"sensor_id", "t_local", "sigma"}
	fields := Record{"sensor_id": "cam-1", "t_local": "10.02", "sigma": "0.01"}
	encoded := EncodeRecord(order, fields)
	decoded := DecodeRecord(encoded)
	for _, k := range order {
		if decoded[k] != fields[k] {
			t.Fatalf("field %q: got %q want %q", k, decoded[k], fields[k])
		}
	}
}

func TestDecodeRecord_SkipsMalformedLines(t *testing.T) {
	data := []byte("sensor_id=cam-1\nnotakeyvaluepair\nsigma=0.01\n")
	decoded := DecodeRecord(data)
	if decoded["sensor_id"] != "cam-1" || decoded["sigma"] != "0.01" {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected malformed line skipped, got %+v", decoded)
	}
}

func TestRecordFloat64_MissingField(t *testing.T) {
	r := Record{}
	if _, err := r.Float64("sigma"); err == nil {
		t.Fatal("expected error for missing field")
	}
}

func TestRecordFloat64_BadValue(t *testing.T) {
	r := Record{"sigma": "not-a-number"}
	if _, err := r.Float64("sigma"); err == nil {
		t.Fatal("expected error for unparseable field")
	}
}
