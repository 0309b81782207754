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

// Package publish fans each step's computed groups out to a Kafka topic
// for downstream consumers (dashboards, analytics) that want fresh
// groupings without polling the key/value store. Publication is one-way
// and best-effort: the engine never reads a group back, so a publish
// failure never affects step() correctness (spec §4.6 is unaffected by
// this package entirely).
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"syncengine/internal/grouper"
)

// groupMessage is the wire shape published for each group.
type groupMessage struct {
	IdempotencyID string    `json:"idempotency_id"`
	NodeID        string    `json:"node_id"`
	TGlobal       float64   `json:"t_global"`
	Members       []member  `json:"members"`
	PublishedAt   time.Time `json:"published_at"`
}

type member struct {
	SensorID    string  `json:"sensor_id"`
	Probability float64 `json:"probability"`
}

// KafkaPublisher publishes each group from a step as an individual JSON
// message, keyed by a fresh idempotency id (adapted from
// persistence/shim.go's per-call idempotency-id generator, using
// google/uuid rather than hand-rolled crypto/rand hex).
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// NewKafkaPublisher dials the given seed brokers with an idempotent
// producer (spec-adjacent: mirrors persistence/kafka.go's requirement
// that "idempotent producer ON" with acks=all). franz-go producers are
// idempotent by default, so there is no explicit enable knob here — only
// acks=all is set.
func NewKafkaPublisher(seedBrokers []string, topic string) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seedBrokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("publish: dial kafka: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic}, nil
}

// PublishGroups implements orchestrator.Publisher.
func (k *KafkaPublisher) PublishGroups(ctx context.Context, nodeID string, groups []grouper.Group) error {
	now := time.Now().UTC()
	for _, g := range groups {
		msg := buildGroupMessage(nodeID, g, now)
		value, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("publish: marshal group: %w", err)
		}
		record := &kgo.Record{Topic: k.topic, Key: []byte(msg.IdempotencyID), Value: value}
		if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
			return fmt.Errorf("publish: produce: %w", err)
		}
	}
	return nil
}

func buildGroupMessage(nodeID string, g grouper.Group, at time.Time) groupMessage {
	msg := groupMessage{
		IdempotencyID: uuid.NewString(),
		NodeID:        nodeID,
		TGlobal:       g.TGlobal,
		PublishedAt:   at,
	}
	for _, m := range g.Members {
		msg.Members = append(msg.Members, member{SensorID: m.SensorID, Probability: m.Probability})
	}
	return msg
}

// Close releases the underlying Kafka client.
func (k *KafkaPublisher) Close() { k.client.Close() }
