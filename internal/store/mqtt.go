// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/dyntarget/internal/gps"
)

// MQTTStore keeps the document as a retained message, so late subscribers
// always read the latest target.
type MQTTStore struct {
	client mqtt.Client
	topic  string
	qos    byte
	now    func() time.Time
}

// NewMQTTStore publishes to topic over an already connected client.
func NewMQTTStore(client mqtt.Client, topic string) *MQTTStore {
	return &MQTTStore{
		client: client,
		topic:  topic,
		qos:    1,
		now:    time.Now,
	}
}

// Publish sends the retained document and waits for the broker ack or ctx.
func (s *MQTTStore) Publish(ctx context.Context, pos gps.Position) error {
	payload, err := json.Marshal(Document{Target: pos, UpdatedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	token := s.client.Publish(s.topic, s.qos, true, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", s.topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", s.topic, ctx.Err())
	}
}
