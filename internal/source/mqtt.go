// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/dyntarget/internal/gps"
)

const unsubscribeTimeout = 2 * time.Second

// MQTTSource follows gps.Fix JSON messages published by an upstream GPS producer.
type MQTTSource struct {
	client mqtt.Client
	topic  string
	log    *zap.Logger
	slot   slot
}

// NewMQTTSource listens on topic over an already connected client.
func NewMQTTSource(client mqtt.Client, topic string, log *zap.Logger) *MQTTSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &MQTTSource{client: client, topic: topic, log: log.Named("mqtt-source")}
}

// Subscribe subscribes to the fix topic and streams the latest valid fix every interval.
func (s *MQTTSource) Subscribe(ctx context.Context, interval time.Duration, onSample func(gps.Position)) error {
	s.slot.mu.Lock()
	defer s.slot.mu.Unlock()
	if s.slot.sub != nil {
		return ErrAlreadySubscribed
	}

	var last latest
	token := s.client.Subscribe(s.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var f gps.Fix
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			s.log.Warn("gps unmarshal error", zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		if f.Valid() {
			last.set(f.Position())
		}
	})
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.topic, err)
		}
	case <-ctx.Done():
		// The broker may still complete the request; withdraw it so the
		// topic is not left subscribed with nobody reading.
		s.unsubscribeTopic()
		return fmt.Errorf("subscribe %s: %w", s.topic, ctx.Err())
	}
	s.log.Info("subscribed to GPS topic", zap.String("topic", s.topic))

	sub, subCtx := newSubscription()
	sub.release = s.unsubscribeTopic
	sub.goRun(func() { emitEvery(subCtx, interval, &last, onSample) })

	s.slot.sub = sub
	return nil
}

// Unsubscribe stops following the topic.
func (s *MQTTSource) Unsubscribe() {
	s.slot.unsubscribe()
}

func (s *MQTTSource) unsubscribeTopic() {
	if !s.client.Unsubscribe(s.topic).WaitTimeout(unsubscribeTimeout) {
		s.log.Warn("unsubscribe timed out", zap.String("topic", s.topic))
	}
}
