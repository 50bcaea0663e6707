// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/dyntarget/internal/broker"
	"github.com/relabs-tech/dyntarget/internal/config"
	"github.com/relabs-tech/dyntarget/internal/gps"
	"github.com/relabs-tech/dyntarget/internal/store"
)

const unsubscribeTimeout = 2 * time.Second

// RunConsole prints every update of the shared target document, and the
// upstream fixes when the agent reads them from MQTT, until ctx is cancelled.
func RunConsole(ctx context.Context, cfg *config.Config, log *zap.Logger, out io.Writer) error {
	client, err := broker.Connect(brokerOptions(cfg, "console"), log.Named("mqtt"))
	if err != nil {
		return err
	}
	defer client.Disconnect(disconnectQuiesce)

	topics := map[string]mqtt.MessageHandler{
		cfg.TopicTarget: func(_ mqtt.Client, msg mqtt.Message) {
			line, err := formatDocument(msg.Payload())
			if err != nil {
				log.Warn("Target unmarshal error", zap.Error(err))
				return
			}
			_, _ = fmt.Fprintln(out, line)
		},
	}
	if cfg.Source == config.SourceMQTT {
		topics[cfg.TopicGPS] = func(_ mqtt.Client, msg mqtt.Message) {
			line, err := formatFix(msg.Payload())
			if err != nil {
				log.Warn("GPS unmarshal error", zap.Error(err))
				return
			}
			_, _ = fmt.Fprintln(out, line)
		}
	}

	for topic, handler := range topics {
		token := client.Subscribe(topic, 1, handler)
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		log.Info("Subscribed", zap.String("topic", topic))
	}

	<-ctx.Done()
	log.Info("Console shutting down")

	for topic := range topics {
		client.Unsubscribe(topic).WaitTimeout(unsubscribeTimeout)
	}
	return nil
}

func formatDocument(payload []byte) (string, error) {
	var doc store.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", err
	}
	return fmt.Sprintf("[TARGET] lat=%.6f lon=%.6f updated=%s",
		doc.Target.Latitude, doc.Target.Longitude, doc.UpdatedAt.Format(time.RFC3339)), nil
}

func formatFix(payload []byte) (string, error) {
	var f gps.Fix
	if err := json.Unmarshal(payload, &f); err != nil {
		return "", err
	}
	return fmt.Sprintf("[GPS ]  time=%s date=%s lat=%.6f lon=%.6f speed=%.1fkn course=%.1f° validity=%s sats=%d",
		f.Time, f.Date, f.Latitude, f.Longitude, f.SpeedKnots, f.CourseDeg, f.Validity, f.Satellites), nil
}
