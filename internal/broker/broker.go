// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package broker connects to the MQTT broker shared by the agent's sources and stores.
package broker

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

// Options describes one broker connection.
type Options struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string // generated from Role when empty
	Role     string // "agent", "console", ...
	Username string
	Password string
}

// clientID returns the configured client ID, or a unique one derived from the role.
func (o Options) clientID() string {
	if o.ClientID != "" {
		return o.ClientID
	}
	role := o.Role
	if role == "" {
		role = "client"
	}
	return fmt.Sprintf("dyntarget-%s-%s", role, uuid.NewString()[:8])
}

// Connect opens a client with auto-reconnect enabled and waits for the
// first connection.
func Connect(opts Options, log *zap.Logger) (mqtt.Client, error) {
	if log == nil {
		log = zap.NewNop()
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.clientID()).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(connectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("MQTT connection lost", zap.String("broker", opts.Broker), zap.Error(err))
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			log.Info("connected to MQTT broker", zap.String("broker", opts.Broker))
		})
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("MQTT connect to %s: timed out after %s", opts.Broker, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT connect to %s: %w", opts.Broker, err)
	}
	return client, nil
}
