// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/dyntarget/internal/broker"
	"github.com/relabs-tech/dyntarget/internal/config"
	"github.com/relabs-tech/dyntarget/internal/gps"
	"github.com/relabs-tech/dyntarget/internal/source"
)

// RunGPSProducer opens the GPS serial port, decodes NMEA sentences and
// publishes each combined fix as JSON to TOPIC_GPS, where an agent with
// SOURCE=mqtt picks it up. It runs until ctx is cancelled or the port fails.
func RunGPSProducer(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	client, err := broker.Connect(brokerOptions(cfg, "gps-producer"), log.Named("mqtt"))
	if err != nil {
		return err
	}
	defer client.Disconnect(disconnectQuiesce)

	opts := source.SerialOptions(cfg.GPSSerialPort, cfg.GPSBaudRate)
	port, err := serial.Open(opts)
	if err != nil {
		return fmt.Errorf("open GPS serial port %s: %w", opts.PortName, err)
	}
	log.Info("GPS serial port opened",
		zap.String("port", opts.PortName),
		zap.Uint("baud", opts.BaudRate))

	// Closing the port unblocks the reader on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = port.Close() })
	defer func() {
		if stop() {
			_ = port.Close()
		}
	}()

	err = produceFixes(port, fixPublisher(client, cfg.TopicGPS), log)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// fixPublisher publishes retained so a late subscriber gets the newest fix at once.
func fixPublisher(client mqtt.Client, topic string) func(gps.Fix) error {
	return func(f gps.Fix) error {
		payload, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshal GPS fix: %w", err)
		}
		token := client.Publish(topic, 0, true, payload)
		token.Wait()
		return token.Error()
	}
}

// produceFixes decodes lines from r and hands every fix to publish until r fails.
// Publish errors are logged and the next fix is tried.
func produceFixes(r io.Reader, publish func(gps.Fix) error, log *zap.Logger) error {
	reader := bufio.NewReader(r)
	var dec gps.Decoder

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("GPS read: %w", err)
		}

		fix, ok := dec.Feed(line)
		if !ok {
			continue
		}

		if err := publish(fix); err != nil {
			log.Warn("GPS publish error", zap.Error(err))
			continue
		}
		log.Debug("Published GPS fix",
			zap.String("validity", fix.Validity),
			zap.Float64("lat", fix.Latitude),
			zap.Float64("lon", fix.Longitude))
	}
}
