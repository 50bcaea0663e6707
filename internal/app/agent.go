// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package app wires configuration, sources, stores and the scheduler into
// the runnable agent, the fix producer and the console.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/dyntarget/internal/broker"
	"github.com/relabs-tech/dyntarget/internal/config"
	"github.com/relabs-tech/dyntarget/internal/controller"
	"github.com/relabs-tech/dyntarget/internal/gps"
	"github.com/relabs-tech/dyntarget/internal/source"
	"github.com/relabs-tech/dyntarget/internal/store"
	"github.com/relabs-tech/dyntarget/internal/tracking"
)

const (
	disconnectQuiesce = 250 // milliseconds

	serverReadHeaderTimeout = 10 * time.Second
	serverIdleTimeout       = 60 * time.Second
)

// RunAgent runs the position agent until ctx is cancelled: tracking resumes
// if it was on at the last shutdown, and the web surface serves control,
// the state stream and metrics.
func RunAgent(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	var client mqtt.Client
	if cfg.UsesMQTT() {
		c, err := broker.Connect(brokerOptions(cfg, "agent"), log.Named("mqtt"))
		if err != nil {
			return err
		}
		client = c
		defer client.Disconnect(disconnectQuiesce)
	}

	src, err := newSource(cfg, client, log)
	if err != nil {
		return err
	}

	st, closeStore, err := newStore(ctx, cfg, client)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	metrics, shutdownMetrics, err := newMetrics(registry)
	if err != nil {
		return err
	}
	defer shutdownMetrics()

	sched := tracking.New(src, st, schedulerOptions(cfg, log, metrics)...)
	ctl := controller.New(sched, cfg.PrefsPath, log.Named("controller"))
	if err := ctl.Restore(ctx); err != nil {
		// The operator can retry from the UI; the agent keeps serving.
		log.Warn("Could not resume position tracking", zap.Error(err))
	}

	web := NewWeb(ctl, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), log.Named("web"))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           web.Router(),
		ReadHeaderTimeout: serverReadHeaderTimeout,
		IdleTimeout:       serverIdleTimeout,
	}
	server.RegisterOnShutdown(web.Close)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Web server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down agent...", zap.Duration("grace", cfg.ShutdownGrace))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()

		// Shutdown bypasses the controller so the saved preference still
		// says whether tracking was on.
		if err := sched.Shutdown(shutdownCtx); err != nil {
			log.Warn("Publish cycle cancelled at shutdown", zap.Error(err))
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		log.Info("Agent shutdown complete")
		return nil
	})

	return g.Wait()
}

func brokerOptions(cfg *config.Config, role string) broker.Options {
	return broker.Options{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Role:     role,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	}
}

func schedulerOptions(cfg *config.Config, log *zap.Logger, metrics *tracking.Metrics) []tracking.Option {
	policy := tracking.FinishInFlight
	if cfg.StopPolicy == config.StopCancel {
		policy = tracking.CancelInFlight
	}
	return []tracking.Option{
		tracking.WithMinInterval(cfg.MinPublishInterval),
		tracking.WithSamplingInterval(cfg.SampleInterval),
		tracking.WithPublishTimeout(cfg.PublishTimeout),
		tracking.WithStopPolicy(policy),
		tracking.WithLogger(log.Named("tracking")),
		tracking.WithMetrics(metrics),
	}
}

// newSource builds the configured position source. client is only used
// by the MQTT source and may be nil otherwise.
func newSource(cfg *config.Config, client mqtt.Client, log *zap.Logger) (source.Source, error) {
	switch cfg.Source {
	case config.SourceSerial:
		return source.NewSerialSource(cfg.GPSSerialPort, cfg.GPSBaudRate, log), nil
	case config.SourceMQTT:
		if client == nil {
			return nil, fmt.Errorf("source %s needs an MQTT client", cfg.Source)
		}
		return source.NewMQTTSource(client, cfg.TopicGPS, log), nil
	case config.SourceMock:
		return source.NewMockSource(gps.Position{
			Latitude:  cfg.MockCenterLat,
			Longitude: cfg.MockCenterLon,
		}), nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// newStore builds the configured remote store and a func that releases it.
func newStore(ctx context.Context, cfg *config.Config, client mqtt.Client) (store.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMQTT:
		if client == nil {
			return nil, nil, fmt.Errorf("store %s needs an MQTT client", cfg.Store)
		}
		return store.NewMQTTStore(client, cfg.TopicTarget), func() {}, nil
	case config.StorePostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.PostgresDSN, cfg.DocumentID)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// newMetrics exports the scheduler instruments to registry.
func newMetrics(registry *prometheus.Registry) (*tracking.Metrics, func(), error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	shutdown := func() { _ = provider.Shutdown(context.Background()) }

	metrics, err := tracking.NewMetrics(provider)
	if err != nil {
		shutdown()
		return nil, nil, fmt.Errorf("create scheduler metrics: %w", err)
	}
	return metrics, shutdown, nil
}
