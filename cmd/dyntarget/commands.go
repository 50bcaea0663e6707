// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relabs-tech/dyntarget/internal/app"
	"github.com/relabs-tech/dyntarget/internal/config"
	"github.com/relabs-tech/dyntarget/internal/logging"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "unknown"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "dyntarget",
		Short:         "Dynamic target position agent",
		Long:          "dyntarget samples the device position and republishes the newest sample to a shared target record, paced and without overlapping writes.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath,
		"KEY=VALUE config file; a missing default file falls back to defaults and DYNTARGET_* variables")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(opts),
		newProducerCmd(opts),
		newConsoleCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the tracking agent and its web surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWith(cmd, opts, "agent", func(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
				return app.RunAgent(ctx, cfg, log)
			})
		},
	}
}

func newProducerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "producer",
		Short: "Read NMEA from the GPS serial port and publish fixes to TOPIC_GPS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWith(cmd, opts, "producer", app.RunGPSProducer)
		},
	}
}

func newConsoleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Print updates of the shared target record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWith(cmd, opts, "console", func(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
				return app.RunConsole(ctx, cfg, log, cmd.OutOrStdout())
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := map[string]string{
				"version":  version,
				"commit":   commit,
				"go":       runtime.Version(),
				"platform": runtime.GOOS + "/" + runtime.GOARCH,
			}
			if format == "json" {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "dyntarget %s (%s) %s %s\n",
				info["version"], info["commit"], info["go"], info["platform"])
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Output format (json)")
	return cmd
}

// runWith loads config, builds the logger and runs fn until SIGINT or SIGTERM.
func runWith(cmd *cobra.Command, opts *rootOptions, name string,
	fn func(context.Context, *config.Config, *zap.Logger) error) error {
	path := opts.configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	if err := config.InitGlobal(path); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := config.Get()
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log = log.Named(name)
	log.Info("Starting dyntarget", zap.String("version", version), zap.String("command", name))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx, cfg, log); err != nil {
		log.Error("Fatal", zap.Error(err))
		return err
	}
	return nil
}
