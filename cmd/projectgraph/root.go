// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/projectgraph/pkg/logging"
	"github.com/AleutianAI/projectgraph/services/projectgraph/buildhost"
	"github.com/AleutianAI/projectgraph/services/projectgraph/config"
	"github.com/AleutianAI/projectgraph/services/projectgraph/progress"
	"github.com/AleutianAI/projectgraph/services/projectgraph/telemetry"
	"github.com/AleutianAI/projectgraph/services/projectgraph/worker"
)

// app carries the state shared by every subcommand.
type app struct {
	// Flags.
	configPath string
	envFile    string
	logLevel   string

	// Set by PersistentPreRunE.
	cfg     *config.Config
	logger  *slog.Logger
	closers []func(context.Context) error

	// Test overrides. Nil means the host implementation.
	launcher  buildhost.Launcher
	toolchain buildhost.Toolchain
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "projectgraph",
		Short: "Load .NET projects into a linked project graph",
		Long: `projectgraph evaluates project files with out-of-process build engines,
follows their project references and prints the resulting dependency graph.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML configuration file")
	flags.StringVar(&a.envFile, "env-file", "", "dotenv file with PROJECTGRAPH_* overrides (default ./.env when present)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newLoadCmd(a),
		newWatchCmd(a),
		newVariantCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and installs logging and telemetry.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.LoadOptions{Path: a.configPath, EnvFile: a.envFile})
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	format := logging.FormatAuto
	if cfg.Logging.JSON {
		format = logging.FormatJSON
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "projectgraph",
		Format:  format,
		Stderr:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	a.logger = logger.Slog()
	slog.SetDefault(a.logger)
	a.closers = append(a.closers, func(context.Context) error { return logger.Close() })

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.Exporter = cfg.Telemetry.Exporter
	tcfg.Writer = cmd.ErrOrStderr()
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	if cfg.Telemetry.Exporter == telemetry.ExporterPrometheus {
		addr, stop, err := telemetry.Serve(ctx, cfg.Telemetry.PrometheusAddr)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, stop)
		a.logger.Info("serving metrics", slog.String("addr", addr.String()))
	}
	return nil
}

// teardown runs the closers in reverse order.
func (a *app) teardown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newPool builds the engine pool from the configuration.
func (a *app) newPool() *buildhost.Pool {
	cfg := buildhost.Config{
		EngineDir:         a.cfg.Engine.Dir,
		DotnetPath:        a.cfg.Engine.DotnetPath,
		MonoPath:          a.cfg.Engine.MonoPath,
		BinaryLogPath:     a.cfg.Engine.BinaryLogPath,
		MinimumSDKVersion: a.cfg.Engine.MinimumSDKVersion,
		ShutdownTimeout:   a.cfg.Engine.ShutdownTimeout,
	}
	opts := []buildhost.Option{buildhost.WithLogger(a.logger)}
	if a.launcher != nil {
		opts = append(opts, buildhost.WithLauncher(a.launcher))
	}
	if a.toolchain != nil {
		opts = append(opts, buildhost.WithToolchain(a.toolchain))
	}
	return buildhost.NewPool(cfg, opts...)
}

// workerOptions converts the load configuration.
func (a *app) workerOptions() (worker.Options, error) {
	requested, err := a.cfg.Load.Requested.Options()
	if err != nil {
		return worker.Options{}, err
	}
	discovered, err := a.cfg.Load.Discovered.Options()
	if err != nil {
		return worker.Options{}, err
	}
	return worker.Options{
		Requested:                         requested,
		Discovered:                        discovered,
		GlobalProperties:                  a.cfg.Load.GlobalProperties,
		LanguageExtensions:                a.cfg.Load.Extensions,
		LoadMetadataForReferencedProjects: a.cfg.Load.LoadMetadataForReferencedProjects,
		Parallelism:                       a.cfg.Load.Parallelism,
	}, nil
}

// newWorker starts a load session over pool.
func (a *app) newWorker(pool *buildhost.Pool, opts worker.Options, extra ...worker.Option) *worker.Worker {
	options := append([]worker.Option{
		worker.WithLogger(a.logger),
		worker.WithProgress(progress.LogReporter{Logger: a.logger}),
	}, extra...)
	return worker.New(pool, opts, options...)
}

// shutdownPool stops every engine within the configured timeout.
func (a *app) shutdownPool(pool *buildhost.Pool) {
	if err := pool.Shutdown(context.Background()); err != nil {
		a.logger.Warn("build engine shutdown", slog.String("error", err.Error()))
	}
}
