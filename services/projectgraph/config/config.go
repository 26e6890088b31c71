// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads projectgraph configuration.
//
// Values are layered: the embedded defaults, then an optional YAML file,
// then a .env file, then PROJECTGRAPH_* environment variables. The result
// is validated before use.
//
// Thread Safety:
//
//	All exported functions are safe for concurrent use. A *Config is not
//	modified after Load returns.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/projectgraph/services/projectgraph/diagnostics"
)

// =============================================================================
// Constants
// =============================================================================

// MaxYAMLFileSize is the largest config file accepted (1MB).
const MaxYAMLFileSize = 1024 * 1024

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PROJECTGRAPH_"

//go:embed defaults.yaml
var defaultYAML []byte

var configLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "projectgraph_config_load_errors_total",
	Help: "Total configuration load failures",
})

var validate = validator.New()

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// =============================================================================
// Types
// =============================================================================

// Config is the root configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Load      LoadConfig      `yaml:"load"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Cache     CacheConfig     `yaml:"cache"`
	Watch     WatchConfig     `yaml:"watch"`
}

// EngineConfig configures the build engine pool.
type EngineConfig struct {
	Dir               string        `yaml:"dir"`
	DotnetPath        string        `yaml:"dotnet_path"`
	MonoPath          string        `yaml:"mono_path"`
	BinaryLogPath     string        `yaml:"binary_log_path"`
	MinimumSDKVersion string        `yaml:"minimum_sdk_version"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// ReportingConfig holds the reporting modes of one call site.
type ReportingConfig struct {
	OnPathFailure   string `yaml:"on_path_failure" validate:"omitempty,oneof=throw log ignore"`
	OnLoaderFailure string `yaml:"on_loader_failure" validate:"omitempty,oneof=throw log ignore"`
}

// Options converts the configured names to reporting options.
func (r ReportingConfig) Options() (diagnostics.ReportingOptions, error) {
	path, err := diagnostics.ParseReportingMode(r.OnPathFailure)
	if err != nil {
		return diagnostics.ReportingOptions{}, err
	}
	loader, err := diagnostics.ParseReportingMode(r.OnLoaderFailure)
	if err != nil {
		return diagnostics.ReportingOptions{}, err
	}
	return diagnostics.ReportingOptions{OnPathFailure: path, OnLoaderFailure: loader}, nil
}

// LoadConfig configures load sessions.
type LoadConfig struct {
	Requested                         ReportingConfig   `yaml:"requested"`
	Discovered                        ReportingConfig   `yaml:"discovered"`
	GlobalProperties                  map[string]string `yaml:"global_properties"`
	Extensions                        map[string]string `yaml:"extensions" validate:"dive,keys,startswith=.,endkeys,required"`
	LoadMetadataForReferencedProjects bool              `yaml:"load_metadata_for_referenced_projects"`
	Parallelism                       int               `yaml:"parallelism" validate:"gte=1,lte=64"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// TelemetryConfig selects the metrics and trace exporter.
type TelemetryConfig struct {
	Exporter       string `yaml:"exporter" validate:"oneof=none stdout prometheus"`
	PrometheusAddr string `yaml:"prometheus_addr" validate:"required_if=Exporter prometheus"`
}

// CacheConfig configures the snapshot store.
type CacheConfig struct {
	// Dir is the badger directory. Empty disables persistence unless
	// InMemory is set.
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"in_memory"`
}

// WatchConfig configures the project file watcher.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" validate:"gt=0"`
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the embedded defaults.
func Default() *Config {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultYAML, cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// LoadOptions selects the layers Load reads.
type LoadOptions struct {
	// Path is the YAML file. Empty skips the file layer.
	Path string

	// EnvFile is a .env file. Empty tries ".env" in the working
	// directory and ignores its absence.
	EnvFile string

	// LookupEnv reads environment variables. Nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds the configuration from the embedded defaults and the
// layers named by opts.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - A read, parse or validation failure.
func Load(opts LoadOptions) (*Config, error) {
	cfg, err := load(opts)
	if err != nil {
		configLoadErrors.Inc()
		return nil, err
	}
	return cfg, nil
}

func load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.Path != "" {
		info, err := os.Stat(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", opts.Path, err)
		}
		if info.Size() > MaxYAMLFileSize {
			return nil, fmt.Errorf("config file %s: size %d exceeds %d bytes", opts.Path, info.Size(), MaxYAMLFileSize)
		}
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the config file %s: %w", opts.Path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse the config file %s: %w", opts.Path, err)
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		envFile := opts.EnvFile
		if envFile == "" {
			envFile = ".env"
			if _, err := os.Stat(envFile); err != nil {
				envFile = ""
			}
		}
		if envFile != "" {
			// Existing variables win over the file.
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("env file %s: %w", envFile, err)
			}
		}
		lookup = os.LookupEnv
	} else if opts.EnvFile != "" {
		fileEnv, err := godotenv.Read(opts.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", opts.EnvFile, err)
		}
		inner := lookup
		lookup = func(key string) (string, bool) {
			if v, ok := inner(key); ok {
				return v, true
			}
			v, ok := fileEnv[key]
			return v, ok
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags and the reporting mode names.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for _, r := range []ReportingConfig{c.Load.Requested, c.Load.Discovered} {
		if _, err := r.Options(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// applyEnv overrides cfg from PROJECTGRAPH_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("ENGINE_DIR", &cfg.Engine.Dir)
	str("DOTNET_PATH", &cfg.Engine.DotnetPath)
	str("MONO_PATH", &cfg.Engine.MonoPath)
	str("BINARY_LOG_PATH", &cfg.Engine.BinaryLogPath)
	str("MINIMUM_SDK_VERSION", &cfg.Engine.MinimumSDKVersion)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_DIR", &cfg.Logging.Dir)
	str("TELEMETRY_EXPORTER", &cfg.Telemetry.Exporter)
	str("PROMETHEUS_ADDR", &cfg.Telemetry.PrometheusAddr)
	str("CACHE_DIR", &cfg.Cache.Dir)

	if v, ok := lookup(EnvPrefix + "LOG_JSON"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sLOG_JSON: %w", EnvPrefix, err)
		}
		cfg.Logging.JSON = b
	}
	if v, ok := lookup(EnvPrefix + "PARALLELISM"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sPARALLELISM: %w", EnvPrefix, err)
		}
		cfg.Load.Parallelism = n
	}
	for _, d := range []struct {
		name string
		dst  *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", &cfg.Engine.ShutdownTimeout},
		{"WATCH_DEBOUNCE", &cfg.Watch.Debounce},
	} {
		if v, ok := lookup(EnvPrefix + d.name); ok {
			parsed, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, d.name, err)
			}
			*d.dst = parsed
		}
	}
	return nil
}
