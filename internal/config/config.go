// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the client configuration.
//
// # Description
//
// Configuration comes from a YAML file (default ~/.pactoria/pactoria.yaml,
// written with defaults on first run), overlaid with PACTORIA_* environment
// variables and validated. Load returns a value; there is no global.
//
// Environment variables follow the section layout, for example
// PACTORIA_API_BASE_URL, PACTORIA_REALTIME_PONG_TIMEOUT or
// PACTORIA_STORAGE_PATH.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/Pactoria/internal/api"
	"github.com/AleutianAI/Pactoria/internal/drafts"
	"github.com/AleutianAI/Pactoria/internal/realtime"
	"github.com/AleutianAI/Pactoria/internal/request"
	"github.com/AleutianAI/Pactoria/internal/storage"
	"github.com/AleutianAI/Pactoria/internal/telemetry"
	"github.com/AleutianAI/Pactoria/pkg/logging"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "PACTORIA_"

// Config is the full client configuration.
type Config struct {
	API       api.Config       `yaml:"api" envPrefix:"API_"`
	Request   RequestConfig    `yaml:"request" envPrefix:"REQUEST_"`
	Realtime  realtime.Config  `yaml:"realtime" envPrefix:"REALTIME_"`
	Storage   storage.Config   `yaml:"storage" envPrefix:"STORAGE_"`
	Drafts    drafts.Config    `yaml:"drafts" envPrefix:"DRAFTS_"`
	Logging   LoggingConfig    `yaml:"logging" envPrefix:"LOG_"`
	Telemetry telemetry.Config `yaml:"telemetry" envPrefix:"OTEL_"`
}

// RequestConfig controls retry and caching of remote fetches.
type RequestConfig struct {
	RetryAttempts int           `yaml:"retry_attempts" env:"RETRY_ATTEMPTS" validate:"gte=0"`
	BaseDelay     time.Duration `yaml:"base_delay" env:"BASE_DELAY" validate:"gt=0"`
	CacheTime     time.Duration `yaml:"cache_time" env:"CACHE_TIME" validate:"gte=0"`
}

// Policy returns the retry policy.
func (r RequestConfig) Policy() request.RetryPolicy {
	return request.RetryPolicy{Attempts: r.RetryAttempts, BaseDelay: r.BaseDelay}
}

// LoggingConfig selects log level and destinations.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LEVEL" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir" env:"DIR"`
	JSON  bool   `yaml:"json" env:"JSON"`
}

// LoggerConfig converts the section into a logging.Config for service.
func (l LoggingConfig) LoggerConfig(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	return logging.Config{
		Level:   level,
		LogDir:  l.Dir,
		Service: service,
		JSON:    l.JSON,
	}, err
}

// Default returns the configuration written on first run.
func Default() Config {
	return Config{
		API: api.Config{
			BaseURL:   "http://localhost:8000",
			Timeout:   api.DefaultTimeout,
			RateLimit: 10,
			Burst:     20,
		},
		Request: RequestConfig{
			RetryAttempts: 3,
			BaseDelay:     time.Second,
			CacheTime:     request.DefaultCacheTime,
		},
		Realtime:  realtime.DefaultConfig(),
		Storage:   storage.DefaultConfig(),
		Drafts:    drafts.Config{Debounce: drafts.DefaultDebounce},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// DefaultPath returns ~/.pactoria/pactoria.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".pactoria", "pactoria.yaml"), nil
}

// Load reads the configuration.
//
// # Inputs
//
//   - path: YAML file. Empty means DefaultPath. A missing file is created
//     with Default values.
//
// # Outputs
//
//   - Config: file values over defaults, then environment over file.
//   - error: read, parse, environment or validation failure.
func Load(path string) (Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := WriteDefault(path); err != nil {
			return Config{}, err
		}
	}

	return loadFile(path)
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default, applies the environment and validates.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config file: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Request.Policy().Validate(); err != nil {
		return fmt.Errorf("invalid config: request: %w", err)
	}
	return nil
}

// WriteDefault writes Default to path, creating parent directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
