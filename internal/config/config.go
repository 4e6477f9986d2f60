// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads swissview settings from the environment.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap/zapcore"

	"github.com/ribbitbits/swissview/inspect"
	"github.com/ribbitbits/swissview/rawlayout"
)

// Config holds the settings shared by all commands. Command-line flags take
// precedence over these values.
type Config struct {
	// LogLevel is a zap level name.
	LogLevel string `env:"SWISSVIEW_LOG_LEVEL" envDefault:"info"`
	// Layout is the path of a YAML layout file. Empty selects
	// rawlayout.DefaultLayout.
	Layout string `env:"SWISSVIEW_LAYOUT"`
	// MaxSlots caps the number of slots an inspection visits.
	MaxSlots int `env:"SWISSVIEW_MAX_SLOTS" envDefault:"16777216"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load returns the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{MaxSlots: inspect.DefaultMaxSlots}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Level(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Level parses LogLevel.
func (c Config) Level() (zapcore.Level, error) {
	l, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return l, fmt.Errorf("log level: %w", err)
	}
	return l, nil
}

// LoadLayout reads the layout file named by Layout, or returns the default
// layout when none is set.
func (c Config) LoadLayout() (rawlayout.Layout, error) {
	if c.Layout == "" {
		return rawlayout.DefaultLayout(), nil
	}
	f, err := os.Open(c.Layout)
	if err != nil {
		return rawlayout.Layout{}, err
	}
	defer f.Close()
	return rawlayout.LoadLayout(f)
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
