// Copyright 2025 Blink Labs Software
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

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "voice.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// RunMode represents the operational mode of the voice core
type RunMode string

const (
	RunModeServe RunMode = "serve" // Run against a live ledger (default)
	RunModeDev   RunMode = "dev"   // Development mode (in-process mock ledger)
)

// Valid returns true if the RunMode is a known valid mode
func (m RunMode) Valid() bool {
	switch m {
	case RunModeServe, RunModeDev, "":
		return true
	default:
		return false
	}
}

// IsDevMode returns true if the mode enables development behaviors
// (in-process mock ledger, no external calls)
func (m RunMode) IsDevMode() bool {
	return m == RunModeDev
}

type Config struct {
	User            string  `yaml:"user"            envconfig:"VOICE_USER"`
	Spender         string  `yaml:"spender"         envconfig:"VOICE_SPENDER"`
	TokenAddress    string  `yaml:"tokenAddress"    envconfig:"VOICE_TOKEN_ADDRESS"`
	DataDir         string  `yaml:"dataDir"         envconfig:"VOICE_DATA_DIR"`
	PriceURL        string  `yaml:"priceUrl"        envconfig:"VOICE_PRICE_URL"`
	PriceInterval   string  `yaml:"priceInterval"   envconfig:"VOICE_PRICE_INTERVAL"`
	RefreshInterval string  `yaml:"refreshInterval" envconfig:"VOICE_REFRESH_INTERVAL"`
	ShutdownTimeout string  `yaml:"shutdownTimeout" envconfig:"VOICE_SHUTDOWN_TIMEOUT"`
	BindAddr        string  `yaml:"bindAddr"        envconfig:"VOICE_BIND_ADDR"`
	RunMode         RunMode `yaml:"runMode"         envconfig:"VOICE_RUN_MODE"`
	MetricsPort     uint    `yaml:"metricsPort"     envconfig:"VOICE_METRICS_PORT"`
	PriceEnabled    bool    `yaml:"priceEnabled"    envconfig:"VOICE_PRICE_ENABLED"`
}

var globalConfig = &Config{
	DataDir:         ".voice",
	BindAddr:        "0.0.0.0",
	MetricsPort:     12791,
	PriceInterval:   "60s",
	RefreshInterval: "15s",
	ShutdownTimeout: DefaultShutdownTimeout,
	RunMode:         RunModeServe,
	PriceEnabled:    true,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.voice/voice.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".voice", "voice.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/voice/voice.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/voice/voice.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Overlay config values onto existing defaults
		if err := yaml.Unmarshal(buf, globalConfig); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	// Process environment variables
	err := envconfig.Process("voice", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	// Validate and default RunMode
	if !globalConfig.RunMode.Valid() {
		return nil, fmt.Errorf(
			"invalid runMode: %q (must be 'serve' or 'dev')",
			globalConfig.RunMode,
		)
	}
	if globalConfig.RunMode == "" {
		globalConfig.RunMode = RunModeServe
	}

	if !globalConfig.RunMode.IsDevMode() {
		if globalConfig.User == "" {
			return nil, errors.New("no user identity configured")
		}
		if globalConfig.Spender == "" {
			return nil, errors.New("no spender identity configured")
		}
	}

	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
