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

package voice

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/clawdworks/voice/ledger"
	"github.com/clawdworks/voice/price"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	promRegistry    prometheus.Registerer
	logger          *slog.Logger
	ledgerClient    ledger.Client
	priceSource     price.Source
	dataDir         string
	tokenAddress    string
	user            ledger.Identity
	spender         ledger.Identity
	priceInterval   time.Duration
	refreshInterval time.Duration
	shutdownTimeout time.Duration
}

// ConfigOptionFunc is a type that represents functions that modify the Core config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new voice config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *Config) validate() error {
	if c.ledgerClient == nil {
		return errors.New("no ledger client configured")
	}
	if c.user == "" {
		return errors.New("no user identity configured")
	}
	if c.spender == "" {
		return errors.New("no spender identity configured")
	}
	return nil
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies the prometheus registry to register metrics with
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithLedger specifies the ledger client to read from and submit writes to
func WithLedger(client ledger.Client) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgerClient = client
	}
}

// WithUser specifies the acting user identity
func WithUser(user ledger.Identity) ConfigOptionFunc {
	return func(c *Config) {
		c.user = user
	}
}

// WithSpender specifies the staking spender identity that approvals are
// granted to
func WithSpender(spender ledger.Identity) ConfigOptionFunc {
	return func(c *Config) {
		c.spender = spender
	}
}

// WithDataDir specifies the persistent data directory to use. The default is to store everything in memory
func WithDataDir(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithPriceSource specifies the USD price source. The default is no price
// annotation at all
func WithPriceSource(source price.Source) ConfigOptionFunc {
	return func(c *Config) {
		c.priceSource = source
	}
}

// WithTokenAddress specifies the token identifier passed to the price source
func WithTokenAddress(tokenAddress string) ConfigOptionFunc {
	return func(c *Config) {
		c.tokenAddress = tokenAddress
	}
}

// WithPriceInterval specifies the price sample refresh period
func WithPriceInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.priceInterval = interval
	}
}

// WithRefreshInterval specifies the periodic snapshot refresh period. Zero
// disables periodic refresh; actions still refresh on confirmation
func WithRefreshInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.refreshInterval = interval
	}
}

// WithShutdownTimeout specifies the graceful shutdown timeout
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
