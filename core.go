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

// Package voice wires the staking coordination core: the cached proposal
// snapshot, the allowance gate, the action coordinator, and the advisory
// price annotator, all sharing one event bus.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clawdworks/voice/allowance"
	"github.com/clawdworks/voice/coordinator"
	"github.com/clawdworks/voice/database"
	"github.com/clawdworks/voice/event"
	"github.com/clawdworks/voice/price"
	"github.com/clawdworks/voice/proposals"
)

type Core struct {
	eventBus     *event.EventBus
	db           *database.Store
	proposals    *proposals.Store
	allowance    *allowance.Gate
	coordinator  *coordinator.Coordinator
	price        *price.Annotator
	config       Config
	done         chan struct{}
	shutdownOnce sync.Once
}

func New(cfg Config) (*Core, error) {
	c := &Core{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		done:     make(chan struct{}),
	}
	if err := c.config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// Run builds and starts the core's components, then blocks until Stop is
// called
func (c *Core) Run() error {
	// Open session store
	db, err := database.New(c.config.dataDir, c.config.logger)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	c.db = db
	// Build proposal snapshot store, seeded from the session cache
	c.proposals = proposals.NewStore(proposals.StoreConfig{
		Ledger:       c.config.ledgerClient,
		EventBus:     c.eventBus,
		Logger:       c.config.logger,
		PromRegistry: c.config.promRegistry,
		Cache:        c.db,
		User:         c.config.user,
	})
	// Build allowance gate
	c.allowance = allowance.NewGate(allowance.GateConfig{
		Ledger:   c.config.ledgerClient,
		EventBus: c.eventBus,
		Logger:   c.config.logger,
		Holder:   c.config.user,
		Spender:  c.config.spender,
	})
	// Build action coordinator
	c.coordinator = coordinator.NewCoordinator(coordinator.CoordinatorConfig{
		Ledger:       c.config.ledgerClient,
		Proposals:    c.proposals,
		Allowance:    c.allowance,
		EventBus:     c.eventBus,
		Logger:       c.config.logger,
		PromRegistry: c.config.promRegistry,
		Journal:      c.db,
		User:         c.config.user,
	})
	// Start price annotator when a source is configured
	if c.config.priceSource != nil {
		c.price = price.NewAnnotator(price.AnnotatorConfig{
			Source:       c.config.priceSource,
			EventBus:     c.eventBus,
			Logger:       c.config.logger,
			PromRegistry: c.config.promRegistry,
			Token:        c.config.tokenAddress,
			Interval:     c.config.priceInterval,
		})
		c.price.Start()
	}
	// Initial snapshot refresh. Failure is not fatal: the cached snapshot
	// (possibly empty) remains visible and the periodic refresh retries.
	if err := c.proposals.Refresh(context.Background()); err != nil {
		c.config.logger.Warn(
			"initial snapshot refresh failed",
			"component", "core",
			"error", err,
		)
	}
	if err := c.allowance.Refresh(context.Background()); err != nil {
		c.config.logger.Warn(
			"initial allowance read failed",
			"component", "core",
			"error", err,
		)
	}
	if c.config.refreshInterval > 0 {
		go c.refreshLoop()
	}

	// Wait for shutdown signal
	<-c.done
	return nil
}

func (c *Core) refreshLoop() {
	ticker := time.NewTicker(c.config.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// Failures keep the previous snapshot and are already logged
			_ = c.proposals.Refresh(context.Background())
		}
	}
}

func (c *Core) Stop() error {
	var err error
	c.shutdownOnce.Do(func() {
		err = c.shutdown()
	})
	return err
}

func (c *Core) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if c.config.shutdownTimeout > 0 {
		shutdownTimeout = c.config.shutdownTimeout
	}
	_, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	c.config.logger.Debug("starting graceful shutdown")

	// Phase 1: stop periodic work
	if c.price != nil {
		c.price.Stop()
	}
	close(c.done)

	// Phase 2: flush and close the session store
	if c.db != nil {
		if closeErr := c.db.Close(); closeErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("session store close: %w", closeErr),
			)
		}
	}

	// Phase 3: stop event delivery
	if c.eventBus != nil {
		c.eventBus.Stop()
	}

	c.config.logger.Debug("graceful shutdown complete")
	return err
}

// EventBus returns the shared event bus
func (c *Core) EventBus() *event.EventBus {
	return c.eventBus
}

// Proposals returns the proposal snapshot store
func (c *Core) Proposals() *proposals.Store {
	return c.proposals
}

// Allowance returns the allowance gate
func (c *Core) Allowance() *allowance.Gate {
	return c.allowance
}

// Coordinator returns the action coordinator
func (c *Core) Coordinator() *coordinator.Coordinator {
	return c.coordinator
}

// Price returns the price annotator, or nil when no source is configured
func (c *Core) Price() *price.Annotator {
	return c.price
}

// Database returns the session store
func (c *Core) Database() *database.Store {
	return c.db
}
