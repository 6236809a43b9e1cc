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

// Package node runs the staking core as a long-lived process: it wires the
// core from CLI config, serves prometheus metrics, and logs the ranked
// leaderboard as snapshots change.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	voice "github.com/clawdworks/voice"
	"github.com/clawdworks/voice/amount"
	"github.com/clawdworks/voice/event"
	"github.com/clawdworks/voice/internal/config"
	"github.com/clawdworks/voice/leaderboard"
	"github.com/clawdworks/voice/ledger"
	"github.com/clawdworks/voice/ledger/mock"
	"github.com/clawdworks/voice/price"
	"github.com/clawdworks/voice/proposals"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dev mode identities for the in-process mock ledger
const (
	devOwner   ledger.Identity = "0xD000000000000000000000000000000000000001"
	devSpender ledger.Identity = "0xD000000000000000000000000000000000000002"
)

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	// Parse shutdown timeout
	shutdownTimeout := 30 * time.Second // Default timeout
	if cfg.ShutdownTimeout != "" {
		var err error
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}
	refreshInterval, err := time.ParseDuration(cfg.RefreshInterval)
	if err != nil {
		return fmt.Errorf("invalid refresh interval: %w", err)
	}
	priceInterval, err := time.ParseDuration(cfg.PriceInterval)
	if err != nil {
		return fmt.Errorf("invalid price interval: %w", err)
	}

	// The external ledger transport is out of scope; an in-process mock
	// serves as the ledger in dev mode
	user := ledger.Identity(cfg.User)
	spender := ledger.Identity(cfg.Spender)
	if cfg.RunMode.IsDevMode() {
		if user == "" {
			user = devOwner
		}
		if spender == "" {
			spender = devSpender
		}
	}
	ledgerClient, err := buildLedgerClient(cfg, user, spender)
	if err != nil {
		return err
	}

	coreOpts := []voice.ConfigOptionFunc{
		voice.WithLogger(logger),
		voice.WithLedger(ledgerClient),
		voice.WithUser(user),
		voice.WithSpender(spender),
		voice.WithDataDir(cfg.DataDir),
		voice.WithRefreshInterval(refreshInterval),
		voice.WithShutdownTimeout(shutdownTimeout),
		// Enable metrics with default prometheus registry
		voice.WithPrometheusRegistry(prometheus.DefaultRegisterer),
	}
	if cfg.PriceEnabled && !cfg.RunMode.IsDevMode() {
		coreOpts = append(
			coreOpts,
			voice.WithPriceSource(price.NewDexScreenerSource(cfg.PriceURL)),
			voice.WithTokenAddress(cfg.TokenAddress),
			voice.WithPriceInterval(priceInterval),
		)
	}
	core, err := voice.New(voice.NewConfig(coreOpts...))
	if err != nil {
		return err
	}

	// Log the ranked leaderboard whenever a new snapshot lands
	core.EventBus().SubscribeFunc(
		proposals.SnapshotEventType,
		func(evt event.Event) {
			snapshotEvent, ok := evt.Data.(proposals.SnapshotEvent)
			if !ok {
				return
			}
			logSnapshot(logger, core, snapshotEvent)
		},
	)

	// Metrics listener
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		"serving prometheus metrics on "+fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		"component", "node",
	)
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "node",
			)
			os.Exit(1)
		}
	}()

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run core in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- core.Run()
	}()

	stopMetrics := func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")
		stopMetrics()
		if err := core.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil

	case err := <-errChan:
		stopMetrics()
		if stopErr := core.Stop(); stopErr != nil {
			logger.Error("shutdown errors occurred", "error", stopErr)
		}
		if err != nil {
			logger.Error("core error", "error", err)
		}
		return err
	}
}

// buildLedgerClient returns the configured ledger client. Only the mock is
// available; dev mode additionally seeds it with demo proposals and a
// balance so there is something to act on.
func buildLedgerClient(
	cfg *config.Config,
	user ledger.Identity,
	spender ledger.Identity,
) (ledger.Client, error) {
	mockLedger := mock.NewLedger(mock.LedgerConfig{
		Owner:   devOwner,
		Caller:  devOwner,
		Spender: spender,
	})
	if cfg.RunMode.IsDevMode() {
		ctx := context.Background()
		seedProposals := []struct {
			title       string
			description string
		}{
			{"Ship the mobile app", "Native mobile client for the platform"},
			{"Community grants", "Fund community-built integrations"},
			{"Protocol audit", "Third-party security audit of the contracts"},
		}
		for _, seed := range seedProposals {
			tx, err := mockLedger.CreateProposal(
				ctx,
				seed.title,
				seed.description,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to seed proposal: %w", err)
			}
			if err := tx.Wait(ctx); err != nil {
				return nil, fmt.Errorf("failed to seed proposal: %w", err)
			}
		}
		balance, _ := new(big.Int).SetString("1000000000000000000000000", 10)
		mockLedger.SetBalance(user, balance)
	}
	mockLedger.SetCaller(user)
	return mockLedger, nil
}

func logSnapshot(
	logger *slog.Logger,
	core *voice.Core,
	snapshotEvent proposals.SnapshotEvent,
) {
	logger.Info(
		"snapshot updated",
		"component", "node",
		"proposals", len(snapshotEvent.Proposals),
		"active", snapshotEvent.ActiveCount,
		"total_staked", amount.Abbreviate(
			snapshotEvent.TotalStaked,
			ledger.TokenDecimals,
		),
	)
	ranked := leaderboard.Rank(proposals.ActiveOnly(snapshotEvent.Proposals))
	for _, entry := range ranked {
		attrs := []any{
			"component", "node",
			"rank", entry.Rank,
			"proposal", entry.Proposal.Index,
			"title", entry.Proposal.Title,
			"staked", amount.Abbreviate(
				entry.Proposal.TotalStaked,
				ledger.TokenDecimals,
			),
		}
		if annotator := core.Price(); annotator != nil {
			if usd, ok := annotator.ToUSD(entry.Proposal.TotalStaked); ok {
				attrs = append(attrs, "usd", "$"+usd.StringFixed(2))
			}
		}
		logger.Info("leaderboard entry", attrs...)
	}
}
