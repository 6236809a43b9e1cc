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

// Package price attaches an advisory USD value to token quantities using a
// periodically refreshed market price sample. A missing or stale price never
// blocks or fails a staking action.
package price

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/clawdworks/voice/event"
	"github.com/clawdworks/voice/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

const UpdatedEventType event.EventType = "price.updated"

// UpdatedEvent is published after each successful sample refresh
type UpdatedEvent struct {
	USDPerToken decimal.Decimal
}

const DefaultRefreshInterval = 60 * time.Second

// materialityThreshold is the smallest USD value worth annotating. Anything
// below renders as no annotation rather than "$0.00".
var materialityThreshold = decimal.New(1, -2)

// Source fetches the current USD-per-token price for a token. A zero price
// is a valid sample (thinly traded token), distinct from an error.
type Source interface {
	Sample(ctx context.Context, token string) (decimal.Decimal, error)
}

type AnnotatorConfig struct {
	Source       Source
	EventBus     *event.EventBus
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Token        string
	Interval     time.Duration
}

// Annotator holds the latest observed price sample and refreshes it on a
// fixed period. Refresh failures retain the previous sample.
type Annotator struct {
	config  AnnotatorConfig
	logger  *slog.Logger
	metrics struct {
		refreshesTotal prometheus.Counter
		refreshErrors  prometheus.Counter
		usdPerToken    prometheus.Gauge
	}
	mutex     sync.RWMutex
	sample    decimal.Decimal
	observed  bool
	stopChan  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewAnnotator(config AnnotatorConfig) *Annotator {
	a := &Annotator{
		config:   config,
		stopChan: make(chan struct{}),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		a.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		a.logger = config.Logger
	}
	if a.config.Interval <= 0 {
		a.config.Interval = DefaultRefreshInterval
	}
	promautoFactory := promauto.With(config.PromRegistry)
	a.metrics.refreshesTotal = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "voice_price_refreshes_total",
			Help: "total price sample refreshes attempted",
		},
	)
	a.metrics.refreshErrors = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "voice_price_refresh_errors_total",
			Help: "total price sample refreshes that failed",
		},
	)
	a.metrics.usdPerToken = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "voice_price_usd_per_token",
		Help: "last observed USD price per whole token",
	})
	return a
}

// Start launches the periodic refresh loop. The first sample is fetched
// immediately.
func (a *Annotator) Start() {
	a.startOnce.Do(func() {
		go a.refreshLoop()
	})
}

// Stop halts the refresh loop. The last sample remains readable.
func (a *Annotator) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
	})
}

func (a *Annotator) refreshLoop() {
	// Refresh errors are already logged and the previous sample retained,
	// so the loop ignores them
	_ = a.Refresh(context.Background())
	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopChan:
			return
		case <-ticker.C:
			_ = a.Refresh(context.Background())
		}
	}
}

// Refresh fetches a fresh sample and replaces the held one wholesale. On
// failure the previous sample is retained.
func (a *Annotator) Refresh(ctx context.Context) error {
	a.metrics.refreshesTotal.Inc()
	sample, err := a.config.Source.Sample(ctx, a.config.Token)
	if err != nil {
		a.metrics.refreshErrors.Inc()
		a.logger.Warn(
			"price sample fetch failed",
			"component", "price",
			"error", err,
		)
		return err
	}
	a.mutex.Lock()
	a.sample = sample
	a.observed = true
	a.mutex.Unlock()
	a.metrics.usdPerToken.Set(sample.InexactFloat64())
	if a.config.EventBus != nil {
		a.config.EventBus.Publish(
			UpdatedEventType,
			event.NewEvent(
				UpdatedEventType,
				UpdatedEvent{USDPerToken: sample},
			),
		)
	}
	return nil
}

// USDPerToken returns the last observed sample. ok is false until the first
// successful refresh.
func (a *Annotator) USDPerToken() (sample decimal.Decimal, ok bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.sample, a.observed
}

// ToUSD converts a base-unit token quantity to its USD value. ok is false
// when no sample has been observed or the value falls below one cent, in
// which case callers suppress the annotation entirely.
func (a *Annotator) ToUSD(baseUnits *big.Int) (decimal.Decimal, bool) {
	a.mutex.RLock()
	sample := a.sample
	observed := a.observed
	a.mutex.RUnlock()
	if !observed || baseUnits == nil {
		return decimal.Zero, false
	}
	tokens := decimal.NewFromBigInt(baseUnits, 0).
		Shift(-int32(ledger.TokenDecimals))
	value := tokens.Mul(sample)
	if value.Cmp(materialityThreshold) < 0 {
		return decimal.Zero, false
	}
	return value, true
}
