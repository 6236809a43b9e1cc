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

// Package allowance tracks whether a spender's approved allowance covers a
// pending stake amount and drives the approve step of the two-phase
// allowance-then-transfer protocol.
package allowance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"github.com/clawdworks/voice/event"
	"github.com/clawdworks/voice/ledger"
)

const UpdatedEventType event.EventType = "allowance.updated"

// UpdatedEvent is published when the observed allowance changes or is
// invalidated
type UpdatedEvent struct {
	// Observed is nil when the allowance is unknown
	Observed *big.Int
}

var ErrZeroAmount = errors.New("approval amount must be positive")

var oneHundred = big.NewInt(100)

type GateConfig struct {
	Ledger   ledger.Client
	EventBus *event.EventBus
	Logger   *slog.Logger
	Holder   ledger.Identity
	Spender  ledger.Identity
}

// Gate tracks the last-observed allowance for a single (holder, spender)
// pair. The observed value starts unknown and is never assumed valid across
// an approval or stake confirmation; callers invalidate and re-read instead.
type Gate struct {
	mutex    sync.RWMutex
	config   GateConfig
	logger   *slog.Logger
	observed *big.Int
}

func NewGate(config GateConfig) *Gate {
	g := &Gate{
		config: config,
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		g.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		g.logger = config.Logger
	}
	return g
}

// Observed returns the last-observed allowance. ok is false until the first
// successful read or after an invalidation.
func (g *Gate) Observed() (allowance *big.Int, ok bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	if g.observed == nil {
		return nil, false
	}
	return new(big.Int).Set(g.observed), true
}

// NeedsApproval reports whether a pending stake of the given amount requires
// an approval first: true iff amount > 0 and the allowance is unknown or
// below the amount
func (g *Gate) NeedsApproval(pendingAmount *big.Int) bool {
	if pendingAmount == nil || pendingAmount.Sign() <= 0 {
		return false
	}
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.observed == nil || g.observed.Cmp(pendingAmount) < 0
}

// ApprovalAmount returns the quantity to approve for a pending stake: the
// amount plus a 1% buffer with integer floor semantics. The buffer rounds to
// zero below 100 base units, which is acceptable because approvals are exact
// and the stake that follows uses the unbuffered amount.
func ApprovalAmount(pendingAmount *big.Int) *big.Int {
	buffer := new(big.Int).Div(pendingAmount, oneHundred)
	return buffer.Add(buffer, pendingAmount)
}

// RequestApproval submits an approval for the pending amount plus the 1%
// buffer. Approving a bounded quantity rather than an unlimited allowance
// limits what a compromised spender could transfer. The observed allowance
// is not touched until the write confirms; the caller invalidates and
// re-reads on confirmation.
func (g *Gate) RequestApproval(
	ctx context.Context,
	pendingAmount *big.Int,
) (ledger.Tx, error) {
	if pendingAmount == nil || pendingAmount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	approveAmount := ApprovalAmount(pendingAmount)
	tx, err := g.config.Ledger.Approve(ctx, g.config.Spender, approveAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to submit approval: %w", err)
	}
	g.logger.Debug(
		"submitted approval",
		"component", "allowance",
		"amount", approveAmount.String(),
		"tx_hash", tx.Hash(),
	)
	return tx, nil
}

// Invalidate discards the cached allowance, forcing a fresh read before the
// gate is next consulted. Called after any approval or stake confirmation.
func (g *Gate) Invalidate() {
	g.mutex.Lock()
	g.observed = nil
	g.mutex.Unlock()
	g.publishUpdate(nil)
}

// Refresh re-reads the allowance from the ledger. On failure the previous
// observed value is retained.
func (g *Gate) Refresh(ctx context.Context) error {
	observed, err := g.config.Ledger.GetAllowance(
		ctx,
		g.config.Holder,
		g.config.Spender,
	)
	if err != nil {
		g.logger.Warn(
			"allowance read failed",
			"component", "allowance",
			"error", err,
		)
		return fmt.Errorf("failed to read allowance: %w", err)
	}
	g.mutex.Lock()
	g.observed = new(big.Int).Set(observed)
	g.mutex.Unlock()
	g.publishUpdate(observed)
	return nil
}

func (g *Gate) publishUpdate(observed *big.Int) {
	if g.config.EventBus == nil {
		return
	}
	var evtObserved *big.Int
	if observed != nil {
		evtObserved = new(big.Int).Set(observed)
	}
	g.config.EventBus.Publish(
		UpdatedEventType,
		event.NewEvent(
			UpdatedEventType,
			UpdatedEvent{
				Observed: evtObserved,
			},
		),
	)
}
