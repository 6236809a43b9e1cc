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

// Package coordinator orchestrates stake, unstake, and admin actions against
// the external ledger. Every action follows the same shape: guard locally,
// submit, wait for confirmation, then re-read truth from the ledger. No
// cached state is ever mutated speculatively.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/clawdworks/voice/allowance"
	"github.com/clawdworks/voice/event"
	"github.com/clawdworks/voice/ledger"
	"github.com/clawdworks/voice/proposals"
	"github.com/prometheus/client_golang/prometheus"
)

// ActionKind identifies the variant of a pending action
type ActionKind string

const (
	ActionApprove ActionKind = "approve"
	ActionStake   ActionKind = "stake"
	ActionUnstake ActionKind = "unstake"
	ActionCreate  ActionKind = "create"
	ActionClose   ActionKind = "close"
	ActionReopen  ActionKind = "reopen"
)

const (
	ActionSubmittedEventType event.EventType = "coordinator.action.submitted"
	ActionConfirmedEventType event.EventType = "coordinator.action.confirmed"
	ActionFailedEventType    event.EventType = "coordinator.action.failed"
)

// ActionEvent describes an action lifecycle transition. Amount is nil for
// actions that carry no amount (create/close/reopen), and Err is non-nil only
// for failed events.
type ActionEvent struct {
	Kind        ActionKind
	ProposalIdx int
	Amount      *big.Int
	TxHash      string
	Err         error
}

var (
	ErrActionPending       = errors.New("action already pending for proposal")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrExceedsStake        = errors.New("amount exceeds current stake")
	ErrNotAdmin            = errors.New("action restricted to the owner")
	ErrProposalClosed      = errors.New("proposal is not active")
	ErrProposalActive      = errors.New("proposal is already active")
	ErrProposalNotFound    = errors.New("proposal not found")
	ErrInvalidProposalText = errors.New("invalid proposal title/description")
)

const (
	maxTitleLen       = 100
	maxDescriptionLen = 500

	// createProposalKey is the pending-action key for proposal creation,
	// which has no proposal index yet
	createProposalKey = -1
)

// ActionRecord is one confirmed action as written to the journal
type ActionRecord struct {
	OccurredAt  time.Time
	Kind        ActionKind
	TxHash      string
	Amount      *big.Int
	ProposalIdx int
}

// ActionJournal persists confirmed actions for session history. Implemented
// by the database package.
type ActionJournal interface {
	RecordAction(record ActionRecord) error
}

type CoordinatorConfig struct {
	Ledger       ledger.Client
	Proposals    *proposals.Store
	Allowance    *allowance.Gate
	EventBus     *event.EventBus
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Journal      ActionJournal
	User         ledger.Identity
}

// Coordinator runs at most one action per proposal at a time for the acting
// user. Actions on distinct proposals proceed concurrently; the external
// ledger serializes the true writes.
type Coordinator struct {
	config  CoordinatorConfig
	logger  *slog.Logger
	metrics *coordinatorMetrics

	mutex          sync.Mutex
	pending        map[int]ActionKind
	pendingAmounts map[int]*big.Int
	owner          ledger.Identity
	ownerKnown     bool
}

func NewCoordinator(config CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		config:         config,
		pending:        make(map[int]ActionKind),
		pendingAmounts: make(map[int]*big.Int),
		metrics:        newCoordinatorMetrics(config.PromRegistry),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		c.logger = config.Logger
	}
	return c
}

// IsAdmin reports whether the acting user matches the ledger-reported owner.
// The comparison is case-insensitive. This gates control visibility only;
// the ledger re-checks every admin write.
func (c *Coordinator) IsAdmin(ctx context.Context) (bool, error) {
	c.mutex.Lock()
	if c.ownerKnown {
		owner := c.owner
		c.mutex.Unlock()
		return c.config.User.Equal(owner), nil
	}
	c.mutex.Unlock()
	owner, err := c.config.Ledger.GetOwner(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read owner: %w", err)
	}
	c.mutex.Lock()
	c.owner = owner
	c.ownerKnown = true
	c.mutex.Unlock()
	return c.config.User.Equal(owner), nil
}

// Pending returns the in-flight action kind for a proposal, if any
func (c *Coordinator) Pending(proposalIdx int) (ActionKind, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	kind, ok := c.pending[proposalIdx]
	return kind, ok
}

// PendingAmount returns the stake amount last requested for a proposal. A
// failed stake retains its amount so the user can retry without re-entering
// it; a confirmed stake clears it.
func (c *Coordinator) PendingAmount(proposalIdx int) (*big.Int, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	amount, ok := c.pendingAmounts[proposalIdx]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(amount), true
}

// MaxUnstake returns the largest amount the user may unstake from a proposal
func (c *Coordinator) MaxUnstake(proposalIdx int) *big.Int {
	return c.config.Proposals.UserStake(proposalIdx)
}

// OfferedStake reports whether the stake control should be enabled for the
// given proposal and entered amount
func (c *Coordinator) OfferedStake(proposalIdx int, amount *big.Int) bool {
	if amount == nil || amount.Sign() <= 0 {
		return false
	}
	proposal, ok := c.lookupProposal(proposalIdx)
	if !ok || !proposal.Active {
		return false
	}
	if _, pending := c.Pending(proposalIdx); pending {
		return false
	}
	return true
}

// OfferedUnstake reports whether the unstake control should be enabled
func (c *Coordinator) OfferedUnstake(proposalIdx int, amount *big.Int) bool {
	if amount == nil || amount.Sign() <= 0 {
		return false
	}
	stake := c.config.Proposals.UserStake(proposalIdx)
	if stake.Sign() == 0 || amount.Cmp(stake) > 0 {
		return false
	}
	if _, pending := c.Pending(proposalIdx); pending {
		return false
	}
	return true
}

// OfferedCreate reports whether the create control should be shown
func (c *Coordinator) OfferedCreate(ctx context.Context) bool {
	isAdmin, err := c.IsAdmin(ctx)
	return err == nil && isAdmin
}

// OfferedClose reports whether the close control should be shown for a
// proposal (admin only, active proposals only)
func (c *Coordinator) OfferedClose(ctx context.Context, proposalIdx int) bool {
	proposal, ok := c.lookupProposal(proposalIdx)
	if !ok || !proposal.Active {
		return false
	}
	return c.OfferedCreate(ctx)
}

// OfferedReopen reports whether the reopen control should be shown for a
// proposal (admin only, closed proposals only)
func (c *Coordinator) OfferedReopen(
	ctx context.Context,
	proposalIdx int,
) bool {
	proposal, ok := c.lookupProposal(proposalIdx)
	if !ok || proposal.Active {
		return false
	}
	return c.OfferedCreate(ctx)
}

// Stake runs the full stake sequence for a proposal: approve first when the
// observed allowance doesn't cover the amount, wait for the approval to
// confirm, re-read the allowance, then submit the stake and wait for it to
// confirm. On success the proposal snapshot is refreshed and the entered
// amount is cleared; on any failure the amount is retained for retry and no
// cached state is touched.
func (c *Coordinator) Stake(
	ctx context.Context,
	proposalIdx int,
	amount *big.Int,
) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	proposal, ok := c.lookupProposal(proposalIdx)
	if !ok {
		return ErrProposalNotFound
	}
	if !proposal.Active {
		return ErrProposalClosed
	}
	if err := c.begin(proposalIdx, ActionStake); err != nil {
		return err
	}
	defer c.end(proposalIdx)
	c.mutex.Lock()
	c.pendingAmounts[proposalIdx] = new(big.Int).Set(amount)
	c.mutex.Unlock()
	if c.config.Allowance.NeedsApproval(amount) {
		if err := c.runApproval(ctx, proposalIdx, amount); err != nil {
			return err
		}
		// The approval confirmed, but the ledger is the authority on the
		// resulting allowance. If the re-read still doesn't cover the
		// amount, stop rather than submit a stake that would revert.
		if c.config.Allowance.NeedsApproval(amount) {
			err := errors.New("allowance below amount after approval")
			c.publishFailed(ActionStake, proposalIdx, amount, "", err)
			return err
		}
	}
	tx, err := c.config.Ledger.Stake(ctx, proposalIdx, amount)
	if err != nil {
		c.metrics.actionsTotal.WithLabelValues(
			string(ActionStake), "failed",
		).Inc()
		c.publishFailed(ActionStake, proposalIdx, amount, "", err)
		return fmt.Errorf("failed to submit stake: %w", err)
	}
	c.publishSubmitted(ActionStake, proposalIdx, amount, tx.Hash())
	if err := tx.Wait(ctx); err != nil {
		c.metrics.actionsTotal.WithLabelValues(
			string(ActionStake), "failed",
		).Inc()
		c.publishFailed(ActionStake, proposalIdx, amount, tx.Hash(), err)
		return fmt.Errorf("stake reverted: %w", err)
	}
	c.mutex.Lock()
	delete(c.pendingAmounts, proposalIdx)
	c.mutex.Unlock()
	c.confirmed(ctx, ActionStake, proposalIdx, amount, tx.Hash())
	// A confirmed stake consumed allowance; discard the stale observation
	c.config.Allowance.Invalidate()
	if err := c.config.Allowance.Refresh(ctx); err != nil {
		c.logger.Warn(
			"allowance re-read after stake failed",
			"component", "coordinator",
			"error", err,
		)
	}
	return nil
}

// Unstake withdraws part or all of the user's stake on a proposal
func (c *Coordinator) Unstake(
	ctx context.Context,
	proposalIdx int,
	amount *big.Int,
) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.Cmp(c.config.Proposals.UserStake(proposalIdx)) > 0 {
		return ErrExceedsStake
	}
	if err := c.begin(proposalIdx, ActionUnstake); err != nil {
		return err
	}
	defer c.end(proposalIdx)
	return c.runSingleStep(ctx, ActionUnstake, proposalIdx, amount,
		func() (ledger.Tx, error) {
			return c.config.Ledger.Unstake(ctx, proposalIdx, amount)
		},
	)
}

// CreateProposal submits a new proposal. Admin only; title and description
// must be non-empty and within the ledger's length bounds.
func (c *Coordinator) CreateProposal(
	ctx context.Context,
	title string,
	description string,
) error {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" || description == "" ||
		len(title) > maxTitleLen || len(description) > maxDescriptionLen {
		return ErrInvalidProposalText
	}
	if err := c.requireAdmin(ctx); err != nil {
		return err
	}
	if err := c.begin(createProposalKey, ActionCreate); err != nil {
		return err
	}
	defer c.end(createProposalKey)
	return c.runSingleStep(ctx, ActionCreate, createProposalKey, nil,
		func() (ledger.Tx, error) {
			return c.config.Ledger.CreateProposal(ctx, title, description)
		},
	)
}

// CloseProposal deactivates an active proposal. Admin only.
func (c *Coordinator) CloseProposal(ctx context.Context, proposalIdx int) error {
	proposal, ok := c.lookupProposal(proposalIdx)
	if !ok {
		return ErrProposalNotFound
	}
	if !proposal.Active {
		return ErrProposalClosed
	}
	if err := c.requireAdmin(ctx); err != nil {
		return err
	}
	if err := c.begin(proposalIdx, ActionClose); err != nil {
		return err
	}
	defer c.end(proposalIdx)
	return c.runSingleStep(ctx, ActionClose, proposalIdx, nil,
		func() (ledger.Tx, error) {
			return c.config.Ledger.CloseProposal(ctx, proposalIdx)
		},
	)
}

// ReopenProposal reactivates a closed proposal. Admin only.
func (c *Coordinator) ReopenProposal(
	ctx context.Context,
	proposalIdx int,
) error {
	proposal, ok := c.lookupProposal(proposalIdx)
	if !ok {
		return ErrProposalNotFound
	}
	if proposal.Active {
		return ErrProposalActive
	}
	if err := c.requireAdmin(ctx); err != nil {
		return err
	}
	if err := c.begin(proposalIdx, ActionReopen); err != nil {
		return err
	}
	defer c.end(proposalIdx)
	return c.runSingleStep(ctx, ActionReopen, proposalIdx, nil,
		func() (ledger.Tx, error) {
			return c.config.Ledger.ReopenProposal(ctx, proposalIdx)
		},
	)
}

// runApproval submits and waits out the approve step of the stake sequence
func (c *Coordinator) runApproval(
	ctx context.Context,
	proposalIdx int,
	amount *big.Int,
) error {
	tx, err := c.config.Allowance.RequestApproval(ctx, amount)
	if err != nil {
		c.metrics.actionsTotal.WithLabelValues(
			string(ActionApprove), "failed",
		).Inc()
		c.publishFailed(ActionApprove, proposalIdx, amount, "", err)
		return err
	}
	c.publishSubmitted(ActionApprove, proposalIdx, amount, tx.Hash())
	if err := tx.Wait(ctx); err != nil {
		c.metrics.actionsTotal.WithLabelValues(
			string(ActionApprove), "failed",
		).Inc()
		c.publishFailed(ActionApprove, proposalIdx, amount, tx.Hash(), err)
		return fmt.Errorf("approval reverted: %w", err)
	}
	c.metrics.actionsTotal.WithLabelValues(
		string(ActionApprove), "confirmed",
	).Inc()
	c.publishConfirmed(ActionApprove, proposalIdx, amount, tx.Hash())
	c.journal(ActionApprove, proposalIdx, amount, tx.Hash())
	c.config.Allowance.Invalidate()
	if err := c.config.Allowance.Refresh(ctx); err != nil {
		return fmt.Errorf(
			"failed to re-read allowance after approval: %w",
			err,
		)
	}
	return nil
}

// runSingleStep submits a single-write action, waits for confirmation, and
// refreshes the snapshot on success
func (c *Coordinator) runSingleStep(
	ctx context.Context,
	kind ActionKind,
	proposalIdx int,
	amount *big.Int,
	submit func() (ledger.Tx, error),
) error {
	tx, err := submit()
	if err != nil {
		c.metrics.actionsTotal.WithLabelValues(string(kind), "failed").Inc()
		c.publishFailed(kind, proposalIdx, amount, "", err)
		return fmt.Errorf("failed to submit %s: %w", kind, err)
	}
	c.publishSubmitted(kind, proposalIdx, amount, tx.Hash())
	if err := tx.Wait(ctx); err != nil {
		c.metrics.actionsTotal.WithLabelValues(string(kind), "failed").Inc()
		c.publishFailed(kind, proposalIdx, amount, tx.Hash(), err)
		return fmt.Errorf("%s reverted: %w", kind, err)
	}
	c.confirmed(ctx, kind, proposalIdx, amount, tx.Hash())
	return nil
}

func (c *Coordinator) confirmed(
	ctx context.Context,
	kind ActionKind,
	proposalIdx int,
	amount *big.Int,
	txHash string,
) {
	c.metrics.actionsTotal.WithLabelValues(string(kind), "confirmed").Inc()
	c.publishConfirmed(kind, proposalIdx, amount, txHash)
	c.journal(kind, proposalIdx, amount, txHash)
	if err := c.config.Proposals.Refresh(ctx); err != nil {
		// The write confirmed; a failed re-read just leaves the previous
		// snapshot up until the next refresh
		c.logger.Warn(
			"snapshot refresh after confirmed action failed",
			"component", "coordinator",
			"kind", kind,
			"error", err,
		)
	}
}

func (c *Coordinator) requireAdmin(ctx context.Context) error {
	isAdmin, err := c.IsAdmin(ctx)
	if err != nil {
		return err
	}
	if !isAdmin {
		return ErrNotAdmin
	}
	return nil
}

func (c *Coordinator) begin(proposalIdx int, kind ActionKind) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, ok := c.pending[proposalIdx]; ok {
		return ErrActionPending
	}
	c.pending[proposalIdx] = kind
	c.metrics.pendingActions.Set(float64(len(c.pending)))
	return nil
}

func (c *Coordinator) end(proposalIdx int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.pending, proposalIdx)
	c.metrics.pendingActions.Set(float64(len(c.pending)))
}

func (c *Coordinator) lookupProposal(proposalIdx int) (ledger.Proposal, bool) {
	for _, proposal := range c.config.Proposals.Snapshot() {
		if proposal.Index == proposalIdx {
			return proposal, true
		}
	}
	return ledger.Proposal{}, false
}

func (c *Coordinator) journal(
	kind ActionKind,
	proposalIdx int,
	amount *big.Int,
	txHash string,
) {
	if c.config.Journal == nil {
		return
	}
	record := ActionRecord{
		OccurredAt:  time.Now(),
		Kind:        kind,
		TxHash:      txHash,
		ProposalIdx: proposalIdx,
	}
	if amount != nil {
		record.Amount = new(big.Int).Set(amount)
	}
	if err := c.config.Journal.RecordAction(record); err != nil {
		c.logger.Warn(
			"failed to journal action",
			"component", "coordinator",
			"kind", kind,
			"error", err,
		)
	}
}

func (c *Coordinator) publishSubmitted(
	kind ActionKind,
	proposalIdx int,
	amount *big.Int,
	txHash string,
) {
	c.publish(ActionSubmittedEventType, kind, proposalIdx, amount, txHash, nil)
	c.logger.Debug(
		"action submitted",
		"component", "coordinator",
		"kind", kind,
		"proposal", proposalIdx,
		"tx_hash", txHash,
	)
}

func (c *Coordinator) publishConfirmed(
	kind ActionKind,
	proposalIdx int,
	amount *big.Int,
	txHash string,
) {
	c.publish(ActionConfirmedEventType, kind, proposalIdx, amount, txHash, nil)
	c.logger.Info(
		"action confirmed",
		"component", "coordinator",
		"kind", kind,
		"proposal", proposalIdx,
		"tx_hash", txHash,
	)
}

func (c *Coordinator) publishFailed(
	kind ActionKind,
	proposalIdx int,
	amount *big.Int,
	txHash string,
	actionErr error,
) {
	c.publish(
		ActionFailedEventType,
		kind,
		proposalIdx,
		amount,
		txHash,
		actionErr,
	)
	c.logger.Warn(
		"action failed",
		"component", "coordinator",
		"kind", kind,
		"proposal", proposalIdx,
		"error", actionErr,
	)
}

func (c *Coordinator) publish(
	eventType event.EventType,
	kind ActionKind,
	proposalIdx int,
	amount *big.Int,
	txHash string,
	actionErr error,
) {
	if c.config.EventBus == nil {
		return
	}
	var evtAmount *big.Int
	if amount != nil {
		evtAmount = new(big.Int).Set(amount)
	}
	c.config.EventBus.Publish(
		eventType,
		event.NewEvent(
			eventType,
			ActionEvent{
				Kind:        kind,
				ProposalIdx: proposalIdx,
				Amount:      evtAmount,
				TxHash:      txHash,
				Err:         actionErr,
			},
		),
	)
}
