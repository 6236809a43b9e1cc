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

// Package mock provides an in-memory ledger.Client implementation. It
// enforces the same preconditions a real token/proposal ledger would
// (allowance consumption, stake balances, owner gating) and is used by the
// integration tests and the CLI dev mode.
package mock

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/clawdworks/voice/ledger"
)

var (
	ErrNotOwner              = errors.New("caller is not the owner")
	ErrProposalNotFound      = errors.New("proposal not found")
	ErrProposalClosed        = errors.New("proposal is closed")
	ErrProposalOpen          = errors.New("proposal is not closed")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientStake     = errors.New("insufficient stake")
	ErrInvalidProposalText   = errors.New("invalid proposal title or description")
)

const (
	maxTitleLen       = 100
	maxDescriptionLen = 500
)

type userStakeKey struct {
	user ledger.Identity
	idx  int
}

type allowanceKey struct {
	holder  ledger.Identity
	spender ledger.Identity
}

// Ledger is an in-memory token and proposal ledger. The acting identity for
// writes is fixed at construction (it models the connected wallet); reads
// are unrestricted. All amounts are copies, callers never share big.Int
// values with internal state.
type Ledger struct {
	mutex      sync.Mutex
	owner      ledger.Identity
	caller     ledger.Identity
	spender    ledger.Identity
	proposals  []ledger.Proposal
	balances   map[ledger.Identity]*big.Int
	stakes     map[userStakeKey]*big.Int
	allowances map[allowanceKey]*big.Int
	nextTxNum  int
	// Failure injection and confirmation control
	failNext   error
	manualTxs  bool
	pendingTxs map[string]*Tx
}

// LedgerConfig configures a mock ledger
type LedgerConfig struct {
	// Owner is the admin identity
	Owner ledger.Identity
	// Caller is the acting identity for all writes
	Caller ledger.Identity
	// Spender is the staking contract identity that allowances are
	// granted to and consumed by
	Spender ledger.Identity
	// ManualConfirm makes writes wait for ConfirmTx/RevertTx instead of
	// confirming immediately
	ManualConfirm bool
}

func NewLedger(cfg LedgerConfig) *Ledger {
	return &Ledger{
		owner:      cfg.Owner,
		caller:     cfg.Caller,
		spender:    cfg.Spender,
		balances:   make(map[ledger.Identity]*big.Int),
		stakes:     make(map[userStakeKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		manualTxs:  cfg.ManualConfirm,
		pendingTxs: make(map[string]*Tx),
	}
}

// Tx is a submitted mock write. With ManualConfirm enabled it stays pending
// until ConfirmTx or RevertTx is called on the ledger.
type Tx struct {
	hash   string
	done   chan struct{}
	apply  func() error
	result error
	once   sync.Once
}

func (t *Tx) Hash() string {
	return t.hash
}

func (t *Tx) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.result
	}
}

func (t *Tx) complete(err error) {
	t.once.Do(func() {
		t.result = err
		close(t.done)
	})
}

// SetBalance sets a holder's token balance
func (l *Ledger) SetBalance(holder ledger.Identity, amount *big.Int) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.balances[holder] = new(big.Int).Set(amount)
}

// SetCaller switches the acting identity, simulating a wallet change
func (l *Ledger) SetCaller(caller ledger.Identity) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.caller = caller
}

// FailNext causes the next submitted write to revert with the given error
func (l *Ledger) FailNext(err error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.failNext = err
}

// ConfirmTx applies and confirms a pending write (ManualConfirm mode)
func (l *Ledger) ConfirmTx(hash string) error {
	l.mutex.Lock()
	tx, ok := l.pendingTxs[hash]
	if ok {
		delete(l.pendingTxs, hash)
	}
	l.mutex.Unlock()
	if !ok {
		return fmt.Errorf("no pending tx: %s", hash)
	}
	l.mutex.Lock()
	err := tx.apply()
	l.mutex.Unlock()
	tx.complete(err)
	return nil
}

// RevertTx rejects a pending write without applying it (ManualConfirm mode)
func (l *Ledger) RevertTx(hash string, err error) error {
	l.mutex.Lock()
	tx, ok := l.pendingTxs[hash]
	if ok {
		delete(l.pendingTxs, hash)
	}
	l.mutex.Unlock()
	if !ok {
		return fmt.Errorf("no pending tx: %s", hash)
	}
	tx.complete(err)
	return nil
}

func (l *Ledger) GetOwner(_ context.Context) (ledger.Identity, error) {
	return l.owner, nil
}

func (l *Ledger) GetAllProposals(
	_ context.Context,
) ([]ledger.Proposal, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	ret := make([]ledger.Proposal, len(l.proposals))
	for i, p := range l.proposals {
		ret[i] = p
		ret[i].TotalStaked = new(big.Int).Set(p.TotalStaked)
	}
	return ret, nil
}

func (l *Ledger) GetUserStake(
	_ context.Context,
	proposalIdx int,
	user ledger.Identity,
) (*big.Int, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if proposalIdx < 0 || proposalIdx >= len(l.proposals) {
		return nil, ErrProposalNotFound
	}
	if stake, ok := l.stakes[userStakeKey{user: user, idx: proposalIdx}]; ok {
		return new(big.Int).Set(stake), nil
	}
	return new(big.Int), nil
}

func (l *Ledger) GetBalance(
	_ context.Context,
	holder ledger.Identity,
) (*big.Int, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if balance, ok := l.balances[holder]; ok {
		return new(big.Int).Set(balance), nil
	}
	return new(big.Int), nil
}

func (l *Ledger) GetAllowance(
	_ context.Context,
	holder ledger.Identity,
	spender ledger.Identity,
) (*big.Int, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	key := allowanceKey{holder: holder, spender: spender}
	if allowance, ok := l.allowances[key]; ok {
		return new(big.Int).Set(allowance), nil
	}
	return new(big.Int), nil
}

// submit builds a Tx around an apply func. The apply func runs under the
// ledger mutex when the write confirms.
func (l *Ledger) submit(apply func() error) (*Tx, error) {
	l.mutex.Lock()
	l.nextTxNum++
	tx := &Tx{
		hash:  fmt.Sprintf("tx-%06d", l.nextTxNum),
		done:  make(chan struct{}),
		apply: apply,
	}
	if l.failNext != nil {
		failErr := l.failNext
		l.failNext = nil
		l.mutex.Unlock()
		tx.complete(failErr)
		return tx, nil
	}
	if l.manualTxs {
		l.pendingTxs[tx.hash] = tx
		l.mutex.Unlock()
		return tx, nil
	}
	err := apply()
	l.mutex.Unlock()
	tx.complete(err)
	return tx, nil
}

func (l *Ledger) Approve(
	_ context.Context,
	spender ledger.Identity,
	amount *big.Int,
) (ledger.Tx, error) {
	approveAmount := new(big.Int).Set(amount)
	return l.submit(func() error {
		key := allowanceKey{holder: l.caller, spender: spender}
		l.allowances[key] = approveAmount
		return nil
	})
}

func (l *Ledger) Stake(
	_ context.Context,
	proposalIdx int,
	amount *big.Int,
) (ledger.Tx, error) {
	stakeAmount := new(big.Int).Set(amount)
	return l.submit(func() error {
		if proposalIdx < 0 || proposalIdx >= len(l.proposals) {
			return ErrProposalNotFound
		}
		proposal := &l.proposals[proposalIdx]
		if !proposal.Active {
			return ErrProposalClosed
		}
		balance, ok := l.balances[l.caller]
		if !ok || balance.Cmp(stakeAmount) < 0 {
			return ErrInsufficientBalance
		}
		allowKey := allowanceKey{holder: l.caller, spender: l.spender}
		allowance, ok := l.allowances[allowKey]
		if !ok || allowance.Cmp(stakeAmount) < 0 {
			return ErrInsufficientAllowance
		}
		// Transfer and consume allowance
		balance.Sub(balance, stakeAmount)
		allowance.Sub(allowance, stakeAmount)
		stakeKey := userStakeKey{user: l.caller, idx: proposalIdx}
		stake, ok := l.stakes[stakeKey]
		if !ok {
			stake = new(big.Int)
			l.stakes[stakeKey] = stake
		}
		stake.Add(stake, stakeAmount)
		proposal.TotalStaked.Add(proposal.TotalStaked, stakeAmount)
		return nil
	})
}

func (l *Ledger) Unstake(
	_ context.Context,
	proposalIdx int,
	amount *big.Int,
) (ledger.Tx, error) {
	unstakeAmount := new(big.Int).Set(amount)
	return l.submit(func() error {
		if proposalIdx < 0 || proposalIdx >= len(l.proposals) {
			return ErrProposalNotFound
		}
		proposal := &l.proposals[proposalIdx]
		stakeKey := userStakeKey{user: l.caller, idx: proposalIdx}
		stake, ok := l.stakes[stakeKey]
		if !ok || stake.Cmp(unstakeAmount) < 0 {
			return ErrInsufficientStake
		}
		stake.Sub(stake, unstakeAmount)
		proposal.TotalStaked.Sub(proposal.TotalStaked, unstakeAmount)
		balance, ok := l.balances[l.caller]
		if !ok {
			balance = new(big.Int)
			l.balances[l.caller] = balance
		}
		balance.Add(balance, unstakeAmount)
		return nil
	})
}

func (l *Ledger) CreateProposal(
	_ context.Context,
	title, description string,
) (ledger.Tx, error) {
	return l.submit(func() error {
		if !l.caller.Equal(l.owner) {
			return ErrNotOwner
		}
		if title == "" || len(title) > maxTitleLen {
			return ErrInvalidProposalText
		}
		if description == "" || len(description) > maxDescriptionLen {
			return ErrInvalidProposalText
		}
		l.proposals = append(l.proposals, ledger.Proposal{
			Index:       len(l.proposals),
			Title:       title,
			Description: description,
			TotalStaked: new(big.Int),
			Active:      true,
			CreatedAt:   time.Now(),
		})
		return nil
	})
}

func (l *Ledger) CloseProposal(
	_ context.Context,
	proposalIdx int,
) (ledger.Tx, error) {
	return l.submit(func() error {
		if !l.caller.Equal(l.owner) {
			return ErrNotOwner
		}
		if proposalIdx < 0 || proposalIdx >= len(l.proposals) {
			return ErrProposalNotFound
		}
		if !l.proposals[proposalIdx].Active {
			return ErrProposalClosed
		}
		l.proposals[proposalIdx].Active = false
		return nil
	})
}

func (l *Ledger) ReopenProposal(
	_ context.Context,
	proposalIdx int,
) (ledger.Tx, error) {
	return l.submit(func() error {
		if !l.caller.Equal(l.owner) {
			return ErrNotOwner
		}
		if proposalIdx < 0 || proposalIdx >= len(l.proposals) {
			return ErrProposalNotFound
		}
		if l.proposals[proposalIdx].Active {
			return ErrProposalOpen
		}
		l.proposals[proposalIdx].Active = true
		return nil
	})
}
