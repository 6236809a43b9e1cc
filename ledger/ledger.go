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

package ledger

import (
	"context"
	"math/big"
	"strings"
	"time"
)

// TokenDecimals is the fixed-point scale of the staking token. All amounts
// crossing the ledger boundary are integers in this base unit.
const TokenDecimals = 18

// Identity is a ledger account identity (e.g. a wallet address). Identities
// compare case-insensitively; use Equal rather than ==.
type Identity string

// Equal compares two identities case-insensitively
func (i Identity) Equal(other Identity) bool {
	return strings.EqualFold(string(i), string(other))
}

// Proposal is the ledger's view of a single proposal. Index is the zero-based
// creation index, stable for the proposal's lifetime. TotalStaked is
// maintained by the ledger and never computed client-side.
type Proposal struct {
	CreatedAt   time.Time
	Title       string
	Description string
	TotalStaked *big.Int
	Index       int
	Active      bool
}

// Tx is a handle for a submitted ledger write. Submission and confirmation
// are distinct: Wait blocks until the write confirms or reverts. A submitted
// write cannot be cancelled; cancelling the context only abandons the wait.
type Tx interface {
	// Hash returns an opaque reference for the submitted write
	Hash() string
	// Wait blocks until the write confirms (nil) or reverts (error)
	Wait(ctx context.Context) error
}

// Client is the read/write contract with the external ledger. Reads return
// current truth; writes submit and return a Tx handle. The ledger is the
// final authority on every precondition (allowance, stake balance, owner
// gating) regardless of client-side guards.
type Client interface {
	// GetOwner returns the admin identity recorded in the ledger
	GetOwner(ctx context.Context) (Identity, error)
	// GetAllProposals returns all proposals in creation order
	GetAllProposals(ctx context.Context) ([]Proposal, error)
	// GetUserStake returns the user's stake on a proposal (0 if absent)
	GetUserStake(
		ctx context.Context,
		proposalIdx int,
		user Identity,
	) (*big.Int, error)
	// GetBalance returns the holder's token balance
	GetBalance(ctx context.Context, holder Identity) (*big.Int, error)
	// GetAllowance returns the quantity the spender may transfer on the
	// holder's behalf
	GetAllowance(
		ctx context.Context,
		holder Identity,
		spender Identity,
	) (*big.Int, error)
	// Approve submits an allowance update for the spender
	Approve(ctx context.Context, spender Identity, amount *big.Int) (Tx, error)
	// Stake submits a stake; requires prior sufficient allowance
	Stake(ctx context.Context, proposalIdx int, amount *big.Int) (Tx, error)
	// Unstake submits an unstake; requires amount <= current stake
	Unstake(ctx context.Context, proposalIdx int, amount *big.Int) (Tx, error)
	// CreateProposal submits a new proposal (admin-gated by the ledger)
	CreateProposal(ctx context.Context, title, description string) (Tx, error)
	// CloseProposal submits a close (admin-gated by the ledger)
	CloseProposal(ctx context.Context, proposalIdx int) (Tx, error)
	// ReopenProposal submits a reopen (admin-gated by the ledger)
	ReopenProposal(ctx context.Context, proposalIdx int) (Tx, error)
}
