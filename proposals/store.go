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

// Package proposals holds the cached snapshot of all proposals and the
// acting user's per-proposal stakes, derived from the external ledger. The
// snapshot is replaced wholesale on refresh so readers always observe one
// fully consistent version.
package proposals

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"github.com/clawdworks/voice/event"
	"github.com/clawdworks/voice/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const SnapshotEventType event.EventType = "proposals.snapshot"

// SnapshotEvent is published after each successful refresh
type SnapshotEvent struct {
	Proposals   []ledger.Proposal
	ActiveCount int
	TotalStaked *big.Int
}

// SnapshotCache persists the latest snapshot so displays remain functional
// when the ledger is unreachable. Implemented by the database package.
type SnapshotCache interface {
	SaveSnapshot(
		proposals []ledger.Proposal,
		stakes map[int]*big.Int,
	) error
	LoadSnapshot() ([]ledger.Proposal, map[int]*big.Int, error)
}

type StoreConfig struct {
	Ledger       ledger.Client
	EventBus     *event.EventBus
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Cache        SnapshotCache
	User         ledger.Identity
}

// snapshot is one complete, immutable view of ledger state. A refresh builds
// a new snapshot and swaps the pointer; in-progress readers keep the old one.
type snapshot struct {
	proposals []ledger.Proposal
	stakes    map[int]*big.Int
	balance   *big.Int
}

type Store struct {
	config  StoreConfig
	logger  *slog.Logger
	metrics struct {
		refreshesTotal  prometheus.Counter
		refreshErrors   prometheus.Counter
		proposalsTotal  prometheus.Gauge
		proposalsActive prometheus.Gauge
	}
	mutex        sync.RWMutex
	current      *snapshot
	installedGen uint64
	nextGen      uint64
}

func NewStore(config StoreConfig) *Store {
	s := &Store{
		config:  config,
		current: &snapshot{balance: new(big.Int)},
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		s.logger = config.Logger
	}
	promautoFactory := promauto.With(config.PromRegistry)
	s.metrics.refreshesTotal = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "voice_proposals_refreshes_total",
			Help: "total snapshot refreshes attempted",
		},
	)
	s.metrics.refreshErrors = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "voice_proposals_refresh_errors_total",
			Help: "total snapshot refreshes that failed",
		},
	)
	s.metrics.proposalsTotal = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "voice_proposals_total",
		Help: "proposal count in the current snapshot",
	})
	s.metrics.proposalsActive = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "voice_proposals_active",
		Help: "active proposal count in the current snapshot",
	})
	// Seed the view from the snapshot cache, if one is configured. This is
	// best-effort: an empty or failed load just means we start empty.
	if config.Cache != nil {
		if cachedProposals, cachedStakes, err := config.Cache.LoadSnapshot(); err != nil {
			s.logger.Warn(
				"failed to load cached snapshot",
				"component", "proposals",
				"error", err,
			)
		} else if len(cachedProposals) > 0 {
			s.install(&snapshot{
				proposals: cachedProposals,
				stakes:    cachedStakes,
				balance:   new(big.Int),
			}, 0)
		}
	}
	return s
}

// Refresh re-pulls the full proposal sequence, the acting user's stakes, and
// the user's balance, then atomically replaces the snapshot. Safe to call
// repeatedly and concurrently: each refresh takes a generation number at the
// start, and an older read never overwrites a newer installed snapshot.
// On any read failure the previous snapshot is retained.
func (s *Store) Refresh(ctx context.Context) error {
	s.mutex.Lock()
	s.nextGen++
	gen := s.nextGen
	s.mutex.Unlock()
	s.metrics.refreshesTotal.Inc()
	ledgerProposals, err := s.config.Ledger.GetAllProposals(ctx)
	if err != nil {
		s.metrics.refreshErrors.Inc()
		s.logger.Warn(
			"proposal refresh failed",
			"component", "proposals",
			"error", err,
		)
		return err
	}
	newStakes := make(map[int]*big.Int)
	for _, proposal := range ledgerProposals {
		stake, err := s.config.Ledger.GetUserStake(
			ctx,
			proposal.Index,
			s.config.User,
		)
		if err != nil {
			s.metrics.refreshErrors.Inc()
			s.logger.Warn(
				"user stake read failed",
				"component", "proposals",
				"proposal", proposal.Index,
				"error", err,
			)
			return err
		}
		if stake.Sign() > 0 {
			newStakes[proposal.Index] = stake
		}
	}
	balance, err := s.config.Ledger.GetBalance(ctx, s.config.User)
	if err != nil {
		s.metrics.refreshErrors.Inc()
		s.logger.Warn(
			"balance read failed",
			"component", "proposals",
			"error", err,
		)
		return err
	}
	newSnapshot := &snapshot{
		proposals: ledgerProposals,
		stakes:    newStakes,
		balance:   balance,
	}
	if !s.install(newSnapshot, gen) {
		// A newer refresh finished first; ours is stale
		return nil
	}
	if s.config.Cache != nil {
		if err := s.config.Cache.SaveSnapshot(ledgerProposals, newStakes); err != nil {
			s.logger.Warn(
				"failed to persist snapshot",
				"component", "proposals",
				"error", err,
			)
		}
	}
	s.publishSnapshot(newSnapshot)
	return nil
}

// install swaps in a new snapshot unless a newer generation already landed
func (s *Store) install(newSnapshot *snapshot, gen uint64) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if gen < s.installedGen {
		return false
	}
	s.installedGen = gen
	s.current = newSnapshot
	activeCount := 0
	for _, proposal := range newSnapshot.proposals {
		if proposal.Active {
			activeCount++
		}
	}
	s.metrics.proposalsTotal.Set(float64(len(newSnapshot.proposals)))
	s.metrics.proposalsActive.Set(float64(activeCount))
	return true
}

func (s *Store) publishSnapshot(snap *snapshot) {
	if s.config.EventBus == nil {
		return
	}
	activeCount := 0
	totalStaked := new(big.Int)
	for _, proposal := range snap.proposals {
		if proposal.Active {
			activeCount++
		}
		totalStaked.Add(totalStaked, proposal.TotalStaked)
	}
	s.config.EventBus.Publish(
		SnapshotEventType,
		event.NewEvent(
			SnapshotEventType,
			SnapshotEvent{
				Proposals:   copyProposals(snap.proposals),
				ActiveCount: activeCount,
				TotalStaked: totalStaked,
			},
		),
	)
}

// Snapshot returns the current complete proposal sequence in creation order.
// Each entry retains its original index even after callers filter or sort.
func (s *Store) Snapshot() []ledger.Proposal {
	s.mutex.RLock()
	snap := s.current
	s.mutex.RUnlock()
	return copyProposals(snap.proposals)
}

// UserStake returns the acting user's stake on a proposal (0 if absent)
func (s *Store) UserStake(proposalIdx int) *big.Int {
	s.mutex.RLock()
	snap := s.current
	s.mutex.RUnlock()
	if stake, ok := snap.stakes[proposalIdx]; ok {
		return new(big.Int).Set(stake)
	}
	return new(big.Int)
}

// Balance returns the acting user's token balance as of the last refresh
func (s *Store) Balance() *big.Int {
	s.mutex.RLock()
	snap := s.current
	s.mutex.RUnlock()
	return new(big.Int).Set(snap.balance)
}

// ActiveCount returns the number of active proposals in the snapshot
func (s *Store) ActiveCount() int {
	s.mutex.RLock()
	snap := s.current
	s.mutex.RUnlock()
	count := 0
	for _, proposal := range snap.proposals {
		if proposal.Active {
			count++
		}
	}
	return count
}

// TotalStaked returns the sum of TotalStaked across all proposals
func (s *Store) TotalStaked() *big.Int {
	s.mutex.RLock()
	snap := s.current
	s.mutex.RUnlock()
	total := new(big.Int)
	for _, proposal := range snap.proposals {
		total.Add(total, proposal.TotalStaked)
	}
	return total
}

// ActiveOnly filters a proposal sequence to active entries, preserving
// relative order
func ActiveOnly(proposals []ledger.Proposal) []ledger.Proposal {
	ret := make([]ledger.Proposal, 0, len(proposals))
	for _, proposal := range proposals {
		if proposal.Active {
			ret = append(ret, proposal)
		}
	}
	return ret
}

// ClosedOnly filters a proposal sequence to closed entries, preserving
// relative order
func ClosedOnly(proposals []ledger.Proposal) []ledger.Proposal {
	ret := make([]ledger.Proposal, 0, len(proposals))
	for _, proposal := range proposals {
		if !proposal.Active {
			ret = append(ret, proposal)
		}
	}
	return ret
}

func copyProposals(proposals []ledger.Proposal) []ledger.Proposal {
	ret := make([]ledger.Proposal, len(proposals))
	for i, proposal := range proposals {
		ret[i] = proposal
		if proposal.TotalStaked != nil {
			ret[i].TotalStaked = new(big.Int).Set(proposal.TotalStaked)
		}
	}
	return ret
}
