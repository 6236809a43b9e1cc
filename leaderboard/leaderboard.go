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

// Package leaderboard produces a deterministic total order over proposals by
// staked amount. It is pure: it never mutates its input and has no failure
// modes.
package leaderboard

import (
	"sort"

	"github.com/clawdworks/voice/ledger"
)

// PodiumSize is the number of leading ranks given distinguished display
// treatment
const PodiumSize = 3

// Entry is a ranked proposal. Rank is 0-based; Proposal.Index still carries
// the original creation index.
type Entry struct {
	Proposal ledger.Proposal
	Rank     int
}

// Podium reports whether the entry occupies one of the distinguished
// leading ranks
func (e Entry) Podium() bool {
	return e.Rank < PodiumSize
}

// Rank orders proposals by TotalStaked descending. Ties keep ascending
// creation order: the sort is stable so that equally-staked proposals never
// shuffle between refreshes.
func Rank(proposals []ledger.Proposal) []Entry {
	ordered := make([]ledger.Proposal, len(proposals))
	copy(ordered, proposals)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TotalStaked.Cmp(ordered[j].TotalStaked) > 0
	})
	ret := make([]Entry, len(ordered))
	for i, proposal := range ordered {
		ret[i] = Entry{
			Rank:     i,
			Proposal: proposal,
		}
	}
	return ret
}
