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

package leaderboard_test

import (
	"math/big"
	"testing"

	"github.com/clawdworks/voice/leaderboard"
	"github.com/clawdworks/voice/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeProposals(stakes ...int64) []ledger.Proposal {
	ret := make([]ledger.Proposal, len(stakes))
	for i, stake := range stakes {
		ret[i] = ledger.Proposal{
			Index:       i,
			TotalStaked: big.NewInt(stake),
			Active:      true,
		}
	}
	return ret
}

func TestRankDescending(t *testing.T) {
	ranked := leaderboard.Rank(makeProposals(10, 300, 20))
	require.Len(t, ranked, 3)
	assert.Equal(t, 1, ranked[0].Proposal.Index)
	assert.Equal(t, 2, ranked[1].Proposal.Index)
	assert.Equal(t, 0, ranked[2].Proposal.Index)
	for i, entry := range ranked {
		assert.Equal(t, i, entry.Rank)
	}
}

// Equal stakes keep creation order: [50,50,30] ranks as [0,1,2], not [1,0,2]
func TestRankStableTieBreak(t *testing.T) {
	ranked := leaderboard.Rank(makeProposals(50, 50, 30))
	require.Len(t, ranked, 3)
	assert.Equal(t, 0, ranked[0].Proposal.Index)
	assert.Equal(t, 1, ranked[1].Proposal.Index)
	assert.Equal(t, 2, ranked[2].Proposal.Index)
}

func TestRankDoesNotMutateInput(t *testing.T) {
	proposals := makeProposals(1, 2, 3)
	_ = leaderboard.Rank(proposals)
	for i, proposal := range proposals {
		assert.Equal(t, i, proposal.Index)
	}
	assert.EqualValues(t, 1, proposals[0].TotalStaked.Int64())
}

func TestPodium(t *testing.T) {
	ranked := leaderboard.Rank(makeProposals(5, 4, 3, 2, 1))
	require.Len(t, ranked, 5)
	assert.True(t, ranked[0].Podium())
	assert.True(t, ranked[2].Podium())
	assert.False(t, ranked[3].Podium())
}

func TestRankEmpty(t *testing.T) {
	assert.Empty(t, leaderboard.Rank(nil))
}
