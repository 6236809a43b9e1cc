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

package voice_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	voice "github.com/clawdworks/voice"
	"github.com/clawdworks/voice/ledger"
	"github.com/clawdworks/voice/ledger/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOwner   ledger.Identity = "0xOwner"
	testUser    ledger.Identity = "0xUser"
	testSpender ledger.Identity = "0xSpender"
)

func startTestCore(t *testing.T, mockLedger *mock.Ledger) *voice.Core {
	t.Helper()
	core, err := voice.New(voice.NewConfig(
		voice.WithLedger(mockLedger),
		voice.WithUser(testUser),
		voice.WithSpender(testSpender),
		voice.WithShutdownTimeout(5*time.Second),
	))
	require.NoError(t, err)
	runDone := make(chan error, 1)
	go func() {
		runDone <- core.Run()
	}()
	t.Cleanup(func() {
		require.NoError(t, core.Stop())
		select {
		case err := <-runDone:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("timeout waiting for core to stop")
		}
	})
	require.Eventually(
		t,
		func() bool {
			return core.Coordinator() != nil
		},
		10*time.Second,
		10*time.Millisecond,
	)
	return core
}

func TestCoreEndToEnd(t *testing.T) {
	ctx := context.Background()
	mockLedger := mock.NewLedger(mock.LedgerConfig{
		Owner:   testOwner,
		Caller:  testOwner,
		Spender: testSpender,
	})
	tx, err := mockLedger.CreateProposal(ctx, "first", "the first idea")
	require.NoError(t, err)
	require.NoError(t, tx.Wait(ctx))
	mockLedger.SetCaller(testUser)
	mockLedger.SetBalance(testUser, big.NewInt(5000))

	core := startTestCore(t, mockLedger)
	require.Eventually(
		t,
		func() bool {
			return len(core.Proposals().Snapshot()) == 1
		},
		10*time.Second,
		10*time.Millisecond,
	)
	require.NoError(t, core.Coordinator().Stake(ctx, 0, big.NewInt(1000)))
	assert.EqualValues(t, 1000, core.Proposals().UserStake(0).Int64())
	snapshot := core.Proposals().Snapshot()
	require.Len(t, snapshot, 1)
	assert.EqualValues(t, 1000, snapshot[0].TotalStaked.Int64())
	// The confirmed stake landed in the session journal alongside the
	// approval that preceded it
	actions, err := core.Database().RecentActions(10)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "stake", actions[0].Kind)
	assert.Equal(t, "approve", actions[1].Kind)
}

func TestCoreNoPriceSource(t *testing.T) {
	mockLedger := mock.NewLedger(mock.LedgerConfig{
		Owner:   testOwner,
		Caller:  testUser,
		Spender: testSpender,
	})
	core := startTestCore(t, mockLedger)
	assert.Nil(t, core.Price())
}
