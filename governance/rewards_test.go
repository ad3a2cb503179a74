package governance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRewardAllocation(t *testing.T) {
	tests := []struct {
		name     string
		treasury uint64
		pct      uint8
		max      uint64
		n        int
		want     uint64
	}{
		{"first proposal", 1000, 2, math.MaxUint64, 0, 20},
		{"second proposal", 1000, 2, math.MaxUint64, 1, 13},
		{"third proposal", 1000, 2, math.MaxUint64, 2, 8},
		{"capped", 1_000_000_000, 2, 1000, 0, 1000},
		{"capped and decayed", 1_000_000_000, 2, 1000, 1, 666},
		{"empty treasury", 0, 2, 1000, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RewardAllocation(tt.treasury, tt.pct, tt.max, tt.n)
			require.Equal(t, tt.want, got.ToUint64())
		})
	}
}

func TestTickRewards(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 100, 200, 300)
	treasury := f.engine.Treasury()
	f.fundTreasury(1_000_000)

	for i := 0; i < 2; i++ {
		id, err := f.engine.AddGlobalCustomProposal(1, key(0), "ipfs://custom")
		require.NoError(err)
		require.NoError(f.engine.Vote(2, key(1), id, true))
		require.NoError(f.engine.Vote(2, key(2), id, true))
	}
	f.engine.TickProposals(100)
	require.Len(f.engine.Unrewarded(), 2)

	before1 := f.ledger.FreeBalance(key(1))
	before2 := f.ledger.FreeBalance(key(2))

	f.engine.TickRewards(999)
	require.Len(f.engine.Unrewarded(), 2, "only on reward interval blocks")

	f.engine.TickRewards(1000)
	require.Empty(f.engine.Unrewarded())

	got1 := f.ledger.FreeBalance(key(1)) - before1
	got2 := f.ledger.FreeBalance(key(2)) - before2
	paid := got1 + got2
	// 20000 + 20000/1.5 split by sqrt(400) : sqrt(600)
	require.InDelta(33333, paid, 2)
	require.InDelta(14983, got1, 2)
	require.InDelta(18350, got2, 2)
	require.Equal(1_000_000-paid, f.ledger.FreeBalance(treasury))
	require.Zero(f.ledger.FreeBalance(key(0))-10*token, "the proposer did not vote")
	require.Len(f.events.Named(EventProposalRewarded), 1)
}

func TestTickRewardsPerScope(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 100, 200)
	f.fundTreasury(1_000_000)

	global, err := f.engine.AddGlobalCustomProposal(1, key(0), "ipfs://global")
	require.NoError(err)
	scoped, err := f.engine.AddSubnetCustomProposal(1, key(0), f.netuid, "ipfs://scoped")
	require.NoError(err)
	for _, id := range []uint64{global, scoped} {
		require.NoError(f.engine.Vote(2, key(1), id, true))
	}
	f.engine.TickProposals(100)

	before := f.ledger.FreeBalance(key(1))
	f.engine.TickRewards(1000)

	// each scope starts its own decay: 2% of 1000000, then 2% of what is left
	require.Equal(uint64(20000+19600), f.ledger.FreeBalance(key(1))-before)
	require.Len(f.events.Named(EventProposalRewarded), 2)
}

func TestStaleRewardsDropped(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 100, 200, 300)
	treasury := f.engine.Treasury()
	f.fundTreasury(1_000_000)

	id, err := f.engine.AddGlobalCustomProposal(1, key(0), "ipfs://custom")
	require.NoError(err)
	require.NoError(f.engine.Vote(2, key(2), id, true))
	f.engine.TickProposals(100)

	f.engine.TickRewards(2000)
	require.Empty(f.engine.Unrewarded())
	require.Equal(uint64(1_000_000), f.ledger.FreeBalance(treasury))
	require.Empty(f.events.Named(EventProposalRewarded))
}
