package yuma

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/ledger"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/snapshot"
	"github.com/rony4d/go-subspace/subspace"
	"github.com/rony4d/go-subspace/utils/fixed"
	"github.com/rony4d/go-subspace/weights"
)

const budget = 1_000_000_000

func key(i int) common.Address {
	return common.BytesToAddress([]byte{0xcc, byte(i + 1)})
}

type testNet struct {
	reg     *registry.Registry
	ledger  *ledger.Store
	weights *weights.Store
	netuid  inter.NetUID
}

func newTestNet(t *testing.T, stakes []uint64, mutate func(p *subspace.SubnetParams)) *testNet {
	t.Helper()
	rules := subspace.FakeNetRules()
	rules.Global.MaxRegistrationsPerBlock = 1000
	rules.Subnet.MaxRegistrationsPerInterval = 1000
	rules.Subnet.FounderShare = 0
	if mutate != nil {
		mutate(&rules.Subnet)
	}
	l := ledger.New()
	reg := registry.New(rules, l, nil)
	nt := &testNet{reg: reg, ledger: l, weights: weights.New(reg, nil)}
	for i, stake := range stakes {
		l.Deposit(key(i), stake)
		netuid, _, err := reg.Register(1, registry.RegisterRequest{
			Key:        key(i),
			SubnetName: "yuma",
			Name:       fmt.Sprintf("m%d", i),
			Address:    "127.0.0.1:1",
			Stake:      stake,
		})
		require.NoError(t, err)
		nt.netuid = netuid
	}
	return nt
}

func (nt *testNet) setWeights(t *testing.T, block idx.Block, from int, uids []inter.UID, values []uint16) {
	t.Helper()
	require.NoError(t, nt.weights.SetWeights(block, nt.netuid, key(from), uids, values))
}

func (nt *testNet) epoch(t *testing.T, block idx.Block, emission uint64) *Output {
	t.Helper()
	p, err := snapshot.Build(nt.reg, nt.netuid, block, emission, subspace.DaoTreasuryAddress)
	require.NoError(t, err)
	out := Run(p)
	require.LessOrEqual(t, out.Total(), emission)
	require.NoError(t, nt.reg.ApplyScores(nt.netuid, out.Scores))
	return out
}

func paidTo(out *Output, module common.Address) uint64 {
	var total uint64
	for _, tup := range out.Tuples {
		if tup.Module == module {
			total += tup.Amount
		}
	}
	return total
}

func TestTwoModuleEpoch(t *testing.T) {
	require := require.New(t)
	stake := 100 * subspace.OneToken
	nt := newTestNet(t, []uint64{stake, stake}, func(p *subspace.SubnetParams) { p.MaxAllowedUids = 2 })

	nt.setWeights(t, 2, 0, []inter.UID{1}, []uint16{65535})
	out := nt.epoch(t, 3, budget)

	require.InDelta(uint64(999_999_999), paidTo(out, key(1)), 1)
	require.Zero(paidTo(out, key(0)))
	require.Equal(uint16(65535), out.Scores[1].Incentive)
	require.Equal(uint16(65535), out.Scores[1].Rank)
	require.Equal(uint16(65535), out.Scores[1].Trust)
	require.True(out.Scores[0].ValidatorPermit)

	require.Len(out.Scores[0].Bonds, 1)
	require.Equal(inter.UID(1), out.Scores[0].Bonds[0].UID)
	require.InDelta(6553, out.Scores[0].Bonds[0].Value, 1, "one epoch at a 0.9 moving average")
}

func TestBondsEarnDividends(t *testing.T) {
	require := require.New(t)
	stake := 100 * subspace.OneToken
	nt := newTestNet(t, []uint64{stake, stake}, nil)

	nt.setWeights(t, 2, 0, []inter.UID{1}, []uint16{65535})
	nt.epoch(t, 3, budget)
	out := nt.epoch(t, 4, budget)

	// the miner keeps its self-owned half, the bond holder earns the rest
	require.InDelta(uint64(budget/2), paidTo(out, key(0)), 1)
	require.InDelta(uint64(budget/2), paidTo(out, key(1)), 1)
	require.Greater(out.Scores[0].Bonds[0].Value, uint16(6553))
}

func TestUniformWeightsSplitEvenly(t *testing.T) {
	for _, k := range []int{1, 2, 3, 4, 7} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			stakes := make([]uint64, k+1)
			for i := range stakes {
				stakes[i] = subspace.OneToken
			}
			nt := newTestNet(t, stakes, nil)
			uids := make([]inter.UID, k)
			values := make([]uint16, k)
			for i := range uids {
				uids[i] = inter.UID(i + 1)
				values[i] = 1
			}
			nt.setWeights(t, 2, 0, uids, values)
			out := nt.epoch(t, 3, budget)

			for i := 1; i <= k; i++ {
				assert.InDelta(t, 65535/float64(k), out.Scores[i].Incentive, 1)
				assert.InDelta(t, 65535/float64(k), out.Scores[i].Dividends, 1)
				assert.InDelta(t, budget/float64(k), paidTo(out, key(i)), 1)
			}
			assert.Zero(t, out.Scores[0].Incentive)
		})
	}
}

func TestWeightAge(t *testing.T) {
	stake := 100 * subspace.OneToken
	tests := []struct {
		name      string
		consensus inter.ConsensusType
		age       idx.Block
		incentive uint16
	}{
		{"fresh", inter.ConsensusYuma, 10, 65535},
		{"last block before cutoff", inter.ConsensusYuma, 99, 65535},
		{"expired", inter.ConsensusYuma, 100, 0},
		{"linear keeps old weights", inter.ConsensusLinear, 5000, 65535},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nt := newTestNet(t, []uint64{stake, stake}, func(p *subspace.SubnetParams) {
				p.MaxWeightAge = 100
				p.ConsensusType = tt.consensus
			})
			nt.setWeights(t, 2, 0, []inter.UID{1}, []uint16{65535})
			out := nt.epoch(t, 2+tt.age, budget)
			require.Equal(t, tt.incentive, out.Scores[1].Incentive)
			if tt.incentive == 0 {
				// nobody active: priced by stake
				require.InDelta(t, uint64(budget/2), paidTo(out, key(0)), 1)
				require.InDelta(t, uint64(budget/2), paidTo(out, key(1)), 1)
			}
		})
	}
}

func TestLinearConsensusIsTrust(t *testing.T) {
	stake := 100 * subspace.OneToken
	nt := newTestNet(t, []uint64{stake, stake, stake, stake}, func(p *subspace.SubnetParams) {
		p.ConsensusType = inter.ConsensusLinear
	})
	nt.setWeights(t, 2, 0, []inter.UID{2}, []uint16{1})
	nt.setWeights(t, 2, 1, []inter.UID{2, 3}, []uint16{1, 1})
	out := nt.epoch(t, 3, budget)

	require.Equal(t, out.Scores[2].Trust, out.Scores[2].Consensus)
	require.Equal(t, out.Scores[3].Trust, out.Scores[3].Consensus)
	require.InDelta(t, 65535, out.Scores[2].Trust, 1)
	require.InDelta(t, 65535/2, out.Scores[3].Trust, 1)
}

func TestSigmoidSuppressesMinority(t *testing.T) {
	stake := 100 * subspace.OneToken
	nt := newTestNet(t, []uint64{9 * stake, stake, stake, stake}, nil)
	nt.setWeights(t, 2, 0, []inter.UID{2}, []uint16{1})
	nt.setWeights(t, 2, 1, []inter.UID{3}, []uint16{1})
	out := nt.epoch(t, 3, budget)

	// uid 3 gets 10% of the rank but almost no consensus
	require.Less(t, out.Scores[3].Incentive, uint16(65535/100))
	require.Greater(t, out.Scores[2].Incentive, uint16(65535*99/100))
}

func TestValidatorPermits(t *testing.T) {
	nt := newTestNet(t, []uint64{50, 40, 30, 20, 5}, func(p *subspace.SubnetParams) {
		p.MaxAllowedValidators = 3
		p.MinValidatorStake = 10
	})
	out := nt.epoch(t, 3, budget)

	var permits []bool
	for _, s := range out.Scores {
		permits = append(permits, s.ValidatorPermit)
	}
	require.Equal(t, []bool{true, true, true, false, false}, permits)
}

func TestStakersShareEmission(t *testing.T) {
	require := require.New(t)
	stake := 100 * subspace.OneToken
	nt := newTestNet(t, []uint64{stake, stake}, nil)
	alice := common.HexToAddress("0xa11ce")
	nt.ledger.Deposit(alice, stake)
	require.NoError(nt.ledger.AddStake(alice, key(1), stake))

	nt.setWeights(t, 2, 0, []inter.UID{1}, []uint16{65535})
	out := nt.epoch(t, 3, budget)

	var toAlice, toOwner uint64
	for _, tup := range out.Tuples {
		require.Equal(key(1), tup.Module)
		switch tup.Staker {
		case alice:
			toAlice += tup.Amount
		case key(1):
			toOwner += tup.Amount
		}
	}
	require.InDelta(uint64(475_000_000), toAlice, 1, "half the stake minus the 5% fee")
	require.InDelta(uint64(525_000_000), toOwner, 1)
}

func TestWeightControlDelegateFee(t *testing.T) {
	require := require.New(t)
	stake := 100 * subspace.OneToken
	nt := newTestNet(t, []uint64{stake, stake, stake}, nil)
	require.NoError(nt.weights.DelegateWeightControl(1, nt.netuid, key(2), key(0)))

	nt.setWeights(t, 2, 0, []inter.UID{1}, []uint16{65535})
	nt.epoch(t, 3, budget)
	out := nt.epoch(t, 4, budget)

	// uid 2 earns only through bonds, so its delegate takes 20% of it
	delegated := out.Scores[2].Emission
	require.NotZero(delegated)
	var fee uint64
	for _, tup := range out.Tuples {
		if tup.Module == key(0) && tup.Staker == key(0) {
			fee += tup.Amount
		}
	}
	require.InDelta(out.Scores[0].Emission+delegated/5, fee, 2)
}

func TestFounderShare(t *testing.T) {
	stake := 100 * subspace.OneToken
	nt := newTestNet(t, []uint64{stake, stake}, func(p *subspace.SubnetParams) { p.FounderShare = 8 })
	nt.setWeights(t, 2, 0, []inter.UID{1}, []uint16{65535})
	out := nt.epoch(t, 3, budget)

	require.Equal(t, registry.EmissionTuple{Staker: key(0), Amount: budget * 8 / 100}, out.Tuples[0])
	require.InDelta(t, uint64(budget*92/100), paidTo(out, key(1)), 1)
}

func TestTreasuryAndRoot(t *testing.T) {
	treasury := newTestNet(t, []uint64{10}, func(p *subspace.SubnetParams) { p.ConsensusType = inter.ConsensusTreasury })
	out := treasury.epoch(t, 3, budget)
	require.Equal(t, []registry.EmissionTuple{{Staker: subspace.DaoTreasuryAddress, Amount: budget}}, out.Tuples)

	root := newTestNet(t, []uint64{10}, func(p *subspace.SubnetParams) { p.ConsensusType = inter.ConsensusRoot })
	out = root.epoch(t, 3, budget)
	require.Empty(t, out.Tuples)
	require.Len(t, out.Scores, 1)
}

func TestConservation(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		n := 2 + rnd.Intn(8)
		stakes := make([]uint64, n)
		for i := range stakes {
			stakes[i] = uint64(rnd.Int63n(1_000_000 * int64(subspace.OneToken)))
		}
		nt := newTestNet(t, stakes, func(p *subspace.SubnetParams) {
			p.FounderShare = uint16(rnd.Intn(101))
			p.BondsMovingAverage = uint64(rnd.Intn(subspace.PerMillion + 1))
		})
		for i := 0; i < n; i++ {
			m, err := nt.reg.Module(nt.netuid, inter.UID(i))
			require.NoError(t, err)
			for j := 0; j < n; j++ {
				if j == i {
					continue
				}
				if rnd.Intn(2) == 0 {
					m.Weights = append(m.Weights, registry.Weight{UID: inter.UID(j), Value: uint16(rnd.Intn(65536))})
				}
				if rnd.Intn(3) == 0 {
					m.Bonds = append(m.Bonds, registry.Bond{UID: inter.UID(j), Value: uint16(rnd.Intn(65536))})
				}
			}
			m.LastUpdate = 2
		}
		emission := uint64(rnd.Int63())
		p, err := snapshot.Build(nt.reg, nt.netuid, 3, emission, subspace.DaoTreasuryAddress)
		require.NoError(t, err)
		out := Run(p)
		require.LessOrEqual(t, out.Total(), emission, "iteration %d", iter)
		require.Len(t, out.Scores, n)
	}
}

func TestRootPricing(t *testing.T) {
	stakes := map[inter.NetUID]uint64{1: 300, 2: 100}
	subnets := []inter.NetUID{1, 2}

	t.Run("stake fallback", func(t *testing.T) {
		res := RootPricing(nil, subnets, stakes, 1000)
		require.Equal(t, map[inter.NetUID]uint64{1: 750, 2: 250}, res)
	})

	t.Run("root weights", func(t *testing.T) {
		root := &snapshot.Params{
			Kappa: 32767,
			Rho:   10,
			Modules: []snapshot.ModuleParams{
				{StakeNormalized: fixed.One(), Weights: []registry.Weight{{UID: 2, Value: 65535}}},
			},
		}
		res := RootPricing(root, subnets, stakes, 1000)
		require.Equal(t, uint64(0), res[1])
		require.InDelta(t, 1000, res[2], 1)
	})
}
