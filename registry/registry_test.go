package registry

import (
	"fmt"
	"testing"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/ledger"
	"github.com/rony4d/go-subspace/subspace"
)

func key(i int) common.Address {
	return common.BytesToAddress([]byte{0xaa, byte(i + 1)})
}

func newTestRegistry(t *testing.T, mutate func(r *subspace.Rules)) (*Registry, *ledger.Store, *inter.EventLog) {
	t.Helper()
	rules := subspace.FakeNetRules()
	rules.Subnet.MaxRegistrationsPerInterval = 1000
	rules.Global.MaxRegistrationsPerBlock = 1000
	if mutate != nil {
		mutate(&rules)
	}
	l := ledger.New()
	events := inter.NewEventLog()
	return New(rules, l, events), l, events
}

func register(t *testing.T, r *Registry, l *ledger.Store, block idx.Block, subnet string, i int, stake uint64) (inter.NetUID, inter.UID) {
	t.Helper()
	l.Deposit(key(i), stake)
	netuid, uid, err := r.Register(block, RegisterRequest{
		Key:        key(i),
		SubnetName: subnet,
		Name:       fmt.Sprintf("module-%d", i),
		Address:    fmt.Sprintf("127.0.0.1:%d", 3000+i),
		Stake:      stake,
	})
	require.NoError(t, err)
	return netuid, uid
}

func requireDense(t *testing.T, s *Subnet) {
	t.Helper()
	require.Len(t, s.keys, s.N())
	for i, m := range s.Modules {
		require.NotNil(t, m)
		uid, ok := s.UID(m.Key)
		require.True(t, ok)
		require.Equal(t, inter.UID(i), uid)
		for _, w := range m.Weights {
			require.Less(t, int(w.UID), s.N())
		}
		for _, b := range m.Bonds {
			require.Less(t, int(b.UID), s.N())
		}
	}
}

func TestRegisterCreatesSubnet(t *testing.T) {
	require := require.New(t)
	r, l, events := newTestRegistry(t, nil)

	netuid, uid := register(t, r, l, 1, "text", 0, 100)
	require.Equal(inter.NetUID(0), netuid)
	require.Equal(inter.UID(0), uid)

	s, ok := r.Subnet(netuid)
	require.True(ok)
	require.Equal(key(0), s.Params.Founder)
	require.Equal(uint64(100), l.DelegatedStake(key(0)))
	require.Zero(l.FreeBalance(key(0)))
	require.Len(events.Named(EventSubnetAdded), 1)
	require.Len(events.Named(EventModuleRegistered), 1)

	_, uid = register(t, r, l, 1, "text", 1, 5)
	require.Equal(inter.UID(1), uid)
}

func TestRegisterErrors(t *testing.T) {
	r, l, _ := newTestRegistry(t, func(rules *subspace.Rules) {
		rules.Global.MinStake = 10
	})
	register(t, r, l, 1, "text", 0, 10)
	l.Deposit(key(1), 100)

	tests := []struct {
		name string
		req  RegisterRequest
		err  error
	}{
		{"short name", RegisterRequest{Key: key(1), SubnetName: "text", Name: "x", Address: "a", Stake: 10}, ErrInvalidModuleName},
		{"no address", RegisterRequest{Key: key(1), SubnetName: "text", Name: "abc", Stake: 10}, ErrInvalidModuleAddress},
		{"small stake", RegisterRequest{Key: key(1), SubnetName: "text", Name: "abc", Address: "a", Stake: 9}, ErrStakeTooSmall},
		{"duplicate key", RegisterRequest{Key: key(0), SubnetName: "text", Name: "abc", Address: "a", Stake: 10}, ErrKeyAlreadyRegistered},
		{"duplicate name", RegisterRequest{Key: key(1), SubnetName: "text", Name: "module-0", Address: "a", Stake: 10}, ErrModuleNameAlreadyExists},
		{"poor", RegisterRequest{Key: key(1), SubnetName: "text", Name: "abc", Address: "a", Stake: 101}, ErrNotEnoughBalanceToRegister},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := r.Register(2, tt.req)
			require.ErrorIs(t, err, tt.err)
			require.Equal(t, uint64(100), l.FreeBalance(key(1)), "no funds move on failure")
		})
	}
}

func TestRegistrationsPerBlock(t *testing.T) {
	r, l, _ := newTestRegistry(t, func(rules *subspace.Rules) {
		rules.Global.MaxRegistrationsPerBlock = 2
	})
	register(t, r, l, 1, "text", 0, 1)
	register(t, r, l, 1, "text", 1, 1)

	l.Deposit(key(2), 1)
	_, _, err := r.Register(1, RegisterRequest{Key: key(2), SubnetName: "text", Name: "abc", Address: "a", Stake: 1})
	require.ErrorIs(t, err, ErrTooManyRegistrationsPerBlock)
	require.Equal(t, inter.KindResourceExhaustion, inter.KindOf(err))

	r.OnBlock(2)
	_, _, err = r.Register(2, RegisterRequest{Key: key(2), SubnetName: "text", Name: "abc", Address: "a", Stake: 1})
	require.NoError(t, err)
}

// TestDensity registers and deregisters in an interleaved order and checks
// the uid space stays dense with edges remapped to the same peers.
func TestDensity(t *testing.T) {
	require := require.New(t)
	r, l, _ := newTestRegistry(t, nil)

	for i := 0; i < 6; i++ {
		register(t, r, l, 1, "text", i, 10)
	}
	s, _ := r.Subnet(0)
	// module 0 weights everybody else, bonds on uid 5 and uid 2
	s.Modules[0].Weights = []Weight{{1, 10}, {2, 20}, {3, 30}, {4, 40}, {5, 50}}
	s.Modules[0].Bonds = []Bond{{2, 7}, {5, 9}}

	require.NoError(r.Deregister(2, 0, key(2)))
	requireDense(t, s)
	require.Equal(5, s.N())
	require.Equal(key(5), s.Modules[2].Key, "last module moved into the freed slot")
	require.Equal([]Weight{{1, 10}, {2, 50}, {3, 30}, {4, 40}}, s.Modules[0].Weights)
	require.Equal([]Bond{{2, 9}}, s.Modules[0].Bonds)

	require.NoError(r.Deregister(2, 0, key(0)))
	requireDense(t, s)
	require.Equal(key(4), s.Modules[0].Key)

	for _, i := range []int{1, 3, 4, 5} {
		require.NoError(r.Deregister(3, 0, key(i)))
		if s.N() > 0 {
			requireDense(t, s)
		}
	}
	_, exists := r.Subnet(0)
	require.False(exists, "emptied subnet is removed")
	require.Equal([]inter.NetUID{0}, r.Gaps())
	require.Equal(uint64(10), l.FreeBalance(key(3)), "stake refunded")
}

// TestImmunityPrecedence checks immune modules survive while a non-immune
// candidate exists, regardless of emission.
func TestImmunityPrecedence(t *testing.T) {
	require := require.New(t)
	s := &Subnet{Params: subspace.FakeSubnetParams()}
	s.Params.ImmunityPeriod = 10
	s.Modules = []*Module{
		{RegistrationBlock: 0, Emission: 500},
		{RegistrationBlock: 95, Emission: 0},
		{RegistrationBlock: 5, Emission: 100},
		{RegistrationBlock: 98, Emission: 1},
	}

	uid, ok := PruneCandidate(s, 100)
	require.True(ok)
	require.Equal(inter.UID(2), uid, "lowest emission among non-immune")

	s.Modules[0].RegistrationBlock = 92
	s.Modules[2].RegistrationBlock = 93
	uid, _ = PruneCandidate(s, 100)
	require.Equal(inter.UID(1), uid, "all immune: lowest emission among them")

	s.Modules[1].Emission = 1
	s.Modules[3].RegistrationBlock = 91
	uid, _ = PruneCandidate(s, 100)
	require.Equal(inter.UID(3), uid, "tie broken by older registration")

	_, ok = PruneCandidate(&Subnet{}, 100)
	require.False(ok)
}

func TestFullSubnetPrunes(t *testing.T) {
	require := require.New(t)
	r, l, events := newTestRegistry(t, func(rules *subspace.Rules) {
		rules.Subnet.MaxAllowedUids = 3
		rules.Subnet.ImmunityPeriod = 5
	})
	for i := 0; i < 3; i++ {
		register(t, r, l, 1, "text", i, 10)
	}
	s, _ := r.Subnet(0)
	s.Modules[0].Emission = 5
	s.Modules[1].Emission = 1
	s.Modules[2].Emission = 9

	_, uid := register(t, r, l, 20, "text", 3, 10)
	require.Equal(3, s.N())
	require.Equal(inter.UID(2), uid)
	_, err := r.UIDOf(0, key(1))
	require.ErrorIs(err, ErrModuleNotFound)
	require.Equal(uint64(10), l.FreeBalance(key(1)))
	require.Len(events.Named(EventModuleDeregistered), 1)
	requireDense(t, s)
}

func TestGlobalModuleCap(t *testing.T) {
	r, l, _ := newTestRegistry(t, func(rules *subspace.Rules) {
		rules.Global.MaxAllowedModules = 2
		rules.Subnet.MaxAllowedUids = 2
	})
	register(t, r, l, 1, "text", 0, 10)
	register(t, r, l, 1, "text", 1, 10)

	l.Deposit(key(2), 10)
	_, _, err := r.Register(1, RegisterRequest{Key: key(2), SubnetName: "other", Name: "abc", Address: "a", Stake: 10})
	require.ErrorIs(t, err, ErrMaxAllowedModules)

	register(t, r, l, 50, "text", 3, 10)
	require.Equal(t, 2, r.TotalModules(), "joining a full chain replaces a slot")
}

// TestSubnetEviction covers eviction of the least staked removable subnet.
func TestSubnetEviction(t *testing.T) {
	require := require.New(t)
	r, l, _ := newTestRegistry(t, func(rules *subspace.Rules) {
		rules.Global.MaxAllowedSubnets = 2
	})
	register(t, r, l, 1, "alpha", 0, 50)
	register(t, r, l, 1, "beta", 1, 20)

	l.Deposit(key(2), 20)
	_, _, err := r.Register(2, RegisterRequest{Key: key(2), SubnetName: "gamma", Name: "abc", Address: "a", Stake: 20})
	require.ErrorIs(err, ErrNotEnoughStakeToStartNetwork)

	netuid, _ := register(t, r, l, 2, "gamma", 3, 21)
	require.Equal(inter.NetUID(1), netuid, "evicted netuid reused")
	_, ok := r.SubnetByName("beta")
	require.False(ok)
	require.Equal(uint64(20), l.FreeBalance(key(1)))
	require.Empty(r.Gaps())
}

// TestProtectedSubnetsRejectNewSubnet covers a cap reached by subnets that
// can never be evicted.
func TestProtectedSubnetsRejectNewSubnet(t *testing.T) {
	require := require.New(t)
	r, l, _ := newTestRegistry(t, func(rules *subspace.Rules) {
		rules.Global.MaxAllowedSubnets = 2
	})
	for _, name := range []string{"root", "treasury"} {
		params := r.Template
		params.Name = name
		params.ConsensusType = inter.ConsensusRoot
		_, err := r.AddSubnet(0, params, 0)
		require.NoError(err)
	}

	l.Deposit(key(0), 1_000_000)
	_, _, err := r.Register(1, RegisterRequest{Key: key(0), SubnetName: "new", Name: "abc", Address: "a", Stake: 1_000_000})
	require.ErrorIs(err, ErrInvalidMaxAllowedSubnets)
	require.Len(r.NetUIDs(), 2)
	require.Equal(uint64(1_000_000), l.FreeBalance(key(0)))
}

func TestSharedKeyKeepsStake(t *testing.T) {
	r, l, _ := newTestRegistry(t, nil)
	register(t, r, l, 1, "alpha", 0, 10)
	_, _, err := r.Register(1, RegisterRequest{Key: key(0), SubnetName: "beta", Name: "abc", Address: "a"})
	require.NoError(t, err)

	r.RemoveSubnet(2, 0)
	require.Equal(t, uint64(10), l.DelegatedStake(key(0)), "key still registered on beta")
	require.Equal(t, []inter.NetUID{1}, r.SubnetsOf(key(0)))
}

func TestUpdateSubnet(t *testing.T) {
	require := require.New(t)
	r, l, _ := newTestRegistry(t, nil)
	register(t, r, l, 1, "text", 0, 10)
	register(t, r, l, 1, "text", 1, 10)
	s, _ := r.Subnet(0)

	params := s.Params
	params.Tempo = 77
	require.ErrorIs(r.UpdateSubnet(2, inter.Signed(key(1)), 0, params), ErrNotFounder)
	require.NoError(r.UpdateSubnet(2, inter.Signed(key(0)), 0, params))
	require.Equal(uint16(77), s.Params.Tempo)

	params.MaxAllowedUids = 1
	require.ErrorIs(r.UpdateSubnet(2, inter.RootOrigin(), 0, params), ErrMaxAllowedUidsBelowModules)

	params = s.Params
	params.FounderShare = 200
	require.ErrorIs(r.UpdateSubnet(2, inter.Signed(key(0)), 0, params), subspace.ErrInvalidFounderShare)
	require.Equal(uint16(77), s.Params.Tempo)
}

func TestAdjustBurn(t *testing.T) {
	p := subspace.DefaultSubnetParams()
	p.TargetRegistrationsPerInterval = 4
	p.MinBurn = 10
	p.MaxBurn = 1000

	tests := []struct {
		name   string
		burn   uint64
		actual uint16
		want   uint64
	}{
		{"on target", 100, 4, 100},
		{"over target", 100, 12, 200},
		{"under target", 100, 0, 50},
		{"floor", 15, 0, 10},
		{"ceiling", 900, 40, 1000},
		{"below min starts at min", 0, 4, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, AdjustBurn(tt.burn, tt.actual, p))
		})
	}

	t.Run("monotonic", func(t *testing.T) {
		prev := uint64(0)
		for actual := uint16(0); actual < 20; actual++ {
			got := AdjustBurn(100, actual, p)
			require.GreaterOrEqual(t, got, prev)
			prev = got
		}
	})
}

func TestOnBlockAdjustsBurn(t *testing.T) {
	r, l, _ := newTestRegistry(t, func(rules *subspace.Rules) {
		rules.Subnet.TargetRegistrationsInterval = 10
		rules.Subnet.TargetRegistrationsPerInterval = 1
		rules.Subnet.MinBurn = 100
		rules.Subnet.MaxBurn = 1000
	})
	register(t, r, l, 1, "text", 0, 0)
	l.Deposit(key(1), 100)
	_, _, err := r.Register(1, RegisterRequest{Key: key(1), SubnetName: "text", Name: "abc", Address: "a"})
	require.NoError(t, err)
	require.Zero(t, l.FreeBalance(key(1)), "burn withdrawn")

	s, _ := r.Subnet(0)
	require.Equal(t, uint16(2), s.RegistrationsThisInterval)
	r.OnBlock(10)
	require.Equal(t, uint64(150), s.Burn)
	require.Zero(t, s.RegistrationsThisInterval)
}

func TestApplyScoresAndCopy(t *testing.T) {
	require := require.New(t)
	r, l, _ := newTestRegistry(t, nil)
	register(t, r, l, 1, "text", 0, 10)

	require.ErrorIs(r.ApplyScores(0, nil), ErrStorageBroken)
	require.NoError(r.ApplyScores(0, []Scores{{Emission: 7, Incentive: 3, Bonds: []Bond{{0, 1}}}}))

	cp := r.Copy()
	cs, _ := cp.Subnet(0)
	cs.Modules[0].Emission = 99
	cs.Modules[0].Bonds[0].Value = 5

	s, _ := r.Subnet(0)
	require.Equal(uint64(7), s.Modules[0].Emission)
	require.Equal(uint16(1), s.Modules[0].Bonds[0].Value)
}
