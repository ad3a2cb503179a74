package worker

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-subspace/copyguard"
	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/ledger"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/snapshot"
	"github.com/rony4d/go-subspace/subspace"
	"github.com/rony4d/go-subspace/utils/fixed"
	"github.com/rony4d/go-subspace/weights"
	"github.com/rony4d/go-subspace/yuma"
)

type chain struct {
	block idx.Block
	guard *copyguard.Guard
}

func (c *chain) Block() idx.Block { return c.block }

func (c *chain) AssignedSubnets(a common.Address) []inter.NetUID {
	return c.guard.AssignedSubnets(a)
}

func (c *chain) PendingParams(netuid inter.NetUID) []*snapshot.Params {
	return c.guard.PendingParams(netuid)
}

var errPoolFull = errors.New("pool full")

type sink struct {
	mu  sync.Mutex
	got []Submission
	// fail rejects that many submissions before accepting again.
	fail int
}

func (s *sink) Submit(_ context.Context, sub Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errPoolFull
	}
	s.got = append(s.got, sub)
	return nil
}

func key(i int) common.Address {
	return common.BytesToAddress([]byte{0xaa, byte(i + 1)})
}

type fixture struct {
	reg     *registry.Registry
	weights *weights.Store
	guard   *copyguard.Guard
	chain   *chain
	sink    *sink
	worker  *Worker
	netuid  inter.NetUID
}

func newFixture(t *testing.T, modules int, maxPeriod idx.Block) *fixture {
	t.Helper()
	rules := subspace.FakeNetRules()
	rules.Global.MaxRegistrationsPerBlock = 100
	rules.Subnet.MaxRegistrationsPerInterval = 100
	rules.Subnet.UseWeightsEncryption = true
	rules.Subnet.MaxEncryptionPeriod = maxPeriod

	reg := registry.New(rules, ledger.New(), inter.Discard)
	f := &fixture{reg: reg, weights: weights.New(reg, inter.Discard), sink: &sink{}}
	f.guard = copyguard.New(rules.Encryption, reg, f.weights, inter.Discard)
	for i := 0; i < modules; i++ {
		reg.Ledger().Deposit(key(i), 1000)
		netuid, _, err := reg.Register(1, registry.RegisterRequest{
			Key:        key(i),
			SubnetName: "enc",
			Name:       fmt.Sprintf("m%d", i),
			Address:    "a:1",
			Stake:      1000,
		})
		require.NoError(t, err)
		f.netuid = netuid
	}

	signer, err := crypto.ToECDSA(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	enc, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.SigningKey = signer
	cfg.EncryptionKey = enc

	f.chain = &chain{block: 1, guard: f.guard}
	f.worker = New(cfg, f.chain, f.sink)
	require.NoError(t, f.guard.SetAuthorities(0, inter.RootOrigin(), []copyguard.Authority{{
		SigningKey:    f.worker.PublicKey(),
		EncryptionKey: copyguard.MarshalEncryptionKey(&enc.PublicKey),
	}}))
	f.guard.DistributeSubnetsToNodes(1)
	return f
}

func (f *fixture) setWeights(t *testing.T, block idx.Block, from int, blob []byte) {
	t.Helper()
	der, ok := f.guard.SubnetEncryptionKey(f.netuid)
	require.True(t, ok)
	pub, err := copyguard.ParseEncryptionKey(der)
	require.NoError(t, err)
	ct, err := copyguard.Encrypt(nil, pub, blob)
	require.NoError(t, err)
	require.NoError(t, f.weights.SetWeightsEncrypted(block, f.netuid, key(from), ct, copyguard.WeightHash(blob)))
}

func (f *fixture) epoch(t *testing.T, block idx.Block) {
	t.Helper()
	p, err := snapshot.Build(f.reg, f.netuid, block, 1_000_000, common.Address{})
	require.NoError(t, err)
	f.guard.StoreConsensusParams(f.netuid, p)
}

func TestPing(t *testing.T) {
	f := newFixture(t, 1, 1000)
	f.chain.block = 10

	require.NoError(t, f.worker.Ping(context.Background()))
	require.Len(t, f.sink.got, 1)
	sub := f.sink.got[0]
	require.NotNil(t, sub.Ping)
	require.Nil(t, sub.Weights)
	require.Equal(t, idx.Block(10), sub.Ping.BlockNumber)
	require.NoError(t, f.guard.SendPing(10, *sub.Ping, sub.Signature))
	require.Equal(t, idx.Block(10), f.guard.Authorities()[0].LastKeepAlive)
}

func TestTickDecryptsAndReleases(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 3, 0)

	w0 := []registry.Weight{{UID: 1, Value: 65535}}
	w1 := []registry.Weight{{UID: 0, Value: 30000}, {UID: 2, Value: 35535}}
	f.setWeights(t, 2, 0, copyguard.EncodeWeights(w0, key(0)))
	f.setWeights(t, 2, 1, copyguard.EncodeWeights(w1, key(1)))
	// module 2 replays module 0's blob as its own
	f.setWeights(t, 2, 2, copyguard.EncodeWeights(w0, key(0)))
	f.epoch(t, 10)

	f.chain.block = 11
	require.NoError(f.worker.Tick(context.Background()))
	require.Len(f.sink.got, 1)
	sub := f.sink.got[0]
	require.NotNil(sub.Weights)
	require.Len(sub.Weights.Weights, 1)
	batch := sub.Weights.Weights[0]
	require.Equal(idx.Block(10), batch.Block)
	require.Equal([]copyguard.DecryptedEntry{
		{UID: 0, Key: key(0), Weights: w0},
		{UID: 1, Key: key(1), Weights: w1},
	}, batch.Entries)
	require.True(sub.Weights.Delta.Fixed().IsZero(), "released by the encryption period")

	require.NoError(f.guard.SendDecryptedWeights(11, *sub.Weights, sub.Signature))
	m1, err := f.reg.Module(f.netuid, 1)
	require.NoError(err)
	require.Equal(weights.NormalizePairs(w1), m1.Weights)

	// nothing left to release
	require.NoError(f.worker.Tick(context.Background()))
	require.Len(f.sink.got, 1)
}

func TestTickHoldsWhileCopyingPays(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 2, 1000)

	f.epoch(t, 10)
	f.chain.block = 11
	require.NoError(f.worker.Tick(context.Background()))
	require.NoError(f.worker.Tick(context.Background()))
	require.Empty(f.sink.got)
	require.Len(f.worker.state(f.netuid).batches, 1, "epochs are simulated once")

	f.epoch(t, 1010)
	f.chain.block = 1011
	require.NoError(f.worker.Tick(context.Background()))
	require.Len(f.sink.got, 1)
	sub := f.sink.got[0]
	require.Len(sub.Weights.Weights, 2)
	require.Equal(idx.Block(10), sub.Weights.Weights[0].Block)
	require.Equal(idx.Block(1010), sub.Weights.Weights[1].Block)
	require.NoError(f.guard.SendDecryptedWeights(1011, *sub.Weights, sub.Signature))
	require.Empty(f.guard.PendingParams(f.netuid))
}

func TestTickResubmitsAfterFailure(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 2, 0)
	w0 := []registry.Weight{{UID: 1, Value: 65535}}
	f.setWeights(t, 2, 0, copyguard.EncodeWeights(w0, key(0)))
	f.epoch(t, 10)
	f.chain.block = 11

	f.sink.fail = 1
	require.ErrorIs(f.worker.Tick(context.Background()), errPoolFull)
	require.Empty(f.sink.got)
	require.Len(f.guard.PendingParams(f.netuid), 1)

	require.NoError(f.worker.Tick(context.Background()))
	require.Len(f.sink.got, 1)
	sub := f.sink.got[0]
	require.Len(sub.Weights.Weights, 1)
	require.Equal(idx.Block(10), sub.Weights.Weights[0].Block)
	require.Equal([]copyguard.DecryptedEntry{{UID: 0, Key: key(0), Weights: w0}}, sub.Weights.Weights[0].Entries)

	// accepted by the pool but never applied: released again once a block has passed
	require.NoError(f.worker.Tick(context.Background()))
	require.Len(f.sink.got, 1, "still in flight")
	f.chain.block = 12
	require.NoError(f.worker.Tick(context.Background()))
	require.Len(f.sink.got, 2)
	again := f.sink.got[1]
	require.Equal(sub.Weights.Weights, again.Weights.Weights)
	require.Equal(idx.Block(12), again.Weights.BlockNumber)
	require.NoError(f.guard.SendDecryptedWeights(12, *again.Weights, again.Signature))
	require.Empty(f.guard.PendingParams(f.netuid))

	f.chain.block = 13
	require.NoError(f.worker.Tick(context.Background()))
	require.Len(f.sink.got, 2)
}

func TestForgetUnassigned(t *testing.T) {
	f := newFixture(t, 1, 1000)
	f.worker.state(f.netuid).batches = []copyguard.BlockWeights{{Block: 1}}
	f.worker.state(99)

	require.NoError(t, f.worker.Tick(context.Background()))
	_, kept := f.worker.states[f.netuid]
	_, stale := f.worker.states[99]
	require.True(t, kept)
	require.False(t, stale)
}

func TestCopierStake(t *testing.T) {
	tests := []struct {
		active  uint64
		percent uint8
		want    uint64
	}{
		{1000, 5, 50},
		{999, 5, 49},
		{0, 5, 0},
		{1 << 63, 100, 1 << 63},
		{123_456_789, 0, 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, CopierStake(tt.active, tt.percent))
	}
}

func TestAvgDelegateDividends(t *testing.T) {
	p := &snapshot.Params{Modules: []snapshot.ModuleParams{
		{StakeOriginal: 100},
		{StakeOriginal: 300},
		{StakeOriginal: 999},
		{StakeOriginal: 50},
	}}
	out := &yuma.Output{Dividends: []fixed.Fixed{
		fixed.FromRatio(1, 4),
		fixed.FromRatio(3, 4),
		fixed.Zero(),
		fixed.FromRatio(1, 2),
	}}

	got, _ := AvgDelegateDividends(p, out, 3, 5).Big().Float64()
	require.InDelta(t, 1.0/400*0.95*50, got, 1e-12)

	none := &yuma.Output{Dividends: make([]fixed.Fixed, 4)}
	require.True(t, AvgDelegateDividends(p, none, 3, 5).IsZero())
}
