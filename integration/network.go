package integration

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rony4d/go-subspace/copyguard"
	"github.com/rony4d/go-subspace/copyguard/worker"
	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/runtime"
)

var logger = log.New("module", "integration")

// Network is a single-process fake network: a runtime, the keys of the
// modules registered at genesis and the optional decryption authority.
type Network struct {
	Preset  Preset
	Runtime *runtime.Runtime
	NetUID  inter.NetUID
	Keys    []*ecdsa.PrivateKey
	UIDs    []inter.UID

	// Worker is the in-process decryption authority. Nil unless the preset
	// uses weight encryption.
	Worker *worker.Worker

	lastWeights idx.Block
	hasWeights  bool
}

// Summary aggregates the reports of a run.
type Summary struct {
	Blocks     int
	FirstBlock idx.Block
	LastBlock  idx.Block
	Epochs     int
	Deferred   int
	Discarded  int
	Issued     uint64
	Credited   uint64
	Unsigned   int
	Events     int
}

// Add folds one block report into the summary.
func (s *Summary) Add(rep runtime.BlockReport) {
	if s.Blocks == 0 {
		s.FirstBlock = rep.Block
	}
	s.Blocks++
	s.LastBlock = rep.Block
	s.Issued += rep.Step.Issued
	s.Credited += rep.Step.Credited
	s.Unsigned += rep.Unsigned
	s.Events += len(rep.Events)
	for _, ep := range rep.Step.Epochs {
		switch {
		case ep.Deferred:
			s.Deferred++
		case ep.Discarded:
			s.Discarded++
		default:
			s.Epochs++
		}
	}
}

// NewNetwork applies the fakenet genesis for p and registers its modules.
// Registrations that overflow the per-block limit spill into later blocks.
func NewNetwork(p Preset, registerer prometheus.Registerer) (*Network, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("preset %s: %w", p.Name, err)
	}
	genesis := FakeGenesis(p.Modules, p.Balance)

	var wcfg worker.Config
	if p.UsesEncryption() {
		authority, signer, enc, err := FakeAuthority(p.AuthorityKeyBits)
		if err != nil {
			return nil, err
		}
		genesis.Authorities = []copyguard.Authority{authority}
		wcfg = worker.DefaultConfig()
		wcfg.SigningKey = signer
		wcfg.EncryptionKey = enc
		if pct := p.Rules.Encryption.MeasuredStakePercent; pct != 0 {
			wcfg.MeasuredStakePercent = pct
		}
		if p.AuthorityConcurrency > 0 {
			wcfg.Concurrency = p.AuthorityConcurrency
		}
	}

	rt, err := runtime.New(runtime.Config{Rules: p.Rules, Registerer: registerer}, genesis)
	if err != nil {
		return nil, err
	}
	n := &Network{Preset: p, Runtime: rt}
	if wcfg.SigningKey != nil {
		n.Worker = worker.New(wcfg, rt, rt)
	}

	for i := 0; i < p.Modules; i++ {
		key := FakeKey(i)
		netuid, uid, err := n.register(i, key)
		if errors.Is(err, registry.ErrTooManyRegistrationsPerBlock) {
			rt.FinalizeBlock()
			netuid, uid, err = n.register(i, key)
		}
		if err != nil {
			return nil, fmt.Errorf("register module %d: %w", i, err)
		}
		n.NetUID = netuid
		n.Keys = append(n.Keys, key)
		n.UIDs = append(n.UIDs, uid)
	}
	logger.Info("Fake network ready", "preset", p.Name, "netuid", n.NetUID, "modules", p.Modules, "block", rt.Block())
	return n, nil
}

func (n *Network) register(i int, key *ecdsa.PrivateKey) (inter.NetUID, inter.UID, error) {
	return n.Runtime.Register(registry.RegisterRequest{
		Key:        crypto.PubkeyToAddress(key.PublicKey),
		SubnetName: n.Preset.Subnet,
		Name:       fmt.Sprintf("module-%d", i),
		Address:    fmt.Sprintf("127.0.0.1:%d", 30333+i),
		Stake:      n.Preset.Stake,
	})
}

// Address is the account of the i-th module.
func (n *Network) Address(i int) common.Address {
	return crypto.PubkeyToAddress(n.Keys[i].PublicKey)
}

// Step runs one block: validators set weights once per tempo, the authority
// pings and decrypts, then the block is finalized.
func (n *Network) Step(ctx context.Context) (runtime.BlockReport, error) {
	if err := ctx.Err(); err != nil {
		return runtime.BlockReport{}, err
	}
	block := n.Runtime.Block()
	if n.weightsDue(block) {
		set, err := n.setWeights()
		if err != nil {
			return runtime.BlockReport{}, err
		}
		if set {
			n.lastWeights, n.hasWeights = block, true
		}
	}
	if n.Worker != nil {
		if interval := n.Preset.Rules.Encryption.PingInterval; interval != 0 && block%interval == 0 {
			if err := n.Worker.Ping(ctx); err != nil {
				return runtime.BlockReport{}, fmt.Errorf("authority ping: %w", err)
			}
		}
		if err := n.Worker.Tick(ctx); err != nil {
			return runtime.BlockReport{}, fmt.Errorf("authority tick: %w", err)
		}
	}
	return n.Runtime.FinalizeBlock(), nil
}

// Run steps the network for the given number of blocks.
func (n *Network) Run(ctx context.Context, blocks int) (Summary, error) {
	var s Summary
	for i := 0; i < blocks; i++ {
		rep, err := n.Step(ctx)
		if err != nil {
			return s, err
		}
		s.Add(rep)
	}
	return s, nil
}

func (n *Network) weightsDue(block idx.Block) bool {
	tempo := idx.Block(n.Preset.Rules.Subnet.Tempo)
	if tempo == 0 {
		return false
	}
	return !n.hasWeights || block >= n.lastWeights+tempo
}

// setWeights has every validator weight the non-validator modules, heavier
// for later uids. It reports false when an encrypted subnet has no key yet.
func (n *Network) setWeights() (bool, error) {
	var pairs []registry.Weight
	for j := n.Preset.Validators; j < n.Preset.Modules; j++ {
		pairs = append(pairs, registry.Weight{UID: n.UIDs[j], Value: uint16(100 * (j - n.Preset.Validators + 1))})
	}

	if n.Preset.UsesEncryption() {
		der, ok := n.Runtime.SubnetEncryptionKey(n.NetUID)
		if !ok {
			return false, nil
		}
		pub, err := copyguard.ParseEncryptionKey(der)
		if err != nil {
			return false, err
		}
		for i := 0; i < n.Preset.Validators; i++ {
			blob := copyguard.EncodeWeights(pairs, n.Address(i))
			ct, err := copyguard.Encrypt(rand.Reader, pub, blob)
			if err != nil {
				return false, err
			}
			if err := n.Runtime.SetWeightsEncrypted(n.Address(i), n.NetUID, ct, copyguard.WeightHash(blob)); err != nil {
				return false, fmt.Errorf("validator %d: %w", i, err)
			}
		}
		return true, nil
	}

	uids := make([]inter.UID, len(pairs))
	values := make([]uint16, len(pairs))
	for k, p := range pairs {
		uids[k], values[k] = p.UID, p.Value
	}
	for i := 0; i < n.Preset.Validators; i++ {
		if err := n.Runtime.SetWeights(n.Address(i), n.NetUID, uids, values); err != nil {
			return false, fmt.Errorf("validator %d: %w", i, err)
		}
	}
	return true, nil
}
