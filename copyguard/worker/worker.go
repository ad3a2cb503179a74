// Package worker is the off-chain side of the copy-guard protocol. A
// decryption authority runs it next to a node: every tick it decrypts the
// pending epochs of the subnets assigned to it, simulates whether a weight
// copier would profit from them, and once copying has become irrational it
// signs the decrypted weights and hands them to the chain as an unsigned
// transaction.
package worker

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rony4d/go-subspace/copyguard"
	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/inter/authoritypk"
	"github.com/rony4d/go-subspace/ledger"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/snapshot"
	"github.com/rony4d/go-subspace/utils/fixed"
	"github.com/rony4d/go-subspace/yuma"
)

var logger = log.New("module", "copyguard-worker")

// CopierKey is the account of the simulated copier module.
var CopierKey = common.BytesToAddress([]byte("copier"))

// ChainView is the part of the chain state the worker reads.
type ChainView interface {
	Block() idx.Block
	AssignedSubnets(authority common.Address) []inter.NetUID
	PendingParams(netuid inter.NetUID) []*snapshot.Params
}

// Submission is one signed payload travelling to the chain. Exactly one of
// Ping and Weights is set.
type Submission struct {
	ID        uuid.UUID
	Ping      *copyguard.PingPayload
	Weights   *copyguard.DecryptedWeightsPayload
	Signature []byte
}

// Submitter accepts signed submissions, typically into the node's unsigned
// transaction pool.
type Submitter interface {
	Submit(ctx context.Context, s Submission) error
}

// Config holds the authority keys and simulation settings.
type Config struct {
	// SigningKey signs pings and submissions. Its public half must be an
	// authority on chain.
	SigningKey *ecdsa.PrivateKey
	// EncryptionKey decrypts the weight vectors of the assigned subnets.
	EncryptionKey *rsa.PrivateKey

	// MeasuredStakePercent is the copier's stake as a percentage of the
	// active stake of the subnet.
	MeasuredStakePercent uint8

	// DelegationFee discounts the dividends an honest validator passes on
	// to its stakers.
	DelegationFee uint8

	// Concurrency bounds the number of subnets processed in parallel. Zero
	// means unbounded.
	Concurrency int
}

// DefaultConfig returns the simulation defaults. Keys must be set by the caller.
func DefaultConfig() Config {
	return Config{
		MeasuredStakePercent: 5,
		DelegationFee:        ledger.MinDelegationFee,
		Concurrency:          4,
	}
}

// subnetState accumulates the simulation of one subnet across ticks until
// its weights are released.
type subnetState struct {
	creation      idx.Block
	lastProcessed idx.Block
	// releasedAt is the block the batches up to lastProcessed were last
	// submitted at, or zero while nothing is in flight.
	releasedAt     idx.Block
	copierDivs     fixed.Fixed
	avgDelegateDiv fixed.Fixed
	copierBonds    []registry.Bond
	batches        []copyguard.BlockWeights
}

// Worker runs the authority duties.
type Worker struct {
	cfg   Config
	chain ChainView
	sink  Submitter
	pub   authoritypk.PubKey

	mu     sync.Mutex
	states map[inter.NetUID]*subnetState
}

// New creates a worker.
func New(cfg Config, chain ChainView, sink Submitter) *Worker {
	return &Worker{
		cfg:    cfg,
		chain:  chain,
		sink:   sink,
		pub:    authoritypk.FromECDSA(&cfg.SigningKey.PublicKey),
		states: make(map[inter.NetUID]*subnetState),
	}
}

// PublicKey is the authority signing key the worker submits under.
func (w *Worker) PublicKey() authoritypk.PubKey {
	return w.pub
}

// Ping submits a keep-alive for the current block.
func (w *Worker) Ping(ctx context.Context) error {
	payload := copyguard.PingPayload{PublicKey: w.pub, BlockNumber: w.chain.Block()}
	sig, err := authoritypk.Sign(payload.Digest(), w.cfg.SigningKey)
	if err != nil {
		return err
	}
	return w.sink.Submit(ctx, Submission{ID: uuid.New(), Ping: &payload, Signature: sig})
}

// Tick processes every subnet assigned to the authority.
func (w *Worker) Tick(ctx context.Context) error {
	block := w.chain.Block()
	subnets := w.chain.AssignedSubnets(w.pub.Address())
	w.forgetOthers(subnets)

	g, ctx := errgroup.WithContext(ctx)
	if w.cfg.Concurrency > 0 {
		g.SetLimit(w.cfg.Concurrency)
	}
	for _, netuid := range subnets {
		netuid := netuid
		g.Go(func() error {
			payload, next := w.process(netuid, block)
			if payload == nil {
				w.commit(netuid, next)
				return nil
			}
			sig, err := authoritypk.Sign(payload.Digest(), w.cfg.SigningKey)
			if err != nil {
				return err
			}
			logger.Info("Releasing decrypted weights", "netuid", netuid, "epochs", len(payload.Weights))
			if err := w.sink.Submit(ctx, Submission{ID: uuid.New(), Weights: payload, Signature: sig}); err != nil {
				return err
			}
			w.commit(netuid, next)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) forgetOthers(assigned []inter.NetUID) {
	keep := make(map[inter.NetUID]struct{}, len(assigned))
	for _, id := range assigned {
		keep[id] = struct{}{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for id := range w.states {
		if _, ok := keep[id]; !ok {
			delete(w.states, id)
		}
	}
}

func (w *Worker) state(netuid inter.NetUID) *subnetState {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.states[netuid]
	if !ok {
		st = &subnetState{}
		w.states[netuid] = st
	}
	return st
}

// commit replaces the state of netuid unless the subnet was unassigned
// meanwhile.
func (w *Worker) commit(netuid inter.NetUID, next subnetState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.states[netuid]; ok {
		w.states[netuid] = &next
	}
}

// process simulates the epochs of netuid not seen yet on a copy of its
// state. It returns the payload to submit once copying has become
// irrational, and the state to keep once the payload is accepted.
func (w *Worker) process(netuid inter.NetUID, block idx.Block) (*copyguard.DecryptedWeightsPayload, subnetState) {
	st := *w.state(netuid)
	pending := w.chain.PendingParams(netuid)
	if st.releasedAt != 0 && block > st.releasedAt && len(pending) != 0 && pending[0].Block <= st.lastProcessed {
		logger.Warn("Released weights were not applied, resimulating", "netuid", netuid, "released", st.releasedAt)
		st = subnetState{}
	}

	var (
		irrational bool
		delta      fixed.Fixed
	)
	for _, p := range pending {
		if st.lastProcessed != 0 && p.Block <= st.lastProcessed {
			continue
		}
		if len(st.batches) == 0 {
			st.creation = p.Block
		}
		entries := w.decrypt(p)
		st.batches = append(st.batches[:len(st.batches):len(st.batches)], copyguard.BlockWeights{Block: p.Block, Entries: entries})
		st.lastProcessed = p.Block

		w.simulate(&st, p, entries)
		irrational, delta = copyguard.IsCopyingIrrational(st.copierDivs, st.avgDelegateDiv, p.CopierMargin, p.Block, st.creation, p.MaxEncryptionPeriod)
		if irrational {
			break
		}
	}
	if !irrational || len(st.batches) == 0 {
		return nil, st
	}

	payload := &copyguard.DecryptedWeightsPayload{
		NetUID:      netuid,
		Weights:     st.batches,
		Delta:       copyguard.DeltaFromFixed(delta),
		BlockNumber: block,
		PublicKey:   w.pub,
	}
	return payload, subnetState{lastProcessed: st.lastProcessed, releasedAt: block}
}

// decrypt recovers the weights of every module of p that committed to an
// encrypted vector. Vectors that fail to decrypt, or that were not produced
// by the module itself, are skipped.
func (w *Worker) decrypt(p *snapshot.Params) []copyguard.DecryptedEntry {
	var entries []copyguard.DecryptedEntry
	for _, m := range p.Modules {
		if len(m.EncryptedWeights) == 0 {
			continue
		}
		plain, err := copyguard.Decrypt(w.cfg.EncryptionKey, m.EncryptedWeights)
		if err != nil {
			logger.Debug("Failed to decrypt weights", "netuid", p.NetUID, "uid", m.UID, "err", err)
			continue
		}
		pairs, submitter, err := copyguard.DecodeWeights(plain)
		if err != nil || submitter != m.Key || !bytes.Equal(copyguard.WeightHash(plain), m.WeightHash) {
			logger.Debug("Skipping foreign weights", "netuid", p.NetUID, "uid", m.UID)
			continue
		}
		entries = append(entries, copyguard.DecryptedEntry{UID: m.UID, Key: m.Key, Weights: pairs})
	}
	return entries
}

// simulate runs the epoch once without and once with a copier that copies
// the consensus of the first run, and accumulates what the copier earns
// against what an honest validator with the same stake would earn.
func (w *Worker) simulate(st *subnetState, p *snapshot.Params, entries []copyguard.DecryptedEntry) {
	decrypted := make(map[inter.UID][]registry.Weight, len(entries))
	for _, e := range entries {
		decrypted[e.UID] = e.Weights
	}
	honest := p.WithWeights(decrypted)
	base := yuma.Run(honest)

	var copied []registry.Weight
	for uid, sc := range base.Scores {
		if sc.Consensus > 0 {
			copied = append(copied, registry.Weight{UID: inter.UID(uid), Value: sc.Consensus})
		}
	}
	stake := CopierStake(activeStake(honest), w.cfg.MeasuredStakePercent)
	with := honest.WithModule(snapshot.ModuleParams{
		Key:               CopierKey,
		LastUpdate:        p.Block,
		RegistrationBlock: p.Block,
		StakeOriginal:     stake,
		Stakers:           []snapshot.Stake{{Staker: CopierKey, Amount: stake}},
		Bonds:             st.copierBonds,
		Weights:           copied,
	})
	out := yuma.Run(with)

	copier := len(with.Modules) - 1
	st.copierBonds = out.Scores[copier].Bonds
	st.copierDivs = st.copierDivs.Add(out.Dividends[copier])
	st.avgDelegateDiv = st.avgDelegateDiv.Add(AvgDelegateDividends(with, out, copier, w.cfg.DelegationFee))
}

// CopierStake is percent of the active stake, floored.
func CopierStake(active uint64, percent uint8) uint64 {
	p := uint64(percent)
	return active/100*p + active%100*p/100
}

func activeStake(p *snapshot.Params) uint64 {
	var total uint64
	for _, m := range p.Modules {
		if len(m.Weights) > 0 {
			total += m.StakeOriginal
		}
	}
	return total
}

// AvgDelegateDividends is the dividend an honest validator holding the
// copier's stake would pass on: the dividends per unit of stake of every
// earning non-copier module, scaled to the copier's stake and discounted by
// the delegation fee.
func AvgDelegateDividends(p *snapshot.Params, out *yuma.Output, copier int, fee uint8) fixed.Fixed {
	stake, divs := fixed.Zero(), fixed.Zero()
	for i, d := range out.Dividends {
		if i == copier || d.IsZero() {
			continue
		}
		stake = stake.Add(fixed.FromUint64(p.Modules[i].StakeOriginal))
		divs = divs.Add(d)
	}
	if stake.IsZero() {
		return fixed.Zero()
	}
	keep := fixed.FromRatio(100-uint64(fee), 100)
	return divs.Div(stake).Mul(keep).MulUint64(p.Modules[copier].StakeOriginal)
}
