// Package blockstep drives the per-block state machine of every subnet:
// issuance, epoch scheduling and the gradual crediting of epoch payouts.
package blockstep

import (
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/snapshot"
	"github.com/rony4d/go-subspace/subspace"
	"github.com/rony4d/go-subspace/yuma"
)

// Event names emitted by the scheduler.
const (
	EventEpochRun       = "EpochRun"
	EventEpochDeferred  = "EpochDeferred"
	EventEpochDiscarded = "EpochDiscarded"
)

// ErrEmissionExceedsBudget reports an epoch whose payout sums above its budget.
var ErrEmissionExceedsBudget = inter.NewError(inter.KindConsistency, "epoch emission exceeds budget")

var logger = log.New("module", "blockstep")

// ParamsStore parks the snapshots of encrypted subnets until their weights
// are decrypted. The copy-guard implements it.
type ParamsStore interface {
	StoreConsensusParams(netuid inter.NetUID, p *snapshot.Params)
	// ParkedEmission is the summed budget of the parked snapshots.
	ParkedEmission() uint64
}

// Epoch describes one epoch handled in a block.
type Epoch struct {
	NetUID    inter.NetUID
	Type      inter.ConsensusType
	Emission  uint64
	Deferred  bool
	Discarded bool
}

// Report summarizes one block step.
type Report struct {
	Issued   uint64
	Epochs   []Epoch
	Credited uint64
}

// Scheduler runs the block step.
type Scheduler struct {
	rules    subspace.EmissionRules
	treasury common.Address
	reg      *registry.Registry
	params   ParamsStore
	events   inter.Events
}

// New creates a scheduler. params may be nil, in which case encrypted
// subnets run their epochs on the plain weight store.
func New(rules subspace.Rules, reg *registry.Registry, params ParamsStore, events inter.Events) *Scheduler {
	if events == nil {
		events = inter.Discard
	}
	return &Scheduler{
		rules:    rules.Emission,
		treasury: rules.Governance.DaoTreasury,
		reg:      reg,
		params:   params,
		events:   events,
	}
}

// SetParamsStore replaces the encrypted snapshot sink.
func (s *Scheduler) SetParamsStore(params ParamsStore) {
	s.params = params
}

// BlocksUntilNextEpoch returns how many blocks remain before netuid runs its
// epoch. A zero tempo pauses the subnet.
func BlocksUntilNextEpoch(netuid inter.NetUID, tempo uint16, block idx.Block) (uint64, bool) {
	if tempo == 0 {
		return 0, false
	}
	t := uint64(tempo)
	return t - (uint64(block)+uint64(netuid)+1)%(t+1), true
}

// BlockEmission is the issuance of one block given the tokens issued so
// far. It halves every HalvingInterval tokens and stops at MaxSupply.
func BlockEmission(r subspace.EmissionRules, issued uint64) uint64 {
	if issued >= r.MaxSupply {
		return 0
	}
	e := r.UnitEmission
	if r.HalvingInterval != 0 {
		halvings := issued / r.HalvingInterval
		if halvings >= 64 {
			return 0
		}
		e >>= halvings
	}
	if left := r.MaxSupply - issued; e > left {
		e = left
	}
	return e
}

// OnBlock advances every subnet by one block: registration counters and
// burns, issuance, due epochs, then payout crediting.
func (s *Scheduler) OnBlock(block idx.Block) Report {
	var rep Report
	s.reg.OnBlock(block)
	rep.Issued = s.issue(block)

	for _, netuid := range s.reg.NetUIDs() {
		sn, _ := s.reg.Subnet(netuid)
		left, running := BlocksUntilNextEpoch(netuid, sn.Params.Tempo, block)
		if !running || left != 0 {
			continue
		}
		ep, err := s.runEpoch(block, sn)
		if err != nil {
			logger.Warn("Epoch failed", "netuid", netuid, "block", block, "err", err)
		}
		rep.Epochs = append(rep.Epochs, ep)
	}

	rep.Credited = s.drain()
	return rep
}

// Issued is everything minted or promised so far: ledger issuance, the
// emission pending or queued on subnets and the budgets of parked epochs.
func (s *Scheduler) Issued() uint64 {
	total := s.reg.Ledger().TotalIssuance()
	if s.params != nil {
		total = satAdd(total, s.params.ParkedEmission())
	}
	for _, netuid := range s.reg.NetUIDs() {
		sn, _ := s.reg.Subnet(netuid)
		total = satAdd(total, sn.PendingEmission)
		for _, t := range sn.LoadedEmission {
			total = satAdd(total, t.Amount)
		}
	}
	return total
}

// issue prices this block's emission across the non-root subnets and adds
// it to their pending emission.
func (s *Scheduler) issue(block idx.Block) uint64 {
	emission := BlockEmission(s.rules, s.Issued())
	if emission == 0 {
		return 0
	}
	var (
		root    *snapshot.Params
		subnets []inter.NetUID
		stakes  = make(map[inter.NetUID]uint64)
	)
	for _, netuid := range s.reg.NetUIDs() {
		sn, _ := s.reg.Subnet(netuid)
		if sn.Params.ConsensusType == inter.ConsensusRoot {
			if root == nil {
				p, err := snapshot.Build(s.reg, netuid, block, 0, s.treasury)
				if err != nil {
					logger.Warn("Root snapshot failed, pricing by stake", "netuid", netuid, "err", err)
				}
				root = p
			}
			continue
		}
		subnets = append(subnets, netuid)
		stakes[netuid] = s.reg.SubnetStake(netuid)
	}

	var issued uint64
	for netuid, amount := range yuma.RootPricing(root, subnets, stakes, emission) {
		sn, _ := s.reg.Subnet(netuid)
		sn.PendingEmission = satAdd(sn.PendingEmission, amount)
		issued += amount
	}
	return issued
}

// runEpoch consumes the pending emission of sn. Encrypted subnets hand their
// snapshot to the copy-guard instead of paying out now.
func (s *Scheduler) runEpoch(block idx.Block, sn *registry.Subnet) (Epoch, error) {
	ep := Epoch{NetUID: sn.NetUID, Type: sn.Params.ConsensusType, Emission: sn.PendingEmission}
	p, err := snapshot.Build(s.reg, sn.NetUID, block, sn.PendingEmission, s.treasury)
	if err != nil {
		ep.Discarded = true
		return ep, err
	}

	if sn.Params.UseWeightsEncryption && s.params != nil {
		s.params.StoreConsensusParams(sn.NetUID, p)
		sn.PendingEmission = 0
		s.reg.ResetWeightCalls(sn.NetUID)
		ep.Deferred = true
		s.events.Emit(EventEpochDeferred, block, "netuid", sn.NetUID, "emission", ep.Emission)
		return ep, nil
	}

	if err := s.apply(block, p); err != nil {
		ep.Discarded = true
		return ep, err
	}
	sn.PendingEmission = 0
	return ep, nil
}

// RunDecrypted runs an epoch snapshot whose weights were recovered by the
// copy-guard. A discarded replay returns its budget to the subnet.
func (s *Scheduler) RunDecrypted(block idx.Block, p *snapshot.Params) error {
	err := s.apply(block, p)
	if err != nil {
		if sn, ok := s.reg.Subnet(p.NetUID); ok {
			sn.PendingEmission = satAdd(sn.PendingEmission, p.TokenEmission)
		}
	}
	return err
}

// apply runs the engine on p and queues its payout. The scores are written
// back only while every uid still holds the key the snapshot saw.
func (s *Scheduler) apply(block idx.Block, p *snapshot.Params) error {
	sn, ok := s.reg.Subnet(p.NetUID)
	if !ok {
		return registry.ErrSubnetNotFound
	}
	out := yuma.Run(p)
	if total := out.Total(); total > p.TokenEmission {
		s.events.Emit(EventEpochDiscarded, block, "netuid", p.NetUID, "emission", total, "budget", p.TokenEmission)
		return fmt.Errorf("%w: %d > %d", ErrEmissionExceedsBudget, total, p.TokenEmission)
	}
	if sameLayout(sn, p) {
		if err := s.reg.ApplyScores(p.NetUID, out.Scores); err != nil {
			return err
		}
	} else {
		logger.Debug("Skipping stale scores", "netuid", p.NetUID, "snapshot", p.Block, "modules", sn.N())
	}

	sn.LoadedEmission = append(append([]registry.EmissionTuple(nil), out.Tuples...), sn.LoadedEmission...)
	sn.DrainRate = drainRate(len(sn.LoadedEmission), sn.Params.Tempo)
	s.reg.ResetWeightCalls(p.NetUID)
	s.events.Emit(EventEpochRun, block, "netuid", p.NetUID, "snapshot", p.Block, "emission", out.Total())
	return nil
}

// sameLayout reports whether sn still maps every uid to the key p captured.
// Payout tuples are keyed by address and stay valid either way.
func sameLayout(sn *registry.Subnet, p *snapshot.Params) bool {
	if sn.N() != p.N() {
		return false
	}
	for i, m := range p.Modules {
		if sn.Modules[i].Key != m.Key {
			return false
		}
	}
	return true
}

// drainRate is sized to empty a queue of n tuples within half a tempo.
func drainRate(n int, tempo uint16) int {
	blocks := int(tempo) / 2
	if blocks < 1 {
		blocks = 1
	}
	return (n + blocks - 1) / blocks
}

// drain credits up to DrainRate of the oldest queued tuples of every subnet.
func (s *Scheduler) drain() uint64 {
	var credited uint64
	for _, netuid := range s.reg.NetUIDs() {
		sn, _ := s.reg.Subnet(netuid)
		q := sn.LoadedEmission
		if len(q) == 0 {
			continue
		}
		n := sn.DrainRate
		if n <= 0 || n > len(q) {
			n = len(q)
		}
		for _, t := range q[len(q)-n:] {
			s.credit(t)
			credited = satAdd(credited, t.Amount)
		}
		sn.LoadedEmission = q[:len(q)-n]
		if len(sn.LoadedEmission) == 0 {
			sn.LoadedEmission = nil
		}
	}
	return credited
}

// credit pays one tuple. Stake on a key that no longer holds a slot anywhere
// would be orphaned, so it goes to the staker's free balance instead.
func (s *Scheduler) credit(t registry.EmissionTuple) {
	if t.Amount == 0 {
		return
	}
	l := s.reg.Ledger()
	if t.Module == (common.Address{}) || len(s.reg.SubnetsOf(t.Module)) == 0 {
		l.Deposit(t.Staker, t.Amount)
		return
	}
	l.IncreaseStake(t.Staker, t.Module, t.Amount)
}

func satAdd(a, b uint64) uint64 {
	if a+b < a {
		return ^uint64(0)
	}
	return a + b
}
