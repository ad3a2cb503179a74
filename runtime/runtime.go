// Package runtime composes the Subspace components into a single state
// machine. Every extrinsic and every hook item runs in a transactional scope,
// block hooks run in a fixed order after the block's transactions, and the
// off-chain authority worker reads the chain through a locked ChainView.
package runtime

import (
	"context"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rony4d/go-subspace/blockstep"
	"github.com/rony4d/go-subspace/copyguard"
	"github.com/rony4d/go-subspace/copyguard/worker"
	"github.com/rony4d/go-subspace/governance"
	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/ledger"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/snapshot"
	"github.com/rony4d/go-subspace/subspace"
	"github.com/rony4d/go-subspace/weights"
)

var logger = log.New("module", "runtime")

// Genesis is the initial state applied by New.
type Genesis struct {
	Balances    map[common.Address]uint64
	Authorities []copyguard.Authority
}

// Config customizes a runtime.
type Config struct {
	Rules subspace.Rules
	// Registerer receives the runtime metrics. Nil selects the default
	// Prometheus registry.
	Registerer prometheus.Registerer
}

// BlockReport summarizes one finalized block.
type BlockReport struct {
	Block    idx.Block
	Unsigned int
	Step     blockstep.Report
	Events   []inter.Event
}

// Runtime owns the chain state. Methods are safe for concurrent use.
type Runtime struct {
	mu    sync.RWMutex
	rules subspace.Rules
	block idx.Block

	ledger    *ledger.Store
	reg       *registry.Registry
	weights   *weights.Store
	guard     *copyguard.Guard
	scheduler *blockstep.Scheduler
	gov       *governance.Engine
	events    *inter.EventLog

	poolMu sync.Mutex
	pool   []worker.Submission

	metrics *metrics
}

// New builds a runtime at block 1 with the genesis state applied.
func New(cfg Config, genesis Genesis) (*Runtime, error) {
	if err := cfg.Rules.Validate(); err != nil {
		return nil, err
	}
	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	r := &Runtime{
		rules:   cfg.Rules,
		block:   1,
		ledger:  ledger.New(),
		events:  inter.NewEventLog(),
		metrics: newMetrics(registerer),
	}
	r.reg = registry.New(cfg.Rules, r.ledger, r.events)
	r.weights = weights.New(r.reg, r.events)
	r.guard = copyguard.New(cfg.Rules.Encryption, r.reg, r.weights, r.events)
	r.scheduler = blockstep.New(cfg.Rules, r.reg, r.guard, r.events)
	r.guard.SetRunner(r.scheduler)
	r.gov = governance.New(cfg.Rules.Governance, r.reg, r.events)
	r.gov.SetScope(r.atomic)

	for addr, amount := range genesis.Balances {
		r.ledger.Deposit(addr, amount)
	}
	if len(genesis.Authorities) != 0 {
		if err := r.guard.SetAuthorities(0, inter.RootOrigin(), genesis.Authorities); err != nil {
			return nil, err
		}
	}
	logger.Info("Runtime initialized", "network", cfg.Rules.Name, "rules", cfg.Rules.Hash(), "accounts", len(genesis.Balances))
	return r, nil
}

// atomic runs fn so that it either commits every write or none. On error the
// state and the events emitted by fn are rolled back. The caller holds mu.
func (r *Runtime) atomic(fn func() error) error {
	var (
		ledger = r.ledger.Copy()
		reg    = r.reg.Copy()
		guard  = r.guard.Copy()
		gov    = r.gov.Copy()
		events = r.events.Len()
	)
	if err := fn(); err != nil {
		*r.ledger = *ledger
		*r.reg = *reg
		*r.guard = *guard
		*r.gov = *gov
		r.events.Truncate(events)
		return err
	}
	return nil
}

// call runs a signed or root extrinsic in its own transactional scope.
func (r *Runtime) call(name string, fn func(block idx.Block) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	block := r.block
	err := r.atomic(func() error { return fn(block) })
	r.metrics.observeCall(name, err)
	if err != nil {
		logger.Debug("Extrinsic failed", "call", name, "block", block, "kind", inter.KindOf(err), "err", err)
	}
	return err
}

// FinalizeBlock closes the current block: the pooled unsigned transactions
// are applied, then the block hooks run in order (registration adjustment,
// issuance and epochs, payout drain, proposal tick, proposal rewards,
// scheduled payments, decryption authority distribution). The next block
// is opened afterwards.
func (r *Runtime) FinalizeBlock() BlockReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	block := r.block
	first := r.events.Len()
	rep := BlockReport{Block: block}

	for _, sub := range r.takePool() {
		err := r.atomic(func() error { return r.applyUnsigned(block, sub) })
		if err != nil {
			logger.Warn("Unsigned transaction rejected", "id", sub.ID, "block", block, "err", err)
			continue
		}
		rep.Unsigned++
	}

	rep.Step = r.scheduler.OnBlock(block)
	r.gov.OnBlock(block)
	r.guard.DistributeSubnetsToNodes(block)

	rep.Events = r.events.All()[first:]
	r.metrics.observeBlock(rep)
	r.block++
	return rep
}

func (r *Runtime) applyUnsigned(block idx.Block, sub worker.Submission) error {
	switch {
	case sub.Ping != nil:
		return r.guard.SendPing(block, *sub.Ping, sub.Signature)
	case sub.Weights != nil:
		return r.guard.SendDecryptedWeights(block, *sub.Weights, sub.Signature)
	}
	return ErrEmptySubmission
}

// Submit queues an unsigned authority transaction for the current block.
// It implements worker.Submitter.
func (r *Runtime) Submit(ctx context.Context, sub worker.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.poolMu.Lock()
	defer r.poolMu.Unlock()
	r.pool = append(r.pool, sub)
	return nil
}

func (r *Runtime) takePool() []worker.Submission {
	r.poolMu.Lock()
	defer r.poolMu.Unlock()
	pool := r.pool
	r.pool = nil
	return pool
}

// Block is the number of the block currently being built.
func (r *Runtime) Block() idx.Block {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.block
}

// AssignedSubnets lists the encrypted subnets assigned to authority.
func (r *Runtime) AssignedSubnets(authority common.Address) []inter.NetUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.guard.AssignedSubnets(authority)
}

// PendingParams returns copies of the snapshots netuid waits to have decrypted.
func (r *Runtime) PendingParams(netuid inter.NetUID) []*snapshot.Params {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.guard.PendingParams(netuid)
}

// Rules returns the network rules.
func (r *Runtime) Rules() subspace.Rules {
	return r.rules.Copy()
}

// Events returns every event emitted so far.
func (r *Runtime) Events() []inter.Event {
	return r.events.All()
}
