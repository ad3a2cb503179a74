package governance

import (
	"unicode/utf8"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/subspace"
)

// Kind is the payload type of a proposal.
type Kind uint8

const (
	GlobalCustom Kind = iota
	SubnetCustom
	GlobalParams
	SubnetParams
	TransferDaoTreasury
)

func (k Kind) String() string {
	switch k {
	case GlobalCustom:
		return "global-custom"
	case SubnetCustom:
		return "subnet-custom"
	case GlobalParams:
		return "global-params"
	case SubnetParams:
		return "subnet-params"
	case TransferDaoTreasury:
		return "transfer-dao-treasury"
	}
	return "unknown"
}

// RequiredStakePercent is the share of the relevant stake that must vote
// before a proposal of kind k resolves.
func (k Kind) RequiredStakePercent() uint64 {
	switch k {
	case GlobalParams, SubnetParams:
		return 40
	default:
		return 50
	}
}

// Status is the lifecycle state of a proposal. Every state but Open is terminal.
type Status uint8

const (
	StatusOpen Status = iota
	StatusAccepted
	StatusRefused
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusAccepted:
		return "accepted"
	case StatusRefused:
		return "refused"
	case StatusExpired:
		return "expired"
	}
	return "unknown"
}

// Proposal is one governance proposal.
type Proposal struct {
	ID              uint64
	Proposer        common.Address
	Metadata        string
	Cost            uint64
	CreationBlock   idx.Block
	ExpirationBlock idx.Block

	Kind Kind
	// NetUID is set for subnet proposals.
	NetUID       inter.NetUID
	GlobalParams subspace.GlobalParams
	SubnetParams subspace.SubnetParams
	// Recipient and Amount describe a treasury transfer.
	Recipient common.Address
	Amount    uint64

	Status       Status
	VotesFor     []common.Address
	VotesAgainst []common.Address

	// Set on resolution.
	ResolvedBlock idx.Block
	StakeFor      uint64
	StakeAgainst  uint64
}

// Copy returns a deep copy.
func (p *Proposal) Copy() *Proposal {
	cp := *p
	cp.VotesFor = append([]common.Address(nil), p.VotesFor...)
	cp.VotesAgainst = append([]common.Address(nil), p.VotesAgainst...)
	return &cp
}

// Scoped reports whether the proposal targets one subnet.
func (p *Proposal) Scoped() bool {
	return p.Kind == SubnetCustom || p.Kind == SubnetParams
}

func (p *Proposal) voted(key common.Address) bool {
	return contains(p.VotesFor, key) || contains(p.VotesAgainst, key)
}

// Proposal returns a copy of proposal id.
func (e *Engine) Proposal(id uint64) (*Proposal, bool) {
	p, ok := e.proposals[id]
	if !ok {
		return nil, false
	}
	return p.Copy(), true
}

// Proposals returns copies of every proposal in id order.
func (e *Engine) Proposals() []*Proposal {
	res := make([]*Proposal, 0, len(e.proposals))
	for _, id := range e.proposalIDs() {
		res = append(res, e.proposals[id].Copy())
	}
	return res
}

func (e *Engine) proposalIDs() []uint64 {
	ids := make([]uint64, 0, len(e.proposals))
	for id := range e.proposals {
		ids = append(ids, id)
	}
	return sortUint64s(ids)
}

// AddGlobalCustomProposal opens a text proposal for the whole network.
func (e *Engine) AddGlobalCustomProposal(block idx.Block, proposer common.Address, data string) (uint64, error) {
	return e.add(block, proposer, data, Proposal{Kind: GlobalCustom})
}

// AddSubnetCustomProposal opens a text proposal voted by the stake of one subnet.
func (e *Engine) AddSubnetCustomProposal(block idx.Block, proposer common.Address, netuid inter.NetUID, data string) (uint64, error) {
	if _, ok := e.reg.Subnet(netuid); !ok {
		return 0, registry.ErrSubnetNotFound
	}
	return e.add(block, proposer, data, Proposal{Kind: SubnetCustom, NetUID: netuid})
}

// AddGlobalParamsProposal proposes new global parameters.
func (e *Engine) AddGlobalParamsProposal(block idx.Block, proposer common.Address, data string, params subspace.GlobalParams) (uint64, error) {
	if err := params.Validate(); err != nil {
		return 0, err
	}
	return e.add(block, proposer, data, Proposal{Kind: GlobalParams, GlobalParams: params})
}

// AddSubnetParamsProposal proposes new parameters for one subnet.
func (e *Engine) AddSubnetParamsProposal(block idx.Block, proposer common.Address, netuid inter.NetUID, data string, params subspace.SubnetParams) (uint64, error) {
	if _, ok := e.reg.Subnet(netuid); !ok {
		return 0, registry.ErrSubnetNotFound
	}
	if err := params.Validate(e.reg.Global); err != nil {
		return 0, err
	}
	return e.add(block, proposer, data, Proposal{Kind: SubnetParams, NetUID: netuid, SubnetParams: params})
}

// AddTransferDaoTreasuryProposal proposes paying amount from the treasury to recipient.
func (e *Engine) AddTransferDaoTreasuryProposal(block idx.Block, proposer common.Address, data string, amount uint64, recipient common.Address) (uint64, error) {
	if !e.ledger.CanWithdraw(e.rules.DaoTreasury, amount) {
		return 0, ErrInsufficientDaoTreasuryFunds
	}
	return e.add(block, proposer, data, Proposal{Kind: TransferDaoTreasury, Recipient: recipient, Amount: amount})
}

func (e *Engine) add(block idx.Block, proposer common.Address, data string, p Proposal) (uint64, error) {
	switch {
	case len(data) == 0:
		return 0, ErrProposalDataTooSmall
	case len(data) > MaxProposalData:
		return 0, ErrProposalDataTooLarge
	case !utf8.ValidString(data):
		return 0, ErrInvalidProposalData
	}
	cost := e.rules.ProposalCost
	if !e.ledger.CanWithdraw(proposer, cost) {
		return 0, ErrNotEnoughBalanceToPropose
	}
	if err := e.ledger.Withdraw(proposer, cost); err != nil {
		return 0, err
	}

	p.ID = e.nextProposal
	p.Proposer = proposer
	p.Metadata = data
	p.Cost = cost
	p.CreationBlock = block
	p.ExpirationBlock = roundUp(block+e.rules.ProposalExpiration, e.rules.TickInterval)
	p.Status = StatusOpen
	e.proposals[p.ID] = &p
	e.nextProposal++

	e.events.Emit(EventProposalCreated, block, "id", p.ID, "kind", p.Kind, "proposer", proposer)
	return p.ID, nil
}

// RemoveProposal withdraws an open proposal. Only the proposer may do so and
// the cost goes to the treasury.
func (e *Engine) RemoveProposal(block idx.Block, caller common.Address, id uint64) error {
	p, ok := e.proposals[id]
	if !ok {
		return ErrProposalNotFound
	}
	if p.Proposer != caller {
		return ErrNotProposer
	}
	if p.Status != StatusOpen {
		return ErrProposalClosed
	}
	delete(e.proposals, id)
	e.ledger.Deposit(e.rules.DaoTreasury, p.Cost)
	e.events.Emit(EventProposalRemoved, block, "id", id)
	return nil
}

// TickProposals resolves open proposals. It only acts on multiples of the
// tick interval. Every proposal resolves in its own scope; a failing one is
// logged and retried on the next tick.
func (e *Engine) TickProposals(block idx.Block) {
	if e.rules.TickInterval == 0 || block%e.rules.TickInterval != 0 {
		return
	}
	for _, id := range e.proposalIDs() {
		if e.proposals[id].Status != StatusOpen {
			continue
		}
		err := e.scope(func() error {
			return e.tick(block, id)
		})
		if err != nil {
			logger.Error("Failed to tick proposal, skipping", "id", id, "err", err)
		}
	}
}

func (e *Engine) tick(block idx.Block, id uint64) error {
	p := e.proposals[id]
	stakeFor, votesFor := e.tally(p, p.VotesFor)
	stakeAgainst, votesAgainst := e.tally(p, p.VotesAgainst)
	total := satAdd(stakeFor, stakeAgainst)

	switch {
	case total >= e.MinimalStakeToExecute(p):
		if stakeAgainst > stakeFor {
			e.resolve(block, p, StatusRefused, stakeFor, stakeAgainst)
			e.ledger.Deposit(p.Proposer, p.Cost)
			e.events.Emit(EventProposalRefused, block, "id", id, "for", stakeFor, "against", stakeAgainst)
		} else {
			if err := e.execute(block, p); err != nil {
				return err
			}
			e.resolve(block, p, StatusAccepted, stakeFor, stakeAgainst)
			e.ledger.Deposit(p.Proposer, p.Cost)
			e.events.Emit(EventProposalAccepted, block, "id", id, "for", stakeFor, "against", stakeAgainst)
		}
	case block >= p.ExpirationBlock:
		e.resolve(block, p, StatusExpired, stakeFor, stakeAgainst)
		e.ledger.Deposit(e.rules.DaoTreasury, p.Cost)
		e.events.Emit(EventProposalExpired, block, "id", id)
	default:
		return nil
	}

	e.unrewarded[id] = &Unrewarded{
		Scoped:       p.Scoped(),
		NetUID:       p.NetUID,
		Block:        block,
		VotesFor:     votesFor,
		VotesAgainst: votesAgainst,
	}
	return nil
}

func (e *Engine) resolve(block idx.Block, p *Proposal, status Status, stakeFor, stakeAgainst uint64) {
	p.Status = status
	p.ResolvedBlock = block
	p.StakeFor = stakeFor
	p.StakeAgainst = stakeAgainst
}

// execute applies an accepted payload. It either fully applies or returns
// an error without side effects.
func (e *Engine) execute(block idx.Block, p *Proposal) error {
	switch p.Kind {
	case GlobalParams:
		return e.reg.SetGlobalParams(block, p.GlobalParams)
	case SubnetParams:
		return e.reg.SetSubnetParams(block, p.NetUID, p.SubnetParams)
	case TransferDaoTreasury:
		if !e.ledger.CanWithdraw(e.rules.DaoTreasury, p.Amount) {
			return ErrInsufficientDaoTreasuryFunds
		}
		return e.ledger.Transfer(e.rules.DaoTreasury, p.Recipient, p.Amount)
	}
	// custom proposals are acted upon off-chain
	return nil
}

// MinimalStakeToExecute is the voting stake p needs to resolve early.
func (e *Engine) MinimalStakeToExecute(p *Proposal) uint64 {
	var stake uint64
	if p.Scoped() {
		stake = e.reg.SubnetStake(p.NetUID)
	} else {
		stake = e.ledger.TotalStake()
	}
	return mulPercent(stake, p.Kind.RequiredStakePercent())
}

func roundUp(block, step idx.Block) idx.Block {
	if step == 0 || block%step == 0 {
		return block
	}
	return block + step - block%step
}

func mulPercent(v, pct uint64) uint64 {
	return v/100*pct + v%100*pct/100
}

func satAdd(a, b uint64) uint64 {
	if a+b < a {
		return ^uint64(0)
	}
	return a + b
}

func contains(list []common.Address, key common.Address) bool {
	for _, k := range list {
		if k == key {
			return true
		}
	}
	return false
}

func without(list []common.Address, key common.Address) ([]common.Address, bool) {
	for i, k := range list {
		if k == key {
			return append(list[:i:i], list[i+1:]...), true
		}
	}
	return list, false
}
