package governance

import (
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-subspace/inter"
)

// Vote is one voter's weight at resolution time.
type Vote struct {
	Voter common.Address
	Stake uint64
}

// Vote records key's vote on an open proposal.
func (e *Engine) Vote(block idx.Block, key common.Address, id uint64, agree bool) error {
	p, ok := e.proposals[id]
	if !ok {
		return ErrProposalNotFound
	}
	if p.Status != StatusOpen {
		return ErrProposalClosed
	}
	if p.voted(key) {
		return ErrAlreadyVoted
	}
	delegated := e.ledger.DelegatedStake(key)
	if delegated == 0 && e.ledger.OwnedStake(key) == 0 {
		return ErrInsufficientStake
	}
	if e.IsDelegating(key) && delegated == 0 {
		return ErrVoterIsDelegatingVotingPower
	}

	if agree {
		p.VotesFor = append(p.VotesFor, key)
	} else {
		p.VotesAgainst = append(p.VotesAgainst, key)
	}
	e.events.Emit(EventProposalVoted, block, "id", id, "voter", key, "agree", agree)
	return nil
}

// RemoveVote withdraws key's vote from an open proposal.
func (e *Engine) RemoveVote(block idx.Block, key common.Address, id uint64) error {
	p, ok := e.proposals[id]
	if !ok {
		return ErrProposalNotFound
	}
	if p.Status != StatusOpen {
		return ErrProposalClosed
	}
	var removed bool
	if p.VotesFor, removed = without(p.VotesFor, key); !removed {
		if p.VotesAgainst, removed = without(p.VotesAgainst, key); !removed {
			return ErrNotVoted
		}
	}
	e.events.Emit(EventProposalVoteUnregistered, block, "id", id, "voter", key)
	return nil
}

// IsDelegating reports whether key lends its voting power to the modules it
// stakes on. Every account does until it opts out.
func (e *Engine) IsDelegating(key common.Address) bool {
	_, out := e.notDelegating[key]
	return !out
}

// EnableVotePowerDelegation makes key's stake vote through the modules it stakes on.
func (e *Engine) EnableVotePowerDelegation(block idx.Block, key common.Address) {
	delete(e.notDelegating, key)
	e.events.Emit(EventDelegatingVotingPower, block, "key", key)
}

// DisableVotePowerDelegation lets key vote with its own stake.
func (e *Engine) DisableVotePowerDelegation(block idx.Block, key common.Address) {
	e.notDelegating[key] = struct{}{}
	e.events.Emit(EventNotDelegatingVotingPower, block, "key", key)
}

// VotingPower is the stake voter carries on p: its own stake unless it
// delegates, plus the stake of delegating stakers placed on voter.
// Delegated power travels a single hop. Subnet proposals only count stake
// on modules of that subnet.
func (e *Engine) VotingPower(p *Proposal, voter common.Address) uint64 {
	var own, delegated uint64
	if p.Scoped() {
		if !e.IsDelegating(voter) {
			own = e.subnetStakeOf(p.NetUID, voter)
		}
		if e.reg.IsRegistered(p.NetUID, voter) {
			delegated = e.delegatedTo(voter)
		}
	} else {
		if !e.IsDelegating(voter) {
			own = e.ledger.OwnedStake(voter)
		}
		delegated = e.delegatedTo(voter)
	}
	return satAdd(own, delegated)
}

// subnetStakeOf sums what staker placed on the modules of netuid.
func (e *Engine) subnetStakeOf(netuid inter.NetUID, staker common.Address) uint64 {
	var total uint64
	for _, module := range e.ledger.StakedModules(staker) {
		if e.reg.IsRegistered(netuid, module) {
			total = satAdd(total, e.ledger.StakeTo(staker, module))
		}
	}
	return total
}

func (e *Engine) delegatedTo(module common.Address) uint64 {
	var total uint64
	for _, staker := range e.ledger.StakersOf(module) {
		if e.IsDelegating(staker) {
			total = satAdd(total, e.ledger.StakeTo(staker, module))
		}
	}
	return total
}

func (e *Engine) tally(p *Proposal, voters []common.Address) (uint64, []Vote) {
	var total uint64
	votes := make([]Vote, 0, len(voters))
	for _, v := range voters {
		stake := e.VotingPower(p, v)
		total = satAdd(total, stake)
		votes = append(votes, Vote{Voter: v, Stake: stake})
	}
	return total, votes
}
