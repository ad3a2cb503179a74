package governance

import (
	"bytes"
	"sort"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/utils/fixed"
)

// Unrewarded is a resolved proposal whose voters have not been paid yet.
type Unrewarded struct {
	Scoped       bool
	NetUID       inter.NetUID
	Block        idx.Block
	VotesFor     []Vote
	VotesAgainst []Vote
}

func (u *Unrewarded) copy() *Unrewarded {
	cp := *u
	cp.VotesFor = append([]Vote(nil), u.VotesFor...)
	cp.VotesAgainst = append([]Vote(nil), u.VotesAgainst...)
	return &cp
}

type rewardScope struct {
	scoped bool
	netuid inter.NetUID
}

// Unrewarded returns the proposals waiting for the next reward pass.
func (e *Engine) Unrewarded() map[uint64]*Unrewarded {
	res := make(map[uint64]*Unrewarded, len(e.unrewarded))
	for id, u := range e.unrewarded {
		res[id] = u.copy()
	}
	return res
}

// RewardAllocation is the treasury share granted to the n-th proposal of a
// reward pass: min(treasury * pct / 100, max) / 1.5^n.
func RewardAllocation(treasury uint64, pct uint8, max uint64, n int) fixed.Fixed {
	base := mulPercent(treasury, uint64(pct))
	if base > max {
		base = max
	}
	return fixed.FromUint64(base).Div(fixed.FromRatio(3, 2).Pow(uint(n)))
}

// TickRewards pays the voters of proposals resolved during the last reward
// interval. Each scope (the network, or one subnet) is paid separately.
// Voters share the allocation by the square root of their stake.
func (e *Engine) TickRewards(block idx.Block) {
	interval := e.rules.RewardInterval
	if interval == 0 || block%interval != 0 {
		return
	}

	byScope := make(map[rewardScope][]uint64)
	var scopes []rewardScope
	for _, id := range e.unrewardedIDs() {
		u := e.unrewarded[id]
		if block >= interval && u.Block < block-interval {
			logger.Debug("Dropping stale proposal rewards", "id", id, "resolved", u.Block)
			delete(e.unrewarded, id)
			continue
		}
		s := rewardScope{scoped: u.Scoped, netuid: u.NetUID}
		if _, seen := byScope[s]; !seen {
			scopes = append(scopes, s)
		}
		byScope[s] = append(byScope[s], id)
	}
	sort.Slice(scopes, func(i, j int) bool {
		if scopes[i].scoped != scopes[j].scoped {
			return !scopes[i].scoped
		}
		return scopes[i].netuid < scopes[j].netuid
	})

	for _, s := range scopes {
		stakes := make(map[common.Address]uint64)
		allocation := fixed.Zero()
		for n, id := range byScope[s] {
			u := e.unrewarded[id]
			for _, v := range append(append([]Vote(nil), u.VotesFor...), u.VotesAgainst...) {
				stakes[v.Voter] = satAdd(stakes[v.Voter], v.Stake)
			}
			treasury := e.ledger.FreeBalance(e.rules.DaoTreasury)
			allocation = allocation.Add(RewardAllocation(treasury, e.rules.RewardTreasuryAllocation, e.rules.MaxRewardTreasuryAllocation, n))
			delete(e.unrewarded, id)
		}
		paid := e.distribute(block, stakes, allocation)
		e.events.Emit(EventProposalRewarded, block, "proposals", len(byScope[s]), "netuid", s.netuid, "paid", paid)
	}
}

// distribute pays allocation out of the treasury by sqrt-stake share and
// returns the amount paid. Rounding dust stays in the treasury.
func (e *Engine) distribute(block idx.Block, stakes map[common.Address]uint64, allocation fixed.Fixed) uint64 {
	voters := make([]common.Address, 0, len(stakes))
	for k := range stakes {
		voters = append(voters, k)
	}
	sort.Slice(voters, func(i, j int) bool { return bytes.Compare(voters[i][:], voters[j][:]) < 0 })

	roots := make([]fixed.Fixed, len(voters))
	for i, v := range voters {
		roots[i] = fixed.FromUint64(fixed.FromUint64(stakes[v]).Sqrt().ToUint64())
	}
	total := fixed.Sum(roots)
	if total.IsZero() {
		return 0
	}

	treasury := e.rules.DaoTreasury
	var paid uint64
	for i, v := range voters {
		reward := allocation.Mul(roots[i]).Div(total).ToUint64()
		if reward == 0 {
			continue
		}
		if err := e.ledger.Transfer(treasury, v, reward); err != nil {
			logger.Warn("Treasury cannot pay proposal reward", "voter", v, "reward", reward, "err", err)
			continue
		}
		paid += reward
	}
	return paid
}

func (e *Engine) unrewardedIDs() []uint64 {
	ids := make([]uint64, 0, len(e.unrewarded))
	for id := range e.unrewarded {
		ids = append(ids, id)
	}
	return sortUint64s(ids)
}
