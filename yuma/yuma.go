// Package yuma implements the emission engine: it turns one epoch snapshot
// of a subnet into per-module scores, updated bonds and the emission tuples
// that credit the epoch budget to stakers.
//
// Every computation uses utils/fixed and is deterministic. The engine never
// fails on arithmetic edge cases: overflow saturates and zero denominators
// yield zero. The caller is expected to check Output.Total against the
// budget before applying anything.
package yuma

import (
	"sort"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/log"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/snapshot"
	"github.com/rony4d/go-subspace/utils/fixed"
)

var logger = log.New("module", "yuma")

// SelfOwnership is the share of its own incentive a module keeps when other
// modules hold bonds on it.
var SelfOwnership = fixed.FromRatio(1, 2)

// Output is the result of one epoch.
type Output struct {
	// NetUID and Block identify the snapshot the epoch ran on.
	NetUID inter.NetUID
	Block  idx.Block

	// Scores has one entry per module of the snapshot, in uid order.
	Scores []registry.Scores

	// Tuples credit the budget. Their sum never exceeds the snapshot's
	// TokenEmission.
	Tuples []registry.EmissionTuple

	// Dividends are the unquantized dividend fractions.
	Dividends []fixed.Fixed
}

// Total is the saturating sum of every tuple.
func (o *Output) Total() uint64 {
	var total uint64
	for _, t := range o.Tuples {
		if total+t.Amount < total {
			return ^uint64(0)
		}
		total += t.Amount
	}
	return total
}

// Run executes the epoch described by p.
func Run(p *snapshot.Params) *Output {
	switch p.ConsensusType {
	case inter.ConsensusRoot:
		return idle(p)
	case inter.ConsensusTreasury:
		out := idle(p)
		if p.TokenEmission > 0 {
			out.Tuples = append(out.Tuples, registry.EmissionTuple{Staker: p.Treasury, Amount: p.TokenEmission})
		}
		return out
	}
	return newEpoch(p).run()
}

// idle keeps every module's bonds and permit and pays nothing.
func idle(p *snapshot.Params) *Output {
	out := &Output{NetUID: p.NetUID, Block: p.Block, Scores: make([]registry.Scores, p.N())}
	for i, m := range p.Modules {
		out.Scores[i] = registry.Scores{
			ValidatorPermit: m.ValidatorPermit,
			Bonds:           append([]registry.Bond(nil), m.Bonds...),
		}
	}
	out.Dividends = make([]fixed.Fixed, p.N())
	return out
}

type edge struct {
	to     int
	weight fixed.Fixed
}

// epoch holds the intermediate vectors of a Yuma or Linear epoch.
type epoch struct {
	p      *snapshot.Params
	n      int
	linear bool

	permits []bool
	active  []bool
	// validator stake: active and permitted, normalized
	vstake  []fixed.Fixed
	weights [][]edge

	rank      []fixed.Fixed
	trust     []fixed.Fixed
	consensus []fixed.Fixed
	incentive []fixed.Fixed
	dividends []fixed.Fixed
	// rawDividends and bondDivs are the dividends before normalization and
	// the part of them earned through bonds on peers.
	rawDividends []fixed.Fixed
	bondDivs     []fixed.Fixed
	bonds        [][]registry.Bond
}

func newEpoch(p *snapshot.Params) *epoch {
	return &epoch{
		p:      p,
		n:      p.N(),
		linear: p.ConsensusType == inter.ConsensusLinear,
	}
}

func (e *epoch) run() *Output {
	e.computePermits()
	e.computeActivity()
	e.computeWeights()
	e.computeRankTrust()
	e.computeIncentive()
	e.computeDividends()
	e.updateBonds()

	shares := e.emissionShares()
	budget := e.p.Distributable()
	out := &Output{
		NetUID:    e.p.NetUID,
		Block:     e.p.Block,
		Scores:    make([]registry.Scores, e.n),
		Dividends: e.dividends,
	}
	if e.p.FounderEmission > 0 {
		out.Tuples = append(out.Tuples, registry.EmissionTuple{Staker: e.p.Founder, Amount: e.p.FounderEmission})
	}
	for i := 0; i < e.n; i++ {
		amount := shares[i].MulUint64(budget).ToUint64()
		out.Scores[i] = registry.Scores{
			Emission:        amount,
			Incentive:       e.incentive[i].ToU16Proportion(),
			Dividends:       e.dividends[i].ToU16Proportion(),
			Rank:            e.rank[i].ToU16Proportion(),
			Trust:           e.trust[i].ToU16Proportion(),
			Consensus:       e.consensus[i].ToU16Proportion(),
			ValidatorPermit: e.permits[i],
			Bonds:           e.bonds[i],
		}
		out.Tuples = append(out.Tuples, e.split(i, amount)...)
	}
	logger.Debug("Epoch computed", "netuid", e.p.NetUID, "modules", e.n, "budget", e.p.TokenEmission, "paid", out.Total())
	return out
}

// computePermits grants validator permits to the MaxAllowedValidators
// modules with the highest stake that meet MinValidatorStake. Ties go to the
// lower uid.
func (e *epoch) computePermits() {
	e.permits = make([]bool, e.n)
	order := make([]int, e.n)
	for i := range order {
		order[i] = i
	}
	mods := e.p.Modules
	sort.SliceStable(order, func(a, b int) bool {
		return mods[order[a]].StakeOriginal > mods[order[b]].StakeOriginal
	})
	granted := 0
	for _, i := range order {
		if granted >= int(e.p.MaxAllowedValidators) {
			break
		}
		if mods[i].StakeOriginal < e.p.MinValidatorStake {
			continue
		}
		e.permits[i] = true
		granted++
	}
}

// computeActivity marks modules whose weights are recent enough to count.
// The linear variant has no weight-age discard.
func (e *epoch) computeActivity() {
	e.active = make([]bool, e.n)
	e.vstake = make([]fixed.Fixed, e.n)
	for i, m := range e.p.Modules {
		e.active[i] = e.linear || m.LastUpdate >= e.p.Block || e.p.Block-m.LastUpdate < e.p.ActivityCutoff
		if e.active[i] && e.permits[i] {
			e.vstake[i] = m.StakeNormalized
		}
	}
	e.vstake = fixed.Normalize(e.vstake)
}

// computeWeights row-normalizes the weights of every validator, dropping
// self edges and zero entries.
func (e *epoch) computeWeights() {
	e.weights = make([][]edge, e.n)
	for i, m := range e.p.Modules {
		if e.vstake[i].IsZero() {
			continue
		}
		var row []edge
		sum := fixed.Zero()
		for _, w := range m.Weights {
			if int(w.UID) == i || int(w.UID) >= e.n || w.Value == 0 {
				continue
			}
			v := fixed.FromU16Proportion(w.Value)
			row = append(row, edge{to: int(w.UID), weight: v})
			sum = sum.Add(v)
		}
		for k := range row {
			row[k].weight = row[k].weight.Div(sum)
		}
		e.weights[i] = row
	}
}

func (e *epoch) computeRankTrust() {
	e.rank = make([]fixed.Fixed, e.n)
	e.trust = make([]fixed.Fixed, e.n)
	voting := fixed.Zero()
	for i, row := range e.weights {
		if len(row) == 0 {
			continue
		}
		voting = voting.Add(e.vstake[i])
		for _, ed := range row {
			e.rank[ed.to] = e.rank[ed.to].Add(e.vstake[i].Mul(ed.weight))
			e.trust[ed.to] = e.trust[ed.to].Add(e.vstake[i])
		}
	}
	e.rank = fixed.Normalize(e.rank)
	for j := range e.trust {
		e.trust[j] = e.trust[j].Div(voting)
	}
}

func (e *epoch) computeIncentive() {
	e.consensus = make([]fixed.Fixed, e.n)
	e.incentive = make([]fixed.Fixed, e.n)
	kappa := fixed.FromU16Proportion(e.p.Kappa)
	rho := fixed.FromUint64(uint64(e.p.Rho))
	for j := 0; j < e.n; j++ {
		if e.linear {
			e.consensus[j] = e.trust[j]
		} else if !e.trust[j].IsZero() {
			e.consensus[j] = fixed.Sigmoid(e.trust[j], rho, kappa)
		}
		e.incentive[j] = e.rank[j].Mul(e.consensus[j])
	}
	e.incentive = fixed.Normalize(e.incentive)
}

// previousBonds returns the epoch-start bonds as a dense matrix with every
// column normalized to the peer's total bonds.
func (e *epoch) previousBonds() [][]fixed.Fixed {
	b := make([][]fixed.Fixed, e.n)
	totals := make([]fixed.Fixed, e.n)
	for i, m := range e.p.Modules {
		b[i] = make([]fixed.Fixed, e.n)
		for _, bond := range m.Bonds {
			if int(bond.UID) >= e.n || int(bond.UID) == i {
				continue
			}
			v := fixed.FromU16Proportion(bond.Value)
			b[i][bond.UID] = v
			totals[bond.UID] = totals[bond.UID].Add(v)
		}
	}
	for i := range b {
		for j := range b[i] {
			b[i][j] = b[i][j].Div(totals[j])
		}
	}
	return b
}

// computeDividends distributes every module's incentive between the module
// itself and the holders of bonds on it, using the bonds as they stood at
// the start of the epoch. A module nobody holds bonds on keeps all of it.
func (e *epoch) computeDividends() {
	e.dividends = make([]fixed.Fixed, e.n)
	e.bondDivs = make([]fixed.Fixed, e.n)
	bonds := e.previousBonds()
	for j := 0; j < e.n; j++ {
		inc := e.incentive[j]
		if inc.IsZero() {
			continue
		}
		held := false
		for i := 0; i < e.n; i++ {
			if !bonds[i][j].IsZero() {
				held = true
				break
			}
		}
		if !held {
			e.dividends[j] = e.dividends[j].Add(inc)
			continue
		}
		own := inc.Mul(SelfOwnership)
		e.dividends[j] = e.dividends[j].Add(own)
		rest := inc.Sub(own)
		for i := 0; i < e.n; i++ {
			if bonds[i][j].IsZero() {
				continue
			}
			share := rest.Mul(bonds[i][j])
			e.dividends[i] = e.dividends[i].Add(share)
			e.bondDivs[i] = e.bondDivs[i].Add(share)
		}
	}
	e.rawDividends = e.dividends
	e.dividends = fixed.Normalize(e.dividends)
}

// updateBonds blends this epoch's rank contributions into the stored bonds
// with an exponential moving average. Contributions are normalized per peer,
// so a peer nobody weighted this epoch only sees its bonds decay. Modules
// without a validator permit lose their bonds.
func (e *epoch) updateBonds() {
	alpha := fixed.FromPerMillion(e.p.BondsMovingAverage)
	beta := fixed.One().SatSub(alpha)

	delta := make([][]fixed.Fixed, e.n)
	totals := make([]fixed.Fixed, e.n)
	for i, row := range e.weights {
		delta[i] = make([]fixed.Fixed, e.n)
		for _, ed := range row {
			v := e.vstake[i].Mul(ed.weight)
			delta[i][ed.to] = v
			totals[ed.to] = totals[ed.to].Add(v)
		}
	}

	e.bonds = make([][]registry.Bond, e.n)
	for i, m := range e.p.Modules {
		if !e.permits[i] {
			continue
		}
		stored := make([]fixed.Fixed, e.n)
		for _, b := range m.Bonds {
			if int(b.UID) < e.n {
				stored[b.UID] = fixed.FromU16Proportion(b.Value)
			}
		}
		for j := 0; j < e.n; j++ {
			if i == j {
				continue
			}
			v := alpha.Mul(stored[j]).Add(beta.Mul(delta[i][j].Div(totals[j])))
			if q := v.ToU16Proportion(); q > 0 {
				e.bonds[i] = append(e.bonds[i], registry.Bond{UID: inter.UID(j), Value: q})
			}
		}
	}
}

// emissionShares returns the fraction of the budget each module earns:
// its dividends, falling back to active stake and then to stake when nobody
// earned anything.
func (e *epoch) emissionShares() []fixed.Fixed {
	if !fixed.Sum(e.dividends).IsZero() {
		return e.dividends
	}
	active := make([]fixed.Fixed, e.n)
	all := make([]fixed.Fixed, e.n)
	for i, m := range e.p.Modules {
		all[i] = m.StakeNormalized
		if e.active[i] {
			active[i] = m.StakeNormalized
		}
	}
	if shares := fixed.Normalize(active); !fixed.Sum(shares).IsZero() {
		return shares
	}
	return fixed.Normalize(all)
}

// split turns module i's emission into tuples. A weight-control delegate
// takes its fee from the bond-earned part; stakers then get their ownership
// share minus the module's delegation fee and the module key keeps the rest.
func (e *epoch) split(i int, amount uint64) []registry.EmissionTuple {
	if amount == 0 {
		return nil
	}
	m := e.p.Modules[i]
	var tuples []registry.EmissionTuple

	if m.HasDelegate && !e.bondDivs[i].IsZero() {
		fromBonds := fixed.FromUint64(amount).Mul(e.bondDivs[i].Div(e.rawDividends[i]))
		fee := fromBonds.MulUint64(uint64(m.DelegateFee)).Div(fixed.FromUint64(100)).ToUint64()
		if fee > amount {
			fee = amount
		}
		if fee > 0 {
			tuples = append(tuples, registry.EmissionTuple{Module: m.DelegatedTo, Staker: m.DelegatedTo, Amount: fee})
			amount -= fee
		}
	}

	var total uint64
	for _, s := range m.Stakers {
		total += s.Amount
	}
	owner := amount
	if total > 0 {
		for _, s := range m.Stakers {
			if s.Staker == m.Key {
				continue
			}
			share := fixed.FromUint64(amount).MulUint64(s.Amount).Div(fixed.FromUint64(total))
			fee := share.MulUint64(uint64(m.DelegationFee)).Div(fixed.FromUint64(100))
			paid := share.Sub(fee).ToUint64()
			if paid > owner {
				paid = owner
			}
			if paid == 0 {
				continue
			}
			owner -= paid
			tuples = append(tuples, registry.EmissionTuple{Module: m.Key, Staker: s.Staker, Amount: paid})
		}
	}
	if owner > 0 {
		tuples = append(tuples, registry.EmissionTuple{Module: m.Key, Staker: m.Key, Amount: owner})
	}
	return tuples
}
