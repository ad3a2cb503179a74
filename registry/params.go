package registry

import (
	"math/bits"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/subspace"
)

// UpdateSubnet replaces a subnet's parameters. Only the founder, or the root
// origin, may call it.
func (r *Registry) UpdateSubnet(block idx.Block, origin inter.Origin, netuid inter.NetUID, params subspace.SubnetParams) error {
	s, ok := r.subnets[netuid]
	if !ok {
		return ErrSubnetNotFound
	}
	if !origin.Root && origin.Signer != s.Params.Founder {
		return ErrNotFounder
	}
	return r.SetSubnetParams(block, netuid, params)
}

// SetSubnetParams validates and applies subnet parameters without an origin
// check. Governance execution uses it.
func (r *Registry) SetSubnetParams(block idx.Block, netuid inter.NetUID, params subspace.SubnetParams) error {
	s, ok := r.subnets[netuid]
	if !ok {
		return ErrSubnetNotFound
	}
	if err := params.Validate(r.Global); err != nil {
		return err
	}
	if other, exists := r.SubnetByName(params.Name); exists && other.NetUID != netuid {
		return ErrSubnetNameAlreadyExists
	}
	if int(params.MaxAllowedUids) < s.N() {
		return ErrMaxAllowedUidsBelowModules
	}
	s.Params = params
	s.Burn = clamp(s.Burn, params.MinBurn, params.MaxBurn)
	r.events.Emit(EventSubnetParamsUpdated, block, "netuid", netuid)
	return nil
}

// SetGlobalParams validates and applies the chain-wide parameters.
func (r *Registry) SetGlobalParams(block idx.Block, params subspace.GlobalParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	r.Global = params
	r.events.Emit(EventGlobalParamsUpdated, block)
	return nil
}

// OnBlock resets the per-block registration counter and runs the burn
// adjustment for every subnet whose interval ends at block.
func (r *Registry) OnBlock(block idx.Block) {
	r.registrationsThisBlock = 0
	for _, id := range r.NetUIDs() {
		s := r.subnets[id]
		interval := s.Params.TargetRegistrationsInterval
		if interval == 0 || block%interval != 0 {
			continue
		}
		s.Burn = AdjustBurn(s.Burn, s.RegistrationsThisInterval, s.Params)
		s.RegistrationsThisInterval = 0
	}
}

// AdjustBurn moves the burn toward the registration target. The new burn is
// burn * (actual + target) / (2 * target), a monotonic function of the
// actual/target ratio that is the identity when they match, clamped to
// [MinBurn, MaxBurn].
func AdjustBurn(burn uint64, actual uint16, p subspace.SubnetParams) uint64 {
	target := uint64(p.TargetRegistrationsPerInterval)
	if target == 0 {
		return clamp(burn, p.MinBurn, p.MaxBurn)
	}
	if burn < p.MinBurn {
		burn = p.MinBurn
	}
	next := mulDiv(burn, uint64(actual)+target, 2*target)
	return clamp(next, p.MinBurn, p.MaxBurn)
}

func mulDiv(a, b, d uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, d)
	return q
}

func clamp(v, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Scores are the per-module outputs of one epoch.
//
// The u16 fields are proportions of u16 max. Bonds replace the module's
// bonds as a whole.
type Scores struct {
	Emission        uint64
	Incentive       uint16
	Dividends       uint16
	Rank            uint16
	Trust           uint16
	Consensus       uint16
	ValidatorPermit bool
	Bonds           []Bond
}

// ApplyScores writes an epoch's outputs back to every module of netuid. The
// output must cover exactly the current uid space.
func (r *Registry) ApplyScores(netuid inter.NetUID, scores []Scores) error {
	s, ok := r.subnets[netuid]
	if !ok {
		return ErrSubnetNotFound
	}
	if len(scores) != s.N() {
		return ErrStorageBroken
	}
	for i, sc := range scores {
		m := s.Modules[i]
		m.Emission = sc.Emission
		m.Incentive = sc.Incentive
		m.Dividends = sc.Dividends
		m.Rank = sc.Rank
		m.Trust = sc.Trust
		m.Consensus = sc.Consensus
		m.ValidatorPermit = sc.ValidatorPermit
		m.Bonds = append([]Bond(nil), sc.Bonds...)
	}
	return nil
}

// ResetWeightCalls clears the per-epoch weight rate limit of netuid.
func (r *Registry) ResetWeightCalls(netuid inter.NetUID) {
	if s, ok := r.subnets[netuid]; ok {
		for _, m := range s.Modules {
			m.SetWeightCalls = 0
		}
	}
}
