package registry

import (
	"sort"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-subspace/inter"
)

// Deregister removes key from netuid. An emptied subnet is removed too.
func (r *Registry) Deregister(block idx.Block, netuid inter.NetUID, key common.Address) error {
	s, ok := r.subnets[netuid]
	if !ok {
		return ErrSubnetNotFound
	}
	uid, ok := s.keys[key]
	if !ok {
		return ErrModuleNotFound
	}
	r.removeModule(block, s, uid)
	if s.N() == 0 {
		r.RemoveSubnet(block, netuid)
	}
	return nil
}

// removeModule evicts uid from s. Stake placed on the key is refunded only
// if the key holds no other slot.
func (r *Registry) removeModule(block idx.Block, s *Subnet, uid inter.UID) {
	key := s.Modules[uid].Key
	s.compactRemove(uid)
	if len(r.SubnetsOf(key)) == 0 {
		r.ledger.RefundAll(key)
	}
	r.events.Emit(EventModuleDeregistered, block, "netuid", s.NetUID, "uid", uid, "key", key)
}

// compactRemove is the only operation that shrinks the uid space. The last
// module moves into uid; edges to uid are dropped and edges to the last uid
// are renamed so that every weight and bond keeps pointing at the same peer.
func (s *Subnet) compactRemove(uid inter.UID) {
	last := inter.UID(len(s.Modules) - 1)
	removed := s.Modules[uid]

	for _, m := range s.Modules {
		m.Weights = remapWeights(m.Weights, uid, last)
		m.Bonds = remapBonds(m.Bonds, uid, last)
	}

	delete(s.keys, removed.Key)
	if uid != last {
		moved := s.Modules[last]
		s.Modules[uid] = moved
		s.keys[moved.Key] = uid
	}
	s.Modules[last] = nil
	s.Modules = s.Modules[:last]

	delete(s.WeightControl, removed.Key)
	for delegator, delegate := range s.WeightControl {
		if delegate == removed.Key {
			delete(s.WeightControl, delegator)
		}
	}
}

func remapWeights(ws []Weight, removed, last inter.UID) []Weight {
	out := ws[:0]
	for _, w := range ws {
		switch w.UID {
		case removed:
			continue
		case last:
			w.UID = removed
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

func remapBonds(bs []Bond, removed, last inter.UID) []Bond {
	out := bs[:0]
	for _, b := range bs {
		switch b.UID {
		case removed:
			continue
		case last:
			b.UID = removed
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// RemoveSubnet erases a subnet and all of its scoped state. Keys that were
// registered only on this subnet get their stake refunded. The netuid is
// recorded for reuse.
func (r *Registry) RemoveSubnet(block idx.Block, netuid inter.NetUID) {
	s, ok := r.subnets[netuid]
	if !ok {
		return
	}
	delete(r.subnets, netuid)
	for _, m := range s.Modules {
		if len(r.SubnetsOf(m.Key)) == 0 {
			r.ledger.RefundAll(m.Key)
		}
	}
	// undrained payouts are still owed
	for _, t := range s.LoadedEmission {
		r.ledger.Deposit(t.Staker, t.Amount)
	}

	r.gaps = append(r.gaps, netuid)
	sort.Slice(r.gaps, func(i, j int) bool { return r.gaps[i] < r.gaps[j] })
	r.events.Emit(EventSubnetRemoved, block, "netuid", netuid)
}
