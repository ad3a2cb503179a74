package weights

import (
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/registry"
)

// DelegateWeightControl lets delegate set weights on behalf of from on
// netuid. Chains are limited to a single hop: the delegate may not delegate
// itself and from may not already act as a delegate for others.
func (s *Store) DelegateWeightControl(block idx.Block, netuid inter.NetUID, from, delegate common.Address) error {
	subnet, ok := s.reg.Subnet(netuid)
	if !ok {
		return registry.ErrSubnetNotFound
	}
	if from == delegate {
		return ErrSelfDelegation
	}
	if _, ok := subnet.UID(from); !ok {
		return registry.ErrModuleNotFound
	}
	if _, ok := subnet.UID(delegate); !ok {
		return registry.ErrModuleNotFound
	}
	if _, ok := subnet.WeightControl[delegate]; ok {
		return ErrTargetIsDelegatingControl
	}
	for _, d := range subnet.WeightControl {
		if d == from {
			return ErrDelegatorIsDelegate
		}
	}
	subnet.WeightControl[from] = delegate
	s.events.Emit(EventWeightControlDelegated, block, "netuid", netuid, "from", from, "to", delegate)
	return nil
}

// RemoveWeightControl returns weight control of netuid to from.
func (s *Store) RemoveWeightControl(block idx.Block, netuid inter.NetUID, from common.Address) error {
	subnet, ok := s.reg.Subnet(netuid)
	if !ok {
		return registry.ErrSubnetNotFound
	}
	if _, ok := subnet.WeightControl[from]; !ok {
		return ErrNotDelegating
	}
	delete(subnet.WeightControl, from)
	s.events.Emit(EventWeightControlRemoved, block, "netuid", netuid, "from", from)
	return nil
}

// Delegate returns the module that sets weights for from on netuid.
func (s *Store) Delegate(netuid inter.NetUID, from common.Address) (common.Address, bool) {
	subnet, ok := s.reg.Subnet(netuid)
	if !ok {
		return common.Address{}, false
	}
	d, ok := subnet.WeightControl[from]
	return d, ok
}
