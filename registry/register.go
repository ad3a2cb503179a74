package registry

import (
	"math"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/subspace"
)

// RegisterRequest describes a module registration.
type RegisterRequest struct {
	// Key is the module account. It pays the burn and the initial stake.
	Key common.Address
	// SubnetName selects an existing subnet, or names a new one founded by Key.
	SubnetName string
	Name       string
	Address    string
	Metadata   string
	// Stake is moved from Key's free balance onto the module.
	Stake uint64
}

// Register registers a module, creating its subnet if the name is new and
// pruning a slot if the subnet or the chain is full.
func (r *Registry) Register(block idx.Block, req RegisterRequest) (inter.NetUID, inter.UID, error) {
	if r.registrationsThisBlock >= r.Global.MaxRegistrationsPerBlock {
		return 0, 0, ErrTooManyRegistrationsPerBlock
	}
	if err := r.validateIdentity(req.Name, req.Address); err != nil {
		return 0, 0, err
	}
	if req.Stake < r.Global.MinStake {
		return 0, 0, ErrStakeTooSmall
	}

	subnet, exists := r.SubnetByName(req.SubnetName)
	burn := uint64(0)
	if exists {
		if err := r.checkJoin(subnet, req); err != nil {
			return 0, 0, err
		}
		burn = subnet.Burn
	}
	if !r.ledger.CanWithdraw(req.Key, satAdd(req.Stake, burn)) {
		return 0, 0, ErrNotEnoughBalanceToRegister
	}

	if !exists {
		if r.TotalModules() >= int(r.Global.MaxAllowedModules) {
			return 0, 0, ErrMaxAllowedModules
		}
		params := r.Template
		params.Name = req.SubnetName
		params.Founder = req.Key
		netuid, err := r.AddSubnet(block, params, req.Stake)
		if err != nil {
			return 0, 0, err
		}
		subnet = r.subnets[netuid]
	}

	if err := r.makeRoom(block, subnet); err != nil {
		return 0, 0, err
	}

	if err := r.ledger.Withdraw(req.Key, burn); err != nil {
		return 0, 0, err
	}
	if req.Stake > 0 {
		if err := r.ledger.AddStake(req.Key, req.Key, req.Stake); err != nil {
			return 0, 0, err
		}
	}

	uid := r.appendModule(subnet, block, req)
	r.registrationsThisBlock++
	subnet.RegistrationsThisInterval++

	r.events.Emit(EventModuleRegistered, block, "netuid", subnet.NetUID, "uid", uid, "key", req.Key)
	return subnet.NetUID, uid, nil
}

// checkJoin validates a registration on an existing subnet.
func (r *Registry) checkJoin(s *Subnet, req RegisterRequest) error {
	if s.RegistrationsThisInterval >= s.Params.MaxRegistrationsPerInterval {
		return ErrTooManyRegistrationsPerInterval
	}
	if _, ok := s.keys[req.Key]; ok {
		return ErrKeyAlreadyRegistered
	}
	for _, m := range s.Modules {
		if m.Name == req.Name {
			return ErrModuleNameAlreadyExists
		}
	}
	return nil
}

func (r *Registry) validateIdentity(name, address string) error {
	if l := uint16(len(name)); l < r.Global.MinNameLength || l > r.Global.MaxNameLength {
		return ErrInvalidModuleName
	}
	if len(address) == 0 || uint16(len(address)) > r.Global.MaxAddressLength {
		return ErrInvalidModuleAddress
	}
	return nil
}

// makeRoom frees a slot on s when the subnet or the global module cap is full.
func (r *Registry) makeRoom(block idx.Block, s *Subnet) error {
	subnetFull := s.N() >= int(s.Params.MaxAllowedUids)
	globalFull := r.TotalModules() >= int(r.Global.MaxAllowedModules)
	if !subnetFull && !globalFull {
		return nil
	}
	uid, ok := PruneCandidate(s, block)
	if !ok {
		return ErrMaxAllowedModules
	}
	r.removeModule(block, s, uid)
	return nil
}

func (r *Registry) appendModule(s *Subnet, block idx.Block, req RegisterRequest) inter.UID {
	uid := inter.UID(len(s.Modules))
	s.Modules = append(s.Modules, &Module{
		Key:               req.Key,
		Name:              req.Name,
		Address:           req.Address,
		Metadata:          req.Metadata,
		RegistrationBlock: block,
		LastUpdate:        block,
	})
	s.keys[req.Key] = uid
	return uid
}

// AddSubnet creates a subnet with the given parameters. When the subnet cap
// is reached the least staked removable subnet is evicted first; stake is the
// initial stake backing the new subnet and must exceed the evicted subnet's.
func (r *Registry) AddSubnet(block idx.Block, params subspace.SubnetParams, stake uint64) (inter.NetUID, error) {
	if err := params.Validate(r.Global); err != nil {
		return 0, err
	}
	if _, exists := r.SubnetByName(params.Name); exists {
		return 0, ErrSubnetNameAlreadyExists
	}
	if len(r.subnets) >= int(r.Global.MaxAllowedSubnets) {
		victim, victimStake, ok := r.leastStakedRemovable()
		if !ok {
			return 0, ErrInvalidMaxAllowedSubnets
		}
		if stake <= victimStake {
			return 0, ErrNotEnoughStakeToStartNetwork
		}
		logger.Info("Evicting subnet to make room", "netuid", victim, "stake", victimStake)
		r.RemoveSubnet(block, victim)
	}

	netuid, ok := r.nextFreeNetUID()
	if !ok {
		return 0, ErrInvalidMaxAllowedSubnets
	}
	r.subnets[netuid] = &Subnet{
		NetUID:            netuid,
		Params:            params,
		RegistrationBlock: block,
		Burn:              params.MinBurn,
		WeightControl:     make(map[common.Address]common.Address),
		keys:              make(map[common.Address]inter.UID),
	}
	r.events.Emit(EventSubnetAdded, block, "netuid", netuid, "name", params.Name, "founder", params.Founder)
	return netuid, nil
}

// leastStakedRemovable returns the removable subnet with the lowest stake.
// Ties go to the higher netuid, which was created later.
func (r *Registry) leastStakedRemovable() (inter.NetUID, uint64, bool) {
	var (
		best      inter.NetUID
		bestStake uint64
		found     bool
	)
	for _, id := range r.NetUIDs() {
		s := r.subnets[id]
		if !s.Params.ConsensusType.CanRemove() {
			continue
		}
		stake := r.SubnetStake(id)
		if !found || stake <= bestStake {
			best, bestStake, found = id, stake, true
		}
	}
	return best, bestStake, found
}

// nextFreeNetUID reuses the lowest gap before growing the id space.
func (r *Registry) nextFreeNetUID() (inter.NetUID, bool) {
	if len(r.gaps) > 0 {
		id := r.gaps[0]
		r.gaps = r.gaps[1:]
		return id, true
	}
	for r.nextNetUID < math.MaxUint16 {
		id := r.nextNetUID
		r.nextNetUID++
		if _, taken := r.subnets[id]; !taken {
			return id, true
		}
	}
	return 0, false
}

// PruneCandidate selects the module to evict from s. Modules registered
// less than ImmunityPeriod blocks ago are only considered when every module
// is immune. Within a group the lowest emission loses, then the oldest
// registration, then the lowest uid.
func PruneCandidate(s *Subnet, block idx.Block) (inter.UID, bool) {
	var (
		best       inter.UID
		bestImmune bool
		found      bool
	)
	for i, m := range s.Modules {
		uid := inter.UID(i)
		immune := block-m.RegistrationBlock < idx.Block(s.Params.ImmunityPeriod)
		if m.RegistrationBlock > block {
			immune = true
		}
		if !found {
			best, bestImmune, found = uid, immune, true
			continue
		}
		if immune != bestImmune {
			if !immune {
				best, bestImmune = uid, immune
			}
			continue
		}
		cur := s.Modules[best]
		if m.Emission < cur.Emission ||
			(m.Emission == cur.Emission && m.RegistrationBlock < cur.RegistrationBlock) {
			best = uid
		}
	}
	return best, found
}

func satAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
