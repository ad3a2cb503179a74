// Package registry tracks subnets and the modules registered on them.
//
// Every subnet owns an arena of module records indexed by uid. The uid space
// is always dense: compactRemove is the only operation that shrinks it, and
// it relocates the last module into the freed slot while remapping every
// weight and bond edge that pointed at the moved uid. All per-uid data
// (scores, weights, bonds, names, registration block) lives on the module
// record itself, so no parallel vector can drift out of sync.
package registry

import (
	"bytes"
	"sort"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/ledger"
	"github.com/rony4d/go-subspace/subspace"
)

// Event names emitted by the registry.
const (
	EventSubnetAdded         = "SubnetAdded"
	EventSubnetRemoved       = "SubnetRemoved"
	EventSubnetParamsUpdated = "SubnetParamsUpdated"
	EventGlobalParamsUpdated = "GlobalParamsUpdated"
	EventModuleRegistered    = "ModuleRegistered"
	EventModuleDeregistered  = "ModuleDeregistered"
)

var (
	ErrSubnetNotFound                  = inter.NewError(inter.KindValidation, "subnet not found")
	ErrModuleNotFound                  = inter.NewError(inter.KindValidation, "module not found")
	ErrKeyAlreadyRegistered            = inter.NewError(inter.KindValidation, "key already registered on subnet")
	ErrModuleNameAlreadyExists         = inter.NewError(inter.KindValidation, "module name already exists on subnet")
	ErrSubnetNameAlreadyExists         = inter.NewError(inter.KindValidation, "subnet name already exists")
	ErrInvalidModuleName               = inter.NewError(inter.KindValidation, "invalid module name")
	ErrInvalidModuleAddress            = inter.NewError(inter.KindValidation, "invalid module address")
	ErrStakeTooSmall                   = inter.NewError(inter.KindEconomicPrecondition, "stake below minimum")
	ErrNotEnoughBalanceToRegister      = inter.NewError(inter.KindEconomicPrecondition, "not enough balance to register")
	ErrNotEnoughStakeToStartNetwork    = inter.NewError(inter.KindEconomicPrecondition, "not enough stake to start network")
	ErrTooManyRegistrationsPerBlock    = inter.NewError(inter.KindResourceExhaustion, "too many registrations in this block")
	ErrTooManyRegistrationsPerInterval = inter.NewError(inter.KindResourceExhaustion, "too many registrations in this interval")
	ErrInvalidMaxAllowedSubnets        = inter.NewError(inter.KindResourceExhaustion, "subnet cap reached and no subnet can be evicted")
	ErrMaxAllowedModules               = inter.NewError(inter.KindResourceExhaustion, "module cap reached")
	ErrNotFounder                      = inter.NewError(inter.KindAuthorization, "caller is not the subnet founder")
	ErrMaxAllowedUidsBelowModules      = inter.NewError(inter.KindValidation, "max allowed uids below current module count")
	ErrStorageBroken                   = inter.NewError(inter.KindConsistency, "storage is broken")
)

var logger = log.New("module", "registry")

// Weight is one outgoing weight edge.
type Weight struct {
	UID   inter.UID
	Value uint16
}

// Bond is one accrued ownership position on a peer, as a u16 proportion of
// the peer's total bonds.
type Bond struct {
	UID   inter.UID
	Value uint16
}

// Module is one registered participant. The record lives at its uid in the
// subnet arena and moves with the module when compactRemove relocates it.
type Module struct {
	// Key is the module account. It is unique within the subnet.
	Key common.Address
	// Name is unique within the subnet; Address is the endpoint validators
	// query. Both are checked against the global length limits.
	Name    string
	Address string
	// Metadata is an opaque blob, usually an IPFS reference.
	Metadata string
	// RegistrationBlock starts the immunity period.
	RegistrationBlock idx.Block

	// LastUpdate is the block of the last weight submission, or the
	// registration block if weights were never set.
	LastUpdate idx.Block

	// Weights are the normalized outgoing edges, sorted by uid.
	Weights []Weight
	// Bonds are the positions the module accrued on its peers as a
	// validator. They are rewritten by every applied epoch.
	Bonds []Bond

	// EncryptedWeights and WeightHash hold the copy-guard commitment on
	// encrypted subnets.
	EncryptedWeights []byte
	WeightHash       []byte

	// ValidatorPermit allows the module to set weights that count.
	ValidatorPermit bool
	// Emission is the module's share of the last applied epoch. Pruning
	// picks the lowest Emission outside immunity.
	Emission uint64
	// Incentive, Dividends, Rank, Trust and Consensus are the u16
	// proportions the last applied epoch assigned to the module.
	Incentive uint16
	Dividends uint16
	Rank      uint16
	Trust     uint16
	Consensus uint16

	// SetWeightCalls counts weight updates in the current epoch.
	SetWeightCalls uint16

	// RootWeightsBlock is the block of the last root subnet weight update.
	RootWeightsBlock idx.Block
	HasRootWeights   bool
}

// Copy returns a deep copy.
func (m *Module) Copy() *Module {
	cp := *m
	cp.Weights = append([]Weight(nil), m.Weights...)
	cp.Bonds = append([]Bond(nil), m.Bonds...)
	cp.EncryptedWeights = common.CopyBytes(m.EncryptedWeights)
	cp.WeightHash = common.CopyBytes(m.WeightHash)
	return &cp
}

// Subnet is one subnet and all of its subnet-scoped state.
type Subnet struct {
	NetUID inter.NetUID
	// Params are the founder- or governance-controlled subnet parameters.
	Params subspace.SubnetParams
	// RegistrationBlock is the block the subnet was founded at.
	RegistrationBlock idx.Block

	// Modules is the uid-indexed arena.
	Modules []*Module

	// Burn is the current registration burn.
	Burn uint64

	// RegistrationsThisInterval feeds the burn adjustment.
	RegistrationsThisInterval uint16

	// PendingEmission accumulates per-block emission until the next epoch.
	PendingEmission uint64

	// LoadedEmission holds epoch payouts waiting to be drained.
	LoadedEmission []EmissionTuple
	// DrainRate is the number of tuples credited per block, fixed when an
	// epoch loads its payout.
	DrainRate int

	// WeightControl maps a delegator to the delegate that sets weights for it.
	WeightControl map[common.Address]common.Address

	keys map[common.Address]inter.UID
}

// EmissionTuple is one pending credit from an epoch payout. Amount is added
// to Staker's stake on Module, or to Staker's free balance when Module is zero.
type EmissionTuple struct {
	Module common.Address
	Staker common.Address
	Amount uint64
}

// N returns the number of registered modules.
func (s *Subnet) N() int {
	return len(s.Modules)
}

// UID returns the slot of key.
func (s *Subnet) UID(key common.Address) (inter.UID, bool) {
	uid, ok := s.keys[key]
	return uid, ok
}

// Module returns the module at uid, or nil.
func (s *Subnet) Module(uid inter.UID) *Module {
	if int(uid) >= len(s.Modules) {
		return nil
	}
	return s.Modules[uid]
}

// Copy returns a deep copy.
func (s *Subnet) Copy() *Subnet {
	cp := *s
	cp.Modules = make([]*Module, len(s.Modules))
	for i, m := range s.Modules {
		cp.Modules[i] = m.Copy()
	}
	cp.LoadedEmission = append([]EmissionTuple(nil), s.LoadedEmission...)
	cp.WeightControl = make(map[common.Address]common.Address, len(s.WeightControl))
	for k, v := range s.WeightControl {
		cp.WeightControl[k] = v
	}
	cp.keys = make(map[common.Address]inter.UID, len(s.keys))
	for k, v := range s.keys {
		cp.keys[k] = v
	}
	return &cp
}

// Registry owns every subnet.
type Registry struct {
	Global   subspace.GlobalParams
	Template subspace.SubnetParams

	subnets                map[inter.NetUID]*Subnet
	gaps                   []inter.NetUID
	nextNetUID             inter.NetUID
	registrationsThisBlock uint16

	ledger *ledger.Store
	events inter.Events
}

// New creates an empty registry over the given ledger.
func New(rules subspace.Rules, l *ledger.Store, events inter.Events) *Registry {
	if events == nil {
		events = inter.Discard
	}
	return &Registry{
		Global:   rules.Global,
		Template: rules.Subnet,
		subnets:  make(map[inter.NetUID]*Subnet),
		ledger:   l,
		events:   events,
	}
}

// Copy returns a deep copy sharing the ledger and event sink.
func (r *Registry) Copy() *Registry {
	cp := *r
	cp.subnets = make(map[inter.NetUID]*Subnet, len(r.subnets))
	for id, s := range r.subnets {
		cp.subnets[id] = s.Copy()
	}
	cp.gaps = append([]inter.NetUID(nil), r.gaps...)
	return &cp
}

// Subnet returns a subnet by id.
func (r *Registry) Subnet(netuid inter.NetUID) (*Subnet, bool) {
	s, ok := r.subnets[netuid]
	return s, ok
}

// SubnetByName finds a subnet by its unique name.
func (r *Registry) SubnetByName(name string) (*Subnet, bool) {
	for _, id := range r.NetUIDs() {
		if r.subnets[id].Params.Name == name {
			return r.subnets[id], true
		}
	}
	return nil, false
}

// NetUIDs returns every subnet id in ascending order.
func (r *Registry) NetUIDs() []inter.NetUID {
	ids := make([]inter.NetUID, 0, len(r.subnets))
	for id := range r.subnets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Gaps returns the freed subnet ids awaiting reuse.
func (r *Registry) Gaps() []inter.NetUID {
	return append([]inter.NetUID(nil), r.gaps...)
}

// Module returns the module at (netuid, uid).
func (r *Registry) Module(netuid inter.NetUID, uid inter.UID) (*Module, error) {
	s, ok := r.subnets[netuid]
	if !ok {
		return nil, ErrSubnetNotFound
	}
	m := s.Module(uid)
	if m == nil {
		return nil, ErrModuleNotFound
	}
	return m, nil
}

// UIDOf returns the slot of key on netuid.
func (r *Registry) UIDOf(netuid inter.NetUID, key common.Address) (inter.UID, error) {
	s, ok := r.subnets[netuid]
	if !ok {
		return 0, ErrSubnetNotFound
	}
	uid, ok := s.UID(key)
	if !ok {
		return 0, ErrModuleNotFound
	}
	return uid, nil
}

// IsRegistered reports whether key holds a slot on netuid.
func (r *Registry) IsRegistered(netuid inter.NetUID, key common.Address) bool {
	_, err := r.UIDOf(netuid, key)
	return err == nil
}

// SubnetsOf returns the subnets key is registered on.
func (r *Registry) SubnetsOf(key common.Address) []inter.NetUID {
	var res []inter.NetUID
	for _, id := range r.NetUIDs() {
		if _, ok := r.subnets[id].keys[key]; ok {
			res = append(res, id)
		}
	}
	return res
}

// TotalModules counts modules across all subnets.
func (r *Registry) TotalModules() int {
	total := 0
	for _, s := range r.subnets {
		total += len(s.Modules)
	}
	return total
}

// SubnetStake is the delegated stake of every module key on netuid.
func (r *Registry) SubnetStake(netuid inter.NetUID) uint64 {
	s, ok := r.subnets[netuid]
	if !ok {
		return 0
	}
	var total uint64
	for _, m := range s.Modules {
		total += r.ledger.DelegatedStake(m.Key)
	}
	return total
}

// Ledger returns the ledger the registry runs against.
func (r *Registry) Ledger() *ledger.Store {
	return r.ledger
}

func lessAddress(a, b common.Address) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
