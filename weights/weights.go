// Package weights validates and stores the weight vectors modules declare
// about their peers. The vectors themselves live on the registry's module
// records; this package owns the rules for changing them.
package weights

import (
	"math"
	"sort"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/registry"
)

// EventWeightsSet is emitted for every module whose weights change.
const (
	EventWeightsSet             = "WeightsSet"
	EventEncryptedWeightsSet    = "EncryptedWeightsSet"
	EventWeightControlDelegated = "WeightControlDelegated"
	EventWeightControlRemoved   = "WeightControlRemoved"
)

var (
	ErrWeightsEncryptionEnabled   = inter.NewError(inter.KindValidation, "subnet requires encrypted weights")
	ErrWeightsEncryptionDisabled  = inter.NewError(inter.KindValidation, "subnet does not use encrypted weights")
	ErrWeightVecNotEqualSize      = inter.NewError(inter.KindValidation, "uids and values differ in length")
	ErrDuplicateUids              = inter.NewError(inter.KindValidation, "duplicate uids")
	ErrInvalidUid                 = inter.NewError(inter.KindValidation, "uid not registered")
	ErrNoSelfWeight               = inter.NewError(inter.KindValidation, "self weight not allowed")
	ErrInvalidLength              = inter.NewError(inter.KindValidation, "weight vector length out of bounds")
	ErrInvalidWeightHash          = inter.NewError(inter.KindValidation, "invalid weight commitment")
	ErrEmptyCiphertext            = inter.NewError(inter.KindValidation, "empty ciphertext")
	ErrMaxSetWeightsPerEpoch      = inter.NewError(inter.KindResourceExhaustion, "weight updates per epoch exhausted")
	ErrRootnetWeightsRateLimit    = inter.NewError(inter.KindResourceExhaustion, "root subnet weights set too recently")
	ErrNotEnoughStakeToSetWeights = inter.NewError(inter.KindEconomicPrecondition, "not enough stake to set weights")
	ErrNotEnoughStakePerWeight    = inter.NewError(inter.KindEconomicPrecondition, "not enough stake per weight")
	ErrWeightControlDelegated     = inter.NewError(inter.KindAuthorization, "weight control is delegated")
	ErrSelfDelegation             = inter.NewError(inter.KindValidation, "cannot delegate weight control to self")
	ErrTargetIsDelegatingControl  = inter.NewError(inter.KindValidation, "target delegates weight control itself")
	ErrDelegatorIsDelegate        = inter.NewError(inter.KindValidation, "delegator already controls other modules")
	ErrNotDelegating              = inter.NewError(inter.KindValidation, "weight control not delegated")
)

// Store applies weight updates to the registry.
type Store struct {
	reg    *registry.Registry
	events inter.Events
}

// New creates a weight store over reg.
func New(reg *registry.Registry, events inter.Events) *Store {
	if events == nil {
		events = inter.Discard
	}
	return &Store{reg: reg, events: events}
}

// SetWeights validates, normalizes and stores a plaintext weight vector for
// key on netuid, then mirrors it to every module that delegated weight
// control to key.
func (s *Store) SetWeights(block idx.Block, netuid inter.NetUID, key common.Address, uids []inter.UID, values []uint16) error {
	subnet, uid, err := s.caller(netuid, key)
	if err != nil {
		return err
	}
	if subnet.Params.UseWeightsEncryption {
		return ErrWeightsEncryptionEnabled
	}
	if len(uids) != len(values) {
		return ErrWeightVecNotEqualSize
	}
	pairs := make([]registry.Weight, len(uids))
	for i := range uids {
		pairs[i] = registry.Weight{UID: uids[i], Value: values[i]}
	}
	if err := s.Validate(netuid, uid, pairs); err != nil {
		return err
	}
	if err := s.checkRateLimit(block, subnet, uid); err != nil {
		return err
	}
	if err := s.checkStake(subnet, key, len(pairs)); err != nil {
		return err
	}

	normalized := NormalizePairs(pairs)
	for _, target := range append([]inter.UID{uid}, s.delegators(subnet, key)...) {
		m := subnet.Modules[target]
		m.Weights = withoutUID(normalized, target, subnet)
		m.LastUpdate = block
		s.events.Emit(EventWeightsSet, block, "netuid", netuid, "uid", target)
	}
	s.stamp(block, subnet, subnet.Modules[uid])
	return nil
}

// SetWeightsEncrypted stores a ciphertext and the commitment hash of its
// plaintext for key on an encrypted subnet, mirrored to delegators.
func (s *Store) SetWeightsEncrypted(block idx.Block, netuid inter.NetUID, key common.Address, ciphertext, hash []byte) error {
	subnet, uid, err := s.caller(netuid, key)
	if err != nil {
		return err
	}
	if !subnet.Params.UseWeightsEncryption {
		return ErrWeightsEncryptionDisabled
	}
	if len(ciphertext) == 0 {
		return ErrEmptyCiphertext
	}
	if len(hash) != common.HashLength {
		return ErrInvalidWeightHash
	}
	if err := s.checkRateLimit(block, subnet, uid); err != nil {
		return err
	}
	if err := s.checkStake(subnet, key, 0); err != nil {
		return err
	}

	for _, target := range append([]inter.UID{uid}, s.delegators(subnet, key)...) {
		m := subnet.Modules[target]
		m.EncryptedWeights = common.CopyBytes(ciphertext)
		m.WeightHash = common.CopyBytes(hash)
		m.LastUpdate = block
		s.events.Emit(EventEncryptedWeightsSet, block, "netuid", netuid, "uid", target)
	}
	s.stamp(block, subnet, subnet.Modules[uid])
	return nil
}

// StoreDecrypted writes weights recovered by the copy-guard protocol into the
// live weight store. They must already have passed Validate.
func (s *Store) StoreDecrypted(netuid inter.NetUID, uid inter.UID, pairs []registry.Weight) error {
	m, err := s.reg.Module(netuid, uid)
	if err != nil {
		return err
	}
	m.Weights = NormalizePairs(pairs)
	return nil
}

// Validate checks a weight vector declared by uid on netuid: no duplicates,
// every target registered, no self weight outside root subnets, and a length
// within [min(min_allowed_weights, peers), max_allowed_weights].
func (s *Store) Validate(netuid inter.NetUID, uid inter.UID, pairs []registry.Weight) error {
	subnet, ok := s.reg.Subnet(netuid)
	if !ok {
		return registry.ErrSubnetNotFound
	}
	root := subnet.Params.ConsensusType == inter.ConsensusRoot

	seen := make(map[inter.UID]struct{}, len(pairs))
	for _, p := range pairs {
		if _, dup := seen[p.UID]; dup {
			return ErrDuplicateUids
		}
		seen[p.UID] = struct{}{}
		if root {
			// root weights address subnets, not modules
			if _, exists := s.reg.Subnet(inter.NetUID(p.UID)); !exists || inter.NetUID(p.UID) == netuid {
				return ErrInvalidUid
			}
			continue
		}
		if int(p.UID) >= subnet.N() {
			return ErrInvalidUid
		}
		if p.UID == uid {
			return ErrNoSelfWeight
		}
	}

	// a module can only weight its peers
	targets := subnet.N() - 1
	if root {
		targets = len(s.reg.NetUIDs()) - 1
	}
	minLen := min(int(subnet.Params.MinAllowedWeights), targets)
	if len(pairs) < minLen || len(pairs) > int(subnet.Params.MaxAllowedWeights) {
		return ErrInvalidLength
	}
	return nil
}

func (s *Store) caller(netuid inter.NetUID, key common.Address) (*registry.Subnet, inter.UID, error) {
	subnet, ok := s.reg.Subnet(netuid)
	if !ok {
		return nil, 0, registry.ErrSubnetNotFound
	}
	uid, ok := subnet.UID(key)
	if !ok {
		return nil, 0, registry.ErrModuleNotFound
	}
	if _, delegated := subnet.WeightControl[key]; delegated {
		return nil, 0, ErrWeightControlDelegated
	}
	return subnet, uid, nil
}

func (s *Store) checkRateLimit(block idx.Block, subnet *registry.Subnet, uid inter.UID) error {
	m := subnet.Modules[uid]
	if max := subnet.Params.MaxSetWeightCallsPerEpoch; max > 0 && m.SetWeightCalls >= max {
		return ErrMaxSetWeightsPerEpoch
	}
	if subnet.Params.ConsensusType == inter.ConsensusRoot && m.HasRootWeights &&
		block-m.RootWeightsBlock < s.reg.Global.RootnetWeightsInterval {
		return ErrRootnetWeightsRateLimit
	}
	return nil
}

func (s *Store) checkStake(subnet *registry.Subnet, key common.Address, entries int) error {
	stake := s.reg.Ledger().DelegatedStake(key)
	if stake < subnet.Params.MinValidatorStake {
		return ErrNotEnoughStakeToSetWeights
	}
	need := subnet.Params.MinWeightStake
	if entries > 0 && need > 0 {
		if need > math.MaxUint64/uint64(entries) || stake < need*uint64(entries) {
			return ErrNotEnoughStakePerWeight
		}
	}
	return nil
}

func (s *Store) stamp(block idx.Block, subnet *registry.Subnet, m *registry.Module) {
	m.SetWeightCalls++
	if subnet.Params.ConsensusType == inter.ConsensusRoot {
		m.RootWeightsBlock = block
		m.HasRootWeights = true
	}
}

// delegators returns the uids of modules that delegated weight control to key.
func (s *Store) delegators(subnet *registry.Subnet, key common.Address) []inter.UID {
	var res []inter.UID
	for delegator, delegate := range subnet.WeightControl {
		if delegate != key {
			continue
		}
		if uid, ok := subnet.UID(delegator); ok {
			res = append(res, uid)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// withoutUID drops a delegator's own uid from a mirrored vector, since a
// module may not weight itself outside root subnets.
func withoutUID(pairs []registry.Weight, uid inter.UID, subnet *registry.Subnet) []registry.Weight {
	out := make([]registry.Weight, 0, len(pairs))
	for _, p := range pairs {
		if p.UID == uid && subnet.Params.ConsensusType != inter.ConsensusRoot {
			continue
		}
		out = append(out, p)
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
