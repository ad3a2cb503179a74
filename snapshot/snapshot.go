// Package snapshot materializes the immutable, epoch-scoped view of a subnet
// consumed by the emission engine.
//
// A snapshot copies everything an epoch needs (stake, stakers, bonds,
// weights or their ciphertexts, permits and the subnet parameters) so the
// engine never reads live storage. Encrypted subnets park their snapshots in
// the copy-guard store until the decrypted weights arrive.
package snapshot

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/utils/fixed"
)

// Stake is one staker's position on a module.
type Stake struct {
	Staker common.Address
	Amount uint64
}

// ModuleParams is the per-module part of a snapshot.
type ModuleParams struct {
	// UID and Key pin the module to the uid layout the snapshot saw.
	UID inter.UID
	Key common.Address
	// LastUpdate is checked against ActivityCutoff to find inactive modules.
	LastUpdate idx.Block
	// RegistrationBlock is copied for the copier simulation, which registers
	// its module at the snapshot block.
	RegistrationBlock idx.Block
	// ValidatorPermit is the permit from the previous epoch. Idle epochs
	// carry it over.
	ValidatorPermit bool

	// StakeOriginal is the module's delegated stake. StakeNormalized is its
	// share of the subnet total and is derived from StakeOriginal.
	StakeOriginal   uint64
	StakeNormalized fixed.Fixed `rlp:"-"`

	// Stakers and DelegationFee drive the split of the module's emission.
	Stakers       []Stake
	DelegationFee uint8

	// DelegatedTo is the weight-control delegate, if HasDelegate.
	DelegatedTo common.Address
	HasDelegate bool
	DelegateFee uint8

	// Bonds are the validator's bonds at epoch start.
	Bonds []registry.Bond
	// Weights are the plain weights. On encrypted subnets they stay empty
	// until WithWeights fills in the decrypted vectors.
	Weights []registry.Weight

	// EncryptedWeights and WeightHash are the ciphertext and commitment of
	// an encrypted weight vector.
	EncryptedWeights []byte
	WeightHash       []byte
}

// Params is a full epoch snapshot of one subnet.
type Params struct {
	NetUID inter.NetUID
	// Block is the block the snapshot was taken at.
	Block idx.Block

	// TokenEmission is the epoch budget. FounderEmission is carved out of it
	// before the engine distributes the rest.
	TokenEmission   uint64
	Founder         common.Address
	FounderEmission uint64
	// Treasury receives the budget of Treasury subnets.
	Treasury common.Address

	// ConsensusType selects the engine variant.
	ConsensusType inter.ConsensusType
	// Kappa is the consensus sigmoid inflection point as a u16 proportion
	// and Rho its steepness.
	Kappa uint16
	Rho   uint16
	// ActivityCutoff is the number of blocks after which a module without a
	// weight update counts as inactive.
	ActivityCutoff idx.Block
	// MaxAllowedValidators caps the permits; MinValidatorStake is the
	// stake a module needs to be considered for one.
	MaxAllowedValidators uint16
	MinValidatorStake    uint64
	// BondsMovingAverage is the per-million weight of the previous bonds in
	// the bonds EMA.
	BondsMovingAverage uint64

	// UseWeightsEncryption, CopierMargin and MaxEncryptionPeriod drive the
	// copy-guard decision for this epoch.
	UseWeightsEncryption bool
	CopierMargin         uint64
	MaxEncryptionPeriod  idx.Block

	// Modules has one entry per uid, in uid order.
	Modules []ModuleParams
}

// Build takes a snapshot of netuid at block with the given budget.
func Build(reg *registry.Registry, netuid inter.NetUID, block idx.Block, tokenEmission uint64, treasury common.Address) (*Params, error) {
	s, ok := reg.Subnet(netuid)
	if !ok {
		return nil, registry.ErrSubnetNotFound
	}
	l := reg.Ledger()
	sp := s.Params

	p := &Params{
		NetUID:               netuid,
		Block:                block,
		TokenEmission:        tokenEmission,
		Founder:              sp.Founder,
		FounderEmission:      founderEmission(tokenEmission, sp.FounderShare),
		Treasury:             treasury,
		ConsensusType:        sp.ConsensusType,
		Kappa:                sp.Kappa,
		Rho:                  sp.Rho,
		ActivityCutoff:       sp.MaxWeightAge,
		MaxAllowedValidators: sp.MaxAllowedValidators,
		MinValidatorStake:    sp.MinValidatorStake,
		BondsMovingAverage:   sp.BondsMovingAverage,
		UseWeightsEncryption: sp.UseWeightsEncryption,
		CopierMargin:         sp.CopierMargin,
		MaxEncryptionPeriod:  sp.MaxEncryptionPeriod,
		Modules:              make([]ModuleParams, s.N()),
	}

	n := s.N()
	for i := 0; i < n; i++ {
		m := s.Modules[i]
		if m == nil {
			return nil, fmt.Errorf("%w: module %d", registry.ErrStorageBroken, i)
		}
		if err := checkEdges(m, n); err != nil {
			return nil, err
		}
		mp := ModuleParams{
			UID:               inter.UID(i),
			Key:               m.Key,
			LastUpdate:        m.LastUpdate,
			RegistrationBlock: m.RegistrationBlock,
			ValidatorPermit:   m.ValidatorPermit,
			StakeOriginal:     l.DelegatedStake(m.Key),
			DelegationFee:     l.DelegationFee(m.Key),
			Bonds:             append([]registry.Bond(nil), m.Bonds...),
			Weights:           append([]registry.Weight(nil), m.Weights...),
			EncryptedWeights:  common.CopyBytes(m.EncryptedWeights),
			WeightHash:        common.CopyBytes(m.WeightHash),
		}
		for _, staker := range l.StakersOf(m.Key) {
			mp.Stakers = append(mp.Stakers, Stake{Staker: staker, Amount: l.StakeTo(staker, m.Key)})
		}
		if d, ok := s.WeightControl[m.Key]; ok {
			mp.DelegatedTo, mp.HasDelegate = d, true
			mp.DelegateFee = l.ValidatorWeightFee(d)
		}
		p.Modules[i] = mp
	}
	p.normalizeStake()
	return p, nil
}

// checkEdges makes sure every weight and bond points inside the uid space.
func checkEdges(m *registry.Module, n int) error {
	for _, w := range m.Weights {
		if int(w.UID) >= n {
			return fmt.Errorf("%w: weights of %s point at uid %d", registry.ErrStorageBroken, m.Key.Hex(), w.UID)
		}
	}
	for _, b := range m.Bonds {
		if int(b.UID) >= n {
			return fmt.Errorf("%w: bonds of %s point at uid %d", registry.ErrStorageBroken, m.Key.Hex(), b.UID)
		}
	}
	return nil
}

func founderEmission(tokenEmission uint64, share uint16) uint64 {
	if share == 0 {
		return 0
	}
	return fixed.FromUint64(tokenEmission).MulUint64(uint64(share)).Div(fixed.FromUint64(100)).ToUint64()
}

func (p *Params) normalizeStake() {
	stakes := make([]uint64, len(p.Modules))
	for i, m := range p.Modules {
		stakes[i] = m.StakeOriginal
	}
	norm := fixed.Normalize(fixed.FromUint64s(stakes))
	for i := range p.Modules {
		p.Modules[i].StakeNormalized = norm[i]
	}
}

// N returns the number of modules in the snapshot.
func (p *Params) N() int {
	return len(p.Modules)
}

// Distributable is the budget left for the engine after the founder cut.
func (p *Params) Distributable() uint64 {
	if p.FounderEmission >= p.TokenEmission {
		return 0
	}
	return p.TokenEmission - p.FounderEmission
}

// WithWeights returns a copy of p whose weights are replaced by decrypted.
// Modules missing from decrypted keep no weights.
func (p *Params) WithWeights(decrypted map[inter.UID][]registry.Weight) *Params {
	cp := p.Copy()
	for i := range cp.Modules {
		m := &cp.Modules[i]
		m.Weights = append([]registry.Weight(nil), decrypted[m.UID]...)
		sort.Slice(m.Weights, func(a, b int) bool { return m.Weights[a].UID < m.Weights[b].UID })
	}
	return cp
}

// WithModule returns a copy of p with an extra module appended. Stake
// shares are recomputed.
func (p *Params) WithModule(m ModuleParams) *Params {
	cp := p.Copy()
	m.UID = inter.UID(len(cp.Modules))
	cp.Modules = append(cp.Modules, m)
	cp.normalizeStake()
	return cp
}

// Copy returns a deep copy.
func (p *Params) Copy() *Params {
	cp := *p
	cp.Modules = make([]ModuleParams, len(p.Modules))
	for i, m := range p.Modules {
		m.Stakers = append([]Stake(nil), m.Stakers...)
		m.Bonds = append([]registry.Bond(nil), m.Bonds...)
		m.Weights = append([]registry.Weight(nil), m.Weights...)
		m.EncryptedWeights = common.CopyBytes(m.EncryptedWeights)
		m.WeightHash = common.CopyBytes(m.WeightHash)
		cp.Modules[i] = m
	}
	return &cp
}

// Hash returns the sha256 of the RLP-encoded snapshot.
func (p *Params) Hash() hash.Hash {
	hasher := sha256.New()
	if err := rlp.Encode(hasher, p); err != nil {
		panic("can't hash: " + err.Error())
	}
	return hash.BytesToHash(hasher.Sum(nil))
}
