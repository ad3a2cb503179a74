package subspace

import (
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-subspace/inter"
)

var (
	ErrInvalidNameLength           = inter.NewError(inter.KindValidation, "invalid name length")
	ErrInvalidFounderShare         = inter.NewError(inter.KindValidation, "invalid founder share")
	ErrInvalidMinAllowedWeights    = inter.NewError(inter.KindValidation, "min allowed weights exceeds max allowed weights")
	ErrInvalidMaxAllowedWeights    = inter.NewError(inter.KindValidation, "invalid max allowed weights")
	ErrInvalidMaxAllowedUids       = inter.NewError(inter.KindValidation, "invalid max allowed uids")
	ErrInvalidBondsMovingAverage   = inter.NewError(inter.KindValidation, "invalid bonds moving average")
	ErrInvalidCopierMargin         = inter.NewError(inter.KindValidation, "invalid copier margin")
	ErrInvalidBurn                 = inter.NewError(inter.KindValidation, "min burn exceeds max burn")
	ErrInvalidRegistrationTargets  = inter.NewError(inter.KindValidation, "invalid registration targets")
	ErrInvalidMaxAllowedValidators = inter.NewError(inter.KindValidation, "invalid max allowed validators")
	ErrInvalidGlobalParams         = inter.NewError(inter.KindValidation, "invalid global params")
)

// PerMillion is the denominator of per-million fractions.
const PerMillion = 1_000_000

// SubnetParams are the parameters of a single subnet. The Rules carry a
// template used for subnets created by registration; founders change them
// through UpdateSubnet and governance through subnet-parameter proposals.
type SubnetParams struct {
	// Name is unique across subnets.
	Name string

	// Founder receives FounderShare percent of every epoch's emission and is
	// the only account allowed to update the subnet directly.
	Founder common.Address

	// FounderShare is a percentage in [0, 100].
	FounderShare uint16

	// Tempo is the number of blocks between epochs. Zero pauses the subnet.
	Tempo uint16

	// ImmunityPeriod is the number of blocks after registration during which
	// a module is protected from pruning while non-immune candidates exist.
	ImmunityPeriod uint16

	// MaxAllowedUids bounds the number of module slots.
	MaxAllowedUids uint16

	// MinAllowedWeights and MaxAllowedWeights bound the length of a weight
	// vector. The minimum is further capped by the current module count.
	MinAllowedWeights uint16
	MaxAllowedWeights uint16

	// MaxWeightAge is the activity cutoff: weights set longer ago than this
	// are ignored by the emission engine.
	MaxWeightAge idx.Block

	// BondsMovingAverage is the per-million weight of the previous bonds in
	// the exponential moving average.
	BondsMovingAverage uint64

	// Kappa is the consensus sigmoid inflection point as a u16 proportion.
	Kappa uint16

	// Rho is the consensus sigmoid steepness.
	Rho uint16

	// MaxAllowedValidators is the number of validator permits per epoch.
	MaxAllowedValidators uint16

	// MinValidatorStake is the delegated stake needed to hold a validator
	// permit and to set weights.
	MinValidatorStake uint64

	// MinWeightStake is the stake required per declared weight entry.
	MinWeightStake uint64

	// MaxSetWeightCallsPerEpoch limits weight updates per uid per epoch. Zero is unlimited.
	MaxSetWeightCallsPerEpoch uint16

	// ConsensusType selects how pending emission is paid out.
	ConsensusType inter.ConsensusType

	// UseWeightsEncryption routes weight setting through the copy-guard protocol.
	UseWeightsEncryption bool

	// CopierMargin is the per-million advantage a genuine delegator must keep
	// over a weight copier for copying to count as irrational.
	CopierMargin uint64

	// MaxEncryptionPeriod caps how long a subnet may run encrypted before
	// copying is considered irrational regardless of profit.
	MaxEncryptionPeriod idx.Block

	// Registration-rate adjustment: every TargetRegistrationsInterval blocks
	// the burn is moved toward TargetRegistrationsPerInterval registrations.
	TargetRegistrationsInterval    idx.Block
	TargetRegistrationsPerInterval uint16
	MaxRegistrationsPerInterval    uint16

	// MinBurn and MaxBurn clamp the registration burn.
	MinBurn uint64
	MaxBurn uint64
}

// Validate checks the subnet parameters against the global parameters.
func (p SubnetParams) Validate(g GlobalParams) error {
	if l := uint16(len(p.Name)); l < g.MinNameLength || l > g.MaxNameLength {
		return ErrInvalidNameLength
	}
	if p.FounderShare > 100 {
		return ErrInvalidFounderShare
	}
	if p.MaxAllowedWeights == 0 || p.MaxAllowedWeights > g.MaxAllowedWeights {
		return ErrInvalidMaxAllowedWeights
	}
	if p.MinAllowedWeights > p.MaxAllowedWeights {
		return ErrInvalidMinAllowedWeights
	}
	if p.MaxAllowedUids == 0 || p.MaxAllowedUids > g.MaxAllowedModules {
		return ErrInvalidMaxAllowedUids
	}
	if p.MaxAllowedValidators == 0 {
		return ErrInvalidMaxAllowedValidators
	}
	if p.BondsMovingAverage > PerMillion {
		return ErrInvalidBondsMovingAverage
	}
	if p.CopierMargin > PerMillion {
		return ErrInvalidCopierMargin
	}
	if p.MinBurn > p.MaxBurn {
		return ErrInvalidBurn
	}
	if p.TargetRegistrationsInterval == 0 || p.TargetRegistrationsPerInterval == 0 ||
		p.MaxRegistrationsPerInterval < p.TargetRegistrationsPerInterval {
		return ErrInvalidRegistrationTargets
	}
	return nil
}

// GlobalParams are chain-wide parameters changeable by governance.
type GlobalParams struct {
	// MinNameLength and MaxNameLength bound subnet and module names.
	MinNameLength uint16
	MaxNameLength uint16

	// MaxAddressLength bounds the module network address.
	MaxAddressLength uint16

	// MaxAllowedSubnets is the subnet cap. Reaching it evicts the least
	// staked removable subnet.
	MaxAllowedSubnets uint16

	// MaxAllowedModules is the cap on modules across all subnets.
	MaxAllowedModules uint16

	// MaxAllowedWeights is the ceiling for every subnet's MaxAllowedWeights.
	MaxAllowedWeights uint16

	// MaxRegistrationsPerBlock bounds registrations across the chain per block.
	MaxRegistrationsPerBlock uint16

	// MinStake is the minimum initial stake of a new module.
	MinStake uint64

	// RootnetWeightsInterval is the per-uid rate limit on root subnet weights.
	RootnetWeightsInterval idx.Block
}

// Validate checks internal consistency.
func (g GlobalParams) Validate() error {
	switch {
	case g.MinNameLength == 0 || g.MinNameLength > g.MaxNameLength:
		return fmt.Errorf("%w: name length bounds", ErrInvalidGlobalParams)
	case g.MaxAllowedSubnets == 0:
		return fmt.Errorf("%w: max allowed subnets", ErrInvalidGlobalParams)
	case g.MaxAllowedModules == 0:
		return fmt.Errorf("%w: max allowed modules", ErrInvalidGlobalParams)
	case g.MaxAllowedWeights == 0:
		return fmt.Errorf("%w: max allowed weights", ErrInvalidGlobalParams)
	case g.MaxRegistrationsPerBlock == 0:
		return fmt.Errorf("%w: max registrations per block", ErrInvalidGlobalParams)
	}
	return nil
}
