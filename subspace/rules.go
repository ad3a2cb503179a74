// Package subspace defines the network rules and parameters of a Subspace network.
//
// This package provides:
//   - Network identification constants (MainNet, TestNet, FakeNet)
//   - Global parameters (name bounds, subnet and module caps, rate limits)
//   - The subnet parameter template used for newly created subnets
//   - Emission rules (per-block unit emission, halving, max supply)
//   - Copy-guard rules (authority rotation, keep-alive, copier measurement)
//   - Governance rules (proposal cost, expiration, rewards, DAO treasury)
//
// The Rules type is the central configuration structure that defines all
// consensus-critical parameters for a given deployment.
package subspace

import (
	"crypto/sha256"
	"encoding/json"
	"strings"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/rony4d/go-subspace/inter"
)

// Network identification constants
const (
	MainNetworkID uint64 = 0x2a
	TestNetworkID uint64 = 0x2b
	FakeNetworkID uint64 = 0x2c

	// OneToken is the number of nano units in one token.
	OneToken uint64 = 1_000_000_000
)

// DaoTreasuryAddress is the default DAO treasury account.
var DaoTreasuryAddress = common.HexToAddress("0x00000000000000000000000000000000000da0")

// Rules describes the complete configuration of a network.
type Rules struct {
	Name      string // Network name identifier ("main", "test", "fake")
	NetworkID uint64

	// Global holds the chain-wide parameters governance may change.
	Global GlobalParams

	// Subnet is the parameter template for subnets created by registration.
	Subnet SubnetParams

	// Emission controls token issuance.
	Emission EmissionRules

	// Encryption controls the copy-guard protocol.
	Encryption EncryptionRules

	// Governance controls proposals, rewards and the treasury.
	Governance GovernanceRules
}

// EmissionRules defines the per-block issuance curve.
type EmissionRules struct {
	// UnitEmission is the per-block emission before any halving.
	UnitEmission uint64

	// HalvingInterval is the issuance step after which per-block emission halves.
	HalvingInterval uint64

	// MaxSupply stops emission once total issuance reaches it.
	MaxSupply uint64
}

// EncryptionRules defines the decryption authority protocol.
type EncryptionRules struct {
	// RotationInterval is how long an authority may hold a subnet without
	// submitting decrypted weights before the duty rotates.
	RotationInterval idx.Block

	// PingInterval is the minimum distance between two keep-alives of one authority.
	PingInterval idx.Block

	// DeadNodeTimeout removes authorities whose last keep-alive is older than this.
	DeadNodeTimeout idx.Block

	// MeasuredStakePercent is the copier's stake, as a percentage of active
	// stake, in the irrationality simulation.
	MeasuredStakePercent uint8
}

// GovernanceRules defines proposal economics.
type GovernanceRules struct {
	// ProposalCost is withdrawn from the proposer and refunded on resolution.
	ProposalCost uint64

	// ProposalExpiration is the lifetime of a proposal in blocks, rounded up
	// to a multiple of TickInterval.
	ProposalExpiration idx.Block

	// TickInterval is the distance between proposal resolution passes.
	TickInterval idx.Block

	// RewardTreasuryAllocation is the percentage of the treasury paid to
	// voters every RewardInterval blocks.
	RewardTreasuryAllocation uint8

	// MaxRewardTreasuryAllocation caps one reward allocation.
	MaxRewardTreasuryAllocation uint64

	// RewardInterval is the distance between proposal reward passes.
	RewardInterval idx.Block

	// DaoTreasury receives treasury-type subnet emission and funds payments.
	DaoTreasury common.Address
}

// MainNetRules returns the configuration rules for mainnet.
func MainNetRules() Rules {
	return Rules{
		Name:       "main",
		NetworkID:  MainNetworkID,
		Global:     DefaultGlobalParams(),
		Subnet:     DefaultSubnetParams(),
		Emission:   DefaultEmissionRules(),
		Encryption: DefaultEncryptionRules(),
		Governance: DefaultGovernanceRules(),
	}
}

// TestNetRules returns the configuration rules for testnet.
func TestNetRules() Rules {
	rules := MainNetRules()
	rules.Name = "test"
	rules.NetworkID = TestNetworkID
	return rules
}

// FakeNetRules returns accelerated rules for local networks:
//   - short tempo and rotation intervals
//   - no registration burn
//   - short proposal lifetime and reward interval
func FakeNetRules() Rules {
	rules := MainNetRules()
	rules.Name = "fake"
	rules.NetworkID = FakeNetworkID
	rules.Subnet = FakeSubnetParams()
	rules.Encryption = FakeEncryptionRules()
	rules.Governance.ProposalCost = OneToken
	rules.Governance.ProposalExpiration = 500
	rules.Governance.RewardInterval = 1000
	return rules
}

// DefaultGlobalParams returns the mainnet global parameters.
func DefaultGlobalParams() GlobalParams {
	return GlobalParams{
		MinNameLength:            2,
		MaxNameLength:            32,
		MaxAddressLength:         128,
		MaxAllowedSubnets:        256,
		MaxAllowedModules:        10_000,
		MaxAllowedWeights:        512,
		MaxRegistrationsPerBlock: 10,
		MinStake:                 0,
		RootnetWeightsInterval:   10_800, // one day of 8 second blocks
	}
}

// DefaultSubnetParams returns the mainnet subnet template.
func DefaultSubnetParams() SubnetParams {
	return SubnetParams{
		FounderShare:                   8,
		Tempo:                          100,
		ImmunityPeriod:                 40,
		MaxAllowedUids:                 420,
		MinAllowedWeights:              1,
		MaxAllowedWeights:              420,
		MaxWeightAge:                   3600,
		BondsMovingAverage:             900_000,
		Kappa:                          32_767, // 0.5
		Rho:                            10,
		MaxAllowedValidators:           128,
		MinValidatorStake:              10 * OneToken,
		MinWeightStake:                 0,
		MaxSetWeightCallsPerEpoch:      0,
		ConsensusType:                  inter.ConsensusYuma,
		CopierMargin:                   0,
		MaxEncryptionPeriod:            10_800,
		TargetRegistrationsInterval:    142,
		TargetRegistrationsPerInterval: 3,
		MaxRegistrationsPerInterval:    42,
		MinBurn:                        4 * OneToken,
		MaxBurn:                        250 * OneToken,
	}
}

// FakeSubnetParams returns a subnet template for local networks.
func FakeSubnetParams() SubnetParams {
	p := DefaultSubnetParams()
	p.Tempo = 10
	p.ImmunityPeriod = 10
	p.MinValidatorStake = 0
	p.MinBurn = 0
	p.MaxBurn = 0
	p.MaxEncryptionPeriod = 1000
	return p
}

// DefaultEmissionRules returns the mainnet issuance curve.
func DefaultEmissionRules() EmissionRules {
	return EmissionRules{
		UnitEmission:    23_148_148_148,
		HalvingInterval: 250_000_000 * OneToken,
		MaxSupply:       1_000_000_000 * OneToken,
	}
}

// DefaultEncryptionRules returns the mainnet copy-guard rules.
func DefaultEncryptionRules() EncryptionRules {
	return EncryptionRules{
		RotationInterval:     5_000,
		PingInterval:         50,
		DeadNodeTimeout:      1_000,
		MeasuredStakePercent: 5,
	}
}

// FakeEncryptionRules returns accelerated copy-guard rules.
func FakeEncryptionRules() EncryptionRules {
	cfg := DefaultEncryptionRules()
	cfg.RotationInterval = 100
	cfg.PingInterval = 5
	cfg.DeadNodeTimeout = 200
	return cfg
}

// DefaultGovernanceRules returns the mainnet governance rules.
func DefaultGovernanceRules() GovernanceRules {
	return GovernanceRules{
		ProposalCost:                10_000 * OneToken,
		ProposalExpiration:          130_000,
		TickInterval:                100,
		RewardTreasuryAllocation:    2,
		MaxRewardTreasuryAllocation: 10_000 * OneToken,
		RewardInterval:              75_600,
		DaoTreasury:                 DaoTreasuryAddress,
	}
}

// Validate checks the rules for internal consistency.
func (r Rules) Validate() error {
	if err := r.Global.Validate(); err != nil {
		return err
	}
	// the template carries no name of its own
	tmpl := r.Subnet
	tmpl.Name = strings.Repeat("x", int(r.Global.MinNameLength))
	return tmpl.Validate(r.Global)
}

// Copy creates a deep copy of Rules. Rules hold no pointers, so a value copy
// is already deep.
func (r Rules) Copy() Rules {
	return r
}

// String returns a JSON representation of Rules.
func (r Rules) String() string {
	b, _ := json.Marshal(&r)
	return string(b)
}

// Hash returns the sha256 of the RLP-encoded rules. Nodes compare it to make
// sure they run identical consensus parameters.
func (r Rules) Hash() hash.Hash {
	hasher := sha256.New()
	if err := rlp.Encode(hasher, &r); err != nil {
		panic("can't hash: " + err.Error())
	}
	return hash.BytesToHash(hasher.Sum(nil))
}
