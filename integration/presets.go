// Package integration assembles local Subspace networks: named presets, a
// deterministic fakenet genesis and a Network that drives a runtime block by
// block with simulated validators and, for encrypted presets, an in-process
// decryption authority.
//
// Usage:
//
//	preset, _ := integration.GetPresetByName("encrypted")
//	net, err := integration.NewNetwork(preset, prometheus.NewRegistry())
//	summary, err := net.Run(ctx, 200)
package integration

import (
	"errors"
	"fmt"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/subspace"
)

// Preset captures the shape of a local network: its rules and the modules
// registered on its single subnet at genesis.
type Preset struct {
	Name  string
	Rules subspace.Rules

	// Subnet is the name of the subnet the modules register on. The first
	// module founds it.
	Subnet string

	// Modules is the number of modules registered at genesis. The first
	// Validators of them set weights on the others every tempo.
	Modules    int
	Validators int

	// Stake is the initial stake of every module and Balance the genesis
	// free balance of every module account.
	Stake   uint64
	Balance uint64

	// AuthorityKeyBits is the RSA key size of the decryption authority
	// seeded for subnets that use weight encryption.
	AuthorityKeyBits int

	// AuthorityConcurrency bounds the subnets the authority decrypts in
	// parallel. Zero keeps the worker default.
	AuthorityConcurrency int
}

var (
	errNoModules       = errors.New("preset needs at least two modules")
	errValidators      = errors.New("validators must leave at least one module to weight")
	errStakeOverBudget = errors.New("stake exceeds the genesis balance")
	errTooManyModules  = errors.New("modules exceed the subnet registration limits")
)

// DefaultPreset is a small Yuma subnet on fakenet rules.
func DefaultPreset() Preset {
	return Preset{
		Name:             "fakenet",
		Rules:            subspace.FakeNetRules(),
		Subnet:           "fakenet",
		Modules:          8,
		Validators:       2,
		Stake:            100 * subspace.OneToken,
		Balance:          1000 * subspace.OneToken,
		AuthorityKeyBits: 2048,
	}
}

// LinearPreset runs the default network with linear consensus.
func LinearPreset() Preset {
	p := DefaultPreset()
	p.Name = "linear"
	p.Rules.Subnet.ConsensusType = inter.ConsensusLinear
	return p
}

// EncryptedPreset routes weights through the copy-guard protocol. Weights
// stay hidden for at most MaxEncryptionPeriod blocks.
func EncryptedPreset() Preset {
	p := DefaultPreset()
	p.Name = "encrypted"
	p.Rules.Subnet.UseWeightsEncryption = true
	p.Rules.Subnet.MaxEncryptionPeriod = 50
	return p
}

// UsesEncryption reports whether the preset needs a decryption authority.
func (p Preset) UsesEncryption() bool {
	return p.Rules.Subnet.UseWeightsEncryption
}

// Validate checks the preset against its own rules.
func (p Preset) Validate() error {
	if err := p.Rules.Validate(); err != nil {
		return err
	}
	switch {
	case p.Modules < 2:
		return errNoModules
	case p.Validators < 1 || p.Validators >= p.Modules:
		return errValidators
	case p.Stake > p.Balance:
		return errStakeOverBudget
	case p.Modules > int(p.Rules.Subnet.MaxAllowedUids),
		p.Modules > int(p.Rules.Subnet.MaxRegistrationsPerInterval):
		return errTooManyModules
	}
	if p.UsesEncryption() && p.AuthorityKeyBits < 1024 {
		return fmt.Errorf("authority key of %d bits is too small", p.AuthorityKeyBits)
	}
	return nil
}

// PresetNames lists the names GetPresetByName accepts.
func PresetNames() []string {
	return []string{"fakenet", "linear", "encrypted"}
}

// GetPresetByName looks up a preset by its identifier, as selected by the
// --preset flag.
func GetPresetByName(name string) (Preset, error) {
	switch name {
	case "fakenet", "":
		return DefaultPreset(), nil
	case "linear":
		return LinearPreset(), nil
	case "encrypted":
		return EncryptedPreset(), nil
	default:
		return Preset{}, fmt.Errorf("unknown preset: %q (valid: %v)", name, PresetNames())
	}
}
