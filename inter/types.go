// Package inter defines the data types shared by every runtime component:
// subnet and module identifiers, consensus types, call origins, error kinds
// and events.
//
// Key concepts:
//   - NetUID: numeric subnet identifier, reused through the registry gap set
//   - UID: dense module slot index inside a subnet, always in [0, N)
//   - Origin: who submitted a call (a signed account or the root authority)
//
// Accounts are plain go-ethereum addresses; block numbers are lachesis
// idx.Block values.
package inter

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NetUID identifies a subnet.
type NetUID uint16

// UID is the slot index of a module inside its subnet.
type UID uint16

// RootNetUID is the designated root/meta subnet where self weights are the
// intended signal.
const RootNetUID NetUID = 0

// ConsensusType tags how a subnet turns its pending emission into payouts.
type ConsensusType uint8

const (
	// ConsensusRoot subnets do not pay out; their weights price the other subnets.
	ConsensusRoot ConsensusType = iota
	// ConsensusTreasury subnets route their whole emission to the DAO treasury.
	ConsensusTreasury
	// ConsensusLinear subnets run the emission engine with linear consensus.
	ConsensusLinear
	// ConsensusYuma subnets run the full Yuma engine.
	ConsensusYuma
)

// CanRemove reports whether a subnet of this type may be evicted or removed
// to make room under the global subnet cap.
func (t ConsensusType) CanRemove() bool {
	return t == ConsensusYuma
}

// Mineable reports whether modules on the subnet earn emission from consensus.
func (t ConsensusType) Mineable() bool {
	return t == ConsensusLinear || t == ConsensusYuma
}

func (t ConsensusType) String() string {
	switch t {
	case ConsensusRoot:
		return "root"
	case ConsensusTreasury:
		return "treasury"
	case ConsensusLinear:
		return "linear"
	case ConsensusYuma:
		return "yuma"
	}
	return fmt.Sprintf("consensus(%d)", uint8(t))
}

// Origin describes the caller of an extrinsic.
type Origin struct {
	// Root is set for privileged calls (sudo, governance execution).
	Root bool
	// Signer is the account that signed the call. Zero for root and unsigned calls.
	Signer common.Address
}

// Signed returns the origin of a call signed by addr.
func Signed(addr common.Address) Origin {
	return Origin{Signer: addr}
}

// RootOrigin returns the privileged origin.
func RootOrigin() Origin {
	return Origin{Root: true}
}
