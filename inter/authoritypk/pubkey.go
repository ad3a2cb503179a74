// Package authoritypk provides the typed public key of a decryption authority
// node. Authorities sign the unsigned ping and decrypted-weights submissions;
// the runtime checks those signatures against the keys in its authority set.
// Only secp256k1 keys are supported.
package authoritypk

import (
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PubKey is an authority's signing public key.
type PubKey struct {
	// Type identifies the signature scheme.
	Type uint8
	// Raw contains the uncompressed public key bytes.
	Raw []byte
}

// Types lists the supported key types.
var Types = struct {
	Secp256k1 uint8
}{
	Secp256k1: 0xc0,
}

var (
	ErrEmptyPubKey       = errors.New("empty pubkey")
	ErrUnsupportedPubKey = errors.New("unsupported pubkey type")
)

// FromECDSA wraps a secp256k1 public key.
func FromECDSA(pub *ecdsa.PublicKey) PubKey {
	return PubKey{
		Type: Types.Secp256k1,
		Raw:  crypto.FromECDSAPub(pub),
	}
}

// Empty reports whether the key is zeroed out.
func (pk PubKey) Empty() bool {
	return len(pk.Raw) == 0 && pk.Type == 0
}

// String returns the 0x-prefixed hex of Bytes().
func (pk PubKey) String() string {
	return "0x" + common.Bytes2Hex(pk.Bytes())
}

// Bytes returns [Type] + Raw.
func (pk PubKey) Bytes() []byte {
	return append([]byte{pk.Type}, pk.Raw...)
}

// Copy returns a deep copy.
func (pk PubKey) Copy() PubKey {
	return PubKey{
		Type: pk.Type,
		Raw:  common.CopyBytes(pk.Raw),
	}
}

// Equal compares two keys.
func (pk PubKey) Equal(other PubKey) bool {
	return pk.Type == other.Type && string(pk.Raw) == string(other.Raw)
}

// ECDSA decodes the key.
func (pk PubKey) ECDSA() (*ecdsa.PublicKey, error) {
	if pk.Type != Types.Secp256k1 {
		return nil, ErrUnsupportedPubKey
	}
	return crypto.UnmarshalPubkey(pk.Raw)
}

// Address returns the account controlled by the key, or the zero address
// if the key cannot be decoded.
func (pk PubKey) Address() common.Address {
	pub, err := pk.ECDSA()
	if err != nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(*pub)
}

// Verify checks a [R || S || V] or [R || S] signature over a 32-byte digest.
func (pk PubKey) Verify(digest, sig []byte) bool {
	if pk.Type != Types.Secp256k1 || len(sig) < 64 || len(digest) != 32 {
		return false
	}
	return crypto.VerifySignature(pk.Raw, digest, sig[:64])
}

// Sign produces a signature over a 32-byte digest that Verify accepts.
func Sign(digest []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	return crypto.Sign(digest, key)
}

// FromString parses a hex string (with or without "0x" prefix).
func FromString(str string) (PubKey, error) {
	return FromBytes(common.FromHex(str))
}

// FromBytes reconstructs a key from [Type] + Raw.
func FromBytes(b []byte) (PubKey, error) {
	if len(b) == 0 {
		return PubKey{}, ErrEmptyPubKey
	}
	return PubKey{b[0], common.CopyBytes(b[1:])}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (pk *PubKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PubKey) UnmarshalText(input []byte) error {
	res, err := FromString(string(input))
	if err != nil {
		return err
	}
	*pk = res
	return nil
}
