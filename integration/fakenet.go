package integration

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rony4d/go-subspace/copyguard"
	"github.com/rony4d/go-subspace/inter/authoritypk"
	"github.com/rony4d/go-subspace/runtime"
)

// AuthoritySeed is the FakeKey index of the fakenet decryption authority.
const AuthoritySeed = 1 << 16

// FakeKey returns the n-th deterministic secp256k1 key of the fake network.
// The same n always yields the same key.
func FakeKey(n int) *ecdsa.PrivateKey {
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte("subspace-fakenet"), bigendian.Uint64ToBytes(uint64(n))))
	if err != nil {
		panic(err)
	}
	return key
}

// FakeAddress is the account of FakeKey(n).
func FakeAddress(n int) common.Address {
	return crypto.PubkeyToAddress(FakeKey(n).PublicKey)
}

// FakeGenesis funds the first accounts fake accounts with balance each.
func FakeGenesis(accounts int, balance uint64) runtime.Genesis {
	g := runtime.Genesis{Balances: make(map[common.Address]uint64, accounts)}
	for i := 0; i < accounts; i++ {
		g.Balances[FakeAddress(i)] = balance
	}
	return g
}

// FakeAuthority generates the RSA key of the fakenet decryption authority and
// returns its genesis record together with both private keys.
func FakeAuthority(bits int) (copyguard.Authority, *ecdsa.PrivateKey, *rsa.PrivateKey, error) {
	signer := FakeKey(AuthoritySeed)
	enc, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return copyguard.Authority{}, nil, nil, err
	}
	a := copyguard.Authority{
		SigningKey:    authoritypk.FromECDSA(&signer.PublicKey),
		EncryptionKey: copyguard.MarshalEncryptionKey(&enc.PublicKey),
	}
	return a, signer, enc, nil
}
