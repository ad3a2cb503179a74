package copyguard

import (
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/inter/authoritypk"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/utils/fixed"
)

// deltaScale is the resolution of a transmitted irrationality delta.
const deltaScale = 1_000_000_000

// PingPayload is the keep-alive an authority signs.
type PingPayload struct {
	PublicKey   authoritypk.PubKey
	BlockNumber idx.Block
}

// Digest is the hash the authority signs.
func (p *PingPayload) Digest() []byte {
	return digest(p)
}

// DecryptedEntry is one validator's decrypted weight vector.
type DecryptedEntry struct {
	UID     inter.UID
	Key     common.Address
	Weights []registry.Weight
}

// BlockWeights groups the entries decrypted from the snapshot of one block.
type BlockWeights struct {
	Block   idx.Block
	Entries []DecryptedEntry
}

// Delta is a signed irrationality delta in billionths.
type Delta struct {
	Negative   bool
	Billionths uint64
}

// DeltaFromFixed quantizes x.
func DeltaFromFixed(x fixed.Fixed) Delta {
	return Delta{Negative: x.IsNeg(), Billionths: x.Abs().MulUint64(deltaScale).ToUint64()}
}

// Fixed converts d back into a fixed-point value.
func (d Delta) Fixed() fixed.Fixed {
	x := fixed.FromRatio(d.Billionths, deltaScale)
	if d.Negative {
		return x.Neg()
	}
	return x
}

// DecryptedWeightsPayload is the submission an authority signs after
// decrypting the pending epochs of a subnet.
type DecryptedWeightsPayload struct {
	NetUID      inter.NetUID
	Weights     []BlockWeights
	Delta       Delta
	BlockNumber idx.Block
	PublicKey   authoritypk.PubKey
}

// Digest is the hash the authority signs.
func (p *DecryptedWeightsPayload) Digest() []byte {
	return digest(p)
}

func digest(v interface{}) []byte {
	enc, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic("can't encode payload: " + err.Error())
	}
	return crypto.Keccak256(enc)
}
