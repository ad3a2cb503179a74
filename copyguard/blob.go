package copyguard

import (
	"crypto/sha256"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/utils/fast"
)

// EncodeWeights serializes a weight vector and its submitter into the
// canonical plaintext blob that validators encrypt:
//
//	u32 count | count * (u16 uid, u16 weight) | submitter key
//
// All integers are big-endian.
func EncodeWeights(pairs []registry.Weight, submitter common.Address) []byte {
	w := fast.NewWriter(make([]byte, 0, 4+4*len(pairs)+common.AddressLength))
	w.WriteUint32(uint32(len(pairs)))
	for _, p := range pairs {
		w.WriteUint16(uint16(p.UID))
		w.WriteUint16(p.Value)
	}
	w.Write(submitter.Bytes())
	return w.Bytes()
}

// DecodeWeights parses a blob produced by EncodeWeights.
func DecodeWeights(blob []byte) ([]registry.Weight, common.Address, error) {
	r := fast.NewReader(blob)
	count := r.ReadUint32()
	if r.Err() != nil {
		return nil, common.Address{}, ErrMalformedBlob
	}
	if count > math.MaxUint16 || int(count)*4 > r.Remaining() {
		return nil, common.Address{}, ErrMalformedBlob
	}
	pairs := make([]registry.Weight, count)
	for i := range pairs {
		pairs[i] = registry.Weight{UID: inter.UID(r.ReadUint16()), Value: r.ReadUint16()}
	}
	key := r.Rest()
	if r.Err() != nil || len(key) != common.AddressLength {
		return nil, common.Address{}, ErrMalformedBlob
	}
	return pairs, common.BytesToAddress(key), nil
}

// WeightHash is the commitment a validator submits next to its ciphertext.
func WeightHash(blob []byte) []byte {
	sum := sha256.Sum256(blob)
	return sum[:]
}
