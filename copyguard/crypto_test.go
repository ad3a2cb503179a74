package copyguard

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/utils/fixed"
)

func TestWeightBlob(t *testing.T) {
	require := require.New(t)
	submitter := common.HexToAddress("0x1234")
	pairs := []registry.Weight{{UID: 1, Value: 500}, {UID: 300, Value: 65535}}

	blob := EncodeWeights(pairs, submitter)
	require.Equal([]byte{0, 0, 0, 2, 0, 1, 0x01, 0xf4, 0x01, 0x2c, 0xff, 0xff}, blob[:12])
	require.Equal(submitter.Bytes(), blob[12:])

	got, key, err := DecodeWeights(blob)
	require.NoError(err)
	require.Equal(pairs, got)
	require.Equal(submitter, key)

	sum := sha256.Sum256(blob)
	require.Equal(sum[:], WeightHash(blob))

	empty, key, err := DecodeWeights(EncodeWeights(nil, submitter))
	require.NoError(err)
	require.Empty(empty)
	require.Equal(submitter, key)
}

func TestWeightBlobMalformed(t *testing.T) {
	valid := EncodeWeights([]registry.Weight{{UID: 1, Value: 2}}, common.HexToAddress("0x1"))
	tests := map[string][]byte{
		"empty":         nil,
		"short count":   {0, 0},
		"count too big": {0, 0, 0, 9, 0, 1, 0, 2},
		"short key":     valid[:len(valid)-1],
		"long key":      append(append([]byte(nil), valid...), 0),
	}
	for name, blob := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeWeights(blob)
			require.ErrorIs(t, err, ErrMalformedBlob)
			require.Equal(t, inter.KindCryptographic, inter.KindOf(err))
		})
	}
}

func TestEncryptChunks(t *testing.T) {
	require := require.New(t)
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(err)

	pairs := make([]registry.Weight, 100)
	for i := range pairs {
		pairs[i] = registry.Weight{UID: inter.UID(i), Value: uint16(i * 7)}
	}
	blob := EncodeWeights(pairs, common.HexToAddress("0xabc"))
	require.Greater(len(blob), priv.Size())

	ct, err := Encrypt(nil, &priv.PublicKey, blob)
	require.NoError(err)
	require.Zero(len(ct) % priv.Size())
	require.Equal(4*priv.Size(), len(ct), "424 bytes in 117 byte blocks")

	pt, err := Decrypt(priv, ct)
	require.NoError(err)
	require.Equal(blob, pt)

	other, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(err)
	_, err = Decrypt(other, ct)
	require.ErrorIs(err, ErrDecryptionFailed)
	_, err = Decrypt(priv, ct[:len(ct)-1])
	require.ErrorIs(err, ErrDecryptionFailed)

	der := MarshalEncryptionKey(&priv.PublicKey)
	pub, err := ParseEncryptionKey(der)
	require.NoError(err)
	require.True(priv.PublicKey.Equal(pub))
	_, err = ParseEncryptionKey([]byte{1, 2, 3})
	require.ErrorIs(err, ErrInvalidEncryptionKey)
}

func TestIsCopyingIrrational(t *testing.T) {
	tests := []struct {
		name       string
		copier     fixed.Fixed
		avg        fixed.Fixed
		margin     uint64
		block      idx.Block
		irrational bool
	}{
		{"copier earns more", fixed.FromRatio(3, 10), fixed.FromRatio(2, 10), 0, 10, false},
		{"copier earns less", fixed.FromRatio(1, 10), fixed.FromRatio(2, 10), 0, 10, true},
		{"margin flips it", fixed.FromRatio(21, 100), fixed.FromRatio(2, 10), 100_000, 10, true},
		{"equal is rational", fixed.FromRatio(2, 10), fixed.FromRatio(2, 10), 0, 10, false},
		{"period elapsed", fixed.FromRatio(9, 10), fixed.FromRatio(1, 10), 0, 1000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			irrational, delta := IsCopyingIrrational(tt.copier, tt.avg, tt.margin, tt.block, 0, 1000)
			require.Equal(t, tt.irrational, irrational)
			if tt.block < 1000 {
				require.Equal(t, irrational, delta.IsNeg())
			}
		})
	}
}

func TestDeltaQuantization(t *testing.T) {
	for _, x := range []fixed.Fixed{fixed.Zero(), fixed.FromRatio(1, 4), fixed.FromRatio(3, 8).Neg(), fixed.FromUint64(12)} {
		d := DeltaFromFixed(x)
		require.Equal(t, x.IsNeg(), d.Negative)
		require.Equal(t, 0, x.Cmp(d.Fixed()), x.String())
	}
}
