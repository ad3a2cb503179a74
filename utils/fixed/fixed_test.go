package fixed

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		got  Fixed
		want uint64
	}{
		{"add", FromUint64(2).Add(FromUint64(3)), 5},
		{"sub", FromUint64(7).Sub(FromUint64(3)), 4},
		{"mul", FromUint64(6).Mul(FromUint64(7)), 42},
		{"div", FromUint64(42).Div(FromUint64(6)), 7},
		{"div by zero", FromUint64(42).Div(Zero()), 0},
		{"ratio", FromRatio(10, 4).MulUint64(2), 5},
		{"ratio zero denominator", FromRatio(10, 0), 0},
		{"negative floors to zero", FromUint64(1).Sub(FromUint64(5)), 0},
		{"pow", FromUint64(3).Pow(4), 81},
		{"sqrt", FromUint64(144).Sqrt(), 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.got.ToUint64())
		})
	}
}

func TestSigned(t *testing.T) {
	require := require.New(t)

	d := FromUint64(1).Sub(FromUint64(5))
	require.True(d.IsNeg())
	require.Equal(-1, d.Cmp(Zero()))
	require.Equal(uint64(4), d.Abs().ToUint64())
	require.Equal(uint64(8), d.Mul(FromUint64(2)).Abs().ToUint64())
	require.False(d.Mul(d).IsNeg())
	require.False(FromUint64(3).Sub(FromUint64(3)).IsNeg(), "zero carries no sign")
	require.True(FromUint64(2).SatSub(FromUint64(3)).IsZero())
}

func TestSaturation(t *testing.T) {
	require := require.New(t)

	huge := FromUint64(math.MaxUint64)
	cube := huge.Mul(huge).Mul(huge)
	require.Equal(0, Max().Cmp(cube), "product saturates instead of wrapping")
	require.Equal(0, Max().Cmp(Max().Add(One())))
	require.Equal(0, Max().Neg().Cmp(Max().Neg().Sub(One())))
	require.Equal(uint64(math.MaxUint64), huge.Mul(huge).ToUint64())
}

func TestRounding(t *testing.T) {
	require := require.New(t)

	require.Equal(uint64(2), FromRatio(5, 2).ToUint64())
	require.Equal(uint64(3), FromRatio(5, 2).RoundUint64())
	require.Equal(uint64(2), FromRatio(9, 4).RoundUint64())
	require.Equal(uint16(65535), One().ToU16Proportion())
	require.Equal(uint16(65535), FromUint64(3).ToU16Proportion(), "clamped above one")
	require.Equal(uint16(0), One().Neg().ToU16Proportion())
	require.Equal(uint16(32768), FromRatio(1, 2).ToU16Proportion())
	for _, v := range []uint16{0, 1, 100, 32767, 65534, 65535} {
		require.Equal(v, FromU16Proportion(v).ToU16Proportion())
	}
}

func TestExp(t *testing.T) {
	tests := []struct {
		x    Fixed
		want float64
	}{
		{Zero(), 1},
		{One(), math.E},
		{FromRatio(1, 2), math.Exp(0.5)},
		{FromUint64(10), math.Exp(10)},
		{FromUint64(3).Neg(), math.Exp(-3)},
		{FromRatio(37, 10).Neg(), math.Exp(-3.7)},
	}
	for _, tt := range tests {
		t.Run(tt.x.String(), func(t *testing.T) {
			got, _ := tt.x.Exp().Big().Float64()
			assert.InEpsilon(t, tt.want, got, 1e-9)
		})
	}

	t.Run("saturates", func(t *testing.T) {
		require.Equal(t, 0, Max().Cmp(FromUint64(1000).Exp()))
		require.True(t, FromUint64(1000).Neg().Exp().IsZero())
	})
}

func TestSigmoid(t *testing.T) {
	rho := FromUint64(10)
	kappa := FromRatio(1, 2)

	mid, _ := Sigmoid(kappa, rho, kappa).Big().Float64()
	assert.InDelta(t, 0.5, mid, 1e-12)

	low, _ := Sigmoid(Zero(), rho, kappa).Big().Float64()
	high, _ := Sigmoid(One(), rho, kappa).Big().Float64()
	assert.InDelta(t, 1/(1+math.Exp(5)), low, 1e-9)
	assert.InDelta(t, 1/(1+math.Exp(-5)), high, 1e-9)
	assert.Less(t, low, mid)
	assert.Less(t, mid, high)
}

func TestNormalize(t *testing.T) {
	require := require.New(t)

	v := Normalize(FromUint64s([]uint64{1, 1, 2}))
	require.Equal(uint16(16384), v[0].ToU16Proportion())
	require.Equal(uint16(32768), v[2].ToU16Proportion())
	require.InDelta(1.0, func() float64 { f, _ := Sum(v).Big().Float64(); return f }(), 1e-15)

	zeros := FromUint64s([]uint64{0, 0})
	require.Equal(zeros, Normalize(zeros), "zero vector untouched")
	require.Empty(Normalize(nil))
}
