// Package fixed implements the single fixed-point number type used by every
// ranking, normalization and emission computation in the runtime.
//
// A Fixed is a signed value with 64 fractional bits stored as sign and
// magnitude over a 256-bit unsigned integer. The magnitude saturates at
// 2^192-1, so the integer part ranges up to 2^128-1: enough to multiply the
// total token supply (u64) by any proportion or by another u64 quantity
// without losing the top bits.
//
// All operations are deterministic and never panic:
//   - overflowing additions and multiplications saturate at the maximum magnitude
//   - division by zero returns zero
//   - conversions to integers floor (or round) and clamp to the target range
package fixed

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"
)

// FracBits is the number of fractional bits of a Fixed.
const FracBits = 64

var (
	// one is 1.0 in raw representation (1 << 64).
	one = uint256.Int{0, 1, 0, 0}
	// half is 0.5 in raw representation.
	half = uint256.Int{1 << 63, 0, 0, 0}
	// maxMag is the saturation bound of the magnitude.
	maxMag = uint256.Int{math.MaxUint64, math.MaxUint64, math.MaxUint64, 0}
	// euler is e = 2.718281828... in raw representation.
	euler = uint256.Int{13249961062380153450, 2, 0, 0}
)

// Fixed is a signed 64.64-style fixed-point number with a saturating
// 192-bit magnitude. The zero value is 0.
type Fixed struct {
	neg bool
	mag uint256.Int
}

func saturated(m *uint256.Int) uint256.Int {
	if m.Gt(&maxMag) {
		return maxMag
	}
	return *m
}

func build(neg bool, mag uint256.Int) Fixed {
	if mag.IsZero() {
		neg = false
	}
	return Fixed{neg: neg, mag: saturated(&mag)}
}

// Zero returns 0.
func Zero() Fixed { return Fixed{} }

// One returns 1.
func One() Fixed { return Fixed{mag: one} }

// Max returns the largest representable positive value.
func Max() Fixed { return Fixed{mag: maxMag} }

// FromUint64 converts an integer.
func FromUint64(v uint64) Fixed {
	return Fixed{mag: uint256.Int{0, v, 0, 0}}
}

// FromRatio returns n/d, or zero when d is zero.
func FromRatio(n, d uint64) Fixed {
	if d == 0 {
		return Zero()
	}
	num := uint256.Int{0, n, 0, 0}
	var mag uint256.Int
	mag.Div(&num, uint256.NewInt(d))
	return build(false, mag)
}

// FromU16Proportion maps v in [0, 65535] to [0, 1].
func FromU16Proportion(v uint16) Fixed {
	return FromRatio(uint64(v), math.MaxUint16)
}

// FromPerMillion maps v to v / 1_000_000.
func FromPerMillion(v uint64) Fixed {
	return FromRatio(v, 1_000_000)
}

// FromPercent maps v to v / 100.
func FromPercent(v uint64) Fixed {
	return FromRatio(v, 100)
}

// FromRaw builds a non-negative value from its raw representation (value * 2^64).
func FromRaw(raw *uint256.Int) Fixed {
	return build(false, *raw)
}

// Raw returns the raw magnitude (|value| * 2^64).
func (x Fixed) Raw() *uint256.Int {
	m := x.mag
	return &m
}

// IsZero reports whether x == 0.
func (x Fixed) IsZero() bool { return x.mag.IsZero() }

// IsNeg reports whether x < 0.
func (x Fixed) IsNeg() bool { return x.neg }

// Neg returns -x.
func (x Fixed) Neg() Fixed { return build(!x.neg, x.mag) }

// Abs returns |x|.
func (x Fixed) Abs() Fixed { return Fixed{mag: x.mag} }

// Cmp returns -1, 0 or +1 depending on whether x <, == or > y.
func (x Fixed) Cmp(y Fixed) int {
	switch {
	case x.neg && !y.neg:
		return -1
	case !x.neg && y.neg:
		return 1
	}
	c := x.mag.Cmp(&y.mag)
	if x.neg {
		return -c
	}
	return c
}

// Add returns x + y, saturating.
func (x Fixed) Add(y Fixed) Fixed {
	if x.neg == y.neg {
		var mag uint256.Int
		if _, overflow := mag.AddOverflow(&x.mag, &y.mag); overflow {
			return build(x.neg, maxMag)
		}
		return build(x.neg, mag)
	}
	var mag uint256.Int
	if x.mag.Cmp(&y.mag) >= 0 {
		mag.Sub(&x.mag, &y.mag)
		return build(x.neg, mag)
	}
	mag.Sub(&y.mag, &x.mag)
	return build(y.neg, mag)
}

// Sub returns x - y, saturating.
func (x Fixed) Sub(y Fixed) Fixed {
	return x.Add(y.Neg())
}

// SatSub returns max(x - y, 0).
func (x Fixed) SatSub(y Fixed) Fixed {
	d := x.Sub(y)
	if d.neg {
		return Zero()
	}
	return d
}

// Mul returns x * y, saturating.
func (x Fixed) Mul(y Fixed) Fixed {
	var mag uint256.Int
	if _, overflow := mag.MulDivOverflow(&x.mag, &y.mag, &one); overflow {
		return build(x.neg != y.neg, maxMag)
	}
	return build(x.neg != y.neg, mag)
}

// Div returns x / y, or zero when y is zero.
func (x Fixed) Div(y Fixed) Fixed {
	if y.IsZero() {
		return Zero()
	}
	var mag uint256.Int
	if _, overflow := mag.MulDivOverflow(&x.mag, &one, &y.mag); overflow {
		return build(x.neg != y.neg, maxMag)
	}
	return build(x.neg != y.neg, mag)
}

// MulUint64 returns x * v.
func (x Fixed) MulUint64(v uint64) Fixed {
	return x.Mul(FromUint64(v))
}

// Pow returns x^n by repeated squaring.
func (x Fixed) Pow(n uint) Fixed {
	res := One()
	base := x
	for n > 0 {
		if n&1 == 1 {
			res = res.Mul(base)
		}
		base = base.Mul(base)
		n >>= 1
	}
	return res
}

// Sqrt returns the square root of |x|.
func (x Fixed) Sqrt() Fixed {
	var scaled, root uint256.Int
	scaled.Lsh(&x.mag, FracBits)
	root.Sqrt(&scaled)
	return build(false, root)
}

// expIntLimit bounds e^k so that the integer part stays below 2^128.
const expIntLimit = 88

// Exp returns e^x. Negative arguments return 1/e^|x|, large positive ones saturate.
func (x Fixed) Exp() Fixed {
	if x.neg {
		pos := x.Abs().Exp()
		return One().Div(pos)
	}
	k := x.ToUint64()
	if k > expIntLimit {
		return Max()
	}
	frac := x.Sub(FromUint64(k))

	// Taylor series on the fractional part, which lies in [0, 1).
	sum := One()
	term := One()
	for n := uint64(1); n < 48; n++ {
		term = term.Mul(frac).Div(FromUint64(n))
		if term.IsZero() {
			break
		}
		sum = sum.Add(term)
	}
	return Fixed{mag: euler}.Pow(uint(k)).Mul(sum)
}

// ToUint64 floors x to an integer, clamping negatives to 0 and overflows to MaxUint64.
func (x Fixed) ToUint64() uint64 {
	if x.neg {
		return 0
	}
	var v uint256.Int
	v.Rsh(&x.mag, FracBits)
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

// RoundUint64 rounds x half-up to an integer, clamping like ToUint64.
func (x Fixed) RoundUint64() uint64 {
	if x.neg {
		return 0
	}
	var v uint256.Int
	v.Add(&x.mag, &half)
	v.Rsh(&v, FracBits)
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

// ToU16Proportion maps x, clamped to [0, 1], to round(x * 65535).
func (x Fixed) ToU16Proportion() uint16 {
	if x.neg {
		return 0
	}
	if x.mag.Gt(&one) {
		return math.MaxUint16
	}
	return uint16(x.MulUint64(math.MaxUint16).RoundUint64())
}

// Big returns x as an exact rational.
func (x Fixed) Big() *big.Rat {
	num := x.mag.ToBig()
	if x.neg {
		num.Neg(num)
	}
	return new(big.Rat).SetFrac(num, one.ToBig())
}

// String renders x with nine decimals.
func (x Fixed) String() string {
	return x.Big().FloatString(9)
}

// Min returns the smaller of x and y.
func Min(x, y Fixed) Fixed {
	if x.Cmp(y) <= 0 {
		return x
	}
	return y
}

// MaxOf returns the larger of x and y.
func MaxOf(x, y Fixed) Fixed {
	if x.Cmp(y) >= 0 {
		return x
	}
	return y
}
