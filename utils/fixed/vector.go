package fixed

// Sum returns the saturating sum of v.
func Sum(v []Fixed) Fixed {
	s := Zero()
	for _, x := range v {
		s = s.Add(x)
	}
	return s
}

// Normalize scales v so that it sums to one. A vector summing to zero is
// returned unchanged (as a copy).
func Normalize(v []Fixed) []Fixed {
	out := make([]Fixed, len(v))
	s := Sum(v)
	if s.IsZero() {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = x.Div(s)
	}
	return out
}

// FromUint64s converts an integer vector.
func FromUint64s(v []uint64) []Fixed {
	out := make([]Fixed, len(v))
	for i, x := range v {
		out[i] = FromUint64(x)
	}
	return out
}

// ToU16Proportions quantizes a vector of proportions.
func ToU16Proportions(v []Fixed) []uint16 {
	out := make([]uint16, len(v))
	for i, x := range v {
		out[i] = x.ToU16Proportion()
	}
	return out
}

// Sigmoid returns 1 / (1 + e^(-rho * (x - kappa))).
func Sigmoid(x, rho, kappa Fixed) Fixed {
	z := rho.Mul(x.Sub(kappa)).Neg()
	return One().Div(One().Add(z.Exp()))
}
