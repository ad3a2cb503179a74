package copyguard

import (
	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/rony4d/go-subspace/utils/fixed"
)

// IsCopyingIrrational decides whether a weight copier would earn less than
// the average genuine validator, discounted by margin (per million). Once the
// subnet has been encrypted for maxPeriod blocks copying is considered
// irrational regardless. The returned delta is copierDivs minus
// (1 + margin) * avgDelegateDivs; negative means copying does not pay.
func IsCopyingIrrational(copierDivs, avgDelegateDivs fixed.Fixed, margin uint64, block, creation, maxPeriod idx.Block) (bool, fixed.Fixed) {
	if block >= creation && block-creation >= maxPeriod {
		return true, fixed.Zero()
	}
	threshold := fixed.One().Add(fixed.FromPerMillion(margin)).Mul(avgDelegateDivs)
	delta := copierDivs.Sub(threshold)
	return delta.IsNeg(), delta
}
