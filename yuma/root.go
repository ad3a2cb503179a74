package yuma

import (
	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/snapshot"
	"github.com/rony4d/go-subspace/utils/fixed"
)

// RootPricing splits one block's emission across the given subnets. Root
// validators weight subnets by netuid; the shares are rank times sigmoid
// consensus, exactly as for modules. Without any usable root weights the
// emission is priced by subnet stake instead. The returned amounts are
// floored, so they never sum above emission.
func RootPricing(root *snapshot.Params, subnets []inter.NetUID, stakes map[inter.NetUID]uint64, emission uint64) map[inter.NetUID]uint64 {
	shares := rootShares(root, subnets)
	if fixed.Sum(shares).IsZero() {
		raw := make([]uint64, len(subnets))
		for i, id := range subnets {
			raw[i] = stakes[id]
		}
		shares = fixed.Normalize(fixed.FromUint64s(raw))
	}

	res := make(map[inter.NetUID]uint64, len(subnets))
	for i, id := range subnets {
		res[id] = shares[i].MulUint64(emission).ToUint64()
	}
	return res
}

func rootShares(root *snapshot.Params, subnets []inter.NetUID) []fixed.Fixed {
	shares := make([]fixed.Fixed, len(subnets))
	if root == nil {
		return shares
	}
	index := make(map[inter.UID]int, len(subnets))
	for i, id := range subnets {
		index[inter.UID(id)] = i
	}

	rank := make([]fixed.Fixed, len(subnets))
	trust := make([]fixed.Fixed, len(subnets))
	voting := fixed.Zero()
	for _, m := range root.Modules {
		sum := uint64(0)
		for _, w := range m.Weights {
			if _, ok := index[w.UID]; ok {
				sum += uint64(w.Value)
			}
		}
		if sum == 0 || m.StakeNormalized.IsZero() {
			continue
		}
		voting = voting.Add(m.StakeNormalized)
		for _, w := range m.Weights {
			k, ok := index[w.UID]
			if !ok || w.Value == 0 {
				continue
			}
			rank[k] = rank[k].Add(m.StakeNormalized.Mul(fixed.FromRatio(uint64(w.Value), sum)))
			trust[k] = trust[k].Add(m.StakeNormalized)
		}
	}
	rank = fixed.Normalize(rank)
	kappa := fixed.FromU16Proportion(root.Kappa)
	rho := fixed.FromUint64(uint64(root.Rho))
	for k := range shares {
		if t := trust[k].Div(voting); !t.IsZero() {
			shares[k] = rank[k].Mul(fixed.Sigmoid(t, rho, kappa))
		}
	}
	return fixed.Normalize(shares)
}
