package weights

import (
	"sort"

	"github.com/rony4d/go-subspace/registry"
)

// Normalize scales values so they sum to at most 65535, rounding every
// entry down: v*65535/sum. A vector summing to zero is returned unchanged.
func Normalize(values []uint16) []uint16 {
	var sum uint64
	for _, v := range values {
		sum += uint64(v)
	}
	out := make([]uint16, len(values))
	if sum == 0 {
		copy(out, values)
		return out
	}
	for i, v := range values {
		out[i] = uint16(uint64(v) * 65535 / sum)
	}
	return out
}

// NormalizePairs normalizes the values of pairs and returns them sorted by uid.
func NormalizePairs(pairs []registry.Weight) []registry.Weight {
	values := make([]uint16, len(pairs))
	for i, p := range pairs {
		values[i] = p.Value
	}
	values = Normalize(values)
	out := make([]registry.Weight, len(pairs))
	for i, p := range pairs {
		out[i] = registry.Weight{UID: p.UID, Value: values[i]}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}
