package eventlog

import (
	"sort"

	"github.com/maruel/natural"
)

// NaturalLess orders strings so that embedded digit runs compare numerically,
// e.g. "trace2" < "trace10". Strings natural.Less considers equivalent, such
// as "x01y" and "x1y", fall back to plain byte order so the result is a total
// order.
func NaturalLess(a, b string) bool {
	if natural.Less(a, b) {
		return true
	}
	if natural.Less(b, a) {
		return false
	}
	return a < b
}

// SortNatural sorts s in place using NaturalLess.
func SortNatural(s []string) {
	sort.SliceStable(s, func(i, j int) bool { return NaturalLess(s[i], s[j]) })
}
