package fuzz

import (
	"math/rand"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
)

func getRandomMapKey[K comparable, V any](r *rand.Rand, m map[K]V) (K, bool) {
	if len(m) == 0 {
		var zero K

		return zero, false
	}

	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	return keys[r.Intn(len(keys))], true
}

// universe returns the pages a workload touches: heap pages of two tables
// and a few index pages.
func universe(pagesPerTable int) []common.PageIdentity {
	res := make([]common.PageIdentity, 0, 3*pagesPerTable)
	for i := range pagesPerTable {
		res = append(
			res,
			common.NewHeapPageIdentity(1, common.PageNo(i)),
			common.NewHeapPageIdentity(2, common.PageNo(i)),
			common.PageIdentity{
				TableID:  3,
				PageNo:   common.PageNo(i),
				Category: common.CategoryLeaf,
			},
		)
	}

	return res
}

func randomPage(r *rand.Rand, pages []common.PageIdentity) common.PageIdentity {
	return pages[r.Intn(len(pages))]
}

func randomValue(r *rand.Rand) byte {
	return byte(1 + r.Intn(255))
}
