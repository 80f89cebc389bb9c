package common

import (
	"math"
	"sync/atomic"
)

/* a monotonically increasing counter. It is guaranteed to be unique between
 * transactions of one process. The generator is advanced past every id found
 * in the log during recovery, so ids are not reused across restarts either. */
type TxnID uint64

const NilTxnID = TxnID(math.MaxUint64)

type TxnIDGenerator struct {
	last atomic.Uint64
}

func NewTxnIDGenerator() *TxnIDGenerator {
	return &TxnIDGenerator{}
}

func (g *TxnIDGenerator) Next() TxnID {
	return TxnID(g.last.Add(1))
}

// AdvancePast makes sure the next generated id is strictly greater than id.
func (g *TxnIDGenerator) AdvancePast(id TxnID) {
	if id == NilTxnID {
		return
	}

	for {
		cur := g.last.Load()
		if cur >= uint64(id) {
			return
		}

		if g.last.CompareAndSwap(cur, uint64(id)) {
			return
		}
	}
}
