package fuzz

import (
	"maps"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/storage/engine"
)

// storeSimulator is the reference model: committed page values plus the
// writes every open slot has made so far. Pages never written hold zero.
type storeSimulator struct {
	committed map[common.PageIdentity]byte
	pending   map[int]map[common.PageIdentity]byte
}

func newStoreSimulator() *storeSimulator {
	return &storeSimulator{
		committed: make(map[common.PageIdentity]byte),
		pending:   make(map[int]map[common.PageIdentity]byte),
	}
}

func (m *storeSimulator) expectRead(slot int, pageIdent common.PageIdentity) byte {
	if v, ok := m.pending[slot][pageIdent]; ok {
		return v
	}

	return m.committed[pageIdent]
}

func (m *storeSimulator) apply(op Operation, res OpResult) {
	if op.Type == OpCrash {
		m.pending = make(map[int]map[common.PageIdentity]byte)
		return
	}

	if !res.Success {
		return
	}

	switch op.Type {
	case OpBegin:
		m.pending[op.Slot] = make(map[common.PageIdentity]byte)
	case OpWrite:
		m.pending[op.Slot][op.Page] = op.Value
	case OpCommit:
		maps.Copy(m.committed, m.pending[op.Slot])
		delete(m.pending, op.Slot)
	case OpAbort:
		delete(m.pending, op.Slot)
	case OpRead, OpCheckpoint:
	default:
		panic("unhandled op type")
	}
}

// compareWithStore checks the backing files against the committed state. It
// is only meaningful when no transaction is open and recovery has run.
func (m *storeSimulator) compareWithStore(
	t *testing.T,
	db *engine.Database,
	pages []common.PageIdentity,
) {
	t.Helper()

	for _, pageIdent := range pages {
		p, err := db.Disk().ReadPage(pageIdent)
		require.NoError(t, err)
		require.Equal(
			t,
			m.committed[pageIdent],
			p.Data()[0],
			"page %v does not hold its last committed value",
			pageIdent,
		)
	}
}
