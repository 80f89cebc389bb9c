package page

import (
	"fmt"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/pkg/optional"
)

const DefaultPageSize = 4096

// Page is the unit of caching, locking and logging.
//
// The image returned by Data is the live buffer: callers mutate it only while
// holding the write latch (Lock/Unlock) and read it under at least the read
// latch. Dirtiness and the before image are guarded internally.
type Page interface {
	ID() common.PageIdentity
	Kind() Kind

	Data() []byte

	// IsDirty returns the transaction that last dirtied the page, if any.
	IsDirty() optional.Optional[common.TxnID]
	MarkDirty(dirty bool, txnID common.TxnID)

	// BeforeImage returns a private snapshot of the page as it was when it was
	// loaded or last marked clean.
	BeforeImage() Page
	// SetBeforeImage snapshots the current image. The caller holds the latch.
	SetBeforeImage()

	// latch methods
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

// Kind is the tag written in front of every page image stored in the log.
type Kind uint32

const (
	KindHeap Kind = iota + 1
	KindBTreeRootPtr
	KindBTreeInternal
	KindBTreeLeaf
	KindBTreeHeader
	kindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindHeap:
		return "HEAP"
	case KindBTreeRootPtr:
		return "BTREE_ROOT_PTR"
	case KindBTreeInternal:
		return "BTREE_INTERNAL"
	case KindBTreeLeaf:
		return "BTREE_LEAF"
	case KindBTreeHeader:
		return "BTREE_HEADER"
	default:
		return fmt.Sprintf("KIND(%d)", uint32(k))
	}
}

func (k Kind) Valid() bool {
	return k >= KindHeap && k < kindUnknown
}

// KindOf maps an identity to the page kind that backs it.
func KindOf(id common.PageIdentity) Kind {
	switch id.Category {
	case common.CategoryRootPtr:
		return KindBTreeRootPtr
	case common.CategoryInternal:
		return KindBTreeInternal
	case common.CategoryLeaf:
		return KindBTreeLeaf
	case common.CategoryHeader:
		return KindBTreeHeader
	default:
		return KindHeap
	}
}
