package page

import (
	"sync"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/pkg/optional"
)

// RawPage is an opaque fixed-size image. Flat files and the log use it when no
// richer layout is registered for a kind.
type RawPage struct {
	id   common.PageIdentity
	kind Kind

	latch sync.RWMutex
	data  []byte

	metaMu  sync.Mutex
	dirtier optional.Optional[common.TxnID]
	before  []byte
}

var (
	_ Page = &RawPage{}
)

// NewRawPage copies data and takes it as the initial before image.
func NewRawPage(id common.PageIdentity, data []byte) *RawPage {
	return NewRawPageOfKind(id, KindOf(id), data)
}

func NewRawPageOfKind(id common.PageIdentity, kind Kind, data []byte) *RawPage {
	image := make([]byte, len(data))
	copy(image, data)

	before := make([]byte, len(data))
	copy(before, data)

	return &RawPage{
		id:     id,
		kind:   kind,
		data:   image,
		before: before,
	}
}

func (p *RawPage) ID() common.PageIdentity {
	return p.id
}

func (p *RawPage) Kind() Kind {
	return p.kind
}

func (p *RawPage) Data() []byte {
	return p.data
}

// Update runs fn over the live image under the write latch. It does not mark
// the page dirty: that is the caller's decision.
func (p *RawPage) Update(fn func(data []byte)) {
	p.latch.Lock()
	defer p.latch.Unlock()

	fn(p.data)
}

// Snapshot returns a copy of the current image taken under the read latch.
func (p *RawPage) Snapshot() []byte {
	p.latch.RLock()
	defer p.latch.RUnlock()

	out := make([]byte, len(p.data))
	copy(out, p.data)

	return out
}

func (p *RawPage) IsDirty() optional.Optional[common.TxnID] {
	p.metaMu.Lock()
	defer p.metaMu.Unlock()

	return p.dirtier
}

func (p *RawPage) MarkDirty(dirty bool, txnID common.TxnID) {
	p.metaMu.Lock()
	defer p.metaMu.Unlock()

	if dirty {
		p.dirtier = optional.Some(txnID)
		return
	}

	p.dirtier = optional.None[common.TxnID]()
}

func (p *RawPage) BeforeImage() Page {
	p.metaMu.Lock()
	defer p.metaMu.Unlock()

	return NewRawPageOfKind(p.id, p.kind, p.before)
}

func (p *RawPage) SetBeforeImage() {
	p.metaMu.Lock()
	defer p.metaMu.Unlock()

	before := make([]byte, len(p.data))
	copy(before, p.data)
	p.before = before
}

func (p *RawPage) Lock() {
	p.latch.Lock()
}

func (p *RawPage) Unlock() {
	p.latch.Unlock()
}

func (p *RawPage) RLock() {
	p.latch.RLock()
}

func (p *RawPage) RUnlock() {
	p.latch.RUnlock()
}
