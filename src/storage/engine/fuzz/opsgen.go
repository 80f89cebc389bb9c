package fuzz

import (
	"math/rand"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
)

// OpsGenerator produces workloads whose transactions never wait on each
// other: it tracks the locks every open slot would hold and only emits
// accesses that are compatible with them.
type OpsGenerator struct {
	r       *rand.Rand
	count   int
	maxOpen int
	pages   []common.PageIdentity

	nextSlot int
	open     map[int]struct{}
	// slot -> exclusive
	holders map[common.PageIdentity]map[int]bool
}

func NewOpsGenerator(r *rand.Rand, count int, maxOpen int, pages []common.PageIdentity) *OpsGenerator {
	return &OpsGenerator{
		r:       r,
		count:   count,
		maxOpen: maxOpen,
		pages:   pages,
		open:    make(map[int]struct{}),
		holders: make(map[common.PageIdentity]map[int]bool),
	}
}

func (g *OpsGenerator) canRead(slot int, pageIdent common.PageIdentity) bool {
	for holder, exclusive := range g.holders[pageIdent] {
		if holder != slot && exclusive {
			return false
		}
	}

	return true
}

func (g *OpsGenerator) canWrite(slot int, pageIdent common.PageIdentity) bool {
	for holder := range g.holders[pageIdent] {
		if holder != slot {
			return false
		}
	}

	return true
}

func (g *OpsGenerator) hold(slot int, pageIdent common.PageIdentity, exclusive bool) {
	if g.holders[pageIdent] == nil {
		g.holders[pageIdent] = make(map[int]bool)
	}

	g.holders[pageIdent][slot] = g.holders[pageIdent][slot] || exclusive
}

func (g *OpsGenerator) finish(slot int) {
	delete(g.open, slot)
	for pageIdent, holders := range g.holders {
		delete(holders, slot)
		if len(holders) == 0 {
			delete(g.holders, pageIdent)
		}
	}
}

func (g *OpsGenerator) begin() Operation {
	slot := g.nextSlot
	g.nextSlot++
	g.open[slot] = struct{}{}

	return Operation{Type: OpBegin, Slot: slot}
}

func (g *OpsGenerator) genRandomOp() Operation {
	if len(g.open) == 0 || (len(g.open) < g.maxOpen && g.r.Intn(5) == 0) {
		return g.begin()
	}

	slot, _ := getRandomMapKey(g.r, g.open)

	switch d := g.r.Intn(100); {
	case d < 35:
		pageIdent := randomPage(g.r, g.pages)
		if !g.canRead(slot, pageIdent) {
			break
		}

		g.hold(slot, pageIdent, false)

		return Operation{Type: OpRead, Slot: slot, Page: pageIdent}
	case d < 70:
		pageIdent := randomPage(g.r, g.pages)
		if !g.canWrite(slot, pageIdent) {
			break
		}

		g.hold(slot, pageIdent, true)

		return Operation{Type: OpWrite, Slot: slot, Page: pageIdent, Value: randomValue(g.r)}
	case d < 82:
		g.finish(slot)
		return Operation{Type: OpCommit, Slot: slot}
	case d < 90:
		g.finish(slot)
		return Operation{Type: OpAbort, Slot: slot}
	case d < 95:
		return Operation{Type: OpCheckpoint}
	default:
		g.open = make(map[int]struct{})
		g.holders = make(map[common.PageIdentity]map[int]bool)

		return Operation{Type: OpCrash}
	}

	// the access would conflict with another slot
	g.finish(slot)
	return Operation{Type: OpCommit, Slot: slot}
}

func (g *OpsGenerator) Gen() chan Operation {
	ch := make(chan Operation)

	go func() {
		defer close(ch)

		for range g.count {
			ch <- g.genRandomOp()
		}
	}()

	return ch
}
