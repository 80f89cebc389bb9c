package txns

import (
	"slices"
	"sync"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/pkg/optional"
)

type lock struct {
	txnID common.TxnID
	mode  PageLockMode
}

// Locker is a non-blocking page lock table. A page is held either by any
// number of shared holders or by exactly one exclusive holder.
type Locker struct {
	mu sync.Mutex

	pages map[common.PageIdentity][]lock
	// per transaction index, so locks on pages that are no longer cached
	// are still found at completion
	txnPages map[common.TxnID]map[common.PageIdentity]struct{}
}

func NewLocker() *Locker {
	return &Locker{
		pages:    map[common.PageIdentity][]lock{},
		txnPages: map[common.TxnID]map[common.PageIdentity]struct{}{},
	}
}

// Acquire tries to grant mode on pid to txnID and never waits. Callers that
// are refused are expected to retry or give up.
func (l *Locker) Acquire(
	pid common.PageIdentity,
	txnID common.TxnID,
	mode PageLockMode,
) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	holders := l.pages[pid]
	if len(holders) == 0 {
		l.grant(pid, txnID, mode)
		return true
	}

	idx := slices.IndexFunc(holders, func(h lock) bool { return h.txnID == txnID })
	if idx >= 0 {
		held := holders[idx].mode
		if held.Covers(mode) {
			return true
		}

		// shared -> exclusive, only for the sole holder
		if !held.Upgradable(mode) || len(holders) != 1 {
			return false
		}

		holders[idx].mode = mode
		return true
	}

	for _, h := range holders {
		if !h.mode.Compatible(mode) {
			return false
		}
	}

	l.grant(pid, txnID, mode)
	return true
}

func (l *Locker) grant(pid common.PageIdentity, txnID common.TxnID, mode PageLockMode) {
	l.pages[pid] = append(l.pages[pid], lock{txnID: txnID, mode: mode})

	pages, ok := l.txnPages[txnID]
	if !ok {
		pages = map[common.PageIdentity]struct{}{}
		l.txnPages[txnID] = pages
	}
	pages[pid] = struct{}{}
}

// Release drops txnID's lock on pid. It returns false if there was none.
func (l *Locker) Release(pid common.PageIdentity, txnID common.TxnID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.release(pid, txnID)
}

func (l *Locker) release(pid common.PageIdentity, txnID common.TxnID) bool {
	holders := l.pages[pid]

	idx := slices.IndexFunc(holders, func(h lock) bool { return h.txnID == txnID })
	if idx < 0 {
		return false
	}

	holders = slices.Delete(holders, idx, idx+1)
	if len(holders) == 0 {
		delete(l.pages, pid)
	} else {
		l.pages[pid] = holders
	}

	if pages, ok := l.txnPages[txnID]; ok {
		delete(pages, pid)
		if len(pages) == 0 {
			delete(l.txnPages, txnID)
		}
	}

	return true
}

// ReleaseAll drops every lock txnID holds and returns how many there were.
func (l *Locker) ReleaseAll(txnID common.TxnID) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	pages := l.txnPages[txnID]

	released := 0
	for pid := range pages {
		if l.release(pid, txnID) {
			released++
		}
	}

	return released
}

func (l *Locker) Holds(pid common.PageIdentity, txnID common.TxnID) bool {
	return l.Mode(pid, txnID).IsSome()
}

func (l *Locker) Mode(
	pid common.PageIdentity,
	txnID common.TxnID,
) optional.Optional[PageLockMode] {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, h := range l.pages[pid] {
		if h.txnID == txnID {
			return optional.Some(h.mode)
		}
	}

	return optional.None[PageLockMode]()
}

// LockedPages lists the pages txnID holds a lock on, in no particular order.
func (l *Locker) LockedPages(txnID common.TxnID) []common.PageIdentity {
	l.mu.Lock()
	defer l.mu.Unlock()

	pages := make([]common.PageIdentity, 0, len(l.txnPages[txnID]))
	for pid := range l.txnPages[txnID] {
		pages = append(pages, pid)
	}

	return pages
}

// Holders returns a copy of the lock entries on pid.
func (l *Locker) Holders(pid common.PageIdentity) map[common.TxnID]PageLockMode {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := make(map[common.TxnID]PageLockMode, len(l.pages[pid]))
	for _, h := range l.pages[pid] {
		res[h.txnID] = h.mode
	}

	return res
}
