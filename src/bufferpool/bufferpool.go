package bufferpool

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"

	"github.com/Blackdeer1524/PageStore/src"
	"github.com/Blackdeer1524/PageStore/src/pkg/assert"
	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/pkg/utils"
	"github.com/Blackdeer1524/PageStore/src/storage/page"
	"github.com/Blackdeer1524/PageStore/src/txns"
)

var (
	// ErrTxnAborted means the transaction gave up waiting for a lock and
	// must be completed with an abort.
	ErrTxnAborted = errors.New("transaction aborted")
	ErrCacheFull  = errors.New("all cached pages are dirty")
)

type Replacer interface {
	Admit(pageIdent common.PageIdentity)
	Remove(pageIdent common.PageIdentity)
	ChooseVictim(evictable func(common.PageIdentity) bool) (common.PageIdentity, error)
	GetSize() uint64
}

type DiskManager interface {
	ReadPage(pageIdent common.PageIdentity) (page.Page, error)
	WritePage(p page.Page) error
}

// WAL is the part of the log the cache needs to honour write-ahead logging:
// an update record must be durable before the page it describes is written.
type WAL interface {
	LogWrite(txnID common.TxnID, before page.Page, after page.Page) error
	Force() error
}

type Config struct {
	Capacity          int
	LockTimeoutBase   time.Duration
	LockTimeoutJitter time.Duration
	LockPollInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Capacity:          50,
		LockTimeoutBase:   time.Second,
		LockTimeoutJitter: 2 * time.Second,
		LockPollInterval:  2 * time.Millisecond,
	}
}

type Manager struct {
	cfg Config

	locker      *txns.Locker
	diskManager DiskManager
	wal         WAL
	logger      src.Logger
	metrics     *metrics

	mu       sync.Mutex
	pages    map[common.PageIdentity]page.Page
	replacer Replacer
}

func New(
	cfg Config,
	locker *txns.Locker,
	diskManager DiskManager,
	wal WAL,
	logger src.Logger,
) *Manager {
	assert.Assert(cfg.Capacity > 0, "pool size must be greater than zero")
	assert.Assert(cfg.LockPollInterval > 0, "lock poll interval must be positive")

	return &Manager{
		cfg:         cfg,
		locker:      locker,
		diskManager: diskManager,
		wal:         wal,
		logger:      logger,
		metrics:     newMetrics(),
		pages:       make(map[common.PageIdentity]page.Page, cfg.Capacity),
		replacer:    NewAgeReplacer(),
	}
}

func (m *Manager) Capacity() int {
	return m.cfg.Capacity
}

// GetPage locks pid for txnID in the requested mode, waiting a randomized
// while for conflicting holders, and returns the cached page.
//
// On ErrTxnAborted the caller must abort the transaction. On ErrCacheFull the
// lock stays granted but the cache is left untouched.
func (m *Manager) GetPage(
	ctx context.Context,
	txnID common.TxnID,
	pageIdent common.PageIdentity,
	mode txns.PageLockMode,
) (page.Page, error) {
	if err := m.acquire(ctx, txnID, pageIdent, mode); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pages[pageIdent]; ok {
		m.metrics.hits.Add(ctx, 1)
		return p, nil
	}

	m.metrics.misses.Add(ctx, 1)

	if len(m.pages) >= m.cfg.Capacity {
		if err := m.evictLocked(ctx, m.isClean); err != nil {
			return nil, err
		}
	}

	p, err := m.diskManager.ReadPage(pageIdent)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read page %v", pageIdent)
	}

	m.pages[pageIdent] = p
	m.replacer.Admit(pageIdent)

	return p, nil
}

func (m *Manager) acquire(
	ctx context.Context,
	txnID common.TxnID,
	pageIdent common.PageIdentity,
	mode txns.PageLockMode,
) error {
	if m.locker.Acquire(pageIdent, txnID, mode) {
		return nil
	}

	timeout := time.NewTimer(utils.Jitter(m.cfg.LockTimeoutBase, m.cfg.LockTimeoutJitter))
	defer timeout.Stop()

	poll := time.NewTicker(m.cfg.LockPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "txn %d waiting for page %v", txnID, pageIdent)
		case <-timeout.C:
			m.metrics.lockTimeouts.Add(ctx, 1)
			m.logger.Debugw(
				"lock wait timed out",
				"txnID", txnID,
				"page", pageIdent,
				"mode", mode,
			)

			return errors.Wrapf(
				ErrTxnAborted,
				"txn %d timed out waiting for %v lock on %v",
				txnID,
				mode,
				pageIdent,
			)
		case <-poll.C:
			if m.locker.Acquire(pageIdent, txnID, mode) {
				return nil
			}
		}
	}
}

func (m *Manager) isClean(pageIdent common.PageIdentity) bool {
	p, ok := m.pages[pageIdent]
	return ok && p.IsDirty().IsNone()
}

// evictLocked drops the oldest page accepted by evictable. Dirty pages are
// never written here: they stay until their transaction completes.
func (m *Manager) evictLocked(ctx context.Context, evictable func(common.PageIdentity) bool) error {
	victim, err := m.replacer.ChooseVictim(evictable)
	if err != nil {
		return errors.Wrapf(ErrCacheFull, "capacity %d", m.cfg.Capacity)
	}

	delete(m.pages, victim)
	m.metrics.evictions.Add(ctx, 1)

	return nil
}

// AdmitDirtyPages marks pages as dirtied by txnID and installs them in the
// cache as the youngest entries. Pages a file operation touched but did not
// get through GetPage are handled the same way. txnID must hold an exclusive
// lock on every page.
//
// Room for the whole batch is checked up front: on ErrCacheFull no page is
// installed or marked dirty.
func (m *Manager) AdmitDirtyPages(txnID common.TxnID, pages []page.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := make(map[common.PageIdentity]struct{}, len(pages))
	missing := 0
	for _, p := range pages {
		pageIdent := p.ID()

		mode, held := m.locker.Mode(pageIdent, txnID).Get()
		assert.Assert(
			held && mode == txns.PAGE_LOCK_EXCLUSIVE,
			"txn %d admits page %v without an exclusive lock",
			txnID,
			pageIdent,
		)

		if _, ok := batch[pageIdent]; ok {
			continue
		}
		batch[pageIdent] = struct{}{}

		if _, ok := m.pages[pageIdent]; !ok {
			missing++
		}
	}

	evictable := func(pageIdent common.PageIdentity) bool {
		_, inBatch := batch[pageIdent]
		return !inBatch && m.isClean(pageIdent)
	}

	victims := len(m.pages) + missing - m.cfg.Capacity
	if victims > 0 {
		candidates := 0
		for pageIdent := range m.pages {
			if evictable(pageIdent) {
				candidates++
			}
		}

		if candidates < victims {
			return errors.Wrapf(ErrCacheFull, "capacity %d", m.cfg.Capacity)
		}
	}

	for range victims {
		if err := m.evictLocked(context.Background(), evictable); err != nil {
			return err
		}
	}

	for _, p := range pages {
		p.MarkDirty(true, txnID)
		m.pages[p.ID()] = p
		m.replacer.Admit(p.ID())
	}

	return nil
}

// DiscardPage forgets the cached copy without writing it.
func (m *Manager) DiscardPage(pageIdent common.PageIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.discardLocked(pageIdent)
}

func (m *Manager) discardLocked(pageIdent common.PageIdentity) {
	if _, ok := m.pages[pageIdent]; !ok {
		return
	}

	delete(m.pages, pageIdent)
	m.replacer.Remove(pageIdent)
}

// ReplaceIfCached overwrites the cached copy of p's page with p's image and
// marks it clean. Rollback uses it to put before images back.
func (m *Manager) ReplaceIfCached(p page.Page) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cached, ok := m.pages[p.ID()]
	if !ok {
		return
	}

	overwrite(cached, p.Data())
}

func overwrite(dst page.Page, image []byte) {
	dst.Lock()
	defer dst.Unlock()

	copy(dst.Data(), image)
	dst.MarkDirty(false, common.NilTxnID)
	dst.SetBeforeImage()
}

func (m *Manager) FlushPage(pageIdent common.PageIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pages[pageIdent]
	if !ok {
		return nil
	}

	return m.flushLocked(p)
}

// flushLocked writes a dirty page following the write-ahead rule: the update
// record is appended and forced before the page reaches its file.
func (m *Manager) flushLocked(p page.Page) error {
	p.Lock()
	defer p.Unlock()

	txnID, dirty := p.IsDirty().Get()
	if !dirty {
		return nil
	}

	if err := m.wal.LogWrite(txnID, p.BeforeImage(), p); err != nil {
		return errors.Wrapf(err, "failed to log update of page %v", p.ID())
	}

	if err := m.wal.Force(); err != nil {
		return errors.Wrap(err, "failed to force log")
	}

	if err := m.diskManager.WritePage(p); err != nil {
		return errors.Wrapf(err, "failed to write page %v", p.ID())
	}

	p.MarkDirty(false, common.NilTxnID)
	p.SetBeforeImage()

	return nil
}

// FlushAllPages writes every dirty page, committed or not. It tries all pages
// and reports every failure.
func (m *Manager) FlushAllPages() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	for _, p := range m.pages {
		err = multierr.Append(err, m.flushLocked(p))
	}

	return err
}

// FlushPages writes the pages dirtied by txnID and stops at the first error.
func (m *Manager) FlushPages(txnID common.TxnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pages {
		if dirtier, ok := p.IsDirty().Get(); !ok || dirtier != txnID {
			continue
		}

		if err := m.flushLocked(p); err != nil {
			return err
		}
	}

	return nil
}

// RestorePages reloads every page dirtied by txnID from its backing file.
func (m *Manager) RestorePages(txnID common.TxnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for pageIdent, p := range m.pages {
		if dirtier, ok := p.IsDirty().Get(); !ok || dirtier != txnID {
			continue
		}

		stored, err := m.diskManager.ReadPage(pageIdent)
		if err != nil {
			m.discardLocked(pageIdent)
			return errors.Wrapf(err, "failed to restore page %v", pageIdent)
		}

		overwrite(p, stored.Data())
	}

	return nil
}

func (m *Manager) ReleaseLocks(txnID common.TxnID) {
	released := m.locker.ReleaseAll(txnID)
	m.logger.Debugw("released locks", "txnID", txnID, "count", released)
}

// TransactionComplete flushes (commit) or restores (abort) the pages of
// txnID and then releases its locks. Logging the outcome is up to the caller.
func (m *Manager) TransactionComplete(txnID common.TxnID, commit bool) error {
	var err error
	if commit {
		err = m.FlushPages(txnID)
	} else {
		err = m.RestorePages(txnID)
	}

	m.ReleaseLocks(txnID)

	return err
}

func (m *Manager) HoldsLock(txnID common.TxnID, pageIdent common.PageIdentity) bool {
	return m.locker.Holds(pageIdent, txnID)
}

// UnsafeReleasePage drops a single lock before the transaction ends. It breaks
// two-phase locking and is only meant for scans that know what they do.
func (m *Manager) UnsafeReleasePage(txnID common.TxnID, pageIdent common.PageIdentity) bool {
	return m.locker.Release(pageIdent, txnID)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.pages)
}

func (m *Manager) Contains(pageIdent common.PageIdentity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.pages[pageIdent]
	return ok
}

// DirtyPages returns the identities of cached pages dirtied by txnID.
func (m *Manager) DirtyPages(txnID common.TxnID) []common.PageIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []common.PageIdentity
	for pageIdent, p := range m.pages {
		if dirtier, ok := p.IsDirty().Get(); ok && dirtier == txnID {
			res = append(res, pageIdent)
		}
	}

	return res
}
