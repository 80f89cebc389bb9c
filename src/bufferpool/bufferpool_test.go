package bufferpool

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/PageStore/src"
	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/storage/disk"
	"github.com/Blackdeer1524/PageStore/src/storage/page"
	"github.com/Blackdeer1524/PageStore/src/txns"
)

const testPageSize = 32

func testConfig(capacity int) Config {
	return Config{
		Capacity:          capacity,
		LockTimeoutBase:   30 * time.Millisecond,
		LockTimeoutJitter: 10 * time.Millisecond,
		LockPollInterval:  time.Millisecond,
	}
}

func acceptingWAL() *MockWAL {
	wal := new(MockWAL)
	wal.On("LogWrite", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	wal.On("Force").Return(nil).Maybe()

	return wal
}

func newTestPool(t *testing.T, capacity int, wal WAL) (*Manager, *disk.Manager) {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data", 0o755))

	dm := disk.New("/data", page.DefaultRegistry(testPageSize), fs)
	pool := New(testConfig(capacity), txns.NewLocker(), dm, wal, src.NopLogger())

	return pool, dm
}

func filled(b byte) []byte {
	return bytes.Repeat([]byte{b}, testPageSize)
}

func heap(pageNo common.PageNo) common.PageIdentity {
	return common.NewHeapPageIdentity(1, pageNo)
}

func write(p page.Page, b byte) {
	p.Lock()
	copy(p.Data(), filled(b))
	p.Unlock()
}

func TestGetPage_LoadFromDiskThenCached(t *testing.T) {
	mockDisk := new(MockDiskManager)
	pool := New(testConfig(2), txns.NewLocker(), mockDisk, acceptingWAL(), src.NopLogger())

	pageIdent := heap(0)
	stored := page.NewRawPage(pageIdent, filled(5))
	mockDisk.On("ReadPage", pageIdent).Return(stored, nil).Once()

	ctx := context.Background()

	p, err := pool.GetPage(ctx, 1, pageIdent, txns.PAGE_LOCK_SHARED)
	require.NoError(t, err)
	assert.Same(t, stored, p)

	again, err := pool.GetPage(ctx, 2, pageIdent, txns.PAGE_LOCK_SHARED)
	require.NoError(t, err)
	assert.Same(t, stored, again)

	mockDisk.AssertNumberOfCalls(t, "ReadPage", 1)
	assert.True(t, pool.HoldsLock(1, pageIdent))
	assert.True(t, pool.HoldsLock(2, pageIdent))
}

func TestGetPage_ReadError(t *testing.T) {
	mockDisk := new(MockDiskManager)
	pool := New(testConfig(2), txns.NewLocker(), mockDisk, acceptingWAL(), src.NopLogger())

	ioErr := errors.New("disk on fire")
	mockDisk.On("ReadPage", heap(0)).Return(nil, ioErr)

	_, err := pool.GetPage(context.Background(), 1, heap(0), txns.PAGE_LOCK_SHARED)
	require.ErrorIs(t, err, ioErr)
	assert.Equal(t, 0, pool.Len())
}

func TestEvictsOldestCleanPage(t *testing.T) {
	const capacity = 3
	pool, _ := newTestPool(t, capacity, acceptingWAL())

	ctx := context.Background()
	for i := range capacity + 1 {
		_, err := pool.GetPage(ctx, 1, heap(common.PageNo(i)), txns.PAGE_LOCK_SHARED)
		require.NoError(t, err)
		assert.LessOrEqual(t, pool.Len(), capacity)
	}

	assert.Equal(t, capacity, pool.Len())
	assert.False(t, pool.Contains(heap(0)))
	for i := 1; i <= capacity; i++ {
		assert.True(t, pool.Contains(heap(common.PageNo(i))))
	}

	// evicted pages keep their locks until the transaction completes
	assert.True(t, pool.HoldsLock(1, heap(0)))
	require.NoError(t, pool.TransactionComplete(1, true))
	assert.False(t, pool.HoldsLock(1, heap(0)))
}

func TestEvictionSkipsDirtyPages(t *testing.T) {
	pool, _ := newTestPool(t, 2, acceptingWAL())
	ctx := context.Background()

	first, err := pool.GetPage(ctx, 1, heap(0), txns.PAGE_LOCK_EXCLUSIVE)
	require.NoError(t, err)
	write(first, 1)
	require.NoError(t, pool.AdmitDirtyPages(1, []page.Page{first}))

	_, err = pool.GetPage(ctx, 1, heap(1), txns.PAGE_LOCK_SHARED)
	require.NoError(t, err)

	_, err = pool.GetPage(ctx, 1, heap(2), txns.PAGE_LOCK_SHARED)
	require.NoError(t, err)

	assert.True(t, pool.Contains(heap(0)))
	assert.False(t, pool.Contains(heap(1)))
	assert.True(t, pool.Contains(heap(2)))
}

func TestCacheFullOfDirtyPages(t *testing.T) {
	pool, _ := newTestPool(t, 2, acceptingWAL())
	ctx := context.Background()

	for i := range 2 {
		p, err := pool.GetPage(ctx, 1, heap(common.PageNo(i)), txns.PAGE_LOCK_EXCLUSIVE)
		require.NoError(t, err)
		write(p, byte(i+1))
		require.NoError(t, pool.AdmitDirtyPages(1, []page.Page{p}))
	}

	_, err := pool.GetPage(ctx, 1, heap(5), txns.PAGE_LOCK_SHARED)
	require.ErrorIs(t, err, ErrCacheFull)

	assert.Equal(t, 2, pool.Len())
	assert.True(t, pool.Contains(heap(0)))
	assert.True(t, pool.Contains(heap(1)))
	assert.ElementsMatch(t, []common.PageIdentity{heap(0), heap(1)}, pool.DirtyPages(1))

	require.True(t, pool.locker.Acquire(heap(6), 1, txns.PAGE_LOCK_EXCLUSIVE))
	extra := page.NewRawPage(heap(6), filled(9))
	require.ErrorIs(t, pool.AdmitDirtyPages(1, []page.Page{extra}), ErrCacheFull)
	assert.False(t, pool.Contains(heap(6)))
	assert.True(t, extra.IsDirty().IsNone())
}

func TestAdmitDirtyPages_BatchIsAllOrNothing(t *testing.T) {
	pool, _ := newTestPool(t, 3, acceptingWAL())
	ctx := context.Background()

	for i := range 2 {
		p, err := pool.GetPage(ctx, 1, heap(common.PageNo(i)), txns.PAGE_LOCK_EXCLUSIVE)
		require.NoError(t, err)
		write(p, 1)
		require.NoError(t, pool.AdmitDirtyPages(1, []page.Page{p}))
	}

	_, err := pool.GetPage(ctx, 2, heap(2), txns.PAGE_LOCK_SHARED)
	require.NoError(t, err)

	// two new pages need two victims but only heap(2) is clean
	batch := make([]page.Page, 0, 2)
	for _, pageNo := range []common.PageNo{5, 6} {
		require.True(t, pool.locker.Acquire(heap(pageNo), 1, txns.PAGE_LOCK_EXCLUSIVE))
		batch = append(batch, page.NewRawPage(heap(pageNo), filled(7)))
	}

	require.ErrorIs(t, pool.AdmitDirtyPages(1, batch), ErrCacheFull)

	assert.Equal(t, 3, pool.Len())
	assert.True(t, pool.Contains(heap(2)))
	for _, p := range batch {
		assert.False(t, pool.Contains(p.ID()))
		assert.True(t, p.IsDirty().IsNone())
	}
	assert.ElementsMatch(t, []common.PageIdentity{heap(0), heap(1)}, pool.DirtyPages(1))

	// one new page fits by evicting heap(2)
	require.NoError(t, pool.AdmitDirtyPages(1, batch[:1]))
	assert.True(t, pool.Contains(heap(5)))
	assert.False(t, pool.Contains(heap(2)))
}

func TestAdmitDirtyPages_BatchPagesAreNotVictims(t *testing.T) {
	pool, _ := newTestPool(t, 2, acceptingWAL())
	ctx := context.Background()

	dirty, err := pool.GetPage(ctx, 1, heap(0), txns.PAGE_LOCK_EXCLUSIVE)
	require.NoError(t, err)
	write(dirty, 1)
	require.NoError(t, pool.AdmitDirtyPages(1, []page.Page{dirty}))

	clean, err := pool.GetPage(ctx, 1, heap(1), txns.PAGE_LOCK_EXCLUSIVE)
	require.NoError(t, err)

	require.True(t, pool.locker.Acquire(heap(2), 1, txns.PAGE_LOCK_EXCLUSIVE))
	fresh := page.NewRawPage(heap(2), filled(3))

	require.ErrorIs(t, pool.AdmitDirtyPages(1, []page.Page{clean, fresh}), ErrCacheFull)
	assert.True(t, pool.Contains(heap(1)))
	assert.True(t, clean.IsDirty().IsNone())
	assert.False(t, pool.Contains(heap(2)))
}

func TestAdmitDirtyPages_RequiresExclusiveLock(t *testing.T) {
	pool, _ := newTestPool(t, 4, acceptingWAL())
	ctx := context.Background()

	p, err := pool.GetPage(ctx, 1, heap(0), txns.PAGE_LOCK_SHARED)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = pool.AdmitDirtyPages(1, []page.Page{p})
	})

	unlocked := page.NewRawPage(heap(1), filled(2))
	assert.Panics(t, func() {
		_ = pool.AdmitDirtyPages(1, []page.Page{unlocked})
	})

	// after an upgrade the page is accepted
	_, err = pool.GetPage(ctx, 1, heap(0), txns.PAGE_LOCK_EXCLUSIVE)
	require.NoError(t, err)
	require.NoError(t, pool.AdmitDirtyPages(1, []page.Page{p}))
}

func TestLockTimeoutAborts(t *testing.T) {
	pool, _ := newTestPool(t, 4, acceptingWAL())
	ctx := context.Background()

	_, err := pool.GetPage(ctx, 1, heap(0), txns.PAGE_LOCK_EXCLUSIVE)
	require.NoError(t, err)

	start := time.Now()
	_, err = pool.GetPage(ctx, 2, heap(0), txns.PAGE_LOCK_SHARED)
	require.ErrorIs(t, err, ErrTxnAborted)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	assert.False(t, pool.HoldsLock(2, heap(0)))
}

func TestLockWaitSucceedsAfterRelease(t *testing.T) {
	pool, _ := newTestPool(t, 4, acceptingWAL())
	pool.cfg.LockTimeoutBase = 5 * time.Second
	ctx := context.Background()

	_, err := pool.GetPage(ctx, 1, heap(0), txns.PAGE_LOCK_EXCLUSIVE)
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		pool.ReleaseLocks(1)
	}()

	_, err = pool.GetPage(ctx, 2, heap(0), txns.PAGE_LOCK_EXCLUSIVE)
	require.NoError(t, err)
	assert.True(t, pool.HoldsLock(2, heap(0)))
}

func TestLockWaitHonoursContext(t *testing.T) {
	pool, _ := newTestPool(t, 4, acceptingWAL())
	pool.cfg.LockTimeoutBase = 5 * time.Second

	_, err := pool.GetPage(context.Background(), 1, heap(0), txns.PAGE_LOCK_EXCLUSIVE)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = pool.GetPage(ctx, 2, heap(0), txns.PAGE_LOCK_SHARED)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFlushLogsBeforeWriting(t *testing.T) {
	var calls []string

	pageIdent := heap(3)
	original := page.NewRawPage(pageIdent, filled(1))

	mockDisk := new(MockDiskManager)
	mockDisk.On("ReadPage", pageIdent).Return(original, nil)
	mockDisk.On("WritePage", original).Run(func(mock.Arguments) {
		calls = append(calls, "write")
	}).Return(nil)

	wal := new(MockWAL)
	wal.On(
		"LogWrite",
		common.TxnID(7),
		mock.MatchedBy(func(before page.Page) bool {
			return bytes.Equal(before.Data(), filled(1))
		}),
		original,
	).Run(func(mock.Arguments) {
		calls = append(calls, "log")
	}).Return(nil)
	wal.On("Force").Run(func(mock.Arguments) {
		calls = append(calls, "force")
	}).Return(nil)

	pool := New(testConfig(2), txns.NewLocker(), mockDisk, wal, src.NopLogger())

	p, err := pool.GetPage(context.Background(), 7, pageIdent, txns.PAGE_LOCK_EXCLUSIVE)
	require.NoError(t, err)
	write(p, 2)
	require.NoError(t, pool.AdmitDirtyPages(7, []page.Page{p}))

	require.NoError(t, pool.FlushPage(pageIdent))
	assert.Equal(t, []string{"log", "force", "write"}, calls)

	assert.True(t, p.IsDirty().IsNone())
	assert.Equal(t, filled(2), p.BeforeImage().Data())

	// clean pages are not flushed again
	require.NoError(t, pool.FlushPage(pageIdent))
	assert.Len(t, calls, 3)

	wal.AssertExpectations(t)
	mockDisk.AssertExpectations(t)
}

func TestFlushFailureKeepsPageDirty(t *testing.T) {
	wal := new(MockWAL)
	walErr := errors.New("log is gone")
	wal.On("LogWrite", mock.Anything, mock.Anything, mock.Anything).Return(walErr)

	pool, dm := newTestPool(t, 4, wal)
	ctx := context.Background()

	for i := range 2 {
		p, err := pool.GetPage(ctx, 1, heap(common.PageNo(i)), txns.PAGE_LOCK_EXCLUSIVE)
		require.NoError(t, err)
		write(p, 4)
		require.NoError(t, pool.AdmitDirtyPages(1, []page.Page{p}))
	}

	err := pool.FlushAllPages()
	require.ErrorIs(t, err, walErr)

	require.ErrorIs(t, pool.FlushPages(1), walErr)
	assert.Len(t, pool.DirtyPages(1), 2)

	stored, err := dm.ReadPage(heap(0))
	require.NoError(t, err)
	assert.Equal(t, filled(0), stored.Data())

	wal.AssertNotCalled(t, "Force")
}

func TestCommitFlushesOnlyOwnPages(t *testing.T) {
	pool, dm := newTestPool(t, 4, acceptingWAL())
	ctx := context.Background()

	mine, err := pool.GetPage(ctx, 1, heap(0), txns.PAGE_LOCK_EXCLUSIVE)
	require.NoError(t, err)
	write(mine, 1)
	require.NoError(t, pool.AdmitDirtyPages(1, []page.Page{mine}))

	theirs, err := pool.GetPage(ctx, 2, heap(1), txns.PAGE_LOCK_EXCLUSIVE)
	require.NoError(t, err)
	write(theirs, 2)
	require.NoError(t, pool.AdmitDirtyPages(2, []page.Page{theirs}))

	require.NoError(t, pool.TransactionComplete(1, true))

	stored, err := dm.ReadPage(heap(0))
	require.NoError(t, err)
	assert.Equal(t, filled(1), stored.Data())

	stored, err = dm.ReadPage(heap(1))
	require.NoError(t, err)
	assert.Equal(t, filled(0), stored.Data())

	assert.Empty(t, pool.DirtyPages(1))
	assert.Equal(t, []common.PageIdentity{heap(1)}, pool.DirtyPages(2))
	assert.False(t, pool.HoldsLock(1, heap(0)))
	assert.True(t, pool.HoldsLock(2, heap(1)))
}

func TestAbortRestoresPages(t *testing.T) {
	pool, dm := newTestPool(t, 4, acceptingWAL())
	ctx := context.Background()

	require.NoError(t, dm.WritePage(page.NewRawPage(heap(0), filled(1))))

	p, err := pool.GetPage(ctx, 1, heap(0), txns.PAGE_LOCK_EXCLUSIVE)
	require.NoError(t, err)
	write(p, 2)
	require.NoError(t, pool.AdmitDirtyPages(1, []page.Page{p}))

	require.NoError(t, pool.TransactionComplete(1, false))

	assert.Equal(t, filled(1), p.Data())
	assert.True(t, p.IsDirty().IsNone())
	assert.False(t, pool.HoldsLock(1, heap(0)))

	stored, err := dm.ReadPage(heap(0))
	require.NoError(t, err)
	assert.Equal(t, filled(1), stored.Data())
}

func TestReplaceIfCached(t *testing.T) {
	pool, _ := newTestPool(t, 4, acceptingWAL())
	ctx := context.Background()

	p, err := pool.GetPage(ctx, 1, heap(0), txns.PAGE_LOCK_EXCLUSIVE)
	require.NoError(t, err)
	write(p, 3)
	require.NoError(t, pool.AdmitDirtyPages(1, []page.Page{p}))

	pool.ReplaceIfCached(page.NewRawPage(heap(0), filled(8)))
	assert.Equal(t, filled(8), p.Data())
	assert.True(t, p.IsDirty().IsNone())

	// not cached: nothing happens
	pool.ReplaceIfCached(page.NewRawPage(heap(1), filled(8)))
	assert.False(t, pool.Contains(heap(1)))

	pool.DiscardPage(heap(0))
	assert.False(t, pool.Contains(heap(0)))
	assert.Equal(t, 0, pool.Len())
}

func TestUnsafeReleasePage(t *testing.T) {
	pool, _ := newTestPool(t, 4, acceptingWAL())
	ctx := context.Background()

	_, err := pool.GetPage(ctx, 1, heap(0), txns.PAGE_LOCK_EXCLUSIVE)
	require.NoError(t, err)

	assert.True(t, pool.UnsafeReleasePage(1, heap(0)))
	assert.False(t, pool.UnsafeReleasePage(1, heap(0)))

	_, err = pool.GetPage(ctx, 2, heap(0), txns.PAGE_LOCK_EXCLUSIVE)
	require.NoError(t, err)
}
