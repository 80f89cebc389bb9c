package recovery

import (
	"context"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Blackdeer1524/PageStore/src"
	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/storage/page"
)

const tracerName = "github.com/Blackdeer1524/PageStore/src/recovery"

var (
	ErrDuplicateBegin = errors.New("transaction has already begun")
	ErrTxnNotActive   = errors.New("transaction is not active")
	ErrLogClosed      = errors.New("log is closed")
)

// PageWriter stores page images in their backing files.
type PageWriter interface {
	WritePage(p page.Page) error
}

// PageCache is what the log needs from the page cache. The log never calls
// it while holding its own mutex: the cache calls into the log while holding
// the cache mutex.
type PageCache interface {
	FlushAllPages() error
	ReplaceIfCached(p page.Page)
	DiscardPage(pageIdent common.PageIdentity)
}

// LogFile is the write-ahead log.
//
// The file starts with an 8-byte header holding the offset of the last
// checkpoint record (or -1), followed by records appended back to back. Every
// record ends with its own start offset.
//
// A freshly opened log is "undecided": unless Recover runs first, the first
// append throws the old contents away and starts an empty log.
type LogFile struct {
	fs       afero.Fs
	path     string
	registry *page.Registry
	disk     PageWriter
	logger   src.Logger
	tracer   trace.Tracer

	mu                sync.Mutex
	file              afero.File
	cache             PageCache
	end               int64 // write cursor
	recoveryUndecided bool
	active            map[common.TxnID]int64 // offset of the first record
	totalRecords      int
	closed            bool
}

func Open(
	fs afero.Fs,
	path string,
	registry *page.Registry,
	disk PageWriter,
	logger src.Logger,
) (*LogFile, error) {
	file, err := fs.OpenFile(filepath.Clean(path), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open log %s", path)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "failed to stat log %s", path)
	}

	l := &LogFile{
		fs:                fs,
		path:              filepath.Clean(path),
		registry:          registry,
		disk:              disk,
		logger:            logger,
		tracer:            otel.Tracer(tracerName),
		file:              file,
		end:               info.Size(),
		recoveryUndecided: true,
		active:            map[common.TxnID]int64{},
	}

	if info.Size() < headerSize {
		if err := l.resetLocked(); err != nil {
			_ = file.Close()
			return nil, err
		}
	}

	return l, nil
}

// AttachCache wires the page cache used by rollback, checkpoints and
// recovery.
func (l *LogFile) AttachCache(cache PageCache) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = cache
}

func (l *LogFile) Path() string {
	return l.path
}

func (l *LogFile) resetLocked() error {
	if err := l.file.Truncate(0); err != nil {
		return errors.Wrap(err, "failed to truncate log")
	}

	if err := writeHeader(l.file, noCheckpoint); err != nil {
		return err
	}

	l.end = headerSize
	l.active = map[common.TxnID]int64{}

	return nil
}

func (l *LogFile) appendLocked(rec LogRecord) (int64, error) {
	if l.closed {
		return 0, ErrLogClosed
	}

	if l.recoveryUndecided {
		l.recoveryUndecided = false
		l.logger.Warnw("log appended to without recovery, starting a new log", "path", l.path)

		if err := l.resetLocked(); err != nil {
			return 0, err
		}
	}

	offset := l.end
	data, err := marshalRecord(rec, offset)
	if err != nil {
		return 0, err
	}

	if _, err := l.file.WriteAt(data, offset); err != nil {
		return 0, errors.Wrapf(err, "failed to append %v record", rec.Tag())
	}

	l.end += int64(len(data))
	l.totalRecords++

	return offset, nil
}

func (l *LogFile) forceLocked() error {
	if l.closed {
		return ErrLogClosed
	}

	if err := l.file.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync log")
	}

	return nil
}

func (l *LogFile) LogBegin(txnID common.TxnID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.active[txnID]; ok {
		return errors.Wrapf(ErrDuplicateBegin, "txn %d", txnID)
	}

	offset, err := l.appendLocked(NewBeginLogRecord(txnID))
	if err != nil {
		return err
	}

	l.active[txnID] = offset
	return nil
}

// LogWrite appends an update record. The log is not forced: the page cache
// forces it before the page itself is written.
func (l *LogFile) LogWrite(txnID common.TxnID, before, after page.Page) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	offset, err := l.appendLocked(NewUpdateLogRecord(txnID, before, after))
	if err != nil {
		return err
	}

	if _, ok := l.active[txnID]; !ok {
		l.active[txnID] = offset
	}

	return nil
}

// LogCommit appends a commit record and returns once it is durable.
func (l *LogFile) LogCommit(txnID common.TxnID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.appendLocked(NewCommitLogRecord(txnID)); err != nil {
		return err
	}

	if err := l.forceLocked(); err != nil {
		return errors.Wrapf(err, "commit of txn %d is not durable", txnID)
	}

	delete(l.active, txnID)
	return nil
}

// LogAbort rolls txnID back and appends a durable abort record.
func (l *LogFile) LogAbort(txnID common.TxnID) error {
	if err := l.Rollback(txnID); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.appendLocked(NewAbortLogRecord(txnID)); err != nil {
		return err
	}

	if err := l.forceLocked(); err != nil {
		return errors.Wrapf(err, "abort of txn %d is not durable", txnID)
	}

	delete(l.active, txnID)
	return nil
}

// Rollback writes the before images logged by txnID back to the backing
// files and into the cache, newest first, so the oldest image wins.
func (l *LogFile) Rollback(txnID common.TxnID) error {
	l.mu.Lock()

	first, ok := l.active[txnID]
	if !ok {
		l.mu.Unlock()
		return errors.Wrapf(ErrTxnNotActive, "txn %d", txnID)
	}

	var befores []page.Page
	err := l.scanLocked(first, func(_ int64, rec LogRecord) error {
		if u, ok := rec.(UpdateLogRecord); ok && u.TxnID() == txnID {
			befores = append(befores, u.Before)
		}

		return nil
	})
	cache := l.cache
	l.mu.Unlock()

	if err != nil {
		return errors.Wrapf(err, "failed to scan log for txn %d", txnID)
	}

	for _, before := range slices.Backward(befores) {
		if err := l.disk.WritePage(before); err != nil {
			return errors.Wrapf(err, "failed to roll back page %v", before.ID())
		}

		if cache != nil {
			cache.ReplaceIfCached(before)
		}
	}

	l.logger.Debugw("rolled back", "txnID", txnID, "pages", len(befores))

	return nil
}

// scanLocked calls fn for every complete record from offset from to the
// write cursor.
func (l *LogFile) scanLocked(from int64, fn func(offset int64, rec LogRecord) error) error {
	iter := newLogRecordsIter(l.file, from, l.end, l.registry)
	for {
		ok, err := iter.MoveForward()
		if err != nil {
			return err
		}

		if !ok {
			break
		}

		if err := fn(iter.Location(), iter.ReadRecord()); err != nil {
			return err
		}
	}

	if iter.Torn() {
		return errors.Wrapf(ErrCorruptLog, "torn record at %d inside the log", iter.Location())
	}

	return nil
}

// Force makes every appended record durable.
func (l *LogFile) Force() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.forceLocked()
}

// LogCheckpoint writes all dirty pages, records the active transactions, points
// the header at the new checkpoint and drops the log prefix nobody needs.
func (l *LogFile) LogCheckpoint(ctx context.Context) error {
	_, span := l.tracer.Start(ctx, "LogFile.LogCheckpoint")
	defer span.End()

	if err := l.Force(); err != nil {
		return err
	}

	l.mu.Lock()
	cache := l.cache
	l.mu.Unlock()

	if cache != nil {
		if err := cache.FlushAllPages(); err != nil {
			return errors.Wrap(err, "failed to flush pages for checkpoint")
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	active := make([]CheckpointEntry, 0, len(l.active))
	for _, txnID := range slices.Sorted(maps.Keys(l.active)) {
		active = append(active, CheckpointEntry{
			TxnID:       txnID,
			FirstOffset: l.active[txnID],
		})
	}

	offset, err := l.appendLocked(NewCheckpointLogRecord(active))
	if err != nil {
		return err
	}

	if err := writeHeader(l.file, offset); err != nil {
		return err
	}

	if err := l.forceLocked(); err != nil {
		return err
	}

	l.logger.Debugw("checkpoint written", "offset", offset, "active", len(active))

	return l.truncateLocked()
}

// LogTruncate drops every byte before the oldest record that a restart could
// still need: the last checkpoint or the first record of a transaction that
// was active then.
func (l *LogFile) LogTruncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.truncateLocked()
}

func (l *LogFile) truncateLocked() error {
	if l.closed {
		return ErrLogClosed
	}

	checkpoint, err := readHeader(l.file)
	if err != nil {
		return err
	}

	if checkpoint == noCheckpoint {
		return nil
	}

	iter := newLogRecordsIter(l.file, checkpoint, l.end, l.registry)
	ok, err := iter.MoveForward()
	if err != nil {
		return err
	}

	cp, isCheckpoint := iter.ReadRecord().(CheckpointLogRecord)
	if !ok || !isCheckpoint {
		return errors.Wrapf(ErrCorruptLog, "no checkpoint record at %d", checkpoint)
	}

	minOffset := checkpoint
	for _, entry := range cp.Active {
		minOffset = min(minOffset, entry.FirstOffset)
	}
	for _, offset := range l.active {
		minOffset = min(minOffset, offset)
	}

	if minOffset <= headerSize {
		return nil
	}

	shift := minOffset - headerSize

	tmpPath := filepath.Join(filepath.Dir(l.path), "logtmp-"+uuid.NewString())
	tmp, err := l.fs.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "failed to create truncated log")
	}

	// The old log stays open and in place until the rename succeeds. Any
	// failure before that leaves a complete, usable log behind.
	newEnd, err := l.copyShifted(tmp, checkpoint, minOffset, shift)
	if err == nil {
		err = l.fs.Rename(tmpPath, l.path)
		if err != nil {
			err = errors.Wrap(err, "failed to move truncated log in place")
		}
	}

	if err != nil {
		_ = tmp.Close()
		_ = l.fs.Remove(tmpPath)

		return err
	}

	if err := l.file.Close(); err != nil {
		l.logger.Warnw("failed to close replaced log", "path", l.path, "error", err)
	}

	l.file = tmp
	l.syncDir()

	l.end = newEnd
	for txnID, offset := range l.active {
		l.active[txnID] = offset - shift
	}

	l.logger.Debugw("log truncated", "dropped", shift, "size", newEnd)

	return nil
}

// syncDir makes the rename of a truncated log durable. A crash before that
// brings the old log back, which is still complete.
func (l *LogFile) syncDir() {
	dir, err := l.fs.Open(filepath.Dir(l.path))
	if err != nil {
		l.logger.Warnw("failed to open log directory", "path", l.path, "error", err)
		return
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		l.logger.Warnw("failed to sync log directory", "path", l.path, "error", err)
	}
}

func (l *LogFile) copyShifted(dst afero.File, checkpoint, from, shift int64) (int64, error) {
	if err := writeHeader(dst, checkpoint-shift); err != nil {
		return 0, err
	}

	end := headerSize
	err := l.scanLocked(from, func(offset int64, rec LogRecord) error {
		if cp, ok := rec.(CheckpointLogRecord); ok {
			active := make([]CheckpointEntry, len(cp.Active))
			for i, entry := range cp.Active {
				// older checkpoints may point before the new start
				active[i] = CheckpointEntry{
					TxnID:       entry.TxnID,
					FirstOffset: max(entry.FirstOffset-shift, headerSize),
				}
			}
			rec = NewCheckpointLogRecord(active)
		}

		data, err := marshalRecord(rec, offset-shift)
		if err != nil {
			return err
		}

		if _, err := dst.WriteAt(data, offset-shift); err != nil {
			return errors.Wrap(err, "failed to write truncated log")
		}

		end = offset - shift + int64(len(data))
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := dst.Sync(); err != nil {
		return 0, errors.Wrap(err, "failed to sync truncated log")
	}

	return end, nil
}

// Shutdown takes a final checkpoint and closes the log.
func (l *LogFile) Shutdown(ctx context.Context) error {
	if err := l.LogCheckpoint(ctx); err != nil {
		return errors.Wrap(err, "shutdown checkpoint failed")
	}

	return l.Close()
}

func (l *LogFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	if err := l.file.Close(); err != nil {
		return errors.Wrap(err, "failed to close log")
	}

	return nil
}

// TotalRecords is the number of records appended since the log was opened.
func (l *LogFile) TotalRecords() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.totalRecords
}

// ActiveTxns maps every transaction the log considers active to the offset of
// its first record.
func (l *LogFile) ActiveTxns() map[common.TxnID]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return maps.Clone(l.active)
}

// Size is the number of bytes the log occupies.
func (l *LogFile) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.end
}
