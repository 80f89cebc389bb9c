package engine

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/Blackdeer1524/PageStore/src"
	"github.com/Blackdeer1524/PageStore/src/bufferpool"
	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/recovery"
	"github.com/Blackdeer1524/PageStore/src/storage/disk"
	"github.com/Blackdeer1524/PageStore/src/storage/page"
	"github.com/Blackdeer1524/PageStore/src/txns"
)

var ErrUnknownTxn = errors.New("unknown transaction")

// Permission is what a transaction intends to do with a page.
type Permission int

const (
	ReadOnly Permission = iota
	ReadWrite
)

func (p Permission) lockMode() txns.PageLockMode {
	if p == ReadWrite {
		return txns.PAGE_LOCK_EXCLUSIVE
	}

	return txns.PAGE_LOCK_SHARED
}

func (p Permission) String() string {
	if p == ReadWrite {
		return "READ_WRITE"
	}

	return "READ_ONLY"
}

type Config struct {
	DataDir  string
	LogFile  string
	PageSize int
	Pool     bufferpool.Config
}

func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:  dataDir,
		LogFile:  "pagestore.log",
		PageSize: page.DefaultPageSize,
		Pool:     bufferpool.DefaultConfig(),
	}
}

// Database owns every component of the store. There is no global state:
// several databases can live in one process as long as they use different
// directories.
type Database struct {
	registry *page.Registry
	disk     *disk.Manager
	locker   *txns.Locker
	pool     *bufferpool.Manager
	log      *recovery.LogFile
	logger   src.Logger
	fs       afero.Fs
	dataDir  string

	txnIDs *common.TxnIDGenerator

	mu   sync.Mutex
	txns map[common.TxnID]struct{}
}

func Open(cfg Config, fs afero.Fs, logger src.Logger) (*Database, error) {
	if cfg.PageSize <= 0 {
		return nil, errors.Errorf("invalid page size %d", cfg.PageSize)
	}

	if err := fs.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create data dir %s", cfg.DataDir)
	}

	registry := page.DefaultRegistry(cfg.PageSize)
	diskManager := disk.New(cfg.DataDir, registry, fs)
	locker := txns.NewLocker()

	logPath := cfg.LogFile
	if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(cfg.DataDir, logPath)
	}

	log, err := recovery.Open(fs, logPath, registry, diskManager, logger)
	if err != nil {
		return nil, err
	}

	pool := bufferpool.New(cfg.Pool, locker, diskManager, log, logger)
	log.AttachCache(pool)

	return &Database{
		registry: registry,
		disk:     diskManager,
		locker:   locker,
		pool:     pool,
		log:      log,
		logger:   logger,
		fs:       fs,
		dataDir:  cfg.DataDir,
		txnIDs:   common.NewTxnIDGenerator(),
		txns:     map[common.TxnID]struct{}{},
	}, nil
}

// Recover replays the log. Transaction ids handed out afterwards are larger
// than every id the log mentions.
func (d *Database) Recover(ctx context.Context) (recovery.RecoveryReport, error) {
	report, err := d.log.Recover(ctx)
	if err != nil {
		return report, err
	}

	d.txnIDs.AdvancePast(report.MaxTxnID)

	return report, nil
}

// RegisterTable binds a table to its backing file. Relative paths are
// resolved against the data directory.
func (d *Database) RegisterTable(tableID common.TableID, path string) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.dataDir, path)
	}

	d.disk.RegisterFile(tableID, path)
}

func (d *Database) Begin() (common.TxnID, error) {
	txnID := d.txnIDs.Next()
	if err := d.log.LogBegin(txnID); err != nil {
		return common.NilTxnID, err
	}

	d.mu.Lock()
	d.txns[txnID] = struct{}{}
	d.mu.Unlock()

	d.logger.Debugw("transaction started", "txnID", txnID)

	return txnID, nil
}

func (d *Database) known(txnID common.TxnID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.txns[txnID]
	return ok
}

// GetPage locks the page for txnID and returns the cached copy. Writers
// mutate it under the page latch and then report it with AdmitDirtyPages.
//
// bufferpool.ErrTxnAborted means the lock wait timed out and the transaction
// must be completed with an abort.
func (d *Database) GetPage(
	ctx context.Context,
	txnID common.TxnID,
	pageIdent common.PageIdentity,
	perm Permission,
) (page.Page, error) {
	if !d.known(txnID) {
		return nil, errors.Wrapf(ErrUnknownTxn, "txn %d", txnID)
	}

	return d.pool.GetPage(ctx, txnID, pageIdent, perm.lockMode())
}

func (d *Database) AdmitDirtyPages(txnID common.TxnID, pages ...page.Page) error {
	if !d.known(txnID) {
		return errors.Wrapf(ErrUnknownTxn, "txn %d", txnID)
	}

	return d.pool.AdmitDirtyPages(txnID, pages)
}

// Complete ends a transaction.
//
// On commit the dirty pages are flushed (each one logged and forced first),
// then the commit record is forced. The transaction is committed only when
// Complete returns nil.
//
// On abort the cached pages are restored from their files before the log
// rolls the transaction back, so that a concurrent checkpoint cannot write an
// aborted image.
//
// Locks are released last, and only when the outcome is durable. On error the
// transaction stays registered and may be completed again.
func (d *Database) Complete(txnID common.TxnID, commit bool) error {
	if !d.known(txnID) {
		return errors.Wrapf(ErrUnknownTxn, "txn %d", txnID)
	}

	if commit {
		if err := d.pool.FlushPages(txnID); err != nil {
			return errors.Wrapf(err, "commit of txn %d failed", txnID)
		}

		if err := d.log.LogCommit(txnID); err != nil {
			return errors.Wrapf(err, "commit of txn %d failed", txnID)
		}
	} else {
		if err := d.pool.RestorePages(txnID); err != nil {
			return errors.Wrapf(err, "abort of txn %d failed", txnID)
		}

		if err := d.log.LogAbort(txnID); err != nil {
			return errors.Wrapf(err, "abort of txn %d failed", txnID)
		}
	}

	d.pool.ReleaseLocks(txnID)

	d.mu.Lock()
	delete(d.txns, txnID)
	d.mu.Unlock()

	d.logger.Debugw("transaction completed", "txnID", txnID, "commit", commit)

	return nil
}

// Checkpoint flushes every cached page and truncates the log.
func (d *Database) Checkpoint(ctx context.Context) error {
	return d.log.LogCheckpoint(ctx)
}

// Close takes a shutdown checkpoint and closes the log.
func (d *Database) Close(ctx context.Context) error {
	return d.log.Shutdown(ctx)
}

// CloseNoCheckpoint closes the log without touching it. Read-only tools use
// it so that inspecting a log never rewrites it.
func (d *Database) CloseNoCheckpoint() error {
	return d.log.Close()
}

// ActiveTxns lists the transactions begun through this database and not yet
// completed.
func (d *Database) ActiveTxns() []common.TxnID {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := make([]common.TxnID, 0, len(d.txns))
	for txnID := range d.txns {
		res = append(res, txnID)
	}

	return res
}

// AbortAll aborts every active transaction and reports every failure.
func (d *Database) AbortAll() error {
	var err error
	for _, txnID := range d.ActiveTxns() {
		err = multierr.Append(err, d.Complete(txnID, false))
	}

	return err
}

func (d *Database) Pool() *bufferpool.Manager { return d.pool }
func (d *Database) Log() *recovery.LogFile    { return d.log }
func (d *Database) Locker() *txns.Locker      { return d.locker }
func (d *Database) Disk() *disk.Manager       { return d.disk }
func (d *Database) Fs() afero.Fs              { return d.fs }
func (d *Database) DataDir() string           { return d.dataDir }
