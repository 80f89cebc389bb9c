package app

import (
	"context"
	"encoding/binary"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/panjf2000/ants"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/Blackdeer1524/PageStore/src"
	"github.com/Blackdeer1524/PageStore/src/app"
	"github.com/Blackdeer1524/PageStore/src/bufferpool"
	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/storage/engine"
	"github.com/Blackdeer1524/PageStore/src/storage/systemcatalog"
)

type benchOptions struct {
	workers int
	txns    int
	pages   int
	table   string
}

type benchStats struct {
	committed atomic.Int64
	aborted   atomic.Int64
	failed    atomic.Int64
}

func initBench() {
	var opts benchOptions

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Runs counter-increment transactions from a pool of workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.workers <= 0 || opts.txns <= 0 || opts.pages <= 0 {
				return errors.New("workers, txns and pages must be positive")
			}

			return app.Run(cmd.Context(), &app.StoreEntrypoint{
				ConfigPath: rootCmd.Options.ConfigPath,
				Action: func(ctx context.Context, db *engine.Database, log src.Logger) error {
					return runBench(ctx, db, log, opts)
				},
			})
		},
	}

	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 8, "Number of concurrent workers")
	cmd.Flags().IntVarP(&opts.txns, "txns", "n", 1000, "Number of transactions to run")
	cmd.Flags().IntVarP(&opts.pages, "pages", "p", 16, "Number of pages the transactions touch")
	cmd.Flags().StringVar(&opts.table, "table", "bench", "Catalog table the pages belong to")

	rootCmd.AddCommand(cmd)
}

// increment adds one to the counter stored at the start of two random pages
// inside one transaction.
func increment(
	ctx context.Context,
	db *engine.Database,
	r *rand.Rand,
	tableID common.TableID,
	pages int,
) error {
	txnID, err := db.Begin()
	if err != nil {
		return err
	}

	for range 2 {
		pageIdent := common.NewHeapPageIdentity(tableID, common.PageNo(r.Intn(pages)))

		p, err := db.GetPage(ctx, txnID, pageIdent, engine.ReadWrite)
		if err != nil {
			return multierr.Append(err, db.Complete(txnID, false))
		}

		p.Lock()
		binary.BigEndian.PutUint64(p.Data(), binary.BigEndian.Uint64(p.Data())+1)
		p.Unlock()

		if err := db.AdmitDirtyPages(txnID, p); err != nil {
			return multierr.Append(err, db.Complete(txnID, false))
		}
	}

	return db.Complete(txnID, true)
}

// ensureTable returns the catalog entry of name, creating it in its own
// transaction when it is missing.
func ensureTable(ctx context.Context, db *engine.Database, name string) (systemcatalog.TableMeta, error) {
	catalog, err := systemcatalog.New(db)
	if err != nil {
		return systemcatalog.TableMeta{}, err
	}

	if meta, err := catalog.GetTable(name); err == nil {
		return meta, nil
	}

	txnID, err := db.Begin()
	if err != nil {
		return systemcatalog.TableMeta{}, err
	}

	meta, err := catalog.AddTable(name, "")
	if err == nil {
		err = catalog.CommitChanges(ctx, txnID)
	}

	if err != nil {
		return systemcatalog.TableMeta{}, multierr.Append(err, db.Complete(txnID, false))
	}

	return meta, db.Complete(txnID, true)
}

func runBench(ctx context.Context, db *engine.Database, log src.Logger, opts benchOptions) error {
	if db.Disk().PageSize() < 8 {
		return errors.Errorf("page size %d cannot hold a counter", db.Disk().PageSize())
	}

	table, err := ensureTable(ctx, db, opts.table)
	if err != nil {
		return err
	}

	runID := uuid.New()

	pool, err := ants.NewPool(opts.workers)
	if err != nil {
		return errors.Wrap(err, "failed to create worker pool")
	}
	defer pool.Release()

	var (
		stats benchStats
		wg    sync.WaitGroup
		seed  atomic.Int64
	)
	seed.Store(time.Now().UnixNano())

	log.Infow(
		"bench started",
		"run", runID,
		"table", table.Name,
		"workers", opts.workers,
		"txns", opts.txns,
	)
	start := time.Now()

	var submitErr error
	for range opts.txns {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)

		err := pool.Submit(func() {
			defer wg.Done()

			r := rand.New(rand.NewSource(seed.Add(1)))
			switch err := increment(ctx, db, r, table.ID, opts.pages); {
			case err == nil:
				stats.committed.Add(1)
			case errors.Is(err, bufferpool.ErrTxnAborted):
				stats.aborted.Add(1)
			default:
				stats.failed.Add(1)
				log.Errorw("transaction failed", "run", runID, "error", err)
			}
		})
		if err != nil {
			wg.Done()
			submitErr = errors.Wrap(err, "failed to submit transaction")

			break
		}
	}

	wg.Wait()

	elapsed := time.Since(start)
	log.Infow(
		"bench finished",
		"run", runID,
		"elapsed", elapsed,
		"committed", stats.committed.Load(),
		"aborted", stats.aborted.Load(),
		"failed", stats.failed.Load(),
		"txnPerSec", float64(stats.committed.Load())/elapsed.Seconds(),
	)

	if submitErr != nil {
		return submitErr
	}

	if stats.failed.Load() > 0 {
		return errors.Errorf("%d transactions failed", stats.failed.Load())
	}

	return nil
}
