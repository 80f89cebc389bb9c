package app

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/PageStore/src"
	"github.com/Blackdeer1524/PageStore/src/bufferpool"
	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/storage/engine"
	"github.com/Blackdeer1524/PageStore/src/storage/systemcatalog"
)

func TestRunBench(t *testing.T) {
	cfg := engine.Config{
		DataDir:  "/bench",
		LogFile:  "bench.log",
		PageSize: 64,
		Pool: bufferpool.Config{
			Capacity:          16,
			LockTimeoutBase:   20 * time.Millisecond,
			LockTimeoutJitter: 20 * time.Millisecond,
			LockPollInterval:  time.Millisecond,
		},
	}

	db, err := engine.Open(cfg, afero.NewMemMapFs(), src.NopLogger())
	require.NoError(t, err)
	_, err = db.Recover(context.Background())
	require.NoError(t, err)

	opts := benchOptions{workers: 4, txns: 100, pages: 4, table: "counters"}
	require.NoError(t, runBench(context.Background(), db, src.NopLogger(), opts))
	assert.Empty(t, db.ActiveTxns())

	catalog, err := systemcatalog.New(db)
	require.NoError(t, err)
	table, err := catalog.GetTable("counters")
	require.NoError(t, err)

	// every committed transaction added two
	var total uint64
	for i := range opts.pages {
		p, err := db.Disk().ReadPage(common.NewHeapPageIdentity(table.ID, common.PageNo(i)))
		require.NoError(t, err)
		total += binary.BigEndian.Uint64(p.Data())
	}

	assert.Zero(t, total%2)
	assert.LessOrEqual(t, total, uint64(2*opts.txns))

	// a second run reuses the table
	require.NoError(t, runBench(context.Background(), db, src.NopLogger(), opts))
	assert.Len(t, catalog.Tables(), 1)
}
