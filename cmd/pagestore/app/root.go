package app

import (
	"context"

	"github.com/Blackdeer1524/PageStore/src/cli"
)

var rootCmd = cli.Init("pagestore", "Transactional page store maintenance tool")

func MustExecute(ctx context.Context) {
	initRecover()
	initCheckpoint()
	initDumpLog()
	initBench()
	initTables()
	rootCmd.MustExecute(ctx)
}
