package app

import (
	"context"
	"io"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"
)

type Entrypoint interface {
	io.Closer
	Init(ctx context.Context) error
	Run(ctx context.Context) error
}

// Run initializes e, runs it until it returns or a termination signal arrives
// and then closes it. Close is not called when Init fails.
func Run(ctx context.Context, e Entrypoint) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := e.Init(ctx); err != nil {
		return errors.Wrap(err, "entrypoint init error")
	}

	eg, ctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(ctx)

	eg.Go(func() error {
		defer stop()
		return e.Run(runCtx)
	})

	// graceful shutdown
	eg.Go(func() error {
		<-runCtx.Done()
		return e.Close()
	})

	return eg.Wait()
}
