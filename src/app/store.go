package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/PageStore/src"
	"github.com/Blackdeer1524/PageStore/src/cfg"
	"github.com/Blackdeer1524/PageStore/src/pkg/utils"
	"github.com/Blackdeer1524/PageStore/src/recovery"
	"github.com/Blackdeer1524/PageStore/src/storage/engine"
)

const CloseTimeout = 15 * time.Second

type Action func(ctx context.Context, db *engine.Database, log src.Logger) error

// StoreEntrypoint opens the store described by the configuration, runs
// Action against it and closes it with a shutdown checkpoint.
type StoreEntrypoint struct {
	ConfigPath string
	Action     Action
	// ReadOnly skips recovery and closes the log untouched.
	ReadOnly bool
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Log defaults to a zap logger matching the configured environment.
	Log src.Logger

	Report recovery.RecoveryReport

	db  *engine.Database
	cfg cfg.Config
}

func NewLogger(env cfg.Environment) src.Logger {
	if env == cfg.EnvDev {
		return utils.Must(zap.NewDevelopment()).Sugar()
	}

	return utils.Must(zap.NewProduction()).Sugar()
}

func (e *StoreEntrypoint) Init(ctx context.Context) error {
	config, err := cfg.Load(e.ConfigPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	e.cfg = config

	if e.Log == nil {
		e.Log = NewLogger(config.Environment)
	}

	if e.Fs == nil {
		e.Fs = afero.NewOsFs()
	}

	db, err := engine.Open(config.Engine(), e.Fs, e.Log)
	if err != nil {
		return errors.Wrap(err, "open store")
	}

	if !e.ReadOnly {
		e.Report, err = db.Recover(ctx)
		if err != nil {
			return multierr.Append(
				errors.Wrap(err, "recover store"),
				db.CloseNoCheckpoint(),
			)
		}
	}

	e.db = db

	return nil
}

func (e *StoreEntrypoint) Run(ctx context.Context) error {
	if e.Action == nil {
		return nil
	}

	return e.Action(ctx, e.db, e.Log)
}

func (e *StoreEntrypoint) Close() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), CloseTimeout)
	defer cancel()

	if e.db != nil {
		if e.ReadOnly {
			err = e.db.CloseNoCheckpoint()
		} else {
			err = e.db.Close(ctx)
		}
	}

	if e.Log != nil {
		if err != nil {
			e.Log.Errorw("failed to close store", "error", err)
		}

		// syncing a console logger fails on some terminals
		_ = e.Log.Sync()
	}

	return
}
