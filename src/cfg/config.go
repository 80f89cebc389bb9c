package cfg

import (
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Blackdeer1524/PageStore/src/bufferpool"
	"github.com/Blackdeer1524/PageStore/src/storage/engine"
)

const EnvPrefix = "PAGESTORE"

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"

	DefaultEnv = EnvDev
)

type Environment string

func (e Environment) Validate() error {
	if e != EnvDev && e != EnvProd {
		return errors.New("environment must be either dev or prod")
	}

	return nil
}

type Config struct {
	Environment Environment `default:"dev"`

	DataDir  string `default:"data" split_words:"true"`
	LogFile  string `default:"pagestore.log" split_words:"true"`
	PageSize int    `default:"4096" split_words:"true"`

	CachePages        int           `default:"50" split_words:"true"`
	LockTimeoutBase   time.Duration `default:"1s" split_words:"true"`
	LockTimeoutJitter time.Duration `default:"2s" split_words:"true"`
	LockPollInterval  time.Duration `default:"2ms" split_words:"true"`
}

// Load reads PAGESTORE_* variables. Values from the .env file at path (or
// ./.env when path is empty) are used for variables that are not set.
func Load(path string) (Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return Config{}, errors.Wrapf(err, "failed to load %s", path)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, errors.Wrap(err, "failed to load .env")
	}

	var c Config
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return Config{}, errors.Wrap(err, "failed to process env")
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

func (c Config) Validate() error {
	if err := c.Environment.Validate(); err != nil {
		return errors.Wrap(err, "environment validation")
	}

	switch {
	case c.DataDir == "":
		return errors.New("data dir must be set")
	case c.LogFile == "":
		return errors.New("log file must be set")
	case c.PageSize <= 0:
		return errors.Errorf("page size must be positive, got %d", c.PageSize)
	case c.CachePages <= 0:
		return errors.Errorf("cache must hold at least one page, got %d", c.CachePages)
	case c.LockTimeoutBase <= 0:
		return errors.Errorf("lock timeout must be positive, got %v", c.LockTimeoutBase)
	case c.LockTimeoutJitter < 0:
		return errors.Errorf("lock timeout jitter must not be negative, got %v", c.LockTimeoutJitter)
	case c.LockPollInterval <= 0:
		return errors.Errorf("lock poll interval must be positive, got %v", c.LockPollInterval)
	}

	return nil
}

func (c Config) Engine() engine.Config {
	return engine.Config{
		DataDir:  c.DataDir,
		LogFile:  c.LogFile,
		PageSize: c.PageSize,
		Pool: bufferpool.Config{
			Capacity:          c.CachePages,
			LockTimeoutBase:   c.LockTimeoutBase,
			LockTimeoutJitter: c.LockTimeoutJitter,
			LockPollInterval:  c.LockPollInterval,
		},
	}
}
