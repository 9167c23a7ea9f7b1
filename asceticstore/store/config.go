package store

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/logging"
)

// Environment overrides applied by LoadConfig after the file is read.
const (
	KindEnv = "ASCETICSTORE_STORE_KIND"
	PathEnv = "ASCETICSTORE_STORE_PATH"
	DSNEnv  = "ASCETICSTORE_STORE_DSN"
)

// Config is the file format read by LoadConfig:
//
//	store:
//	  kind: on-disk
//	  path: tasks
//	logging:
//	  level: DEBUG
type Config struct {
	Store   Description    `yaml:"store"`
	Logging logging.Config `yaml:"logging"`
}

func DefaultConfig() Config {
	return Config{
		Store:   InMemory(),
		Logging: logging.Config{Level: logging.InfoLevel, Format: logging.FormatConsole},
	}
}

// LoadConfig reads the YAML file at path over DefaultConfig. An empty path
// reads nothing. Environment overrides apply either way and the result is
// validated.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "store: read config %q", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "store: parse config %q", path)
		}
	}
	cfg = cfg.withEnv()
	if err := cfg.Store.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withEnv() Config {
	if kind := os.Getenv(KindEnv); kind != "" {
		c.Store.Kind = Kind(kind)
	}
	if path := os.Getenv(PathEnv); path != "" {
		c.Store.Path = path
	}
	if dsn := os.Getenv(DSNEnv); dsn != "" {
		c.Store.DSN = dsn
	}
	c.Logging = c.Logging.WithEnv()
	return c
}
