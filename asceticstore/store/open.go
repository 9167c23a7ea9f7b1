package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine/memory"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine/sqlstore"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/logging"
)

type openOptions struct {
	logger *zap.Logger
}

type OpenOption func(*openOptions)

func WithLogger(logger *zap.Logger) OpenOption {
	return func(o *openOptions) {
		o.logger = logger
	}
}

// Open validates d and opens its engine. On-disk directories are created
// as needed.
func Open(ctx context.Context, d Description, opts ...OpenOption) (engine.Engine, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.For(o.logger, logging.ComponentEngine)

	switch d.Kind {
	case KindInMemory:
		return memory.New(memory.WithLogger(logger)), nil
	case KindServer:
		e, err := sqlstore.OpenPostgreSQL(ctx, d.DSN, sqlstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return e, nil
	}

	path, err := d.ResolvePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "store: create directory for %q", path)
	}
	sqlOpts := []sqlstore.Option{sqlstore.WithLogger(logger)}
	if d.Kind == KindReplicated {
		sqlOpts = append(sqlOpts, sqlstore.WithHistory())
	}
	logger.Info("opening store", zap.String("kind", string(d.Kind)), zap.String("path", path))
	e, err := sqlstore.OpenSQLite(path, sqlOpts...)
	if err != nil {
		return nil, err
	}
	return e, nil
}
