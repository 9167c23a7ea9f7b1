package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/pkg/errors"
	"modernc.org/sqlite"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/session/pgx"
	sqlsession "github.com/krew-solutions/ascetic-store-go/asceticstore/session/sql"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
	infra "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/infrastructure"
)

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(infra.FoldFunction, 2, fold)
}

// fold(text, flags) folds text the way string comparisons with the given
// option letters do. Non text values pass through.
func fold(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	text, ok := args[0].(string)
	if !ok {
		return args[0], nil
	}
	flags, _ := args[1].(string)
	var options operators.Options
	for _, f := range flags {
		switch f {
		case 'c':
			options |= operators.CaseInsensitive
		case 'd':
			options |= operators.DiacriticInsensitive
		}
	}
	return operators.Fold(text, options), nil
}

// OpenSQLite opens the SQLite database at path, ":memory:" for a private
// in-memory one.
func OpenSQLite(path string, opts ...Option) (*Engine, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %q", path)
	}

	// SQLite only supports one writer at a time; a single connection also
	// keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db, path != ":memory:"); err != nil {
		db.Close()
		return nil, err
	}
	return New(sqlsession.NewSessionPool(db), SQLite, opts...), nil
}

func applyPragmas(db *sql.DB, onDisk bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
	}
	if onDisk {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "failed to execute %q", pragma)
		}
	}
	return nil
}

// OpenPostgreSQL connects to the server at dsn.
func OpenPostgreSQL(ctx context.Context, dsn string, opts ...Option) (*Engine, error) {
	pool, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return New(pool, PostgreSQL, opts...), nil
}
