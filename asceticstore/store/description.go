// Package store describes where a store lives and opens the engine for it.
package store

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

var ErrInvalidDescription = errors.New("store: invalid description")

// Kind selects the engine a Description opens.
type Kind string

const (
	KindInMemory   Kind = "in-memory"
	KindOnDisk     Kind = "on-disk"
	KindReplicated Kind = "replicated"
	KindServer     Kind = "server"
)

// DataDirEnv overrides the directory relative store paths resolve against.
const DataDirEnv = "ASCETICSTORE_DATA_DIR"

const fileExtension = ".sqlite"

// Description is configuration only. Nothing is opened until Open.
type Description struct {
	Kind Kind `yaml:"kind"`
	// Path is a file name or path; ".sqlite" is appended when missing.
	Path string `yaml:"path,omitempty"`
	// RemoteID names the remote the replicated store syncs with.
	RemoteID string `yaml:"remote_id,omitempty"`
	// Group shares the store directory between applications of one group.
	Group string `yaml:"group,omitempty"`
	DSN   string `yaml:"dsn,omitempty"`
}

func InMemory() Description {
	return Description{Kind: KindInMemory}
}

func OnDisk(path string) Description {
	return Description{Kind: KindOnDisk, Path: path}
}

// Replicated is an on-disk store whose changes are also recorded in a change
// history, so a replicator can ship them to remoteID.
func Replicated(path, remoteID, group string) Description {
	return Description{Kind: KindReplicated, Path: path, RemoteID: remoteID, Group: group}
}

// Server is a PostgreSQL store at dsn.
func Server(dsn string) Description {
	return Description{Kind: KindServer, DSN: dsn}
}

func (d Description) Validate() error {
	switch d.Kind {
	case KindInMemory:
		return nil
	case KindOnDisk:
		if d.Path == "" {
			return errors.Wrap(ErrInvalidDescription, "on-disk store needs a path")
		}
	case KindReplicated:
		if d.Path == "" {
			return errors.Wrap(ErrInvalidDescription, "replicated store needs a path")
		}
		if d.RemoteID == "" {
			return errors.Wrap(ErrInvalidDescription, "replicated store needs a remote id")
		}
	case KindServer:
		if d.DSN == "" {
			return errors.Wrap(ErrInvalidDescription, "server store needs a dsn")
		}
	default:
		return errors.Wrapf(ErrInvalidDescription, "unknown kind %q", d.Kind)
	}
	return nil
}

// ResolvePath returns the database file of an on-disk or replicated store.
// Relative paths go under $ASCETICSTORE_DATA_DIR, else the user config
// directory, in a subdirectory per Group when one is set.
func (d Description) ResolvePath() (string, error) {
	if d.Kind != KindOnDisk && d.Kind != KindReplicated {
		return "", errors.Wrapf(ErrInvalidDescription, "%s store has no path", d.Kind)
	}
	if d.Path == "" {
		return "", errors.Wrap(ErrInvalidDescription, "empty path")
	}
	path := d.Path
	if filepath.Ext(path) != fileExtension {
		path += fileExtension
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	dir, err := dataDir(d.Group)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, path), nil
}

func dataDir(group string) (string, error) {
	base := os.Getenv(DataDirEnv)
	if base == "" {
		config, err := os.UserConfigDir()
		if err != nil {
			return "", errors.Wrap(err, "store: cannot determine the data directory")
		}
		base = filepath.Join(config, "asceticstore")
	}
	if group != "" {
		base = filepath.Join(base, group)
	}
	return base, nil
}
