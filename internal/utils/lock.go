package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	homedir "github.com/mitchellh/go-homedir"
)

const lockRetryDelay = 500 * time.Millisecond

// DBLock serializes run saves across locharvest processes sharing one
// database file. The lock lives next to the database as <db>.lock.
type DBLock struct {
	flock *flock.Flock
	path  string
}

func NewDBLock(dbPath string) (*DBLock, error) {
	abs, err := GetAbsDBPath(dbPath)
	if err != nil {
		return nil, fmt.Errorf("could not resolve db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}
	p := abs + ".lock"
	return &DBLock{flock: flock.New(p), path: p}, nil
}

// Lock blocks until the lock is held or ctx is done.
func (l *DBLock) Lock(ctx context.Context) error {
	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.path, err)
	}
	if ok {
		return nil
	}

	Log.Warnf("Another locharvest process is saving a run to the database, waiting for it to finish...")
	ok, err = l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("lock %s: not acquired", l.path)
	}
	return nil
}

func (l *DBLock) Unlock() error {
	if err := l.flock.Unlock(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return nil
}

// GetAbsDBPath resolves the database path, defaulting to
// ~/.config/locharvest/locharvest.sqlite.
func GetAbsDBPath(dbPath string) (string, error) {
	if dbPath != "" {
		return filepath.Abs(dbPath)
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "locharvest", "locharvest.sqlite"), nil
}
