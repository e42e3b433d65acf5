package local

import (
	"errors"
	"fmt"
	"os"
)

// LockName is the file inside the base directory that holds the
// single-writer lock.
const LockName = ".lock"

// ErrLocked reports that another process already holds the state directory.
var ErrLocked = errors.New("state directory is locked by another process")

// Lock takes an exclusive advisory lock on the base directory so that only
// one process writes its checkpoints and quota counts at a time. The lock is
// released by the returned func or when the process exits.
func (s *Store) Lock() (func() error, error) {
	path, err := s.Path(LockName)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is confined to the base directory above.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := tryLock(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w (%s): %w", ErrLocked, s.baseDir, err)
	}
	return func() error {
		uerr := unlock(f)
		cerr := f.Close()
		return errors.Join(uerr, cerr)
	}, nil
}
