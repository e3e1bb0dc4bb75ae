package storage

import (
	"fmt"

	"github.com/gofrs/flock"
)

// lockFile acquires an exclusive advisory lock on the given path, creating
// the lock file if needed. The returned function releases the lock.
func lockFile(path string) (unlock func() error, err error) {
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring file lock %s: %w", path, err)
	}
	return fl.Unlock, nil
}
