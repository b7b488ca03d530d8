//go:build !windows

package lockfile

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// platformAcquire atomically creates the lock representation: a symlink
// whose target encodes the owner (spec.md §4.6 "On POSIX: a symlink
// path.lock whose target stores the owner's hostname, pid, and a random
// tag -- created atomically with symlink()"). It returns an os.ErrExist
// error if the symlink already exists.
func platformAcquire(lockPath string, owner Owner) error {
	if err := unix.Symlink(owner.String(), lockPath); err != nil {
		if err == unix.EEXIST {
			return os.ErrExist
		}
		return errors.Wrap(err, "unable to create lock symlink")
	}
	return nil
}

// platformOwner reads the owner encoded in an existing lock symlink.
func platformOwner(lockPath string) (Owner, bool, error) {
	buf := make([]byte, 256)
	n, err := unix.Readlink(lockPath, buf)
	if err != nil {
		if err == unix.ENOENT {
			return Owner{}, false, nil
		}
		return Owner{}, false, errors.Wrap(err, "unable to read lock symlink")
	}
	owner, err := parseOwner(string(buf[:n]))
	if err != nil {
		return Owner{}, false, err
	}
	return owner, true, nil
}

// platformRemove removes the lock symlink. A missing symlink is not an
// error: some other process may have already broken or released it.
func platformRemove(lockPath string) error {
	if err := unix.Unlink(lockPath); err != nil && err != unix.ENOENT {
		return errors.Wrap(err, "unable to remove lock symlink")
	}
	return nil
}
